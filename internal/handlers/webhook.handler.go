package handlers

import (
	"context"
	"time"

	"github.com/fasthttp/router"

	"github.com/fleetbill/billing-engine/internal/model"
	"github.com/fleetbill/billing-engine/internal/normalizer"
	"github.com/fleetbill/billing-engine/internal/recon"
	xhttp "github.com/fleetbill/billing-engine/pkg/http"
	"github.com/fleetbill/billing-engine/pkg/logger"
	"github.com/fleetbill/billing-engine/pkg/prom"
	"github.com/fleetbill/billing-engine/pkg/redis"
)

type Reconciler interface {
	Reconcile(ctx context.Context, event *model.PaymentEvent) (*recon.ReconcileResult, error)
}

// WebhookHandler ingests gateway webhooks. Whatever happens inside,
// the gateway sees 200: several gateways pause their whole retry queue
// on a non-2xx, which hurts far more than one lost internal alert.
type WebhookHandler struct {
	registry   *normalizer.Registry
	reconciler Reconciler
	stream     redis.RedisAdapter
	streamName string
	maxLen     int64
}

func RegisterWebhookRoutes(e *router.Group, h *WebhookHandler) {
	e.POST("/webhooks/{gateway}", h.HandleWebhook)
}

func NewWebhookHandler(registry *normalizer.Registry, reconciler Reconciler, stream redis.RedisAdapter, streamName string, maxLen int64) *WebhookHandler {
	return &WebhookHandler{
		registry:   registry,
		reconciler: reconciler,
		stream:     stream,
		streamName: streamName,
		maxLen:     maxLen,
	}
}

type webhookResponse struct {
	Success   bool                `json:"success"`
	Message   string              `json:"message"`
	PaymentID int64               `json:"payment_id,omitempty"`
	NewStatus model.PaymentStatus `json:"new_status,omitempty"`
}

func (h *WebhookHandler) HandleWebhook(ctx *xhttp.RequestCtx) {
	gatewayID, _ := ctx.UserValue("gateway").(string)
	contentType := string(ctx.Request.Header.ContentType())
	body := ctx.PostBody()

	h.archive(gatewayID, contentType, body)

	event, rejection := h.registry.Normalize(gatewayID, contentType, body)
	if rejection != nil {
		logger.Warn("webhook rejected", "gateway", gatewayID, "reason", rejection.Reason)
		prom.AddWebhookEvent(gatewayID, "unknown", "rejected")
		writeJSON(ctx, 200, webhookResponse{Success: true, Message: rejection.Reason})
		return
	}

	result, err := h.reconciler.Reconcile(ctx, event)
	if err != nil {
		logger.Error("webhook reconciliation failed",
			"gateway", gatewayID, "event", string(event.Kind), "error", err)
		writeJSON(ctx, 200, webhookResponse{Success: true, Message: "accepted"})
		return
	}

	writeJSON(ctx, 200, webhookResponse{
		Success:   true,
		Message:   string(result.Outcome),
		PaymentID: result.PaymentID,
		NewStatus: result.NewStatus,
	})
}

// archive keeps the raw payload in a capped stream for debugging
// gateway format drift. Best effort only.
func (h *WebhookHandler) archive(gatewayID, contentType string, body []byte) {
	if h.stream == nil {
		return
	}
	if _, err := h.stream.XAdd(h.streamName, map[string]interface{}{
		"gateway":      gatewayID,
		"content_type": contentType,
		"body":         string(body),
		"received_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		logger.Warn("failed to archive webhook payload", "gateway", gatewayID, "error", err)
		return
	}
	if h.maxLen > 0 {
		if err := h.stream.XTrimApprox(h.streamName, h.maxLen); err != nil {
			logger.Debug("failed to trim webhook stream", "error", err)
		}
	}
}
