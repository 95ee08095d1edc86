package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/fasthttp/router"

	"github.com/fleetbill/billing-engine/internal/escalation"
	xhttp "github.com/fleetbill/billing-engine/pkg/http"
	"github.com/fleetbill/billing-engine/pkg/logger"
)

type EscalationRunner interface {
	Run(ctx context.Context, opts escalation.Options) (*escalation.Results, error)
}

// JobHandler exposes the manual escalation trigger used by the
// external cron collaborator and by operators.
type JobHandler struct {
	runner EscalationRunner
}

func RegisterJobRoutes(e *router.Group, h *JobHandler) {
	e.POST("/jobs/escalation/run", h.RunEscalation)
}

func NewJobHandler(runner EscalationRunner) *JobHandler {
	return &JobHandler{runner: runner}
}

type runEscalationRequest struct {
	Trigger string `json:"trigger"`
	Force   bool   `json:"force"`
}

type runEscalationResponse struct {
	Success         bool                `json:"success"`
	Message         string              `json:"message,omitempty"`
	Results         *escalation.Results `json:"results,omitempty"`
	ExecutionTimeMs int64               `json:"execution_time_ms"`
}

func (h *JobHandler) RunEscalation(ctx *xhttp.RequestCtx) {
	started := time.Now()

	// the body is optional; an empty or malformed one means defaults
	var req runEscalationRequest
	if body := ctx.PostBody(); len(body) > 0 {
		if err := readJSON(ctx, &req); err != nil {
			writeError(ctx, 400, "invalid JSON: "+err.Error())
			return
		}
	}
	if req.Trigger == "" {
		req.Trigger = "api"
	}

	results, err := h.runner.Run(ctx, escalation.Options{Trigger: req.Trigger, Force: req.Force})
	elapsed := time.Since(started).Milliseconds()

	if err != nil {
		if errors.Is(err, escalation.ErrRateLimited) {
			writeJSON(ctx, 429, runEscalationResponse{
				Success:         false,
				Message:         "previous run too recent, pass force to override",
				ExecutionTimeMs: elapsed,
			})
			return
		}
		logger.Error("escalation run failed", "trigger", req.Trigger, "error", err)
		writeJSON(ctx, 500, runEscalationResponse{
			Success:         false,
			Message:         err.Error(),
			ExecutionTimeMs: elapsed,
		})
		return
	}

	writeJSON(ctx, 200, runEscalationResponse{
		Success:         true,
		Results:         results,
		ExecutionTimeMs: elapsed,
	})
}
