package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/fleetbill/billing-engine/internal/model"
	"github.com/fleetbill/billing-engine/internal/normalizer"
	"github.com/fleetbill/billing-engine/internal/recon"
	xhttp "github.com/fleetbill/billing-engine/pkg/http"
)

type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) Reconcile(ctx context.Context, event *model.PaymentEvent) (*recon.ReconcileResult, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*recon.ReconcileResult), args.Error(1)
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func webhookContext(gateway, contentType string, body []byte) *xhttp.RequestCtx {
	ctx := setupTestContext("POST", "/webhooks/"+gateway, body)
	ctx.Request.Header.SetContentType(contentType)
	ctx.SetUserValue("gateway", gateway)
	return ctx
}

func canonicalRegistry() *normalizer.Registry {
	return normalizer.NewRegistry(normalizer.NewCanonicalAdapter("canonical"))
}

func TestWebhookHandler_AppliedEvent(t *testing.T) {
	reconciler := new(MockReconciler)
	handler := NewWebhookHandler(canonicalRegistry(), reconciler, nil, "", 0)

	body := []byte(`{"event":"PAYMENT_CONFIRMED","payment":{"id":"pay_123","externalReference":"INV-42"}}`)

	reconciler.On("Reconcile", mock.Anything, mock.MatchedBy(func(e *model.PaymentEvent) bool {
		return e.Kind == model.EventConfirmed && e.GatewayChargeID == "pay_123"
	})).Return(&recon.ReconcileResult{
		Outcome:   recon.OutcomeApplied,
		PaymentID: 42,
		NewStatus: model.PaymentStatusPaid,
	}, nil)

	ctx := webhookContext("canonical", "application/json", body)
	handler.HandleWebhook(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())

	var resp webhookResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(42), resp.PaymentID)
	assert.Equal(t, model.PaymentStatusPaid, resp.NewStatus)

	reconciler.AssertExpectations(t)
}

func TestWebhookHandler_MalformedBodyStillReturns200(t *testing.T) {
	reconciler := new(MockReconciler)
	handler := NewWebhookHandler(canonicalRegistry(), reconciler, nil, "", 0)

	ctx := webhookContext("canonical", "application/json", []byte("not json at all"))
	handler.HandleWebhook(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())

	var resp webhookResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.True(t, resp.Success)

	reconciler.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
}

func TestWebhookHandler_UnknownGatewayStillReturns200(t *testing.T) {
	reconciler := new(MockReconciler)
	handler := NewWebhookHandler(canonicalRegistry(), reconciler, nil, "", 0)

	ctx := webhookContext("nosuch", "application/json", []byte(`{"event":"PAYMENT_CONFIRMED"}`))
	handler.HandleWebhook(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
	reconciler.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything)
}

func TestWebhookHandler_InternalErrorStillReturns200(t *testing.T) {
	reconciler := new(MockReconciler)
	handler := NewWebhookHandler(canonicalRegistry(), reconciler, nil, "", 0)

	body := []byte(`{"event":"PAYMENT_CONFIRMED","payment":{"id":"pay_123"}}`)
	reconciler.On("Reconcile", mock.Anything, mock.Anything).Return(nil, errors.New("store down"))

	ctx := webhookContext("canonical", "application/json", body)
	handler.HandleWebhook(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())

	var resp webhookResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.True(t, resp.Success, "the gateway must never see an error")
}

func TestWebhookHandler_FormEncodedPayload(t *testing.T) {
	reconciler := new(MockReconciler)
	handler := NewWebhookHandler(canonicalRegistry(), reconciler, nil, "", 0)

	body := []byte(`data=%7B%22event%22%3A%22PAYMENT_RECEIVED%22%2C%22payment%22%3A%7B%22id%22%3A%22pay_9%22%7D%7D`)

	reconciler.On("Reconcile", mock.Anything, mock.MatchedBy(func(e *model.PaymentEvent) bool {
		return e.Kind == model.EventReceived && e.GatewayChargeID == "pay_9"
	})).Return(&recon.ReconcileResult{Outcome: recon.OutcomeApplied, PaymentID: 9, NewStatus: model.PaymentStatusPaid}, nil)

	ctx := webhookContext("canonical", "application/x-www-form-urlencoded", body)
	handler.HandleWebhook(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
	reconciler.AssertExpectations(t)
}
