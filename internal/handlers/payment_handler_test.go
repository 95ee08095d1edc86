package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fleetbill/billing-engine/internal/model"
	"github.com/fleetbill/billing-engine/internal/services"
)

type MockBillingService struct {
	mock.Mock
}

func (m *MockBillingService) CreateInvoice(ctx context.Context, req model.PaymentCreateRequest) (*model.PaymentTransaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentTransaction), args.Error(1)
}

func (m *MockBillingService) Get(ctx context.Context, id int64) (*model.PaymentTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentTransaction), args.Error(1)
}

func (m *MockBillingService) List(ctx context.Context, f model.PaymentFilter) ([]*model.PaymentTransaction, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.PaymentTransaction), args.Get(1).(int64), args.Error(2)
}

func (m *MockBillingService) Cancel(ctx context.Context, id int64) (*model.PaymentTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentTransaction), args.Error(1)
}

type MockEscalationLedger struct {
	mock.Mock
}

func (m *MockEscalationLedger) List(ctx context.Context, f model.EscalationFilter) ([]*model.EscalationRecord, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.EscalationRecord), args.Get(1).(int64), args.Error(2)
}

func TestPaymentHandler_CreatePayment(t *testing.T) {
	t.Run("creates invoice", func(t *testing.T) {
		svc := new(MockBillingService)
		handler := NewPaymentHandler(svc, new(MockEscalationLedger))

		svc.On("CreateInvoice", mock.Anything, mock.MatchedBy(func(r model.PaymentCreateRequest) bool {
			return r.TenantID == 1 && r.ClientID == 7 && r.Amount == 129900
		})).Return(&model.PaymentTransaction{ID: 42, Status: model.PaymentStatusPending}, nil)

		body := []byte(`{"tenant_id":1,"client_id":7,"amount":129900,"due_date":"2026-04-10","gateway":"canonical"}`)
		ctx := setupTestContext("POST", "/payments", body)
		handler.CreatePayment(ctx)

		assert.Equal(t, 201, ctx.Response.StatusCode())

		var resp model.PaymentTransaction
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.Equal(t, int64(42), resp.ID)
		svc.AssertExpectations(t)
	})

	t.Run("bad due date", func(t *testing.T) {
		svc := new(MockBillingService)
		handler := NewPaymentHandler(svc, new(MockEscalationLedger))

		body := []byte(`{"tenant_id":1,"client_id":7,"amount":100,"due_date":"next tuesday"}`)
		ctx := setupTestContext("POST", "/payments", body)
		handler.CreatePayment(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "CreateInvoice", mock.Anything, mock.Anything)
	})
}

func TestPaymentHandler_ListPayments(t *testing.T) {
	svc := new(MockBillingService)
	handler := NewPaymentHandler(svc, new(MockEscalationLedger))

	tenantID := int64(1)
	svc.On("List", mock.Anything, mock.MatchedBy(func(f model.PaymentFilter) bool {
		return f.TenantID != nil && *f.TenantID == tenantID &&
			len(f.Statuses) == 2 && f.Limit == 10 && f.Desc
	})).Return([]*model.PaymentTransaction{
		{ID: 1, Status: model.PaymentStatusPending},
		{ID: 2, Status: model.PaymentStatusOverdue},
	}, int64(2), nil)

	ctx := setupTestContext("GET", "/payments?tenant_id=1&status=pending,overdue&limit=10&order=desc", nil)
	handler.ListPayments(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())

	var resp paymentListResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, int64(2), resp.Total)
	assert.Len(t, resp.Items, 2)
	svc.AssertExpectations(t)
}

func TestPaymentHandler_CancelPayment(t *testing.T) {
	t.Run("cancels", func(t *testing.T) {
		svc := new(MockBillingService)
		handler := NewPaymentHandler(svc, new(MockEscalationLedger))

		svc.On("Cancel", mock.Anything, int64(42)).
			Return(&model.PaymentTransaction{ID: 42, Status: model.PaymentStatusCancelled}, nil)

		ctx := setupTestContext("POST", "/payments/42/cancel", nil)
		ctx.SetUserValue("id", "42")
		handler.CancelPayment(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
	})

	t.Run("paid transaction conflicts", func(t *testing.T) {
		svc := new(MockBillingService)
		handler := NewPaymentHandler(svc, new(MockEscalationLedger))

		svc.On("Cancel", mock.Anything, int64(42)).Return(nil, services.ErrPaidNotCancellable)

		ctx := setupTestContext("POST", "/payments/42/cancel", nil)
		ctx.SetUserValue("id", "42")
		handler.CancelPayment(ctx)

		assert.Equal(t, 409, ctx.Response.StatusCode())
	})

	t.Run("unknown id is 404", func(t *testing.T) {
		svc := new(MockBillingService)
		handler := NewPaymentHandler(svc, new(MockEscalationLedger))

		svc.On("Cancel", mock.Anything, int64(99)).Return(nil, services.ErrNotFound)

		ctx := setupTestContext("POST", "/payments/99/cancel", nil)
		ctx.SetUserValue("id", "99")
		handler.CancelPayment(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
	})
}

func TestPaymentHandler_ListEscalations(t *testing.T) {
	svc := new(MockBillingService)
	ledger := new(MockEscalationLedger)
	handler := NewPaymentHandler(svc, ledger)

	clientID := int64(7)
	ledger.On("List", mock.Anything, mock.MatchedBy(func(f model.EscalationFilter) bool {
		return f.ClientID != nil && *f.ClientID == clientID &&
			f.ActionType != nil && *f.ActionType == model.ActionNotificationSent
	})).Return([]*model.EscalationRecord{
		{ID: 1, ClientID: 7, ActionType: model.ActionNotificationSent, DaysOverdue: 14, CreatedAt: time.Now()},
	}, int64(1), nil)

	ctx := setupTestContext("GET", "/payments/escalations?client_id=7&action_type=notification_sent", nil)
	handler.ListEscalations(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())

	var resp escalationListResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	assert.Equal(t, int64(1), resp.Total)
	ledger.AssertExpectations(t)
}
