package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fleetbill/billing-engine/internal/model"
	"github.com/fleetbill/billing-engine/internal/repository"
)

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Create(ctx context.Context, p *model.PaymentTransaction) (*model.PaymentTransaction, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentTransaction), args.Error(1)
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id int64) (*model.PaymentTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentTransaction), args.Error(1)
}

func (m *MockPaymentRepository) List(ctx context.Context, f model.PaymentFilter) ([]*model.PaymentTransaction, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.PaymentTransaction), args.Get(1).(int64), args.Error(2)
}

func (m *MockPaymentRepository) UpdateStatus(ctx context.Context, id int64, expected model.PaymentStatus, change repository.StatusChange) error {
	args := m.Called(ctx, id, expected, change)
	return args.Error(0)
}

func (m *MockPaymentRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(ctx)
}

type MockClientRepository struct {
	mock.Mock
}

func (m *MockClientRepository) GetByID(ctx context.Context, id int64) (*model.Client, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Client), args.Error(1)
}

type MockExecutionLogRepository struct {
	mock.Mock
}

func (m *MockExecutionLogRepository) Append(ctx context.Context, log *model.ExecutionLog) (*model.ExecutionLog, error) {
	args := m.Called(ctx, log)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ExecutionLog), args.Error(1)
}

func TestBillingService_CreateInvoice(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending transaction with external reference", func(t *testing.T) {
		paymentRepo := new(MockPaymentRepository)
		clientRepo := new(MockClientRepository)
		execLogRepo := new(MockExecutionLogRepository)

		service := NewBillingService(paymentRepo, clientRepo, execLogRepo)

		req := model.PaymentCreateRequest{
			TenantID: 1,
			ClientID: 7,
			Amount:   129900,
			DueDate:  time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC),
			Gateway:  "canonical",
		}

		clientRepo.On("GetByID", ctx, int64(7)).
			Return(&model.Client{ID: 7, TenantID: 1}, nil)
		paymentRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).
			Return(nil)
		paymentRepo.On("Create", ctx, mock.MatchedBy(func(p *model.PaymentTransaction) bool {
			return p.Status == model.PaymentStatusPending && p.ExternalReference != ""
		})).Return(&model.PaymentTransaction{ID: 42, Status: model.PaymentStatusPending, ExternalReference: "ref"}, nil)
		execLogRepo.On("Append", ctx, mock.MatchedBy(func(l *model.ExecutionLog) bool {
			return l.JobName == "invoice_create"
		})).Return(&model.ExecutionLog{ID: 1}, nil)

		created, err := service.CreateInvoice(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, int64(42), created.ID)

		paymentRepo.AssertExpectations(t)
		execLogRepo.AssertExpectations(t)
	})

	t.Run("rejects invalid request", func(t *testing.T) {
		service := NewBillingService(new(MockPaymentRepository), new(MockClientRepository), new(MockExecutionLogRepository))

		_, err := service.CreateInvoice(ctx, model.PaymentCreateRequest{TenantID: 1, ClientID: 7})
		assert.Error(t, err)
	})

	t.Run("rejects client from another tenant", func(t *testing.T) {
		paymentRepo := new(MockPaymentRepository)
		clientRepo := new(MockClientRepository)

		service := NewBillingService(paymentRepo, clientRepo, new(MockExecutionLogRepository))

		clientRepo.On("GetByID", ctx, int64(7)).
			Return(&model.Client{ID: 7, TenantID: 9}, nil)

		_, err := service.CreateInvoice(ctx, model.PaymentCreateRequest{
			TenantID: 1, ClientID: 7, Amount: 100, DueDate: time.Now(),
		})
		assert.ErrorIs(t, err, ErrUnknownClient)
		paymentRepo.AssertNotCalled(t, "WithinTransaction", mock.Anything, mock.Anything)
	})
}

func TestBillingService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels pending transaction", func(t *testing.T) {
		paymentRepo := new(MockPaymentRepository)
		service := NewBillingService(paymentRepo, new(MockClientRepository), new(MockExecutionLogRepository))

		paymentRepo.On("GetByID", ctx, int64(42)).
			Return(&model.PaymentTransaction{ID: 42, Status: model.PaymentStatusPending}, nil)
		paymentRepo.On("UpdateStatus", ctx, int64(42), model.PaymentStatusPending,
			mock.MatchedBy(func(c repository.StatusChange) bool {
				return c.To == model.PaymentStatusCancelled &&
					c.CancellationReason != nil && *c.CancellationReason == model.CancellationManual
			})).Return(nil)

		cancelled, err := service.Cancel(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusCancelled, cancelled.Status)
		paymentRepo.AssertExpectations(t)
	})

	t.Run("refuses to cancel paid transaction", func(t *testing.T) {
		paymentRepo := new(MockPaymentRepository)
		service := NewBillingService(paymentRepo, new(MockClientRepository), new(MockExecutionLogRepository))

		paidAt := time.Now()
		paymentRepo.On("GetByID", ctx, int64(42)).
			Return(&model.PaymentTransaction{ID: 42, Status: model.PaymentStatusPaid, PaidAt: &paidAt}, nil)

		_, err := service.Cancel(ctx, 42)
		assert.ErrorIs(t, err, ErrPaidNotCancellable)
		paymentRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("cancel is idempotent", func(t *testing.T) {
		paymentRepo := new(MockPaymentRepository)
		service := NewBillingService(paymentRepo, new(MockClientRepository), new(MockExecutionLogRepository))

		reason := model.CancellationManual
		paymentRepo.On("GetByID", ctx, int64(42)).
			Return(&model.PaymentTransaction{ID: 42, Status: model.PaymentStatusCancelled, CancellationReason: &reason}, nil)

		cancelled, err := service.Cancel(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusCancelled, cancelled.Status)
	})

	t.Run("race with settlement refuses cancellation", func(t *testing.T) {
		paymentRepo := new(MockPaymentRepository)
		service := NewBillingService(paymentRepo, new(MockClientRepository), new(MockExecutionLogRepository))

		paidAt := time.Now()
		paymentRepo.On("GetByID", ctx, int64(42)).
			Return(&model.PaymentTransaction{ID: 42, Status: model.PaymentStatusPending}, nil).Once()
		paymentRepo.On("UpdateStatus", ctx, int64(42), model.PaymentStatusPending, mock.Anything).
			Return(repository.ErrConcurrentUpdate)
		paymentRepo.On("GetByID", ctx, int64(42)).
			Return(&model.PaymentTransaction{ID: 42, Status: model.PaymentStatusPaid, PaidAt: &paidAt}, nil)

		_, err := service.Cancel(ctx, 42)
		assert.ErrorIs(t, err, ErrPaidNotCancellable)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		paymentRepo := new(MockPaymentRepository)
		service := NewBillingService(paymentRepo, new(MockClientRepository), new(MockExecutionLogRepository))

		paymentRepo.On("GetByID", ctx, int64(99)).Return(nil, repository.ErrNotFound)

		_, err := service.Cancel(ctx, 99)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
