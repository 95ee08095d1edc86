package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleetbill/billing-engine/internal/model"
	"github.com/fleetbill/billing-engine/internal/repository"
)

var (
	ErrPaidNotCancellable = errors.New("paid transaction cannot be cancelled manually")
	ErrNotFound           = errors.New("payment not found")
	ErrUnknownClient      = errors.New("client does not exist")
)

type PaymentRepository interface {
	Create(ctx context.Context, p *model.PaymentTransaction) (*model.PaymentTransaction, error)
	GetByID(ctx context.Context, id int64) (*model.PaymentTransaction, error)
	List(ctx context.Context, f model.PaymentFilter) ([]*model.PaymentTransaction, int64, error)
	UpdateStatus(ctx context.Context, id int64, expected model.PaymentStatus, change repository.StatusChange) error
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type ClientRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Client, error)
}

type ExecutionLogRepository interface {
	Append(ctx context.Context, log *model.ExecutionLog) (*model.ExecutionLog, error)
}

// BillingService owns the tenant-facing invoice lifecycle: issuing
// pending transactions and manual cancellation. Status changes driven
// by gateway events belong to the reconciler, never to this service.
type BillingService struct {
	paymentRepo PaymentRepository
	clientRepo  ClientRepository
	execLogRepo ExecutionLogRepository
	now         func() time.Time
}

func NewBillingService(paymentRepo PaymentRepository, clientRepo ClientRepository, execLogRepo ExecutionLogRepository) *BillingService {
	return &BillingService{
		paymentRepo: paymentRepo,
		clientRepo:  clientRepo,
		execLogRepo: execLogRepo,
		now:         time.Now,
	}
}

// CreateInvoice creates one pending transaction with a fresh
// tenant-issued external reference. The row and its audit entry are
// written atomically; the reference is what lets a later webhook find
// the transaction before the gateway charge id is known.
func (s *BillingService) CreateInvoice(ctx context.Context, req model.PaymentCreateRequest) (*model.PaymentTransaction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	client, err := s.clientRepo.GetByID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			return nil, ErrUnknownClient
		}
		return nil, fmt.Errorf("load client: %w", err)
	}
	if client.TenantID != req.TenantID {
		return nil, ErrUnknownClient
	}

	txn := &model.PaymentTransaction{
		TenantID:          req.TenantID,
		ClientID:          req.ClientID,
		Amount:            req.Amount,
		DueDate:           req.DueDate,
		Status:            model.PaymentStatusPending,
		Gateway:           req.Gateway,
		ExternalReference: uuid.NewString(),
	}

	started := s.now()
	var created *model.PaymentTransaction
	err = s.paymentRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		c, err := s.paymentRepo.Create(ctx, txn)
		if err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		created = c

		finished := s.now()
		_, err = s.execLogRepo.Append(ctx, &model.ExecutionLog{
			JobName:         "invoice_create",
			Status:          model.JobStatusSuccess,
			StartedAt:       started,
			FinishedAt:      finished,
			ExecutionTimeMs: finished.Sub(started).Milliseconds(),
			ResponseBody:    fmt.Sprintf(`{"payment_id":%d,"external_reference":%q}`, c.ID, c.ExternalReference),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *BillingService) Get(ctx context.Context, id int64) (*model.PaymentTransaction, error) {
	txn, err := s.paymentRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return txn, nil
}

func (s *BillingService) List(ctx context.Context, f model.PaymentFilter) ([]*model.PaymentTransaction, int64, error) {
	return s.paymentRepo.List(ctx, f)
}

// Cancel cancels one transaction manually. Refused for paid rows: a
// settled charge leaves paid only through a gateway refund event.
func (s *BillingService) Cancel(ctx context.Context, id int64) (*model.PaymentTransaction, error) {
	txn, err := s.paymentRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	switch txn.Status {
	case model.PaymentStatusPaid:
		return nil, ErrPaidNotCancellable
	case model.PaymentStatusCancelled:
		return txn, nil
	}

	reason := model.CancellationManual
	for attempt := 0; attempt < 2; attempt++ {
		err = s.paymentRepo.UpdateStatus(ctx, txn.ID, txn.Status, repository.StatusChange{
			To:                 model.PaymentStatusCancelled,
			PaidAt:             txn.PaidAt,
			CancellationReason: &reason,
		})
		if err == nil {
			txn.Status = model.PaymentStatusCancelled
			txn.CancellationReason = &reason
			return txn, nil
		}
		if !errors.Is(err, repository.ErrConcurrentUpdate) {
			return nil, err
		}

		// a webhook moved the row first; re-check against its fresh state
		txn, err = s.paymentRepo.GetByID(ctx, txn.ID)
		if err != nil {
			return nil, err
		}
		switch txn.Status {
		case model.PaymentStatusPaid:
			return nil, ErrPaidNotCancellable
		case model.PaymentStatusCancelled:
			return txn, nil
		}
	}
	return nil, fmt.Errorf("cancel payment %d: %w", id, repository.ErrConcurrentUpdate)
}
