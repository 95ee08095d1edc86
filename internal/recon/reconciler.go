package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fleetbill/billing-engine/internal/model"
	"github.com/fleetbill/billing-engine/internal/repository"
	"github.com/fleetbill/billing-engine/pkg/logger"
	"github.com/fleetbill/billing-engine/pkg/prom"
)

type NowFunc = func() time.Time

type Outcome string

const (
	// OutcomeApplied means a transition was written.
	OutcomeApplied Outcome = "applied"
	// OutcomeUnchanged means the event was a replay; state already matched.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomePreserved means paid absorbed a stale non-terminal event.
	OutcomePreserved Outcome = "preserved"
	// OutcomeIgnored means no transaction matched; expected for test
	// and garbage webhooks, not an error.
	OutcomeIgnored Outcome = "ignored"
)

type ReconcileResult struct {
	Outcome         Outcome             `json:"outcome"`
	PaymentID       int64               `json:"payment_id,omitempty"`
	NewStatus       model.PaymentStatus `json:"new_status,omitempty"`
	StatusPreserved bool                `json:"status_preserved,omitempty"`
	Message         string              `json:"message,omitempty"`
}

type PaymentRepository interface {
	GetByID(ctx context.Context, id int64) (*model.PaymentTransaction, error)
	FindByGatewayCharge(ctx context.Context, gateway, chargeID string) (*model.PaymentTransaction, error)
	FindByExternalReference(ctx context.Context, ref string) (*model.PaymentTransaction, error)
	BackfillGatewayCharge(ctx context.Context, id int64, gateway, chargeID string) error
	UpdateStatus(ctx context.Context, id int64, expected model.PaymentStatus, change repository.StatusChange) error
	CountOverdueByClient(ctx context.Context, clientID int64) (int64, error)
	CountOverdueByTenant(ctx context.Context, tenantID int64) (int64, error)
	OldestOverdueByTenant(ctx context.Context, tenantID int64) (*model.PaymentTransaction, error)
}

type ClientRepository interface {
	Reactivate(ctx context.Context, clientID int64) error
}

type TenantRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Tenant, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

type ExecutionLogRepository interface {
	Append(ctx context.Context, log *model.ExecutionLog) (*model.ExecutionLog, error)
}

const reconcileJobName = "webhook_reconcile"

// Reconciler applies canonical payment events to transactions. Every
// write is a compare-and-set against the status the decision was made
// on; a conflict re-reads and re-decides, so concurrent deliveries of
// contradicting events settle on the monotonic outcome regardless of
// arrival order.
type Reconciler struct {
	payments   PaymentRepository
	effects    *EffectExecutor
	execLogs   ExecutionLogRepository
	maxRetries int
	now        NowFunc
}

func NewReconciler(payments PaymentRepository, effects *EffectExecutor, execLogs ExecutionLogRepository, maxRetries int) *Reconciler {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Reconciler{
		payments:   payments,
		effects:    effects,
		execLogs:   execLogs,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (r *Reconciler) WithClock(now NowFunc) *Reconciler {
	r.now = now
	if r.effects != nil {
		r.effects.now = now
	}
	return r
}

func (r *Reconciler) Reconcile(ctx context.Context, event *model.PaymentEvent) (*ReconcileResult, error) {
	started := r.now()

	txn, err := r.resolve(ctx, event)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Info("webhook for unknown transaction ignored",
				"gateway", event.Gateway,
				"charge_id", event.GatewayChargeID,
				"external_reference", event.ExternalReference)
			prom.AddWebhookEvent(event.Gateway, string(event.Kind), string(OutcomeIgnored))
			return &ReconcileResult{Outcome: OutcomeIgnored, Message: "transaction not found"}, nil
		}
		return nil, err
	}

	const baseDelay = 2 * time.Millisecond

	var decision Decision
	applied := false
	previous := txn.Status
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		decision = Decide(event, txn, r.now())
		if !decision.Apply {
			outcome := OutcomeUnchanged
			if decision.StatusPreserved {
				outcome = OutcomePreserved
			}
			prom.AddWebhookEvent(event.Gateway, string(event.Kind), string(outcome))
			return &ReconcileResult{
				Outcome:         outcome,
				PaymentID:       txn.ID,
				NewStatus:       txn.Status,
				StatusPreserved: decision.StatusPreserved,
			}, nil
		}

		err = r.payments.UpdateStatus(ctx, txn.ID, txn.Status, decision.Change)
		if err == nil {
			applied = true
			break
		}
		if !errors.Is(err, repository.ErrConcurrentUpdate) {
			return nil, fmt.Errorf("update status: %w", err)
		}

		// lost the race, re-read and re-decide
		txn, err = r.payments.GetByID(ctx, txn.ID)
		if err != nil {
			return nil, fmt.Errorf("re-read after conflict: %w", err)
		}

		if attempt < r.maxRetries {
			delay := baseDelay * time.Duration(1<<attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	if !applied {
		return nil, fmt.Errorf("reconcile payment %d: retries exhausted after %d attempts", txn.ID, r.maxRetries+1)
	}

	txn.Status = decision.Change.To
	txn.PaidAt = decision.Change.PaidAt
	txn.CancellationReason = decision.Change.CancellationReason

	var effectErr error
	for _, effect := range decision.Effects {
		if err := r.effects.Execute(ctx, effect, txn); err != nil {
			logger.Error("effect failed", "effect", string(effect), "payment_id", txn.ID, "error", err)
			effectErr = err
		}
	}

	r.audit(ctx, event, txn, previous, started)
	prom.AddWebhookEvent(event.Gateway, string(event.Kind), string(OutcomeApplied))

	return &ReconcileResult{
		Outcome:   OutcomeApplied,
		PaymentID: txn.ID,
		NewStatus: txn.Status,
	}, effectErr
}

// resolve finds the target transaction: gateway charge id first, then
// the tenant-issued external reference. A hit through the fallback
// backfills the missing charge id so the next event resolves directly.
func (r *Reconciler) resolve(ctx context.Context, event *model.PaymentEvent) (*model.PaymentTransaction, error) {
	txn, err := r.payments.FindByGatewayCharge(ctx, event.Gateway, event.GatewayChargeID)
	if err == nil {
		return txn, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if event.ExternalReference == "" {
		return nil, repository.ErrNotFound
	}

	txn, err = r.payments.FindByExternalReference(ctx, event.ExternalReference)
	if err != nil {
		return nil, err
	}

	if txn.GatewayChargeID == nil {
		if err := r.payments.BackfillGatewayCharge(ctx, txn.ID, event.Gateway, event.GatewayChargeID); err != nil {
			logger.Warn("gateway charge backfill failed", "payment_id", txn.ID, "error", err)
		} else {
			charge := event.GatewayChargeID
			txn.Gateway = event.Gateway
			txn.GatewayChargeID = &charge
		}
	}
	return txn, nil
}

// audit records an applied transition. Replays that change nothing
// write no entry, which keeps the log duplicate-free under at-least-once
// delivery.
func (r *Reconciler) audit(ctx context.Context, event *model.PaymentEvent, txn *model.PaymentTransaction, previous model.PaymentStatus, started time.Time) {
	body, _ := json.Marshal(map[string]interface{}{
		"payment_id": txn.ID,
		"event":      string(event.Kind),
		"gateway":    event.Gateway,
		"from":       string(previous),
		"to":         string(txn.Status),
	})
	finished := r.now()
	_, err := r.execLogs.Append(ctx, &model.ExecutionLog{
		JobName:         reconcileJobName,
		Status:          model.JobStatusSuccess,
		StartedAt:       started,
		FinishedAt:      finished,
		ExecutionTimeMs: finished.Sub(started).Milliseconds(),
		ResponseBody:    string(body),
	})
	if err != nil {
		logger.Warn("failed to append reconcile audit entry", "payment_id", txn.ID, "error", err)
	}
}
