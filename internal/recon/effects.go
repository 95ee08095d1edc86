package recon

import (
	"context"
	"fmt"

	"github.com/fleetbill/billing-engine/internal/model"
	"github.com/fleetbill/billing-engine/internal/repository"
	"github.com/fleetbill/billing-engine/pkg/logger"
)

// EffectExecutor applies the side effects a transition decision asks
// for. Tenant-level enforcement (the grace threshold) lives here, as
// opposed to the per-client escalation policy in the scheduler.
type EffectExecutor struct {
	payments         PaymentRepository
	clients          ClientRepository
	tenants          TenantRepository
	defaultGraceDays int
	now              NowFunc
}

func NewEffectExecutor(payments PaymentRepository, clients ClientRepository, tenants TenantRepository, defaultGraceDays int, now NowFunc) *EffectExecutor {
	return &EffectExecutor{
		payments:         payments,
		clients:          clients,
		tenants:          tenants,
		defaultGraceDays: defaultGraceDays,
		now:              now,
	}
}

func (e *EffectExecutor) Execute(ctx context.Context, effect Effect, txn *model.PaymentTransaction) error {
	switch effect {
	case EffectUnblockCheck:
		return e.unblockCheck(ctx, txn)
	case EffectOverdueCheck:
		return e.overdueCheck(ctx, txn)
	}
	return fmt.Errorf("unknown effect: %s", effect)
}

// unblockCheck runs after a transition to paid. Client service status
// resets to active only when the client has no overdue transaction
// left; same rule at tenant scope for the tenant-level switch.
func (e *EffectExecutor) unblockCheck(ctx context.Context, txn *model.PaymentTransaction) error {
	clientOverdue, err := e.payments.CountOverdueByClient(ctx, txn.ClientID)
	if err != nil {
		return fmt.Errorf("count client overdue: %w", err)
	}
	if clientOverdue == 0 {
		if err := e.clients.Reactivate(ctx, txn.ClientID); err != nil {
			return fmt.Errorf("reactivate client: %w", err)
		}
	}

	tenantOverdue, err := e.payments.CountOverdueByTenant(ctx, txn.TenantID)
	if err != nil {
		return fmt.Errorf("count tenant overdue: %w", err)
	}
	if tenantOverdue == 0 {
		if err := e.tenants.SetActive(ctx, txn.TenantID, true); err != nil {
			return fmt.Errorf("reactivate tenant: %w", err)
		}
		logger.Info("tenant unblocked", "tenant_id", txn.TenantID, "payment_id", txn.ID)
	}
	return nil
}

// overdueCheck runs after a transition to overdue. When the oldest
// overdue transaction of the tenant is past the grace threshold the
// whole tenant is deactivated.
func (e *EffectExecutor) overdueCheck(ctx context.Context, txn *model.PaymentTransaction) error {
	oldest, err := e.payments.OldestOverdueByTenant(ctx, txn.TenantID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil
		}
		return fmt.Errorf("oldest overdue: %w", err)
	}

	graceDays := e.defaultGraceDays
	if tenant, err := e.tenants.GetByID(ctx, txn.TenantID); err == nil && tenant.GraceDays > 0 {
		graceDays = tenant.GraceDays
	}

	if oldest.DaysOverdue(e.now()) > graceDays {
		if err := e.tenants.SetActive(ctx, txn.TenantID, false); err != nil {
			return fmt.Errorf("deactivate tenant: %w", err)
		}
		logger.Warn("tenant deactivated, oldest overdue past grace threshold",
			"tenant_id", txn.TenantID,
			"oldest_payment_id", oldest.ID,
			"grace_days", graceDays)
	}
	return nil
}
