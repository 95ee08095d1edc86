package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/fleetbill/billing-engine/internal/model"
	"github.com/fleetbill/billing-engine/pkg/pg"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a transaction does not exist.
	ErrNotFound = errors.New("payment transaction not found")
	// ErrConcurrentUpdate means the conditional update matched no row:
	// either the id is wrong or another writer moved the status first.
	ErrConcurrentUpdate = errors.New("concurrent update detected")
)

type PaymentRepository struct {
	*pg.DB
}

func NewPaymentRepository(db *pg.DB) *PaymentRepository {
	return &PaymentRepository{
		db,
	}
}

func (r *PaymentRepository) Create(ctx context.Context, p *model.PaymentTransaction) (*model.PaymentTransaction, error) {
	entity := toPaymentEntity(p)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toPaymentModel(entity), nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*model.PaymentTransaction, error) {
	var entity PaymentEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toPaymentModel(&entity), nil
}

// FindByGatewayCharge resolves a transaction by the gateway's own
// charge identifier, scoped per gateway.
func (r *PaymentRepository) FindByGatewayCharge(ctx context.Context, gateway, chargeID string) (*model.PaymentTransaction, error) {
	var entity PaymentEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("gateway = ? AND gateway_charge_id = ?", gateway, chargeID).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toPaymentModel(&entity), nil
}

// FindByExternalReference falls back to the tenant-issued reference.
// First-time gateway events may carry the local id instead of a charge
// id, so a numeric reference also matches the primary key.
func (r *PaymentRepository) FindByExternalReference(ctx context.Context, ref string) (*model.PaymentTransaction, error) {
	var entity PaymentEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("external_reference = ?", ref).
		First(&entity).Error
	if err == nil {
		return toPaymentModel(&entity), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	id, convErr := strconv.ParseInt(ref, 10, 64)
	if convErr != nil {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// BackfillGatewayCharge writes the gateway charge id onto a record that
// was resolved through the external reference. Only a null charge id is
// overwritten; a concurrent backfill of the same value is harmless.
func (r *PaymentRepository) BackfillGatewayCharge(ctx context.Context, id int64, gateway, chargeID string) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&PaymentEntity{}).
		Where("id = ? AND gateway_charge_id IS NULL", id).
		Updates(map[string]interface{}{
			"gateway":           gateway,
			"gateway_charge_id": chargeID,
		})
	return result.Error
}

// StatusChange is the full set of columns touched by one reconciliation
// transition. PaidAt and CancellationReason replace the stored values,
// including clearing them.
type StatusChange struct {
	To                 model.PaymentStatus
	PaidAt             *time.Time
	CancellationReason *model.CancellationReason
}

// UpdateStatus applies one transition as an atomic compare-and-set:
// the row is only touched while it still holds the expected status.
// RowsAffected == 0 surfaces as ErrConcurrentUpdate so the caller can
// re-read and re-decide.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id int64, expected model.PaymentStatus, change StatusChange) error {
	updates := map[string]interface{}{
		"status":  string(change.To),
		"paid_at": change.PaidAt,
	}
	if change.CancellationReason != nil {
		updates["cancellation_reason"] = string(*change.CancellationReason)
	} else {
		updates["cancellation_reason"] = nil
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&PaymentEntity{}).
		Where("id = ? AND status = ?", id, string(expected)).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

func (r *PaymentRepository) List(ctx context.Context, f model.PaymentFilter) ([]*model.PaymentTransaction, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&PaymentEntity{})

	if f.TenantID != nil {
		q = q.Where("tenant_id = ?", *f.TenantID)
	}
	if f.ClientID != nil {
		q = q.Where("client_id = ?", *f.ClientID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.DueFrom != nil {
		q = q.Where("due_date >= ?", *f.DueFrom)
	}
	if f.DueTo != nil {
		q = q.Where("due_date < ?", *f.DueTo)
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "due_date"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*PaymentEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toPaymentModels(entities), total, nil
}

func (r *PaymentRepository) CountOverdueByTenant(ctx context.Context, tenantID int64) (int64, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&PaymentEntity{}).
		Where("tenant_id = ? AND status = ?", tenantID, string(model.PaymentStatusOverdue)).
		Count(&count).Error
	return count, err
}

func (r *PaymentRepository) CountOverdueByClient(ctx context.Context, clientID int64) (int64, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&PaymentEntity{}).
		Where("client_id = ? AND status = ?", clientID, string(model.PaymentStatusOverdue)).
		Count(&count).Error
	return count, err
}

// OldestOverdueByTenant returns the tenant's worst-case overdue
// transaction, or ErrNotFound when none remains.
func (r *PaymentRepository) OldestOverdueByTenant(ctx context.Context, tenantID int64) (*model.PaymentTransaction, error) {
	var entity PaymentEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, string(model.PaymentStatusOverdue)).
		Order("due_date ASC").
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toPaymentModel(&entity), nil
}

// WorstOverduePerClient returns, for every client of the tenant with a
// past-due pending/overdue transaction, that client's oldest such
// transaction. Rows arrive due_date ascending so the first row seen per
// client is the worst case.
func (r *PaymentRepository) WorstOverduePerClient(ctx context.Context, tenantID int64, today time.Time) (map[int64]*model.PaymentTransaction, error) {
	var entities []*PaymentEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("tenant_id = ? AND status IN ? AND due_date < ?",
			tenantID,
			[]string{string(model.PaymentStatusPending), string(model.PaymentStatusOverdue)},
			today).
		Order("due_date ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}

	worst := make(map[int64]*model.PaymentTransaction, len(entities))
	for _, e := range entities {
		if _, ok := worst[e.ClientID]; !ok {
			worst[e.ClientID] = toPaymentModel(e)
		}
	}
	return worst, nil
}
