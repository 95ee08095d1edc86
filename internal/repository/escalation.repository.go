package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fleetbill/billing-engine/internal/model"
	"github.com/fleetbill/billing-engine/pkg/pg"
	"gorm.io/gorm"
)

var (
	// ErrDuplicateAction means the unique dedup index rejected the
	// insert: another run already recorded this action today.
	ErrDuplicateAction = errors.New("escalation action already recorded")
)

type EscalationRepository struct {
	*pg.DB
}

func NewEscalationRepository(db *pg.DB) *EscalationRepository {
	return &EscalationRepository{
		db,
	}
}

// Append writes one ledger entry. A unique violation is not an error
// condition for callers; it is the dedup backstop doing its job.
func (r *EscalationRepository) Append(ctx context.Context, rec *model.EscalationRecord) (*model.EscalationRecord, error) {
	entity := toEscalationEntity(rec)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateAction
		}
		return nil, err
	}

	return toEscalationModel(entity), nil
}

// NotificationExists is the query half of the dedup guard: has a
// notification for this client and overdue age already been recorded
// since windowStart (start of the current day)? The unique index
// remains the final backstop for two processes racing past this check.
func (r *EscalationRepository) NotificationExists(ctx context.Context, clientID int64, daysOverdue int, windowStart time.Time) (bool, error) {
	var count int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&EscalationEntity{}).
		Where("client_id = ? AND action_type = ? AND days_overdue = ? AND created_at >= ?",
			clientID, string(model.ActionNotificationSent), daysOverdue, windowStart).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *EscalationRepository) List(ctx context.Context, f model.EscalationFilter) ([]*model.EscalationRecord, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&EscalationEntity{})

	if f.TenantID != nil {
		q = q.Where("tenant_id = ?", *f.TenantID)
	}
	if f.ClientID != nil {
		q = q.Where("client_id = ?", *f.ClientID)
	}
	if f.ActionType != nil {
		q = q.Where("action_type = ?", string(*f.ActionType))
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*EscalationEntity
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toEscalationModels(entities), total, nil
}

// isUniqueViolation matches both the gorm translated error and the raw
// driver messages (postgres 23505, sqlite "UNIQUE constraint failed"
// in tests).
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
