package repository

import (
	"context"
	"errors"

	"github.com/fleetbill/billing-engine/internal/model"
	"github.com/fleetbill/billing-engine/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
)

type TenantRepository struct {
	*pg.DB
}

func NewTenantRepository(db *pg.DB) *TenantRepository {
	return &TenantRepository{
		db,
	}
}

func (r *TenantRepository) Create(ctx context.Context, t *model.Tenant) (*model.Tenant, error) {
	entity := toTenantEntity(t)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toTenantModel(entity), nil
}

func (r *TenantRepository) GetByID(ctx context.Context, id int64) (*model.Tenant, error) {
	var entity TenantEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return toTenantModel(&entity), nil
}

// ListEscalationEnabled returns every tenant the scheduler must visit.
func (r *TenantRepository) ListEscalationEnabled(ctx context.Context) ([]*model.Tenant, error) {
	var entities []*TenantEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("escalation_enabled = ?", true).
		Order("id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toTenantModels(entities), nil
}

// SetActive flips the tenant-level service switch. Writing the value it
// already holds is a no-op, so concurrent unblock/overdue checks do not
// conflict.
func (r *TenantRepository) SetActive(ctx context.Context, id int64, active bool) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&TenantEntity{}).
		Where("id = ? AND active <> ?", id, active).
		Update("active", active).Error
}
