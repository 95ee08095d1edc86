package repository

import (
	"context"
	"errors"

	"github.com/fleetbill/billing-engine/internal/model"
	"github.com/fleetbill/billing-engine/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrClientNotFound = errors.New("client not found")
)

type ClientRepository struct {
	*pg.DB
}

func NewClientRepository(db *pg.DB) *ClientRepository {
	return &ClientRepository{
		db,
	}
}

func (r *ClientRepository) Create(ctx context.Context, c *model.Client) (*model.Client, error) {
	entity := toClientEntity(c)
	if entity.ServiceStatus == "" {
		entity.ServiceStatus = string(model.ServiceStatusActive)
	}

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toClientModel(entity), nil
}

func (r *ClientRepository) GetByID(ctx context.Context, id int64) (*model.Client, error) {
	var entity ClientEntity
	err := r.Read(ctx).WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	return toClientModel(&entity), nil
}

// EscalateStatus moves a client's service status forward as an atomic
// compare-and-set. The row is only touched while it still holds the
// expected status, which closes the race between two overlapping
// scheduler runs. RowsAffected == 0 surfaces as ErrConcurrentUpdate.
func (r *ClientRepository) EscalateStatus(ctx context.Context, clientID int64, expected, next model.ServiceStatus) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&ClientEntity{}).
		Where("id = ? AND service_status = ?", clientID, string(expected)).
		Update("service_status", string(next))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// Reactivate resets the client to active. Callers must only invoke this
// from the unblock-check path, after verifying no overdue transaction
// remains for the client. A client already active is a no-op.
func (r *ClientRepository) Reactivate(ctx context.Context, clientID int64) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&ClientEntity{}).
		Where("id = ? AND service_status <> ?", clientID, string(model.ServiceStatusActive)).
		Update("service_status", string(model.ServiceStatusActive)).Error
}
