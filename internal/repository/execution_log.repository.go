package repository

import (
	"context"

	"github.com/fleetbill/billing-engine/internal/model"
	"github.com/fleetbill/billing-engine/pkg/pg"
)

type ExecutionLogRepository struct {
	*pg.DB
}

func NewExecutionLogRepository(db *pg.DB) *ExecutionLogRepository {
	return &ExecutionLogRepository{
		db,
	}
}

func (r *ExecutionLogRepository) Append(ctx context.Context, log *model.ExecutionLog) (*model.ExecutionLog, error) {
	entity := toExecutionLogEntity(log)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toExecutionLogModel(entity), nil
}

// ListRecent returns the newest runs for a job, newest first.
func (r *ExecutionLogRepository) ListRecent(ctx context.Context, jobName string, limit int) ([]*model.ExecutionLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	var entities []*ExecutionLogEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("job_name = ?", jobName).
		Order("started_at DESC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toExecutionLogModels(entities), nil
}
