package repository

import (
	"time"

	"github.com/fleetbill/billing-engine/internal/model"
)

type ExecutionLogEntity struct {
	ID              int64     `db:"id"                gorm:"primaryKey;autoIncrement;column:id"`
	JobName         string    `db:"job_name"          gorm:"column:job_name;not null;index"`
	Status          string    `db:"status"            gorm:"column:status;not null"`
	StartedAt       time.Time `db:"started_at"        gorm:"column:started_at;not null"`
	FinishedAt      time.Time `db:"finished_at"       gorm:"column:finished_at;not null"`
	ExecutionTimeMs int64     `db:"execution_time_ms" gorm:"column:execution_time_ms;not null"`
	ResponseBody    string    `db:"response_body"     gorm:"column:response_body"`
}

func (ExecutionLogEntity) TableName() string {
	return "execution_logs"
}

func toExecutionLogEntity(m *model.ExecutionLog) *ExecutionLogEntity {
	if m == nil {
		return nil
	}
	return &ExecutionLogEntity{
		ID:              m.ID,
		JobName:         m.JobName,
		Status:          string(m.Status),
		StartedAt:       m.StartedAt,
		FinishedAt:      m.FinishedAt,
		ExecutionTimeMs: m.ExecutionTimeMs,
		ResponseBody:    m.ResponseBody,
	}
}

func toExecutionLogModel(e *ExecutionLogEntity) *model.ExecutionLog {
	if e == nil {
		return nil
	}
	return &model.ExecutionLog{
		ID:              e.ID,
		JobName:         e.JobName,
		Status:          model.JobStatus(e.Status),
		StartedAt:       e.StartedAt,
		FinishedAt:      e.FinishedAt,
		ExecutionTimeMs: e.ExecutionTimeMs,
		ResponseBody:    e.ResponseBody,
	}
}

func toExecutionLogModels(entities []*ExecutionLogEntity) []*model.ExecutionLog {
	if entities == nil {
		return nil
	}
	models := make([]*model.ExecutionLog, len(entities))
	for i, e := range entities {
		models[i] = toExecutionLogModel(e)
	}
	return models
}
