package repository

import (
	"time"

	"github.com/fleetbill/billing-engine/internal/model"
)

// EscalationEntity rows are append-only. The composite unique index is
// the structural dedup guarantee: two racing writers cannot both record
// the same action for the same client, overdue age and calendar day.
type EscalationEntity struct {
	ID              int64     `db:"id"               gorm:"primaryKey;autoIncrement;column:id"`
	TenantID        int64     `db:"tenant_id"        gorm:"column:tenant_id;not null;index"`
	ClientID        int64     `db:"client_id"        gorm:"column:client_id;not null;uniqueIndex:idx_escalation_dedup"`
	PaymentID       int64     `db:"payment_id"       gorm:"column:payment_id;not null"`
	PreviousStatus  string    `db:"previous_status"  gorm:"column:previous_status;not null"`
	NewStatus       string    `db:"new_status"       gorm:"column:new_status;not null"`
	EscalationLevel int       `db:"escalation_level" gorm:"column:escalation_level;not null"`
	DaysOverdue     int       `db:"days_overdue"     gorm:"column:days_overdue;not null;uniqueIndex:idx_escalation_dedup"`
	ActionType      string    `db:"action_type"      gorm:"column:action_type;not null;uniqueIndex:idx_escalation_dedup"`
	ActionDate      string    `db:"action_date"      gorm:"column:action_date;not null;uniqueIndex:idx_escalation_dedup"`
	CreatedAt       time.Time `db:"created_at"       gorm:"column:created_at;autoCreateTime"`
}

func (EscalationEntity) TableName() string {
	return "escalation_records"
}

const actionDateLayout = "2006-01-02"

func toEscalationEntity(m *model.EscalationRecord) *EscalationEntity {
	if m == nil {
		return nil
	}
	return &EscalationEntity{
		ID:              m.ID,
		TenantID:        m.TenantID,
		ClientID:        m.ClientID,
		PaymentID:       m.PaymentID,
		PreviousStatus:  string(m.PreviousStatus),
		NewStatus:       string(m.NewStatus),
		EscalationLevel: m.EscalationLevel,
		DaysOverdue:     m.DaysOverdue,
		ActionType:      string(m.ActionType),
		ActionDate:      m.ActionDate.Format(actionDateLayout),
		CreatedAt:       m.CreatedAt,
	}
}

func toEscalationModel(e *EscalationEntity) *model.EscalationRecord {
	if e == nil {
		return nil
	}
	day, _ := time.Parse(actionDateLayout, e.ActionDate)
	return &model.EscalationRecord{
		ID:              e.ID,
		TenantID:        e.TenantID,
		ClientID:        e.ClientID,
		PaymentID:       e.PaymentID,
		PreviousStatus:  model.ServiceStatus(e.PreviousStatus),
		NewStatus:       model.ServiceStatus(e.NewStatus),
		EscalationLevel: e.EscalationLevel,
		DaysOverdue:     e.DaysOverdue,
		ActionType:      model.ActionType(e.ActionType),
		ActionDate:      day,
		CreatedAt:       e.CreatedAt,
	}
}

func toEscalationModels(entities []*EscalationEntity) []*model.EscalationRecord {
	if entities == nil {
		return nil
	}
	models := make([]*model.EscalationRecord, len(entities))
	for i, e := range entities {
		models[i] = toEscalationModel(e)
	}
	return models
}
