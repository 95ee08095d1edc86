package model

import "time"

// ActionType distinguishes the two kinds of escalation ledger entries.
type ActionType string

const (
	ActionStatusChanged    ActionType = "status_changed"
	ActionNotificationSent ActionType = "notification_sent"
)

// EscalationRecord is one append-only ledger entry. The unique index on
// (client_id, action_type, days_overdue, action_date) makes this table
// the idempotency source of truth: writing the entry IS the commit
// point for the action it describes. Entries are never updated or
// deleted.
type EscalationRecord struct {
	ID              int64         `json:"id"`
	TenantID        int64         `json:"tenant_id"`
	ClientID        int64         `json:"client_id"`
	PaymentID       int64         `json:"payment_id"`
	PreviousStatus  ServiceStatus `json:"previous_status"`
	NewStatus       ServiceStatus `json:"new_status"`
	EscalationLevel int           `json:"escalation_level"` // 1..5
	DaysOverdue     int           `json:"days_overdue"`
	ActionType      ActionType    `json:"action_type"`
	ActionDate      time.Time     `json:"action_date"` // calendar day, dedup window key
	CreatedAt       time.Time     `json:"created_at"`
}

// EscalationFilter controls ledger queries for the ops endpoints.
type EscalationFilter struct {
	TenantID   *int64
	ClientID   *int64
	ActionType *ActionType
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}
