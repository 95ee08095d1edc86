package model

import (
	"errors"
	"time"
)

// PaymentStatus is the lifecycle state of a payment transaction.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusOverdue   PaymentStatus = "overdue"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// CancellationReason records why a transaction left the live states.
type CancellationReason string

const (
	CancellationManual  CancellationReason = "manual"
	CancellationGateway CancellationReason = "gateway"
	CancellationExpired CancellationReason = "expired"
)

// PaymentTransaction is one invoice charge. Created as pending by the
// billing-generation path; mutated only by the reconciler or a manual
// cancellation. Rows are never deleted, only status-cancelled.
type PaymentTransaction struct {
	ID                 int64               `json:"id"`
	TenantID           int64               `json:"tenant_id"`
	ClientID           int64               `json:"client_id"`
	Amount             int64               `json:"amount"` // smallest currency unit
	DueDate            time.Time           `json:"due_date"`
	Status             PaymentStatus       `json:"status"`
	PaidAt             *time.Time          `json:"paid_at,omitempty"`
	Gateway            string              `json:"gateway,omitempty"`
	GatewayChargeID    *string             `json:"gateway_charge_id,omitempty"`
	ExternalReference  string              `json:"external_reference"`
	CancellationReason *CancellationReason `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// DaysOverdue is the whole number of days the transaction is past due
// at the given instant. Not-yet-due transactions yield values < 1.
func (p *PaymentTransaction) DaysOverdue(now time.Time) int {
	due := time.Date(p.DueDate.Year(), p.DueDate.Month(), p.DueDate.Day(), 0, 0, 0, 0, time.UTC)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(today.Sub(due).Hours() / 24)
}

// PaymentCreateRequest is the input for the billing-generation path.
type PaymentCreateRequest struct {
	TenantID int64
	ClientID int64
	Amount   int64
	DueDate  time.Time
	Gateway  string
}

func (p PaymentCreateRequest) Validate() error {
	if p.TenantID == 0 {
		return errors.New("tenant_id is required")
	}
	if p.ClientID == 0 {
		return errors.New("client_id is required")
	}
	if p.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	if p.DueDate.IsZero() {
		return errors.New("due_date is required")
	}
	return nil
}

// PaymentFilter controls List queries.
type PaymentFilter struct {
	TenantID *int64
	ClientID *int64
	Statuses []PaymentStatus // IN (...)
	DueFrom  *time.Time
	DueTo    *time.Time
	Limit    int  // default 50
	Offset   int  // for pagination
	Desc     bool // order by due_date
}
