package model

import "time"

// EventKind is the canonical, gateway-agnostic payment event type.
type EventKind string

const (
	EventReceived  EventKind = "received"
	EventConfirmed EventKind = "confirmed"
	EventOverdue   EventKind = "overdue"
	EventDeleted   EventKind = "deleted"
	EventRefunded  EventKind = "refunded"
	EventCreated   EventKind = "created"
	EventAwaiting  EventKind = "awaiting"
)

// PaymentEvent is the normalized form of one gateway webhook delivery.
// It is transient: the raw payload goes to a capped debug stream, the
// event itself is never persisted.
type PaymentEvent struct {
	Kind              EventKind `json:"kind"`
	Gateway           string    `json:"gateway"`
	GatewayChargeID   string    `json:"gateway_charge_id"`
	ExternalReference string    `json:"external_reference,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
	Raw               []byte    `json:"-"`
}

// Settlement reports whether the event marks the charge as paid.
func (e *PaymentEvent) Settlement() bool {
	return e.Kind == EventReceived || e.Kind == EventConfirmed
}
