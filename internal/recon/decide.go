package recon

import (
	"time"

	"github.com/fleetbill/billing-engine/internal/model"
	"github.com/fleetbill/billing-engine/internal/repository"
)

// Effect is a side effect a transition asks for. Deciding and executing
// are split so the transition logic stays testable without a database.
type Effect string

const (
	// EffectUnblockCheck reactivates client and tenant when no overdue
	// transaction remains after a payment settled.
	EffectUnblockCheck Effect = "unblock_check"
	// EffectOverdueCheck deactivates the tenant when its oldest overdue
	// transaction has outlived the grace threshold.
	EffectOverdueCheck Effect = "overdue_check"
)

// Decision is the pure outcome of applying one event to one
// transaction's current state.
type Decision struct {
	// Apply is false when the event changes nothing: either a replay
	// (state already matches) or a stale event absorbed by paid.
	Apply bool
	// StatusPreserved marks a stale event dropped because paid is
	// absorbing. Recorded in the result rather than silently vanishing:
	// a client can hold two simultaneous charges for one invoice and
	// the gateway may emit "still pending" for the settled one.
	StatusPreserved bool
	Change          repository.StatusChange
	Effects         []Effect
}

// Decide maps (event, current state) to a transition. paid is an
// absorbing state: once reached, only an explicit refund may move the
// record, to cancelled. paid_at is set exactly once.
func Decide(event *model.PaymentEvent, current *model.PaymentTransaction, now time.Time) Decision {
	if current.Status == model.PaymentStatusPaid {
		if event.Kind == model.EventRefunded {
			reason := model.CancellationGateway
			return Decision{
				Apply: true,
				Change: repository.StatusChange{
					To:                 model.PaymentStatusCancelled,
					PaidAt:             current.PaidAt,
					CancellationReason: &reason,
				},
			}
		}
		if event.Settlement() {
			// replay of the settling event, nothing to do
			return Decision{}
		}
		return Decision{StatusPreserved: true}
	}

	switch event.Kind {
	case model.EventReceived, model.EventConfirmed:
		paidAt := current.PaidAt
		if paidAt == nil {
			paidAt = &now
		}
		return Decision{
			Apply: true,
			Change: repository.StatusChange{
				To:     model.PaymentStatusPaid,
				PaidAt: paidAt,
			},
			Effects: []Effect{EffectUnblockCheck},
		}

	case model.EventOverdue:
		if current.Status == model.PaymentStatusOverdue {
			return Decision{}
		}
		reason := model.CancellationExpired
		return Decision{
			Apply: true,
			Change: repository.StatusChange{
				To:                 model.PaymentStatusOverdue,
				CancellationReason: &reason,
			},
			Effects: []Effect{EffectOverdueCheck},
		}

	case model.EventDeleted:
		if current.Status == model.PaymentStatusCancelled {
			return Decision{}
		}
		reason := model.CancellationManual
		return Decision{
			Apply: true,
			Change: repository.StatusChange{
				To:                 model.PaymentStatusCancelled,
				CancellationReason: &reason,
			},
		}

	case model.EventRefunded:
		if current.Status == model.PaymentStatusCancelled {
			return Decision{}
		}
		reason := model.CancellationGateway
		return Decision{
			Apply: true,
			Change: repository.StatusChange{
				To:                 model.PaymentStatusCancelled,
				CancellationReason: &reason,
			},
		}

	case model.EventCreated, model.EventAwaiting:
		if current.Status == model.PaymentStatusPending {
			return Decision{}
		}
		// comeback from overdue clears the expiry flag
		return Decision{
			Apply: true,
			Change: repository.StatusChange{
				To: model.PaymentStatusPending,
			},
		}
	}

	return Decision{}
}
