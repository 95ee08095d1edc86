package gateway

import (
	"context"
	"fmt"

	"github.com/fleetbill/billing-engine/internal/escalation"
)

// Message templates keyed the way the escalation policy names them.
// Amounts are stored in cents.
var templates = map[string]struct {
	subject string
	body    string
}{
	"post_due": {
		subject: "Payment reminder",
		body:    "Your payment of %s is %d day(s) overdue. Please settle it to keep your service running.",
	},
	"post_due_warning": {
		subject: "Payment overdue",
		body:    "Your payment of %s is now %d days overdue. Please settle it as soon as possible.",
	},
	"post_due_urgent": {
		subject: "Urgent: payment overdue",
		body:    "Your payment of %s is %d days overdue. Your service has been flagged and may be suspended.",
	},
	"post_due_final": {
		subject: "Final notice",
		body:    "Final notice: your payment of %s is %d days overdue. Service suspension is imminent.",
	},
	"suspended": {
		subject: "Service suspended",
		body:    "Your service has been suspended over a payment of %s now %d days overdue. Settle it to restore access.",
	},
}

// Notifier renders escalation notifications and hands them to the
// transport client. Delivery retries belong to the transport; the
// decision to send was committed before this code runs.
type Notifier struct {
	client *Client
}

func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) Send(ctx context.Context, notification escalation.Notification) error {
	tpl, ok := templates[notification.Template]
	if !ok {
		return fmt.Errorf("unknown notification template: %s", notification.Template)
	}

	amount := fmt.Sprintf("$%d.%02d", notification.Amount/100, notification.Amount%100)
	_, err := n.client.Dispatch(ctx, &DispatchRequest{
		Reference: fmt.Sprintf("esc-%d-%d-%d", notification.ClientID, notification.PaymentID, notification.DaysOverdue),
		Recipient: notification.Recipient,
		Subject:   tpl.subject,
		Body:      fmt.Sprintf(tpl.body, amount, notification.DaysOverdue),
	})
	return err
}
