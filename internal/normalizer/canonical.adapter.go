package normalizer

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/fleetbill/billing-engine/internal/model"
)

// eventKinds maps gateway event names onto canonical kinds. Unknown
// names are rejected rather than guessed at.
var eventKinds = map[string]model.EventKind{
	"PAYMENT_RECEIVED":               model.EventReceived,
	"PAYMENT_CONFIRMED":              model.EventConfirmed,
	"PAYMENT_OVERDUE":                model.EventOverdue,
	"PAYMENT_DELETED":                model.EventDeleted,
	"PAYMENT_REFUNDED":               model.EventRefunded,
	"PAYMENT_CREATED":                model.EventCreated,
	"PAYMENT_AWAITING_RISK_ANALYSIS": model.EventAwaiting,
	"PAYMENT_UPDATED":                model.EventAwaiting,
}

type canonicalPayload struct {
	Event   string `json:"event"`
	Payment struct {
		ID                string `json:"id"`
		ExternalReference string `json:"externalReference"`
		DateCreated       string `json:"dateCreated"`
	} `json:"payment"`
}

// CanonicalAdapter parses the canonical webhook wire shape, delivered
// either as a JSON body or as a form-urlencoded body whose "data" field
// carries the JSON document.
type CanonicalAdapter struct {
	gateway string
	now     func() time.Time
}

func NewCanonicalAdapter(gateway string) *CanonicalAdapter {
	return &CanonicalAdapter{gateway: gateway, now: time.Now}
}

func (a *CanonicalAdapter) Gateway() string { return a.gateway }

func (a *CanonicalAdapter) Parse(contentType string, body []byte) (*model.PaymentEvent, *Rejection) {
	raw := body
	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, &Rejection{Reason: "malformed form body: " + err.Error()}
		}
		data := values.Get("data")
		if data == "" {
			return nil, &Rejection{Reason: "form body has no data field"}
		}
		raw = []byte(data)
	}

	var payload canonicalPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &Rejection{Reason: "malformed JSON: " + err.Error()}
	}

	if payload.Event == "" {
		return nil, &Rejection{Reason: "missing event name"}
	}
	kind, ok := eventKinds[strings.ToUpper(payload.Event)]
	if !ok {
		return nil, &Rejection{Reason: "unsupported event: " + payload.Event}
	}
	if payload.Payment.ID == "" {
		return nil, &Rejection{Reason: "missing payment.id"}
	}

	occurred := a.now()
	if payload.Payment.DateCreated != "" {
		if t, err := time.Parse(time.RFC3339, payload.Payment.DateCreated); err == nil {
			occurred = t
		}
	}

	return &model.PaymentEvent{
		Kind:              kind,
		Gateway:           a.gateway,
		GatewayChargeID:   payload.Payment.ID,
		ExternalReference: payload.Payment.ExternalReference,
		OccurredAt:        occurred,
		Raw:               body,
	}, nil
}
