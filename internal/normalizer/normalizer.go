package normalizer

import (
	"strings"
	"sync"

	"github.com/fleetbill/billing-engine/internal/model"
)

// Rejection is the non-fatal outcome for input the adapter cannot use.
// Webhook delivery queues pause on non-2xx responses, so a bad payload
// must become a logged rejection, never an error the transport sees.
type Rejection struct {
	Reason string
}

func (r *Rejection) String() string { return r.Reason }

// Adapter converts one gateway's webhook payloads into canonical
// payment events. Parse is a pure function of its input.
type Adapter interface {
	Gateway() string
	Parse(contentType string, body []byte) (*model.PaymentEvent, *Rejection)
}

// Registry dispatches raw webhook deliveries to the adapter registered
// for the gateway id in the request path.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[strings.ToLower(a.Gateway())] = a
}

func (r *Registry) Normalize(gatewayID, contentType string, body []byte) (*model.PaymentEvent, *Rejection) {
	r.mu.RLock()
	a, ok := r.adapters[strings.ToLower(gatewayID)]
	r.mu.RUnlock()

	if !ok {
		return nil, &Rejection{Reason: "unknown gateway: " + gatewayID}
	}
	return a.Parse(contentType, body)
}
