package model

// ServiceStatus is the escalation state of a client's service.
type ServiceStatus string

const (
	ServiceStatusActive    ServiceStatus = "active"
	ServiceStatusWarning   ServiceStatus = "warning"
	ServiceStatusSuspended ServiceStatus = "suspended"
)

// Severity orders service statuses; escalation may only move a client
// to a strictly higher severity.
func (s ServiceStatus) Severity() int {
	switch s {
	case ServiceStatusActive:
		return 0
	case ServiceStatusWarning:
		return 1
	case ServiceStatusSuspended:
		return 2
	}
	return -1
}

type Client struct {
	ID            int64         `json:"id"`
	TenantID      int64         `json:"tenant_id"`
	Name          string        `json:"name"`
	ServiceStatus ServiceStatus `json:"service_status"`
	NotifyAddress string        `json:"notify_address"` // phone or email, transport decides
}
