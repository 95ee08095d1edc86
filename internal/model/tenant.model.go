package model

// Tenant is one customer company in the shared store. GraceDays is the
// tenant-level hard-enforcement threshold: when the oldest overdue
// transaction is older than this, the whole tenant is deactivated.
type Tenant struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Active            bool   `json:"active"`
	GraceDays         int    `json:"grace_days"`
	EscalationEnabled bool   `json:"escalation_enabled"`
	SuspensionEnabled bool   `json:"suspension_enabled"`
}
