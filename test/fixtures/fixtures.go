package fixtures

import (
	"time"

	"github.com/fleetbill/billing-engine/internal/model"
)

var (
	TestTenant = model.Tenant{
		ID:                1,
		Name:              "fleet-alpha",
		Active:            true,
		GraceDays:         15,
		EscalationEnabled: true,
		SuspensionEnabled: true,
	}

	TestTenantNoSuspension = model.Tenant{
		ID:                2,
		Name:              "fleet-beta",
		Active:            true,
		GraceDays:         15,
		EscalationEnabled: true,
		SuspensionEnabled: false,
	}

	TestTenantEscalationOff = model.Tenant{
		ID:                3,
		Name:              "fleet-gamma",
		Active:            true,
		GraceDays:         15,
		EscalationEnabled: false,
		SuspensionEnabled: false,
	}
)

func NewTestClient(id, tenantID int64, status model.ServiceStatus) *model.Client {
	return &model.Client{
		ID:            id,
		TenantID:      tenantID,
		Name:          "test-client",
		ServiceStatus: status,
		NotifyAddress: "+5511900000000",
	}
}

func NewTestPayment(tenantID, clientID int64, status model.PaymentStatus, dueDate time.Time) *model.PaymentTransaction {
	return &model.PaymentTransaction{
		TenantID:          tenantID,
		ClientID:          clientID,
		Amount:            15000,
		DueDate:           dueDate,
		Status:            status,
		Gateway:           "canonical",
		ExternalReference: "inv-test",
	}
}

func NewSettlementEvent(gateway, chargeID, externalRef string, occurredAt time.Time) *model.PaymentEvent {
	return &model.PaymentEvent{
		Kind:              model.EventConfirmed,
		Gateway:           gateway,
		GatewayChargeID:   chargeID,
		ExternalReference: externalRef,
		OccurredAt:        occurredAt,
	}
}
