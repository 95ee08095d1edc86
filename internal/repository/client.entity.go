package repository

import (
	"github.com/fleetbill/billing-engine/internal/model"
)

type ClientEntity struct {
	ID            int64  `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	TenantID      int64  `db:"tenant_id"      gorm:"column:tenant_id;not null;index"`
	Name          string `db:"name"           gorm:"column:name;not null"`
	ServiceStatus string `db:"service_status" gorm:"column:service_status;not null;default:active"`
	NotifyAddress string `db:"notify_address" gorm:"column:notify_address"`
}

func (ClientEntity) TableName() string {
	return "clients"
}

func toClientEntity(m *model.Client) *ClientEntity {
	if m == nil {
		return nil
	}
	return &ClientEntity{
		ID:            m.ID,
		TenantID:      m.TenantID,
		Name:          m.Name,
		ServiceStatus: string(m.ServiceStatus),
		NotifyAddress: m.NotifyAddress,
	}
}

func toClientModel(e *ClientEntity) *model.Client {
	if e == nil {
		return nil
	}
	return &model.Client{
		ID:            e.ID,
		TenantID:      e.TenantID,
		Name:          e.Name,
		ServiceStatus: model.ServiceStatus(e.ServiceStatus),
		NotifyAddress: e.NotifyAddress,
	}
}
