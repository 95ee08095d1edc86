package repository

import (
	"github.com/fleetbill/billing-engine/internal/model"
)

type TenantEntity struct {
	ID                int64  `db:"id"                 gorm:"primaryKey;autoIncrement;column:id"`
	Name              string `db:"name"               gorm:"column:name;not null"`
	// booleans carry no gorm default on purpose: a default makes gorm
	// skip explicit false values on insert
	Active            bool   `db:"active"             gorm:"column:active;not null"`
	GraceDays         int    `db:"grace_days"         gorm:"column:grace_days;not null"`
	EscalationEnabled bool   `db:"escalation_enabled" gorm:"column:escalation_enabled;not null"`
	SuspensionEnabled bool   `db:"suspension_enabled" gorm:"column:suspension_enabled;not null"`
}

func (TenantEntity) TableName() string {
	return "tenants"
}

func toTenantEntity(m *model.Tenant) *TenantEntity {
	if m == nil {
		return nil
	}
	return &TenantEntity{
		ID:                m.ID,
		Name:              m.Name,
		Active:            m.Active,
		GraceDays:         m.GraceDays,
		EscalationEnabled: m.EscalationEnabled,
		SuspensionEnabled: m.SuspensionEnabled,
	}
}

func toTenantModel(e *TenantEntity) *model.Tenant {
	if e == nil {
		return nil
	}
	return &model.Tenant{
		ID:                e.ID,
		Name:              e.Name,
		Active:            e.Active,
		GraceDays:         e.GraceDays,
		EscalationEnabled: e.EscalationEnabled,
		SuspensionEnabled: e.SuspensionEnabled,
	}
}

func toTenantModels(entities []*TenantEntity) []*model.Tenant {
	if entities == nil {
		return nil
	}
	models := make([]*model.Tenant, len(entities))
	for i, e := range entities {
		models[i] = toTenantModel(e)
	}
	return models
}
