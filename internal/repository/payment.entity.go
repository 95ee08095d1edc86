package repository

import (
	"time"

	"github.com/fleetbill/billing-engine/internal/model"
)

type PaymentEntity struct {
	ID                 int64      `db:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	TenantID           int64      `db:"tenant_id"           gorm:"column:tenant_id;not null;index"`
	ClientID           int64      `db:"client_id"           gorm:"column:client_id;not null;index"`
	Amount             int64      `db:"amount"              gorm:"column:amount;not null"`
	DueDate            time.Time  `db:"due_date"            gorm:"column:due_date;not null;index"`
	Status             string     `db:"status"              gorm:"column:status;not null;default:pending;index"`
	PaidAt             *time.Time `db:"paid_at"             gorm:"column:paid_at"`
	Gateway            string     `db:"gateway"             gorm:"column:gateway;uniqueIndex:idx_payment_gateway_charge"`
	GatewayChargeID    *string    `db:"gateway_charge_id"   gorm:"column:gateway_charge_id;uniqueIndex:idx_payment_gateway_charge"`
	ExternalReference  string     `db:"external_reference"  gorm:"column:external_reference;index"`
	CancellationReason *string    `db:"cancellation_reason" gorm:"column:cancellation_reason"`
	CreatedAt          time.Time  `db:"created_at"          gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time  `db:"updated_at"          gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentEntity) TableName() string {
	return "payment_transactions"
}

func toPaymentEntity(m *model.PaymentTransaction) *PaymentEntity {
	if m == nil {
		return nil
	}
	var reason *string
	if m.CancellationReason != nil {
		r := string(*m.CancellationReason)
		reason = &r
	}
	return &PaymentEntity{
		ID:                 m.ID,
		TenantID:           m.TenantID,
		ClientID:           m.ClientID,
		Amount:             m.Amount,
		DueDate:            m.DueDate,
		Status:             string(m.Status),
		PaidAt:             m.PaidAt,
		Gateway:            m.Gateway,
		GatewayChargeID:    m.GatewayChargeID,
		ExternalReference:  m.ExternalReference,
		CancellationReason: reason,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func toPaymentModel(e *PaymentEntity) *model.PaymentTransaction {
	if e == nil {
		return nil
	}
	var reason *model.CancellationReason
	if e.CancellationReason != nil {
		r := model.CancellationReason(*e.CancellationReason)
		reason = &r
	}
	return &model.PaymentTransaction{
		ID:                 e.ID,
		TenantID:           e.TenantID,
		ClientID:           e.ClientID,
		Amount:             e.Amount,
		DueDate:            e.DueDate,
		Status:             model.PaymentStatus(e.Status),
		PaidAt:             e.PaidAt,
		Gateway:            e.Gateway,
		GatewayChargeID:    e.GatewayChargeID,
		ExternalReference:  e.ExternalReference,
		CancellationReason: reason,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

func toPaymentModels(entities []*PaymentEntity) []*model.PaymentTransaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.PaymentTransaction, len(entities))
	for i, e := range entities {
		models[i] = toPaymentModel(e)
	}
	return models
}
