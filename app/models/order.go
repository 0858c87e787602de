package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusInProgress = "in_progress"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
)

const (
	PaymentStatusUnpaid   = "unpaid"
	PaymentStatusPaid     = "paid"
	PaymentStatusRefunded = "refunded"
)

// Order is the commercial record materialized from one checkout event.
// ProviderEventID carries the processor's unique event id; its unique index
// is the idempotency anchor: the database, not the handler, guarantees at
// most one order per delivered event.
type Order struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	OrderNumber     string         `gorm:"type:varchar(36);not null;uniqueIndex" json:"order_number"`
	ClientID        uint           `gorm:"not null;index" json:"client_id"`
	ConsultantID    *uint          `gorm:"index" json:"consultant_id,omitempty"`
	TotalAmount     int64          `gorm:"not null;default:0" json:"total_amount"`
	Currency        string         `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	ProviderEventID string         `gorm:"type:varchar(191);not null;uniqueIndex:ux_orders_provider_event" json:"provider_event_id"`
	Status          string         `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	PaymentStatus   string         `gorm:"type:varchar(32);not null;default:'unpaid';index" json:"payment_status"`
	Metadata        datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt       time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`

	Client *Client `gorm:"foreignKey:ClientID" json:"client,omitempty"`
}
