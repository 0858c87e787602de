package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PayoutStatusPending = "pending"
	PayoutStatusPaid    = "paid"
)

// Payout is a consultant's commission accrual bucket for one calendar month.
// At most one pending payout per consultant covers any given day; the unique
// (consultant_id, period_start, status) index keeps concurrent find-or-create
// from producing twin pending periods, while still letting a fresh pending
// period open next to a settled one for the same month. TotalAmount is only
// ever incremented here.
type Payout struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	ConsultantID   uint            `gorm:"not null;index;uniqueIndex:ux_payouts_consultant_period,priority:1" json:"consultant_id"`
	PeriodStart    time.Time       `gorm:"type:date;not null;uniqueIndex:ux_payouts_consultant_period,priority:2" json:"period_start"`
	PeriodEnd      time.Time       `gorm:"type:date;not null" json:"period_end"`
	TotalAmount    int64           `gorm:"not null;default:0" json:"total_amount"`
	CommissionRate decimal.Decimal `gorm:"type:decimal(5,4);not null" json:"commission_rate"`
	Status         string          `gorm:"type:varchar(32);not null;default:'pending';index;uniqueIndex:ux_payouts_consultant_period,priority:3" json:"status"`
	PaidAt         *time.Time      `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// PayoutLineItem records one order's contribution to a payout. An order
// contributes exactly once; the sum of line-item commission amounts for a
// payout must equal that payout's total.
type PayoutLineItem struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	PayoutID         uint      `gorm:"not null;index" json:"payout_id"`
	OrderID          uint      `gorm:"not null;uniqueIndex:ux_payout_line_items_order" json:"order_id"`
	GrossAmount      int64     `gorm:"not null" json:"gross_amount"`
	CommissionAmount int64     `gorm:"not null" json:"commission_amount"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`

	Payout *Payout `gorm:"foreignKey:PayoutID" json:"payout,omitempty"`
	Order  *Order  `gorm:"foreignKey:OrderID" json:"order,omitempty"`
}
