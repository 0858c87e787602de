package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ClientStatusActive   = "active"
	ClientStatusInactive = "inactive"
)

// Client is the service engagement linking a customer account to the
// consultant servicing it. This flow maintains at most one per user; an
// existing row is always reused, never duplicated.
type Client struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	UserID       uint           `gorm:"not null;uniqueIndex:ux_clients_user" json:"user_id"`
	ConsultantID *uint          `gorm:"index" json:"consultant_id,omitempty"`
	CompanyName  string         `gorm:"type:varchar(200);default:''" json:"company_name"`
	CountryCode  string         `gorm:"type:varchar(2);default:''" json:"country_code"`
	Status       string         `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`

	User       *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Consultant *User `gorm:"foreignKey:ConsultantID" json:"consultant,omitempty"`
}
