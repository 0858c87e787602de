package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	ROLE_CUSTOMER   = "customer"
	ROLE_CONSULTANT = "consultant"
	ROLE_ADMIN      = "admin"

	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

type User struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Email       string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Name        string         `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	FirstName   string         `gorm:"type:varchar(100)" json:"first_name" validate:"max=100"`
	LastName    string         `gorm:"type:varchar(100)" json:"last_name" validate:"max=100"`
	Phone       string         `gorm:"type:varchar(30);default:null" json:"phone" validate:"max=30"`
	Role        string         `gorm:"type:varchar(50);default:'customer';index" json:"role" validate:"oneof=customer consultant admin"`
	Status      string         `gorm:"type:varchar(50);default:'active';index" json:"status" validate:"oneof=active inactive disabled"`
	LastLoginAt *time.Time     `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// NewCustomer builds an auto-provisioned customer account from the payer
// identity carried by a checkout event.
func NewCustomer(email, displayName, phone string) (*User, error) {
	first, last := SplitDisplayName(displayName)

	u := &User{
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Name:      strings.TrimSpace(displayName),
		FirstName: first,
		LastName:  last,
		Phone:     strings.TrimSpace(phone),
		Role:      ROLE_CUSTOMER,
		Status:    STATUS_ACTIVE,
	}

	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

// SplitDisplayName splits a free-form display name at the first whitespace
// run: first token becomes the first name, the remainder the last name.
// Known limitation: locale-naive and lossy for multi-part given names; kept
// as-is because downstream records depend on the exact split.
func SplitDisplayName(name string) (string, string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
