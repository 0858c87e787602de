package payments

import (
	"time"

	"github.com/consultly/consultly/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the DB operations used by the payment engine. A fresh
// instance is bound to each transaction handle so every step of one event
// shares the same unit of work.
type Repository interface {
	FindOrderByProviderEventID(providerEventID string) (*models.Order, error)
	CreateOrderIgnoreDuplicate(order *models.Order) (bool, error)

	FindUserByEmail(email string) (*models.User, error)
	CreateUser(user *models.User) error
	FindClientByUserID(userID uint) (*models.Client, error)
	CreateClient(client *models.Client) error
	AssignClientConsultant(clientID, consultantID uint) error
	UpdateClientCompany(clientID uint, companyName, countryCode string) error
	FindActiveConsultants() ([]models.User, error)

	FindOpenPayout(consultantID uint, at time.Time) (*models.Payout, error)
	CreatePayoutIgnoreDuplicate(payout *models.Payout) (bool, error)
	IncrementPayoutTotal(payoutID uint, amount int64) error
	CreateLineItem(item *models.PayoutLineItem) error

	CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payment repository backed by GORM. Pass a
// transaction handle to scope all operations to that transaction.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindOrderByProviderEventID(providerEventID string) (*models.Order, error) {
	var order models.Order
	err := r.db.Where("provider_event_id = ?", providerEventID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateOrderIgnoreDuplicate inserts the order with conflict-ignore
// semantics on the provider event id. A false return means a concurrent
// delivery of the same event won the race; the caller must treat that
// exactly like a pre-check idempotency hit.
func (r *gormRepository) CreateOrderIgnoreDuplicate(order *models.Order) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(order)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) FindUserByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) CreateUser(user *models.User) error {
	return r.db.Create(user).Error
}

func (r *gormRepository) FindClientByUserID(userID uint) (*models.Client, error) {
	var client models.Client
	err := r.db.Where("user_id = ?", userID).First(&client).Error
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *gormRepository) CreateClient(client *models.Client) error {
	return r.db.Create(client).Error
}

func (r *gormRepository) AssignClientConsultant(clientID, consultantID uint) error {
	return r.db.Model(&models.Client{}).Where("id = ?", clientID).
		Update("consultant_id", consultantID).Error
}

func (r *gormRepository) UpdateClientCompany(clientID uint, companyName, countryCode string) error {
	return r.db.Model(&models.Client{}).Where("id = ?", clientID).Updates(map[string]interface{}{
		"company_name": companyName,
		"country_code": countryCode,
	}).Error
}

func (r *gormRepository) FindActiveConsultants() ([]models.User, error) {
	var consultants []models.User
	err := r.db.
		Where("role = ? AND status = ?", models.ROLE_CONSULTANT, models.STATUS_ACTIVE).
		Order("id ASC").
		Find(&consultants).Error
	return consultants, err
}

func (r *gormRepository) FindOpenPayout(consultantID uint, at time.Time) (*models.Payout, error) {
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	var payout models.Payout
	err := r.db.
		Where("consultant_id = ? AND status = ? AND period_start <= ? AND period_end >= ?",
			consultantID, models.PayoutStatusPending, day, day).
		First(&payout).Error
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// CreatePayoutIgnoreDuplicate inserts the payout unless a pending one
// already exists for (consultant, period start). False means another
// transaction created the period first; the caller re-reads it. A settled
// payout for the same month does not conflict, so a consultant paid out
// early still accrues into a fresh pending period.
func (r *gormRepository) CreatePayoutIgnoreDuplicate(payout *models.Payout) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "consultant_id"}, {Name: "period_start"}, {Name: "status"}},
		DoNothing: true,
	}).Create(payout)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) IncrementPayoutTotal(payoutID uint, amount int64) error {
	return r.db.Model(&models.Payout{}).Where("id = ?", payoutID).
		UpdateColumn("total_amount", gorm.Expr("total_amount + ?", amount)).Error
}

func (r *gormRepository) CreateLineItem(item *models.PayoutLineItem) error {
	return r.db.Create(item).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentWebhookEvent
	if err := r.db.Where("provider_event_id = ?", event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.PaymentWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
