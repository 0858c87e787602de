package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/consultly/consultly/app/models"
	"github.com/consultly/consultly/internal/pkg/env"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultCommissionRate is the consultant's share of an order total: 65% to
// the consultant, 35% retained by the platform.
var DefaultCommissionRate = decimal.New(65, -2)

// Service turns one verified checkout event into a consistent, exactly-once
// set of domain records: customer account, engagement, order and accrued
// commission. All writes for one event share a single transaction.
type Service struct {
	db       *gorm.DB
	selector ConsultantSelector
	rate     decimal.Decimal
	now      func() time.Time
}

// NewService creates a payment engine with the default selection policy and
// commission rate.
func NewService(db *gorm.DB) *Service {
	return &Service{
		db:       db,
		selector: FirstActiveSelector{},
		rate:     DefaultCommissionRate,
		now:      time.Now,
	}
}

// NewServiceFromEnv creates a payment engine with the commission rate read
// from COMMISSION_RATE (falling back to the default on absence or garbage).
func NewServiceFromEnv(db *gorm.DB) *Service {
	s := NewService(db)
	raw := strings.TrimSpace(env.GetEnv("COMMISSION_RATE", ""))
	if raw == "" {
		return s
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil || rate.IsNegative() || rate.GreaterThan(decimal.New(1, 0)) {
		logrus.WithField("commission_rate", raw).Warn("ignoring invalid COMMISSION_RATE, using default")
		return s
	}
	s.rate = rate
	return s
}

// ProcessCheckoutEvent runs the full ingestion pipeline for one delivered
// event: idempotency pre-check, then customer resolution, consultant
// assignment, order materialization and commission accrual inside one
// transaction. Duplicate deliveries, caught by either the pre-check or the
// order table's unique constraint, come back as OutcomeDuplicate with no
// error so the sender stops redelivering.
func (s *Service) ProcessCheckoutEvent(ctx context.Context, event *Event) (*Outcome, error) {
	if !event.IsCheckoutCompleted() {
		return &Outcome{Status: OutcomeIgnored}, nil
	}
	data, err := event.Checkout()
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)

	// Read-only pre-check. Cheap, but race-prone on its own under
	// concurrent redelivery; the unique constraint below closes the gap.
	existing, err := NewRepository(db).FindOrderByProviderEventID(event.ID)
	if err == nil {
		logrus.WithFields(logrus.Fields{
			"provider_event_id": event.ID,
			"order_id":          existing.ID,
		}).Info("duplicate event acknowledged by pre-check")
		return duplicateOutcome(existing), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var out *Outcome
	txErr := db.Transaction(func(tx *gorm.DB) error {
		repo := NewRepository(tx)

		_, client, err := s.resolveCustomer(repo, data)
		if err != nil {
			return err
		}
		if err := s.resolveConsultant(repo, client); err != nil {
			return err
		}

		order := &models.Order{
			OrderNumber:     uuid.NewString(),
			ClientID:        client.ID,
			ConsultantID:    client.ConsultantID,
			TotalAmount:     data.AmountTotal,
			Currency:        data.Currency,
			ProviderEventID: event.ID,
			Status:          models.OrderStatusPending,
			PaymentStatus:   models.PaymentStatusPaid,
			Metadata:        datatypes.JSON(data.Metadata),
		}
		created, err := repo.CreateOrderIgnoreDuplicate(order)
		if err != nil {
			return err
		}
		if !created {
			// A concurrent delivery of the same event won the insert
			// race. Roll back our half-built records and acknowledge.
			return ErrDuplicateEvent
		}

		out = &Outcome{
			Status:       OutcomeCreated,
			OrderID:      order.ID,
			OrderNumber:  order.OrderNumber,
			ClientID:     client.ID,
			ConsultantID: client.ConsultantID,
		}

		if client.ConsultantID != nil {
			payoutID, commission, err := s.accrueCommission(repo, *client.ConsultantID, order)
			if err != nil {
				return err
			}
			out.PayoutID = payoutID
			out.CommissionAmount = commission
		}
		return nil
	})

	if txErr != nil {
		if errors.Is(txErr, ErrDuplicateEvent) {
			logrus.WithField("provider_event_id", event.ID).
				Info("duplicate event lost insert race, acknowledged as no-op")
			existing, err := NewRepository(db).FindOrderByProviderEventID(event.ID)
			if err != nil {
				return &Outcome{Status: OutcomeDuplicate}, nil
			}
			return duplicateOutcome(existing), nil
		}
		return nil, txErr
	}
	return out, nil
}

// resolveCustomer maps the payer identity to an account and its engagement,
// provisioning both when the email is unknown. An account without an
// engagement is an inconsistent prior state and aborts the transaction.
func (s *Service) resolveCustomer(repo Repository, data *CheckoutData) (*models.User, *models.Client, error) {
	email := strings.ToLower(strings.TrimSpace(data.CustomerEmail))

	user, err := repo.FindUserByEmail(email)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, err
		}

		user, err = models.NewCustomer(email, data.CustomerName, data.CustomerPhone)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.CreateUser(user); err != nil {
			return nil, nil, err
		}

		client := &models.Client{
			UserID:      user.ID,
			CompanyName: data.MetadataField("company_name"),
			CountryCode: data.MetadataField("country_code"),
			Status:      models.ClientStatusActive,
		}
		if err := repo.CreateClient(client); err != nil {
			return nil, nil, err
		}
		return user, client, nil
	}

	client, err := repo.FindClientByUserID(user.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, &IntegrityError{UserID: user.ID, Reason: "account exists without client record"}
		}
		return nil, nil, err
	}

	// Backfill company details the first checkout didn't carry. Existing
	// values are never overwritten from payer-supplied metadata.
	company := client.CompanyName
	country := client.CountryCode
	if company == "" {
		company = data.MetadataField("company_name")
	}
	if country == "" {
		country = data.MetadataField("country_code")
	}
	if company != client.CompanyName || country != client.CountryCode {
		if err := repo.UpdateClientCompany(client.ID, company, country); err != nil {
			return nil, nil, err
		}
		client.CompanyName = company
		client.CountryCode = country
	}
	return user, client, nil
}

// resolveConsultant keeps an existing assignment untouched and otherwise
// applies the selection policy. A customer is never silently reassigned by
// a later payment.
func (s *Service) resolveConsultant(repo Repository, client *models.Client) error {
	if client.ConsultantID != nil {
		return nil
	}

	consultant, err := s.selector.SelectActiveConsultant(repo)
	if err != nil {
		return err
	}
	if consultant == nil {
		return nil
	}

	if err := repo.AssignClientConsultant(client.ID, consultant.ID); err != nil {
		return err
	}
	client.ConsultantID = &consultant.ID
	return nil
}

// accrueCommission aggregates the consultant's share of the order into the
// open monthly payout, creating the period when none covers the order date,
// and records exactly one line item for the order.
func (s *Service) accrueCommission(repo Repository, consultantID uint, order *models.Order) (uint, int64, error) {
	commission := decimal.NewFromInt(order.TotalAmount).Mul(s.rate).Round(0).IntPart()
	at := s.now()

	payout, err := repo.FindOpenPayout(consultantID, at)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, 0, err
		}

		start, end := MonthWindow(at)
		payout = &models.Payout{
			ConsultantID:   consultantID,
			PeriodStart:    start,
			PeriodEnd:      end,
			TotalAmount:    0,
			CommissionRate: s.rate,
			Status:         models.PayoutStatusPending,
		}
		created, err := repo.CreatePayoutIgnoreDuplicate(payout)
		if err != nil {
			return 0, 0, err
		}
		if !created {
			// Another transaction opened the period first.
			payout, err = repo.FindOpenPayout(consultantID, at)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// The pending period that blocked our insert is gone.
				return 0, 0, &IntegrityError{
					UserID: consultantID,
					Reason: "pending payout period conflicted on insert but cannot be read back",
				}
			}
			if err != nil {
				return 0, 0, err
			}
		}
	}

	if err := repo.IncrementPayoutTotal(payout.ID, commission); err != nil {
		return 0, 0, err
	}
	if err := repo.CreateLineItem(&models.PayoutLineItem{
		PayoutID:         payout.ID,
		OrderID:          order.ID,
		GrossAmount:      order.TotalAmount,
		CommissionAmount: commission,
	}); err != nil {
		return 0, 0, err
	}
	return payout.ID, commission, nil
}

// RecordWebhookEvent journals a delivered payload idempotently. Events
// without a usable id are keyed by a payload hash.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.PaymentWebhookEvent, error) {
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.PaymentWebhookEvent{
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return NewRepository(s.db.WithContext(ctx)).CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks a journaled event as processed and stores an
// optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return NewRepository(s.db.WithContext(ctx)).MarkWebhookProcessed(webhookEventID, errMsg)
}

// MonthWindow returns the inclusive calendar-month accrual window
// containing t, as UTC midnights.
func MonthWindow(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return start, end
}

func duplicateOutcome(order *models.Order) *Outcome {
	return &Outcome{
		Status:       OutcomeDuplicate,
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		ClientID:     order.ClientID,
		ConsultantID: order.ConsultantID,
	}
}
