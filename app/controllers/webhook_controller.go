package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/consultly/consultly/internal/pkg/database"
	"github.com/consultly/consultly/internal/pkg/env"
	"github.com/consultly/consultly/internal/pkg/payments"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// markProcessed stamps the journal row for a handled delivery. The journal
// is an audit trail, not the idempotency anchor, so an update failure must
// not change the response; it is logged so operators can spot events that
// stay unmarked.
func markProcessed(ctx context.Context, svc *payments.Service, webhookEventID uint, providerEventID string, procErr error) {
	if err := svc.MarkWebhookProcessed(ctx, webhookEventID, procErr); err != nil {
		logrus.WithFields(logrus.Fields{
			"webhook_event_id":  webhookEventID,
			"provider_event_id": providerEventID,
		}).WithError(err).Warn("failed to mark webhook event processed")
	}
}

// HandlePaymentWebhook ingests the payment processor's signed checkout
// notifications. The signature is verified over the exact transport bytes
// before anything touches the database; after that, the engine's double
// idempotency layer makes redelivery safe. Non-200 responses ask the
// processor to redeliver.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Payment-Signature"))
	secret := env.GetEnv("PAYMENT_WEBHOOK_SECRET", "")

	if !payments.VerifyWebhookSignature(rawBody, signature, secret) {
		logrus.Warn("payment webhook rejected: invalid signature")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	svc := payments.NewServiceFromEnv(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	event, parseErr := payments.ParseEvent(rawBody)
	if parseErr != nil {
		// Authentic but unparseable payloads are journaled for operators.
		if _, stored, err := svc.RecordWebhookEvent(ctx, payments.WebhookEventInput{
			PayloadJSON:    string(rawBody),
			SignatureValid: true,
		}); err == nil {
			markProcessed(ctx, svc, stored.ID, "", parseErr)
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	_, stored, err := svc.RecordWebhookEvent(ctx, payments.WebhookEventInput{
		ProviderEventID: event.ID,
		EventType:       event.Type,
		PayloadJSON:     string(rawBody),
		SignatureValid:  true,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}

	outcome, procErr := svc.ProcessCheckoutEvent(ctx, event)
	markProcessed(ctx, svc, stored.ID, event.ID, procErr)
	if procErr != nil {
		entry := logrus.WithFields(logrus.Fields{
			"provider_event_id": event.ID,
			"event_type":        event.Type,
		})
		var integrityErr *payments.IntegrityError
		if errors.As(procErr, &integrityErr) {
			// Redelivery will not heal this; it needs an operator.
			entry.WithField("alert", "data_integrity").Error(procErr)
		} else {
			entry.Error(procErr)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_processing_failed"})
	}

	switch outcome.Status {
	case payments.OutcomeDuplicate:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	case payments.OutcomeIgnored:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	default:
		logrus.WithFields(logrus.Fields{
			"provider_event_id": event.ID,
			"order_number":      outcome.OrderNumber,
			"commission_amount": outcome.CommissionAmount,
		}).Info("checkout event materialized")
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "order_number": outcome.OrderNumber})
	}
}
