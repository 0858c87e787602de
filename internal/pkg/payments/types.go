package payments

import (
	"errors"
	"fmt"
)

// ErrDuplicateEvent marks a provider event that already produced an order.
// It is a recognized no-op outcome, not a failure: either the read-only
// pre-check or the conflict-ignore insert may raise it.
var ErrDuplicateEvent = errors.New("provider event already processed")

// IntegrityError reports an inconsistent stored state, such as a customer
// account with no client record or a payout period that conflicts on insert
// yet cannot be read back. It aborts the transaction and is surfaced as a
// server error; redelivery will not heal it, so it is an operational alert,
// not something this engine repairs.
type IntegrityError struct {
	UserID uint
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("data integrity violation for user %d: %s", e.UserID, e.Reason)
}

// OutcomeStatus is the terminal state of one event's processing.
type OutcomeStatus string

const (
	// OutcomeCreated: the happy path committed a full set of records.
	OutcomeCreated OutcomeStatus = "created"
	// OutcomeDuplicate: a redelivered event was acknowledged without writes.
	OutcomeDuplicate OutcomeStatus = "duplicate"
	// OutcomeIgnored: an event type this engine does not materialize.
	OutcomeIgnored OutcomeStatus = "ignored"
)

// Outcome describes what processing one event produced.
type Outcome struct {
	Status           OutcomeStatus
	OrderID          uint
	OrderNumber      string
	ClientID         uint
	ConsultantID     *uint
	PayoutID         uint
	CommissionAmount int64
}

// WebhookEventInput is the normalized input for webhook journal persistence.
type WebhookEventInput struct {
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}
