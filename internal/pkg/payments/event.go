package payments

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// EventTypeCheckoutCompleted is the only event type this engine materializes
// domain records for. Other types parse fine and are acknowledged as no-ops
// so the processor can add schema without breaking us.
const EventTypeCheckoutCompleted = "checkout.completed"

// Event is the processor's webhook envelope. Data stays raw until the event
// type is known.
type Event struct {
	ID   string          `json:"id" validate:"required"`
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data"`
}

// CheckoutData is the payload of a completed checkout. Metadata is a
// caller-defined blob: stored as-is, destructured only for the few fields
// this engine needs.
type CheckoutData struct {
	AmountTotal   int64           `json:"amount_total" validate:"required,gt=0"`
	Currency      string          `json:"currency" validate:"required,len=3"`
	CustomerEmail string          `json:"customer_email" validate:"required,email"`
	CustomerName  string          `json:"customer_name" validate:"max=150"`
	CustomerPhone string          `json:"customer_phone" validate:"max=30"`
	Metadata      json.RawMessage `json:"metadata"`
}

// ParseEvent decodes and validates the webhook envelope.
func ParseEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("malformed event payload: %w", err)
	}
	if err := validator.New().Struct(&ev); err != nil {
		return nil, fmt.Errorf("invalid event envelope: %w", err)
	}
	return &ev, nil
}

// IsCheckoutCompleted reports whether this event carries a completed checkout.
func (e *Event) IsCheckoutCompleted() bool {
	return strings.EqualFold(strings.TrimSpace(e.Type), EventTypeCheckoutCompleted)
}

// Checkout decodes and validates the checkout payload of the event.
func (e *Event) Checkout() (*CheckoutData, error) {
	var d CheckoutData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return nil, fmt.Errorf("malformed checkout data: %w", err)
	}
	if err := validator.New().Struct(&d); err != nil {
		return nil, fmt.Errorf("invalid checkout data: %w", err)
	}
	d.Currency = strings.ToUpper(strings.TrimSpace(d.Currency))
	return &d, nil
}

// MetadataField extracts a single top-level string field from the metadata
// blob. Missing keys, non-string values and absent metadata all yield "".
func (d *CheckoutData) MetadataField(key string) string {
	if len(d.Metadata) == 0 {
		return ""
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(d.Metadata, &fields); err != nil {
		return ""
	}
	if v, ok := fields[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
