// Package gateway isolates every interaction with the external payment processor.
// Amounts cross this boundary as decimal major units; only adapters see minor units.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Error kinds. Callers test with errors.Is.
var (
	ErrUnavailable      = errors.New("payment gateway unavailable")
	ErrTimeout          = errors.New("payment gateway timed out")
	ErrRejected         = errors.New("payment gateway rejected the request")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent is a correctly signed webhook whose object does not decode
	ErrMalformedEvent = errors.New("malformed webhook event")
)

// Error wraps a processor failure with the operation and its kind
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("gateway %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error kind
func (e *Error) Is(target error) bool { return target == e.Kind }

func newError(op string, kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// IsTransient reports whether the failure may succeed on retry
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}

// IntentStatus is the processor's view of a charge, collapsed to what settlement needs
type IntentStatus string

const (
	// IntentPending covers every state in which the customer can still pay
	IntentPending   IntentStatus = "pending"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
	IntentCanceled  IntentStatus = "canceled"
)

// Intent is a remote payment intent
type Intent struct {
	ID            string
	ClientSecret  string
	Status        IntentStatus
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	FailureReason string
	Metadata      map[string]string
}

// CreateIntentRequest describes a new charge
type CreateIntentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// RefundRequest asks for a full refund of an intent
type RefundRequest struct {
	IntentID       string
	Amount         decimal.Decimal
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// Refund is the processor's refund record
type Refund struct {
	ID       string
	Amount   decimal.Decimal
	Currency string
	Status   string
}

// Confirmed reports whether the processor has accepted the refund.
// Pending refunds are committed on the processor side and settle later.
func (r *Refund) Confirmed() bool {
	return r.Status == "succeeded" || r.Status == "pending"
}

// EventType is a normalized webhook event type
type EventType string

const (
	EventPaymentSucceeded EventType = "payment_intent.succeeded"
	EventPaymentFailed    EventType = "payment_intent.payment_failed"
	EventPaymentCanceled  EventType = "payment_intent.canceled"
	EventChargeRefunded   EventType = "charge.refunded"
)

// Event is a verified webhook notification
type Event struct {
	ID       string
	Type     EventType
	IntentID string
	// FailureReason is set for failed payments
	FailureReason string
	// PaymentMethod is the method type used, when known
	PaymentMethod string
	// AmountRefunded is set for refund events
	AmountRefunded decimal.Decimal
	// FullyRefunded is set for refund events
	FullyRefunded bool
}

// Known reports whether settlement acts on this event type
func (e *Event) Known() bool {
	switch e.Type {
	case EventPaymentSucceeded, EventPaymentFailed, EventPaymentCanceled, EventChargeRefunded:
		return true
	default:
		return false
	}
}

// Gateway is the payment processor contract consumed by settlement.
// Every method fails with an *Error whose kind is one of the Err* values.
type Gateway interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (*Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
	// ParseWebhook verifies the signature over the exact raw payload before decoding it
	ParseWebhook(payload []byte, signature string) (*Event, error)
}
