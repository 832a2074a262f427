// Package gatewaytest provides an in-memory payment gateway for tests and local runs.
package gatewaytest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/sahilchouksey/coursemarket/services/gateway"
)

// Fake is a scriptable Gateway. Set the *Err fields to simulate failures.
// Webhook payloads are JSON-encoded WebhookPayload values signed with HMAC-SHA256.
type Fake struct {
	mu sync.Mutex

	Secret       string
	RefundStatus string

	CreateErr   error
	RetrieveErr error
	CancelErr   error
	RefundErr   error

	intents      map[string]*gateway.Intent
	byIdemKey    map[string]string
	refunds      []gateway.RefundRequest
	canceled     []string
	calls        map[string]int
	nextIntentID int
}

// New creates a fake gateway with a fixed webhook secret
func New() *Fake {
	return &Fake{
		Secret:       "whsec_fake",
		RefundStatus: "succeeded",
		intents:      make(map[string]*gateway.Intent),
		byIdemKey:    make(map[string]string),
		calls:        make(map[string]int),
	}
}

// WebhookPayload is the body format ParseWebhook accepts
type WebhookPayload struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	IntentID       string `json:"intent_id"`
	FailureReason  string `json:"failure_reason,omitempty"`
	AmountRefunded string `json:"amount_refunded,omitempty"`
}

func (f *Fake) CreateIntent(_ context.Context, req gateway.CreateIntentRequest) (*gateway.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["create_intent"]++

	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	if id, ok := f.byIdemKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return copyIntent(f.intents[id]), nil
	}

	f.nextIntentID++
	id := fmt.Sprintf("pi_fake_%d", f.nextIntentID)
	intent := &gateway.Intent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       gateway.IntentPending,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Metadata:     req.Metadata,
	}
	f.intents[id] = intent
	if req.IdempotencyKey != "" {
		f.byIdemKey[req.IdempotencyKey] = id
	}
	return copyIntent(intent), nil
}

func (f *Fake) RetrieveIntent(_ context.Context, intentID string) (*gateway.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["retrieve_intent"]++

	if f.RetrieveErr != nil {
		return nil, f.RetrieveErr
	}
	intent, ok := f.intents[intentID]
	if !ok {
		return nil, &gateway.Error{Op: "retrieve_intent", Kind: gateway.ErrRejected, Err: fmt.Errorf("no such intent %s", intentID)}
	}
	return copyIntent(intent), nil
}

func (f *Fake) CancelIntent(_ context.Context, intentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["cancel_intent"]++

	if f.CancelErr != nil {
		return f.CancelErr
	}
	if intent, ok := f.intents[intentID]; ok {
		intent.Status = gateway.IntentCanceled
	}
	f.canceled = append(f.canceled, intentID)
	return nil
}

func (f *Fake) CreateRefund(_ context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["create_refund"]++

	if f.RefundErr != nil {
		return nil, f.RefundErr
	}
	f.refunds = append(f.refunds, req)
	return &gateway.Refund{
		ID:       fmt.Sprintf("re_fake_%d", len(f.refunds)),
		Amount:   req.Amount,
		Currency: "usd",
		Status:   f.RefundStatus,
	}, nil
}

func (f *Fake) ParseWebhook(payload []byte, signature string) (*gateway.Event, error) {
	if !hmac.Equal([]byte(signature), []byte(f.Sign(payload))) {
		return nil, &gateway.Error{Op: "parse_webhook", Kind: gateway.ErrInvalidSignature}
	}

	var body WebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, &gateway.Error{Op: "parse_webhook", Kind: gateway.ErrMalformedEvent, Err: err}
	}

	evt := &gateway.Event{
		ID:            body.ID,
		Type:          gateway.EventType(body.Type),
		IntentID:      body.IntentID,
		FailureReason: body.FailureReason,
	}
	if body.AmountRefunded != "" {
		amount, err := decimal.NewFromString(body.AmountRefunded)
		if err != nil {
			return nil, &gateway.Error{Op: "parse_webhook", Kind: gateway.ErrMalformedEvent, Err: err}
		}
		evt.AmountRefunded = amount
		evt.FullyRefunded = true
	}
	return evt, nil
}

// Sign returns the signature ParseWebhook accepts for payload
func (f *Fake) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(f.Secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Event builds a signed webhook body
func (f *Fake) Event(p WebhookPayload) ([]byte, string) {
	body, _ := json.Marshal(p)
	return body, f.Sign(body)
}

// SetIntentStatus moves a remote intent, as the processor would after a customer action
func (f *Fake) SetIntentStatus(intentID string, status gateway.IntentStatus, failureReason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if intent, ok := f.intents[intentID]; ok {
		intent.Status = status
		intent.FailureReason = failureReason
	}
}

// Calls returns how many times op was invoked
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Refunds returns the refund requests received
func (f *Fake) Refunds() []gateway.RefundRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.RefundRequest(nil), f.refunds...)
}

// Canceled returns the intents canceled so far
func (f *Fake) Canceled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.canceled...)
}

func copyIntent(i *gateway.Intent) *gateway.Intent {
	c := *i
	return &c
}
