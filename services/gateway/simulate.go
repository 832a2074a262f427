package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82/webhook"
)

// SimulatedEvent describes a webhook to forge for local testing against a sandbox secret
type SimulatedEvent struct {
	Type          EventType
	IntentID      string
	Amount        decimal.Decimal
	Currency      string
	FailureReason string
}

type simulatedEnvelope struct {
	ID         string          `json:"id"`
	Object     string          `json:"object"`
	Type       string          `json:"type"`
	Created    int64           `json:"created"`
	APIVersion string          `json:"api_version,omitempty"`
	Livemode   bool            `json:"livemode"`
	Data       json.RawMessage `json:"data"`
}

// SignEvent renders the event in Stripe's wire shape and signs it with secret.
// It returns the body and the matching Stripe-Signature header value.
func SignEvent(secret string, ev SimulatedEvent, at time.Time) ([]byte, string, error) {
	if ev.IntentID == "" {
		return nil, "", fmt.Errorf("intent id is required")
	}
	minor, err := ToMinorUnits(ev.Amount)
	if err != nil {
		return nil, "", err
	}
	currency := ev.Currency
	if currency == "" {
		currency = "usd"
	}

	var object map[string]interface{}
	switch ev.Type {
	case EventPaymentSucceeded, EventPaymentFailed, EventPaymentCanceled:
		status := "succeeded"
		switch ev.Type {
		case EventPaymentFailed:
			status = "requires_payment_method"
		case EventPaymentCanceled:
			status = "canceled"
		}
		object = map[string]interface{}{
			"id":                   ev.IntentID,
			"object":               "payment_intent",
			"status":               status,
			"amount":               minor,
			"currency":             currency,
			"payment_method_types": []string{"card"},
		}
		if ev.Type == EventPaymentFailed {
			reason := ev.FailureReason
			if reason == "" {
				reason = "Your card was declined."
			}
			object["last_payment_error"] = map[string]interface{}{"type": "card_error", "message": reason}
		}
	case EventChargeRefunded:
		object = map[string]interface{}{
			"id":              "ch_sim_" + uuid.NewString()[:8],
			"object":          "charge",
			"payment_intent":  ev.IntentID,
			"amount":          minor,
			"amount_refunded": minor,
			"currency":        currency,
			"refunded":        true,
		}
	default:
		return nil, "", fmt.Errorf("unsupported event type %q", ev.Type)
	}

	data, err := json.Marshal(map[string]interface{}{"object": object})
	if err != nil {
		return nil, "", err
	}

	body, err := json.Marshal(simulatedEnvelope{
		ID:      "evt_sim_" + uuid.NewString(),
		Object:  "event",
		Type:    string(ev.Type),
		Created: at.Unix(),
		Data:    data,
	})
	if err != nil {
		return nil, "", err
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    secret,
		Timestamp: at,
	})
	return signed.Payload, signed.Header, nil
}
