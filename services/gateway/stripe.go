package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/sahilchouksey/coursemarket/utils/logging"
	"github.com/sahilchouksey/coursemarket/utils/metrics"
)

// StripeConfig selects credentials and limits for the Stripe adapter.
// Mode decides which key pair was loaded; the adapter itself never branches on it.
type StripeConfig struct {
	Mode          string
	SecretKey     string
	WebhookSecret string
	Timeout       time.Duration
	// BaseURL overrides the API endpoint, used by tests
	BaseURL string
}

// StripeGateway implements Gateway on top of stripe-go
type StripeGateway struct {
	intents       *paymentintent.Client
	refunds       *refund.Client
	webhookSecret string
	mode          string
	log           zerolog.Logger
}

// NewStripeGateway builds an adapter with its own bounded HTTP client.
// SDK retries are disabled; redelivery and the sweep job own retrying.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is not set for %s mode", cfg.Mode)
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret is not set for %s mode", cfg.Mode)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	log := logging.With("stripe").With().Str("mode", cfg.Mode).Logger()

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     leveledLogger{log: log},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	return &StripeGateway{
		intents:       &paymentintent.Client{B: backend, Key: cfg.SecretKey},
		refunds:       &refund.Client{B: backend, Key: cfg.SecretKey},
		webhookSecret: cfg.WebhookSecret,
		mode:          cfg.Mode,
		log:           log,
	}, nil
}

// CreateIntent creates a payment intent with automatic payment methods
func (g *StripeGateway) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	const op = "create_intent"

	minor, err := ToMinorUnits(req.Amount)
	if err != nil {
		return nil, newError(op, ErrRejected, err)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minor),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata("mode", g.mode)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	start := time.Now()
	pi, err := g.intents.New(params)
	observe(op, start, err)
	if err != nil {
		return nil, g.classify(op, err)
	}

	g.log.Info().Str("intent_id", pi.ID).Int64("amount_minor", minor).Msg("Created payment intent")
	return toIntent(pi), nil
}

// RetrieveIntent fetches the processor's current view of an intent
func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	const op = "retrieve_intent"

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	start := time.Now()
	pi, err := g.intents.Get(intentID, params)
	observe(op, start, err)
	if err != nil {
		return nil, g.classify(op, err)
	}
	return toIntent(pi), nil
}

// CancelIntent cancels an intent that will never be paid
func (g *StripeGateway) CancelIntent(ctx context.Context, intentID string) error {
	const op = "cancel_intent"

	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String("abandoned"),
	}
	params.Context = ctx

	start := time.Now()
	_, err := g.intents.Cancel(intentID, params)
	observe(op, start, err)
	if err != nil {
		return g.classify(op, err)
	}
	return nil
}

// CreateRefund issues a refund against an intent
func (g *StripeGateway) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	const op = "create_refund"

	minor, err := ToMinorUnits(req.Amount)
	if err != nil {
		return nil, newError(op, ErrRejected, err)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
		Amount:        stripe.Int64(minor),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx

	start := time.Now()
	r, err := g.refunds.New(params)
	observe(op, start, err)
	if err != nil {
		return nil, g.classify(op, err)
	}

	g.log.Info().Str("intent_id", req.IntentID).Str("refund_id", r.ID).Str("status", string(r.Status)).Msg("Created refund")
	return &Refund{
		ID:       r.ID,
		Amount:   FromMinorUnits(r.Amount),
		Currency: string(r.Currency),
		Status:   string(r.Status),
	}, nil
}

// ParseWebhook verifies the Stripe-Signature header against the raw body, then decodes
// the event object. The payload must be the exact bytes received.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	const op = "parse_webhook"

	evt, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, newError(op, ErrInvalidSignature, err)
	}

	out := &Event{ID: evt.ID, Type: EventType(evt.Type)}
	if evt.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventPaymentSucceeded, EventPaymentFailed, EventPaymentCanceled:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, newError(op, ErrMalformedEvent, fmt.Errorf("decode payment intent: %w", err))
		}
		intent := toIntent(&pi)
		out.IntentID = intent.ID
		out.FailureReason = intent.FailureReason
		out.PaymentMethod = intent.PaymentMethod
	case EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(evt.Data.Raw, &ch); err != nil {
			return nil, newError(op, ErrMalformedEvent, fmt.Errorf("decode charge: %w", err))
		}
		if ch.PaymentIntent != nil {
			out.IntentID = ch.PaymentIntent.ID
		}
		out.AmountRefunded = FromMinorUnits(ch.AmountRefunded)
		out.FullyRefunded = ch.Refunded
	}

	return out, nil
}

// classify maps SDK and transport failures onto the gateway error kinds
func (g *StripeGateway) classify(op string, err error) error {
	kind := ErrUnavailable

	var stripeErr *stripe.Error
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = ErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = ErrTimeout
	case errors.As(err, &stripeErr):
		if stripeErr.HTTPStatusCode >= 500 || stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			kind = ErrUnavailable
		} else {
			kind = ErrRejected
		}
	}

	g.log.Warn().Err(err).Str("op", op).Str("kind", kind.Error()).Msg("Stripe call failed")
	return newError(op, kind, err)
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	intent := &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       FromMinorUnits(pi.Amount),
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		intent.Status = IntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		intent.Status = IntentCanceled
	default:
		intent.Status = IntentPending
	}

	if pi.LastPaymentError != nil {
		intent.FailureReason = pi.LastPaymentError.Msg
	}

	if pi.PaymentMethod != nil && pi.PaymentMethod.Type != "" {
		intent.PaymentMethod = string(pi.PaymentMethod.Type)
	} else if len(pi.PaymentMethodTypes) > 0 {
		intent.PaymentMethod = pi.PaymentMethodTypes[0]
	}

	return intent
}

func observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.GatewayRequests.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}

// leveledLogger routes stripe-go's internal logging through zerolog
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Debugf(format string, v ...interface{}) { l.log.Debug().Msgf(format, v...) }
func (l leveledLogger) Infof(format string, v ...interface{})  { l.log.Debug().Msgf(format, v...) }
func (l leveledLogger) Warnf(format string, v ...interface{})  { l.log.Warn().Msgf(format, v...) }
func (l leveledLogger) Errorf(format string, v ...interface{}) { l.log.Error().Msgf(format, v...) }
