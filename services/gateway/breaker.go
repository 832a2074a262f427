package gateway

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/sahilchouksey/coursemarket/utils/logging"
	"github.com/sahilchouksey/coursemarket/utils/metrics"
)

// BreakerSettings tunes the circuit breaker around the gateway
type BreakerSettings struct {
	Name string
	// ConsecutiveFailures opens the breaker
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing
	OpenTimeout time.Duration
	// HalfOpenRequests is the number of probes allowed while half-open
	HalfOpenRequests uint32
}

// DefaultBreakerSettings returns the production breaker configuration
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:                "payment-gateway",
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// BreakerGateway decorates a Gateway with a circuit breaker. Only unavailable
// and timeout failures count against it; rejections are the processor working
// normally. Webhook parsing is local and bypasses the breaker.
type BreakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker[interface{}]
	name string
}

// NewBreakerGateway wraps next with a circuit breaker
func NewBreakerGateway(next Gateway, s BreakerSettings) *BreakerGateway {
	metrics.GatewayBreakerState.WithLabelValues(s.Name).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= s.ConsecutiveFailures
			if trip {
				logging.Warn().Uint32("consecutive_failures", counts.ConsecutiveFailures).Str("breaker", s.Name).Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("[CIRCUIT BREAKER] State transition")
			metrics.GatewayBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.GatewayBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
	})

	return &BreakerGateway{next: next, cb: cb, name: s.Name}
}

// State exposes the breaker state for health reporting
func (b *BreakerGateway) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerGateway) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logging.Warn().Err(err).Str("op", op).Msg("[CIRCUIT BREAKER] Request rejected")
		return nil, newError(op, ErrUnavailable, err)
	}
	return result, err
}

// castResult safely type-casts the circuit breaker result
func castResult[T any](result interface{}, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	typed, ok := result.(*T)
	if !ok {
		return nil, errors.New("circuit breaker: unexpected result type")
	}
	return typed, nil
}

func (b *BreakerGateway) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	return castResult[Intent](b.execute("create_intent", func() (interface{}, error) {
		return b.next.CreateIntent(ctx, req)
	}))
}

func (b *BreakerGateway) RetrieveIntent(ctx context.Context, intentID string) (*Intent, error) {
	return castResult[Intent](b.execute("retrieve_intent", func() (interface{}, error) {
		return b.next.RetrieveIntent(ctx, intentID)
	}))
}

func (b *BreakerGateway) CancelIntent(ctx context.Context, intentID string) error {
	_, err := b.execute("cancel_intent", func() (interface{}, error) {
		return nil, b.next.CancelIntent(ctx, intentID)
	})
	return err
}

func (b *BreakerGateway) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	return castResult[Refund](b.execute("create_refund", func() (interface{}, error) {
		return b.next.CreateRefund(ctx, req)
	}))
}

func (b *BreakerGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	return b.next.ParseWebhook(payload, signature)
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
