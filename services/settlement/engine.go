// Package settlement reconciles payment processor state with enrollments.
//
// Money state is authoritative: once the processor confirms a charge or a
// refund the local payment transition is never rolled back. A roster update
// that fails afterwards is recorded as an enrollment discrepancy and retried.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/sahilchouksey/coursemarket/config"
	"github.com/sahilchouksey/coursemarket/services/catalog"
	"github.com/sahilchouksey/coursemarket/services/gateway"
	"github.com/sahilchouksey/coursemarket/services/ledger"
	"github.com/sahilchouksey/coursemarket/utils/apperr"
	"github.com/sahilchouksey/coursemarket/utils/cache"
	"github.com/sahilchouksey/coursemarket/utils/logging"
)

// Config holds the settlement policy
type Config struct {
	Mode           string
	Currency       string
	CommissionRate decimal.Decimal
	// LockTTL bounds the purchase and refund locks
	LockTTL time.Duration
	// SeenEventTTL is how long processed webhook ids are remembered
	SeenEventTTL time.Duration
}

// ConfigFrom builds the settlement policy from the payment configuration
func ConfigFrom(cfg *config.PaymentConfig) Config {
	return Config{
		Mode:           cfg.Mode,
		Currency:       cfg.Currency,
		CommissionRate: cfg.CommissionRate,
		LockTTL:        cfg.LockTTL,
		SeenEventTTL:   cfg.SeenEventTTL,
	}
}

// Engine implements purchase initiation, webhook reconciliation, direct
// enrollment and refunds on top of the catalog and ledger stores.
type Engine struct {
	db      *gorm.DB
	gateway gateway.Gateway
	locker  cache.Locker
	marker  cache.Marker
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time
}

// Option customizes an Engine
type Option func(*Engine)

// WithLocker serializes purchases and refunds across instances
func WithLocker(l cache.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithMarker enables the processed-event fast path for webhooks
func WithMarker(m cache.Marker) Option {
	return func(e *Engine) { e.marker = m }
}

// NewEngine creates a settlement engine. Without options it uses no-op
// locking; the database constraints alone still guarantee correctness.
func NewEngine(db *gorm.DB, gw gateway.Gateway, cfg Config, opts ...Option) *Engine {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.CommissionRate.IsZero() {
		cfg.CommissionRate = config.DefaultCommissionRate
	}
	if cfg.Mode == "" {
		cfg.Mode = config.PaymentModeSandbox
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = config.DefaultLockTTL
	}
	if cfg.SeenEventTTL == 0 {
		cfg.SeenEventTTL = config.DefaultSeenEventTTL
	}

	e := &Engine{
		db:      db,
		gateway: gw,
		locker:  cache.NoopLocker{},
		marker:  cache.NoopMarker{},
		cfg:     cfg,
		log:     logging.With("settlement"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) catalog(db *gorm.DB) *catalog.Store { return catalog.NewStore(db) }
func (e *Engine) ledger(db *gorm.DB) *ledger.Store   { return ledger.NewStore(db) }

// lock takes a short lock. A broken lock backend degrades to running unlocked.
func (e *Engine) lock(ctx context.Context, key string) (func(), error) {
	release, ok, err := e.locker.Acquire(ctx, key, e.cfg.LockTTL)
	if err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("Lock backend unavailable, continuing without lock")
		return func() {}, nil
	}
	if !ok {
		return nil, apperr.NewConflict("This request is already being processed, please retry shortly")
	}
	return release, nil
}

// gatewayError converts a gateway failure into the client-facing taxonomy
func gatewayError(err error) error {
	switch {
	case errors.Is(err, gateway.ErrTimeout):
		return apperr.Wrap(apperr.GatewayTimeout, "Payment provider timed out, please try again", err)
	case errors.Is(err, gateway.ErrUnavailable):
		return apperr.Wrap(apperr.GatewayUnavailable, "Payment provider is unavailable, please try again later", err)
	case errors.Is(err, gateway.ErrRejected):
		return apperr.Wrap(apperr.GatewayRejected, "Payment provider rejected the request", err)
	default:
		return apperr.Wrap(apperr.Internal, "Payment provider request failed", err)
	}
}

func internal(message string, err error) error {
	return apperr.Wrap(apperr.Internal, message, err)
}

// courseError maps catalog lookups onto client errors
func courseError(err error) error {
	switch {
	case errors.Is(err, catalog.ErrCourseNotFound):
		return apperr.NewNotFound("Course not found")
	case errors.Is(err, catalog.ErrCourseNotPublished):
		return apperr.NewValidation("Course is not available for enrollment")
	default:
		return internal("Failed to load course", err)
	}
}

// IsEnrolled reports whether the user is on the course roster
func (e *Engine) IsEnrolled(ctx context.Context, courseID, userID uint) (bool, error) {
	enrolled, err := e.catalog(e.db).IsEnrolled(ctx, courseID, userID)
	if err != nil {
		return false, internal("Failed to check enrollment", err)
	}
	return enrolled, nil
}

func lockKey(parts ...interface{}) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += fmt.Sprint(p)
	}
	return key
}
