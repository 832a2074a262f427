package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/sahilchouksey/coursemarket/utils/logging"
	"github.com/sahilchouksey/coursemarket/utils/response"
)

// AttemptStore is the subset of the Redis cache the guard needs
type AttemptStore interface {
	Increment(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// SignatureGuard locks out sources that keep sending webhooks with bad
// signatures. Genuine processor traffic never fails verification.
type SignatureGuard struct {
	store  AttemptStore
	window time.Duration
}

// NewSignatureGuard creates a guard. A nil store disables it.
func NewSignatureGuard(store AttemptStore) *SignatureGuard {
	return &SignatureGuard{store: store, window: 15 * time.Minute}
}

func attemptKey(ip string) string { return fmt.Sprintf("webhook_sig:attempts:%s", ip) }
func lockKey(ip string) string    { return fmt.Sprintf("webhook_sig:lock:%s", ip) }

// Check rejects requests from a locked out IP
func (g *SignatureGuard) Check() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if g == nil || g.store == nil {
			return c.Next()
		}

		ip := c.IP()
		locked, err := g.store.Exists(c.UserContext(), lockKey(ip))
		if err != nil {
			// Redis down: let the request through, verification still applies
			return c.Next()
		}

		if locked {
			ttl, _ := g.store.TTL(c.UserContext(), lockKey(ip))
			retryAfter := int(ttl.Seconds())
			if retryAfter <= 0 {
				retryAfter = 60
			}

			c.Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			return response.TooManyRequests(c, fmt.Sprintf("Too many invalid webhook signatures. Try again in %d seconds", retryAfter))
		}

		return c.Next()
	}
}

// RecordFailure counts a failed verification and applies progressive lockouts
func (g *SignatureGuard) RecordFailure(ctx context.Context, ip string) {
	if g == nil || g.store == nil {
		return
	}

	attempts, err := g.store.Increment(ctx, attemptKey(ip))
	if err != nil {
		return
	}
	if attempts == 1 {
		_ = g.store.Expire(ctx, attemptKey(ip), g.window)
	}

	var lockDuration time.Duration
	switch {
	case attempts >= 50:
		lockDuration = time.Hour
	case attempts >= 20:
		lockDuration = 10 * time.Minute
	default:
		return
	}

	if err := g.store.Set(ctx, lockKey(ip), "locked", lockDuration); err == nil {
		logging.Warn().
			Str("ip", ip).
			Int64("attempts", attempts).
			Dur("lockout", lockDuration).
			Msg("[SECURITY] Webhook source locked out after repeated signature failures")
	}
}
