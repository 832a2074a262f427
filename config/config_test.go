package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPaymentDefaults(t *testing.T) {
	for _, key := range []string{"STRIPE_MODE", "PAYMENT_CURRENCY", "PLATFORM_COMMISSION_RATE", "PAYMENT_LOCK_TTL", "WEBHOOK_SEEN_EVENT_TTL"} {
		t.Setenv(key, "")
	}

	cfg, err := GetPayment()
	require.NoError(t, err)
	assert.Equal(t, PaymentModeSandbox, cfg.Mode)
	assert.Equal(t, "usd", cfg.Currency)
	assert.True(t, cfg.CommissionRate.Equal(DefaultCommissionRate))
	assert.Equal(t, DefaultLockTTL, cfg.LockTTL)
	assert.Equal(t, DefaultSeenEventTTL, cfg.SeenEventTTL)
}

func TestGetPaymentReadsSettlementWindows(t *testing.T) {
	t.Setenv("STRIPE_MODE", "")
	t.Setenv("PAYMENT_LOCK_TTL", "45s")
	t.Setenv("WEBHOOK_SEEN_EVENT_TTL", "24h")

	cfg, err := GetPayment()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.LockTTL)
	assert.Equal(t, 24*time.Hour, cfg.SeenEventTTL)
}

func TestGetPaymentRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"STRIPE_MODE":              "prod",
		"PLATFORM_COMMISSION_RATE": "1.5",
		"PAYMENT_LOCK_TTL":         "-1s",
		"WEBHOOK_SEEN_EVENT_TTL":   "soon",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := GetPayment()
			assert.ErrorContains(t, err, key)
		})
	}
}
