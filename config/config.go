package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// This function will Load the ENVIRONMENT VARIABLES from .env if GO_ENV variable is not set
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		err := godotenv.Load()
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	return nil
}

// Payment modes select which set of gateway credentials is used
const (
	PaymentModeSandbox = "sandbox"
	PaymentModeLive    = "live"
)

type EnvironmentVariable struct {
	// All variables
	GO_ENV       string
	DB_USER_NAME string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSL_MODE  string
	PORT         int
	// JWT Configuration
	JWT_SECRET string
	JWT_ISSUER string
	// Redis Configuration
	REDIS_URL string
	// Logging
	LOG_LEVEL  string
	LOG_FORMAT string
	// Background jobs
	CRON_ENABLED bool
	// HTTP
	ALLOWED_ORIGINS string
}

// PaymentConfig holds everything the gateway adapter and settlement engine need.
// Sandbox and live credentials are resolved here once; nothing downstream branches on mode.
type PaymentConfig struct {
	Mode           string
	SecretKey      string
	WebhookSecret  string
	Currency       string
	CommissionRate decimal.Decimal
	GatewayTimeout time.Duration
	// Pending payments older than this are pulled from the gateway by the sweep job
	StaleAfter time.Duration
	// Consecutive transient failures that open the gateway circuit breaker
	BreakerFailures uint32
	// How long the breaker stays open before letting a probe through
	BreakerOpenTimeout time.Duration
	// Upper bound on the purchase and refund locks
	LockTTL time.Duration
	// How long processed webhook event ids are remembered
	SeenEventTTL time.Duration
}

func Get() (*EnvironmentVariable, error) {

	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		port = 8080
	}

	// Database defaults
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}

	dbPort := os.Getenv("DB_PORT")
	if dbPort == "" {
		dbPort = "5432"
	}

	jwtIssuer := os.Getenv("JWT_ISSUER")
	if jwtIssuer == "" {
		jwtIssuer = "coursemarket-api"
	}

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000,http://localhost:4200"
	}

	envVariables := &EnvironmentVariable{
		GO_ENV:       os.Getenv("GO_ENV"),
		DB_USER_NAME: os.Getenv("DB_USER_NAME"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_HOST:      dbHost,
		DB_PORT:      dbPort,
		DB_SSL_MODE:  os.Getenv("DB_SSL_MODE"),
		PORT:         port,
		// JWT
		JWT_SECRET: os.Getenv("JWT_SECRET"),
		JWT_ISSUER: jwtIssuer,
		// Redis
		REDIS_URL: os.Getenv("REDIS_URL"),
		// Logging
		LOG_LEVEL:  os.Getenv("LOG_LEVEL"),
		LOG_FORMAT: os.Getenv("LOG_FORMAT"),
		// Default to enabled
		CRON_ENABLED:    os.Getenv("CRON_ENABLED") != "false",
		ALLOWED_ORIGINS: allowedOrigins,
	}

	return envVariables, nil
}

// GetPayment reads and validates the payment settings.
//
//	STRIPE_MODE                 sandbox (default) | live
//	STRIPE_TEST_SECRET_KEY      used in sandbox mode
//	STRIPE_TEST_WEBHOOK_SECRET  used in sandbox mode
//	STRIPE_SECRET_KEY           used in live mode
//	STRIPE_WEBHOOK_SECRET       used in live mode
//	PAYMENT_CURRENCY            ISO code, default usd
//	PLATFORM_COMMISSION_RATE    fraction in (0,1), default 0.20
//	GATEWAY_TIMEOUT             Go duration, default 15s
//	PAYMENT_STALE_AFTER         Go duration, default 30m
//	GATEWAY_BREAKER_FAILURES    consecutive failures before the breaker opens, default 5
//	GATEWAY_BREAKER_OPEN_TIMEOUT Go duration, default 30s
//	PAYMENT_LOCK_TTL            Go duration, default 30s
//	WEBHOOK_SEEN_EVENT_TTL      Go duration, default 72h
func GetPayment() (*PaymentConfig, error) {
	mode := strings.ToLower(os.Getenv("STRIPE_MODE"))
	if mode == "" {
		mode = PaymentModeSandbox
	}

	cfg := &PaymentConfig{Mode: mode}

	switch mode {
	case PaymentModeSandbox:
		cfg.SecretKey = os.Getenv("STRIPE_TEST_SECRET_KEY")
		cfg.WebhookSecret = os.Getenv("STRIPE_TEST_WEBHOOK_SECRET")
	case PaymentModeLive:
		cfg.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
		cfg.WebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	default:
		return nil, fmt.Errorf("STRIPE_MODE must be %q or %q, got %q", PaymentModeSandbox, PaymentModeLive, mode)
	}

	cfg.Currency = strings.ToLower(os.Getenv("PAYMENT_CURRENCY"))
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}

	rate, err := ParseCommissionRate(os.Getenv("PLATFORM_COMMISSION_RATE"))
	if err != nil {
		return nil, err
	}
	cfg.CommissionRate = rate

	cfg.GatewayTimeout, err = durationOr(os.Getenv("GATEWAY_TIMEOUT"), 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid GATEWAY_TIMEOUT: %w", err)
	}

	cfg.StaleAfter, err = durationOr(os.Getenv("PAYMENT_STALE_AFTER"), 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid PAYMENT_STALE_AFTER: %w", err)
	}

	cfg.BreakerFailures = 5
	if raw := os.Getenv("GATEWAY_BREAKER_FAILURES"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("invalid GATEWAY_BREAKER_FAILURES %q", raw)
		}
		cfg.BreakerFailures = uint32(n)
	}

	cfg.BreakerOpenTimeout, err = durationOr(os.Getenv("GATEWAY_BREAKER_OPEN_TIMEOUT"), 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid GATEWAY_BREAKER_OPEN_TIMEOUT: %w", err)
	}

	cfg.LockTTL, err = durationOr(os.Getenv("PAYMENT_LOCK_TTL"), DefaultLockTTL)
	if err != nil || cfg.LockTTL <= 0 {
		return nil, fmt.Errorf("invalid PAYMENT_LOCK_TTL %q", os.Getenv("PAYMENT_LOCK_TTL"))
	}

	cfg.SeenEventTTL, err = durationOr(os.Getenv("WEBHOOK_SEEN_EVENT_TTL"), DefaultSeenEventTTL)
	if err != nil || cfg.SeenEventTTL <= 0 {
		return nil, fmt.Errorf("invalid WEBHOOK_SEEN_EVENT_TTL %q", os.Getenv("WEBHOOK_SEEN_EVENT_TTL"))
	}

	return cfg, nil
}

// Defaults for the settlement lock and webhook dedupe windows
const (
	DefaultLockTTL      = 30 * time.Second
	DefaultSeenEventTTL = 72 * time.Hour
)

// DefaultCommissionRate is the platform's share when PLATFORM_COMMISSION_RATE is unset
var DefaultCommissionRate = decimal.RequireFromString("0.20")

// ParseCommissionRate parses a commission fraction. Empty input yields the default.
func ParseCommissionRate(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return DefaultCommissionRate, nil
	}

	rate, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid PLATFORM_COMMISSION_RATE %q: %w", raw, err)
	}

	if !rate.IsPositive() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("PLATFORM_COMMISSION_RATE must be between 0 and 1 (exclusive), got %s", rate)
	}

	return rate, nil
}

func durationOr(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.ParseDuration(raw)
}
