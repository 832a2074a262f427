package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sahilchouksey/coursemarket/api"
	"github.com/sahilchouksey/coursemarket/config"
	"github.com/sahilchouksey/coursemarket/database"
	"github.com/sahilchouksey/coursemarket/router"
	"github.com/sahilchouksey/coursemarket/services/cron"
	"github.com/sahilchouksey/coursemarket/services/gateway"
	"github.com/sahilchouksey/coursemarket/services/settlement"
	"github.com/sahilchouksey/coursemarket/utils/auth"
	"github.com/sahilchouksey/coursemarket/utils/cache"
	"github.com/sahilchouksey/coursemarket/utils/logging"
	"github.com/sahilchouksey/coursemarket/utils/middleware"
)

func SetupAndRunServer() error {

	// Load ENV
	if err := config.LoadENV(); err != nil {
		return err
	}

	getEnv, err := config.Get()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{Level: getEnv.LOG_LEVEL, Format: getEnv.LOG_FORMAT})

	if getEnv.JWT_SECRET == "" {
		return fmt.Errorf("JWT_SECRET environment variable is not set")
	}

	paymentCfg, err := config.GetPayment()
	if err != nil {
		return err
	}

	// Initialize GORM database connection
	store, err := database.StartGORM()
	if err != nil {
		logging.Error().Err(err).Msg("Check whether Postgres is running and DB_* variables are set")
		return err
	}
	defer store.Close()

	if err := store.Init(); err != nil {
		logging.Error().Err(err).Msg("Failed to initialize database tables")
		return err
	}
	db := store.GetDB()

	paymentGateway, err := NewPaymentGateway(paymentCfg)
	if err != nil {
		return err
	}

	// Redis is optional: without it locks degrade to the database constraints
	var engineOpts []settlement.Option
	var guard *middleware.SignatureGuard
	if getEnv.REDIS_URL != "" {
		redisCache, err := cache.NewRedisCache(getEnv.REDIS_URL)
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to connect to Redis, running without distributed locks")
		} else {
			defer redisCache.Close()
			engineOpts = append(engineOpts, settlement.WithLocker(redisCache), settlement.WithMarker(redisCache))
			guard = middleware.NewSignatureGuard(redisCache)
		}
	}

	engine := settlement.NewEngine(db, paymentGateway, settlement.ConfigFrom(paymentCfg), engineOpts...)

	logging.Info().
		Str("mode", paymentCfg.Mode).
		Str("currency", paymentCfg.Currency).
		Str("commission_rate", paymentCfg.CommissionRate.String()).
		Msg("Payment settlement configured")

	// Initialize Cron Manager (only if enabled via environment variable)
	if getEnv.CRON_ENABLED {
		cronManager := cron.NewCronManager(db, engine, cron.Config{StaleAfter: paymentCfg.StaleAfter})
		if err := cronManager.Start(); err != nil {
			// Don't fail the app, the status endpoint still reconciles on demand
			logging.Warn().Err(err).Msg("Failed to start cron jobs")
		} else {
			defer cronManager.Stop()
		}
	}

	// Init API
	server := api.NewAPIServer(fmt.Sprintf(":%d", getEnv.PORT))
	app := server.GetEngine()

	middleware.SetupSecurity(app, middleware.SecurityConfig{
		AllowedOrigins:        getEnv.ALLOWED_ORIGINS,
		RateLimitRequests:     100,
		RateLimitWindow:       time.Minute,
		RateLimitExemptPrefix: router.WebhookPath,
	})

	router.SetupRoutes(app, router.Dependencies{
		Store: store,
		JWTManager: auth.NewJWTManager(auth.JWTConfig{
			Secret: getEnv.JWT_SECRET,
			Expiry: 24 * time.Hour,
			Issuer: getEnv.JWT_ISSUER,
		}),
		Engine: engine,
		Guard:  guard,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx)
}

// NewPaymentGateway builds the Stripe adapter behind a circuit breaker
func NewPaymentGateway(cfg *config.PaymentConfig) (gateway.Gateway, error) {
	stripeGateway, err := gateway.NewStripeGateway(gateway.StripeConfig{
		Mode:          cfg.Mode,
		SecretKey:     cfg.SecretKey,
		WebhookSecret: cfg.WebhookSecret,
		Timeout:       cfg.GatewayTimeout,
	})
	if err != nil {
		return nil, err
	}

	breakerSettings := gateway.DefaultBreakerSettings()
	breakerSettings.ConsecutiveFailures = cfg.BreakerFailures
	breakerSettings.OpenTimeout = cfg.BreakerOpenTimeout
	return gateway.NewBreakerGateway(stripeGateway, breakerSettings), nil
}
