package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sahilchouksey/coursemarket/config"
	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/utils/logging"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openPaymentPairIndex keeps at most one pending or succeeded payment per
// (user, course). Both Postgres and SQLite accept partial indexes.
const openPaymentPairIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_open_pair
ON payments (user_id, course_id)
WHERE status IN ('pending', 'succeeded')`

type GORMStore struct {
	db *gorm.DB
}

// StartGORM initializes a GORM connection to PostgreSQL
func StartGORM() (*GORMStore, error) {
	getEnv, err := config.Get()
	if err != nil {
		return nil, err
	}

	// Build DSN (Data Source Name)
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		getEnv.DB_HOST,
		getEnv.DB_USER_NAME,
		getEnv.DB_PASSWORD,
		getEnv.DB_NAME,
		getEnv.DB_PORT,
		getEnv.DB_SSL_MODE,
	)

	// Configure GORM logger
	gormLogger := logger.Default.LogMode(logger.Info)
	if getEnv.GO_ENV == "production" {
		gormLogger = logger.Default.LogMode(logger.Error)
	}

	db, err := gorm.Open(postgres.Open(dsn), Config(gormLogger))
	if err != nil {
		logging.Error().Err(err).Msg("Unable to connect to PostgreSQL with GORM")
		return nil, err
	}

	// Get underlying *sql.DB to configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	logging.Info().Str("host", getEnv.DB_HOST).Msg("Connected to PostgreSQL with GORM")

	return &GORMStore{db: db}, nil
}

// Config is the gorm configuration shared by the server and the test databases.
// TranslateError turns unique violations into gorm.ErrDuplicatedKey.
// Timestamps are UTC so time comparisons agree across drivers.
func Config(l logger.Interface) *gorm.Config {
	return &gorm.Config{
		Logger:                 l,
		SkipDefaultTransaction: false,
		TranslateError:         true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates or updates every table plus the constraints AutoMigrate cannot express
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.User{},
		&model.Course{},
		&model.Lesson{},
		&model.Enrollment{},
		&model.Payment{},
		&model.EnrollmentDiscrepancy{},

		// Audit & logging models
		&model.CronJobLog{},
		&model.AdminAuditLog{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if err := db.Exec(openPaymentPairIndex).Error; err != nil {
		return fmt.Errorf("create open payment index: %w", err)
	}

	return nil
}

// Init runs the migrations
func (s *GORMStore) Init() error {
	logging.Info().Msg("Running GORM AutoMigrate for all models...")

	if err := Migrate(s.db); err != nil {
		logging.Error().Err(err).Msg("Error running AutoMigrate")
		return err
	}

	logging.Info().Msg("GORM AutoMigrate completed successfully")
	return nil
}

// Close closes the database connection
func (s *GORMStore) Close() error {
	logging.Info().Msg("Closing GORM PostgreSQL connection...")
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB returns the GORM DB instance for use in services/handlers
func (s *GORMStore) GetDB() *gorm.DB {
	return s.db
}

// HealthCheck verifies the database connection is alive
func (s *GORMStore) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// NewGORMStore wraps an already opened connection
func NewGORMStore(db *gorm.DB) *GORMStore {
	return &GORMStore{db: db}
}
