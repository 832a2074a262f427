package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/services/settlement"
	"github.com/sahilchouksey/coursemarket/utils/logging"
)

// Config controls the settlement maintenance jobs
type Config struct {
	// Pending payments older than this are pulled from the processor
	StaleAfter time.Duration
	// Pending payments older than this are canceled
	AbandonAfter time.Duration
	// Rows handled per run
	BatchSize int
	// Cron job logs older than this are deleted
	LogRetention time.Duration
	// Per-run deadline
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}
	if c.AbandonAfter <= 0 {
		c.AbandonAfter = 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.LogRetention <= 0 {
		c.LogRetention = 90 * 24 * time.Hour
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 5 * time.Minute
	}
	return c
}

// CronManager manages all scheduled cron jobs
type CronManager struct {
	cron   *cron.Cron
	db     *gorm.DB
	engine *settlement.Engine
	cfg    Config
	log    zerolog.Logger
}

// NewCronManager creates a new cron manager
func NewCronManager(db *gorm.DB, engine *settlement.Engine, cfg Config) *CronManager {
	log := logging.With("cron")
	adapter := cronLogger{log: log}

	// Seconds precision; a run still in progress skips the next tick
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)

	return &CronManager{
		cron:   c,
		db:     db,
		engine: engine,
		cfg:    cfg.withDefaults(),
		log:    log,
	}
}

// Start starts all cron jobs
func (m *CronManager) Start() error {
	m.log.Info().Msg("Starting cron jobs")

	if err := m.registerJobs(); err != nil {
		return err
	}

	m.cron.Start()

	m.log.Info().Int("jobs", len(m.cron.Entries())).Msg("Cron jobs started")
	return nil
}

// Stop stops all cron jobs and waits for running ones to finish
func (m *CronManager) Stop() {
	m.log.Info().Msg("Stopping cron jobs")
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.log.Info().Msg("Cron jobs stopped")
}

type job struct {
	spec string
	name string
	fn   func(context.Context) (string, interface{}, error)
}

func (m *CronManager) jobs() []job {
	return []job{
		// Every 5 minutes: pull missed webhooks
		{"0 */5 * * * *", JobSweepStalePayments, m.SweepStalePayments},
		// Every 10 minutes: re-apply roster changes that failed after settlement
		{"0 */10 * * * *", JobRetryDiscrepancies, m.RetryEnrollmentDiscrepancies},
		// Hourly: cancel checkouts nobody finished
		{"0 15 * * * *", JobExpireAbandoned, m.ExpireAbandonedPayments},
		// Daily at 2 AM: trim job history
		{"0 0 2 * * *", JobCleanupOldData, m.CleanupOldData},
	}
}

// registerJobs registers all cron jobs with their schedules
func (m *CronManager) registerJobs() error {
	for _, j := range m.jobs() {
		j := j
		if _, err := m.cron.AddFunc(j.spec, func() { m.Run(j.name, j.fn) }); err != nil {
			return err
		}
	}

	m.log.Info().Msg("All cron jobs registered successfully")
	return nil
}

// JobNames lists the registered jobs in schedule order
func (m *CronManager) JobNames() []string {
	var names []string
	for _, j := range m.jobs() {
		names = append(names, j.name)
	}
	return names
}

// RunNow executes the named job once, outside its schedule
func (m *CronManager) RunNow(jobName string) error {
	for _, j := range m.jobs() {
		if j.name == jobName {
			m.Run(j.name, j.fn)
			return nil
		}
	}
	return fmt.Errorf("unknown job %q", jobName)
}

// Run executes one job and records it in cron_job_logs
func (m *CronManager) Run(jobName string, fn func(context.Context) (string, interface{}, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.JobTimeout)
	defer cancel()

	started := time.Now()
	entry := model.CronJobLog{
		JobName:   jobName,
		Status:    model.CronStatusStarted,
		StartedAt: started,
		Metadata:  datatypes.JSON("{}"),
	}
	if err := m.db.WithContext(ctx).Create(&entry).Error; err != nil {
		m.log.Warn().Err(err).Str("job", jobName).Msg("Failed to record job start")
	}
	m.log.Debug().Str("job", jobName).Msg("Starting job")

	message, metadata, err := fn(ctx)

	completed := time.Now()
	updates := map[string]interface{}{
		"completed_at": completed,
		"duration":     int(completed.Sub(started).Milliseconds()),
		"message":      message,
	}
	if raw, merr := json.Marshal(metadata); merr == nil && metadata != nil {
		updates["metadata"] = datatypes.JSON(raw)
	}

	if err != nil {
		updates["status"] = model.CronStatusFailed
		updates["error_msg"] = err.Error()
		m.log.Error().Err(err).Str("job", jobName).Msg("Job failed")
	} else {
		updates["status"] = model.CronStatusCompleted
		m.log.Info().Str("job", jobName).Str("result", message).Dur("took", completed.Sub(started)).Msg("Job completed")
	}

	if entry.ID != 0 {
		m.db.Model(&model.CronJobLog{}).Where("id = ?", entry.ID).Updates(updates)
	}
}

// cronLogger routes robfig/cron's own logging through zerolog
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
