package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/sahilchouksey/coursemarket/model"
)

// Job names as recorded in cron_job_logs
const (
	JobSweepStalePayments = "sweep_stale_payments"
	JobRetryDiscrepancies = "retry_enrollment_discrepancies"
	JobExpireAbandoned    = "expire_abandoned_payments"
	JobCleanupOldData     = "cleanup_old_data"
)

// SweepStalePayments settles pending payments whose webhook never arrived
func (m *CronManager) SweepStalePayments(ctx context.Context) (string, interface{}, error) {
	result, err := m.engine.SweepStalePending(ctx, m.cfg.StaleAfter, m.cfg.BatchSize)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sweep stale payments: %w", err)
	}
	return fmt.Sprintf("Checked %d payments, settled %d, errors %d", result.Checked, result.Settled, result.Errors), result, nil
}

// RetryEnrollmentDiscrepancies brings the roster in line with settled money
func (m *CronManager) RetryEnrollmentDiscrepancies(ctx context.Context) (string, interface{}, error) {
	result, err := m.engine.RetryDiscrepancies(ctx, m.cfg.BatchSize)
	if err != nil {
		return "", nil, err
	}
	if result.Resolved == 0 && result.Failed == 0 {
		return "No open discrepancies", result, nil
	}
	return fmt.Sprintf("Resolved %d discrepancies, %d still open", result.Resolved, result.Failed), result, nil
}

// ExpireAbandonedPayments cancels checkouts left pending for too long
func (m *CronManager) ExpireAbandonedPayments(ctx context.Context) (string, interface{}, error) {
	result, err := m.engine.ExpireAbandoned(ctx, m.cfg.AbandonAfter, m.cfg.BatchSize)
	if err != nil {
		return "", nil, fmt.Errorf("failed to expire abandoned payments: %w", err)
	}
	return fmt.Sprintf("Checked %d payments, closed %d, errors %d", result.Checked, result.Settled, result.Errors), result, nil
}

// CleanupOldData removes old job logs and resolved discrepancies
func (m *CronManager) CleanupOldData(ctx context.Context) (string, interface{}, error) {
	cutoff := time.Now().UTC().Add(-m.cfg.LogRetention)
	cleaned := map[string]int64{}

	result := m.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&model.CronJobLog{})
	if result.Error != nil {
		return "", nil, fmt.Errorf("failed to clean cron logs: %w", result.Error)
	}
	cleaned["cron_job_logs"] = result.RowsAffected

	result = m.db.WithContext(ctx).
		Where("status = ? AND resolved_at < ?", model.DiscrepancyResolved, cutoff).
		Delete(&model.EnrollmentDiscrepancy{})
	if result.Error != nil {
		return "", nil, fmt.Errorf("failed to clean resolved discrepancies: %w", result.Error)
	}
	cleaned["enrollment_discrepancies"] = result.RowsAffected

	return fmt.Sprintf("Cleaned %d rows", cleaned["cron_job_logs"]+cleaned["enrollment_discrepancies"]), cleaned, nil
}
