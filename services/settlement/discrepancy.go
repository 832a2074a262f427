package settlement

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/services/catalog"
	"github.com/sahilchouksey/coursemarket/utils/metrics"
)

// recordDiscrepancy notes a roster change that must still happen. An open
// row for the same payment and action is reused.
func (e *Engine) recordDiscrepancy(ctx context.Context, db *gorm.DB, payment *model.Payment, action string, cause error) error {
	var d model.EnrollmentDiscrepancy
	err := db.WithContext(ctx).
		Where(model.EnrollmentDiscrepancy{PaymentID: payment.ID, Action: action, Status: model.DiscrepancyOpen}).
		Attrs(model.EnrollmentDiscrepancy{CourseID: payment.CourseID, UserID: payment.UserID}).
		FirstOrCreate(&d).Error
	if err != nil {
		return fmt.Errorf("failed to record enrollment discrepancy: %w", err)
	}

	if err := db.WithContext(ctx).Model(&d).Update("last_error", cause.Error()).Error; err != nil {
		return fmt.Errorf("failed to update enrollment discrepancy: %w", err)
	}

	metrics.EnrollmentDiscrepancies.WithLabelValues(action).Inc()
	return nil
}

// RetryResult counts what a discrepancy retry pass did
type RetryResult struct {
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
}

// RetryDiscrepancies re-applies open roster changes. A row is resolved once
// the roster matches the payment's money state.
func (e *Engine) RetryDiscrepancies(ctx context.Context, limit int) (RetryResult, error) {
	var result RetryResult

	var open []model.EnrollmentDiscrepancy
	err := e.db.WithContext(ctx).
		Where("status = ?", model.DiscrepancyOpen).
		Order("id ASC").
		Limit(limit).
		Find(&open).Error
	if err != nil {
		return result, fmt.Errorf("failed to load discrepancies: %w", err)
	}

	for i := range open {
		d := &open[i]
		log := e.log.With().Uint("discrepancy_id", d.ID).Uint("payment_id", d.PaymentID).Str("action", d.Action).Logger()

		if err := e.retryDiscrepancy(ctx, d); err != nil {
			result.Failed++
			log.Warn().Err(err).Msg("Discrepancy retry failed")
			if uerr := e.db.WithContext(ctx).Model(d).Updates(map[string]interface{}{
				"attempts":   gorm.Expr("attempts + 1"),
				"last_error": err.Error(),
			}).Error; uerr != nil {
				log.Error().Err(uerr).Msg("Failed to record discrepancy attempt")
			}
			continue
		}

		err := e.db.WithContext(ctx).Model(d).Updates(map[string]interface{}{
			"attempts":    gorm.Expr("attempts + 1"),
			"status":      model.DiscrepancyResolved,
			"resolved_at": e.now(),
		}).Error
		if err != nil {
			// The roster is fixed but the row stays open; the next pass resolves it
			result.Failed++
			log.Error().Err(err).Msg("Failed to mark discrepancy resolved")
			continue
		}

		result.Resolved++
		log.Info().Msg("Discrepancy resolved")
	}

	return result, nil
}

func (e *Engine) retryDiscrepancy(ctx context.Context, d *model.EnrollmentDiscrepancy) error {
	payment, err := e.ledger(e.db).FindByID(ctx, d.PaymentID)
	if err != nil {
		return err
	}
	store := e.catalog(e.db)

	switch d.Action {
	case model.DiscrepancyGrant:
		// A later refund or unenroll makes the grant moot
		if payment.Status != model.PaymentSucceeded || payment.UnenrolledAt != nil {
			return nil
		}
		_, err := store.EnrollStudent(ctx, d.CourseID, d.UserID, &payment.ID)
		if errors.Is(err, catalog.ErrAlreadyEnrolled) {
			return nil
		}
		return err
	case model.DiscrepancyRevoke:
		if payment.Status != model.PaymentRefunded {
			return nil
		}
		err := store.RemoveEnrollment(ctx, d.CourseID, d.UserID)
		if errors.Is(err, catalog.ErrNotEnrolled) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown discrepancy action %q", d.Action)
	}
}
