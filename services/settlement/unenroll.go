package settlement

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/sahilchouksey/coursemarket/services/catalog"
	"github.com/sahilchouksey/coursemarket/utils/apperr"
)

// Unenroll removes the user from the course roster. The payment, if any, is
// kept; it is stamped so that a redelivered success event does not put the
// student back on the roster.
func (e *Engine) Unenroll(ctx context.Context, userID, courseID uint) error {
	if _, err := e.catalog(e.db).FindByID(ctx, courseID); err != nil {
		return courseError(err)
	}

	var stamped int64
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.catalog(tx).RemoveEnrollment(ctx, courseID, userID); err != nil {
			return err
		}
		n, err := e.ledger(tx).MarkUnenrolled(ctx, userID, courseID, e.now())
		stamped = n
		return err
	})
	if errors.Is(err, catalog.ErrNotEnrolled) {
		return apperr.NewValidation("You are not enrolled in this course")
	}
	if err != nil {
		return internal("Failed to unenroll from course", err)
	}

	e.log.Info().
		Uint("user_id", userID).
		Uint("course_id", courseID).
		Bool("paid", stamped > 0).
		Msg("Unenrolled from course")
	return nil
}
