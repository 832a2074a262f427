package settlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/datatypes"

	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/services/catalog"
	"github.com/sahilchouksey/coursemarket/services/gateway"
	"github.com/sahilchouksey/coursemarket/services/ledger"
	"github.com/sahilchouksey/coursemarket/utils/apperr"
	"github.com/sahilchouksey/coursemarket/utils/metrics"
)

// PurchaseResult is returned to the buyer. The commission split is never included.
type PurchaseResult struct {
	ClientAuthorizationToken string `json:"client_authorization_token"`
	PaymentID                uint   `json:"payment_id"`
	// Resumed is set when an existing open attempt was handed back
	Resumed bool `json:"resumed"`
}

// invalidPrice rejects a course whose stored price is negative
func (e *Engine) invalidPrice(course *model.Course) error {
	e.log.Warn().Uint("course_id", course.ID).Str("price", course.Price.String()).Msg("Course has a negative price")
	return apperr.NewValidation(fmt.Sprintf("Course %d has an invalid price and cannot be enrolled in", course.ID))
}

// checkEnrollable runs the roster guards shared by purchases and direct enrollment
func (e *Engine) checkEnrollable(ctx context.Context, course *model.Course, userID uint) error {
	enrolled, err := e.catalog(e.db).IsEnrolled(ctx, course.ID, userID)
	if err != nil {
		return internal("Failed to check enrollment", err)
	}
	if enrolled {
		return apperr.NewValidation("You are already enrolled in this course")
	}
	if course.InstructorID == userID {
		return apperr.NewValidation("Instructors cannot enroll in their own course")
	}
	return nil
}

// InitiatePurchase validates the purchase, creates a remote intent and records
// a pending payment. An open attempt for the same pair is resumed instead of
// creating a second intent.
func (e *Engine) InitiatePurchase(ctx context.Context, userID, courseID uint) (*PurchaseResult, error) {
	result, err := e.initiatePurchase(ctx, userID, courseID)
	switch {
	case err == nil && result.Resumed:
		metrics.PurchasesInitiated.WithLabelValues("resumed").Inc()
	case err == nil:
		metrics.PurchasesInitiated.WithLabelValues("created").Inc()
	case apperr.Is(err, apperr.Conflict):
		metrics.PurchasesInitiated.WithLabelValues("conflict").Inc()
	case apperr.Retryable(err) || apperr.Is(err, apperr.GatewayRejected):
		metrics.PurchasesInitiated.WithLabelValues("gateway_error").Inc()
	default:
		metrics.PurchasesInitiated.WithLabelValues("rejected").Inc()
	}
	return result, err
}

func (e *Engine) initiatePurchase(ctx context.Context, userID, courseID uint) (*PurchaseResult, error) {
	course, err := e.catalog(e.db).FindPublishedByID(ctx, courseID)
	if err != nil {
		return nil, courseError(err)
	}
	if !course.HasValidPrice() {
		return nil, e.invalidPrice(course)
	}
	if course.IsFree() {
		return nil, apperr.NewValidation("This course is free, enroll directly instead")
	}
	if err := e.checkEnrollable(ctx, course, userID); err != nil {
		return nil, err
	}

	payments := e.ledger(e.db)
	paid, err := payments.HasSucceeded(ctx, userID, courseID)
	if err != nil {
		return nil, internal("Failed to check existing payments", err)
	}
	if paid {
		return nil, apperr.NewValidation("You have already paid for this course")
	}

	release, err := e.lock(ctx, lockKey("purchase", userID, courseID))
	if err != nil {
		return nil, err
	}
	defer release()

	open, err := payments.FindOpenForPair(ctx, userID, courseID)
	switch {
	case err == nil:
		result, err := e.resume(ctx, open)
		if err != nil || result != nil {
			return result, err
		}
		// The old attempt was closed on the processor side; start a new one
	case !errors.Is(err, ledger.ErrPaymentNotFound):
		return nil, internal("Failed to check open payments", err)
	}

	return e.createAttempt(ctx, course, userID)
}

func (e *Engine) createAttempt(ctx context.Context, course *model.Course, userID uint) (*PurchaseResult, error) {
	payments := e.ledger(e.db)

	attempt, err := payments.CountForPair(ctx, userID, course.ID)
	if err != nil {
		return nil, internal("Failed to prepare payment", err)
	}

	split := ComputeSplit(course.Price, e.cfg.CommissionRate)
	minor, err := gateway.ToMinorUnits(split.Amount)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, "Course price is invalid", err)
	}

	// Same pair, attempt and amount map to the same remote intent, so a
	// retry after a failed insert reuses the intent instead of orphaning it.
	idempotencyKey := fmt.Sprintf("purchase-%d-%d-%d-%d", userID, course.ID, attempt+1, minor)

	intent, err := e.gateway.CreateIntent(ctx, gateway.CreateIntentRequest{
		Amount:      split.Amount,
		Currency:    e.cfg.Currency,
		Description: course.Title,
		Metadata: map[string]string{
			"course_id":    strconv.FormatUint(uint64(course.ID), 10),
			"user_id":      strconv.FormatUint(uint64(userID), 10),
			"course_title": course.Title,
		},
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		e.log.Error().Err(err).Uint("user_id", userID).Uint("course_id", course.ID).Msg("Failed to create payment intent")
		return nil, gatewayError(err)
	}

	payment := &model.Payment{
		UserID:                 userID,
		CourseID:               course.ID,
		Amount:                 split.Amount,
		PlatformCommission:     split.PlatformCommission,
		InstructorAmount:       split.InstructorAmount,
		PlatformCommissionRate: split.Rate,
		Currency:               e.cfg.Currency,
		PaymentIntentID:        intent.ID,
		Status:                 model.PaymentPending,
		Mode:                   e.cfg.Mode,
		Metadata:               datatypes.JSONMap{"course_title": course.Title},
	}

	err = payments.Create(ctx, payment)
	if errors.Is(err, ledger.ErrDuplicatePayment) {
		// Either a concurrent request recorded this same intent, or it won the
		// race with a different one and ours is now an orphan.
		if existing, ferr := payments.FindByIntentID(ctx, intent.ID); ferr == nil {
			return &PurchaseResult{ClientAuthorizationToken: intent.ClientSecret, PaymentID: existing.ID, Resumed: true}, nil
		}
		e.cancelOrphan(ctx, intent.ID)
		return nil, apperr.NewConflict("A payment for this course is already in progress")
	}
	if err != nil {
		return nil, internal("Failed to record payment", err)
	}

	e.log.Info().
		Uint("payment_id", payment.ID).
		Str("intent_id", intent.ID).
		Uint("user_id", userID).
		Uint("course_id", course.ID).
		Str("amount", split.Amount.StringFixed(2)).
		Msg("Payment initiated")

	return &PurchaseResult{ClientAuthorizationToken: intent.ClientSecret, PaymentID: payment.ID}, nil
}

// resume hands back a still-payable open attempt. When the processor has
// already settled it, the local record is brought up to date first; a nil
// result with nil error means the pair is free for a new attempt.
func (e *Engine) resume(ctx context.Context, payment *model.Payment) (*PurchaseResult, error) {
	intent, err := e.gateway.RetrieveIntent(ctx, payment.PaymentIntentID)
	if err != nil {
		return nil, gatewayError(err)
	}

	if intent.Status == gateway.IntentPending {
		return &PurchaseResult{ClientAuthorizationToken: intent.ClientSecret, PaymentID: payment.ID, Resumed: true}, nil
	}

	if _, err := e.applyIntentStatus(ctx, payment, intent); err != nil {
		return nil, err
	}
	if intent.Status == gateway.IntentSucceeded {
		return nil, apperr.NewValidation("You have already paid for this course")
	}
	return nil, nil
}

func (e *Engine) cancelOrphan(ctx context.Context, intentID string) {
	if err := e.gateway.CancelIntent(ctx, intentID); err != nil {
		e.log.Warn().Err(err).Str("intent_id", intentID).Msg("Failed to cancel orphaned payment intent")
	}
}

// EnrollDirect enrolls a user in a free course without touching the payment path
func (e *Engine) EnrollDirect(ctx context.Context, userID, courseID uint) (*model.Enrollment, error) {
	course, err := e.catalog(e.db).FindPublishedByID(ctx, courseID)
	if err != nil {
		return nil, courseError(err)
	}
	if !course.HasValidPrice() {
		return nil, e.invalidPrice(course)
	}
	if !course.IsFree() {
		return nil, apperr.NewValidation("This course requires payment")
	}
	if err := e.checkEnrollable(ctx, course, userID); err != nil {
		return nil, err
	}

	enrollment, err := e.catalog(e.db).EnrollStudent(ctx, courseID, userID, nil)
	if errors.Is(err, catalog.ErrAlreadyEnrolled) {
		return nil, apperr.NewValidation("You are already enrolled in this course")
	}
	if err != nil {
		return nil, internal("Failed to enroll in course", err)
	}

	e.log.Info().Uint("user_id", userID).Uint("course_id", courseID).Msg("Enrolled in free course")
	return enrollment, nil
}
