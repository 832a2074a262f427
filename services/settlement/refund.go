package settlement

import (
	"context"
	"errors"
	"strconv"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/services/catalog"
	"github.com/sahilchouksey/coursemarket/services/gateway"
	"github.com/sahilchouksey/coursemarket/services/ledger"
	"github.com/sahilchouksey/coursemarket/utils/apperr"
	"github.com/sahilchouksey/coursemarket/utils/metrics"
)

// RefundRecord summarizes a completed refund
type RefundRecord struct {
	ID        string          `json:"id"`
	PaymentID uint            `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
}

// RefundCoordinator reverses settled payments and revokes the matching enrollment
type RefundCoordinator struct {
	engine *Engine
}

// NewRefundCoordinator creates a coordinator sharing the engine's stores and gateway
func NewRefundCoordinator(engine *Engine) *RefundCoordinator {
	return &RefundCoordinator{engine: engine}
}

// Refund issues a full refund. The processor is called first; nothing changes
// locally unless it confirms. After confirmation the payment is always marked
// refunded, even if removing the enrollment fails.
func (r *RefundCoordinator) Refund(ctx context.Context, paymentID uint, reason string, actorID uint) (*RefundRecord, error) {
	record, err := r.refund(ctx, paymentID, reason, actorID)
	switch {
	case err == nil:
		metrics.Refunds.WithLabelValues("refunded").Inc()
	case apperr.Retryable(err) || apperr.Is(err, apperr.GatewayRejected):
		metrics.Refunds.WithLabelValues("gateway_error").Inc()
	default:
		metrics.Refunds.WithLabelValues("rejected").Inc()
	}
	return record, err
}

func (r *RefundCoordinator) refund(ctx context.Context, paymentID uint, reason string, actorID uint) (*RefundRecord, error) {
	e := r.engine
	log := e.log.With().Uint("payment_id", paymentID).Uint("actor_id", actorID).Logger()

	release, err := e.lock(ctx, lockKey("refund", paymentID))
	if err != nil {
		return nil, err
	}
	defer release()

	payment, err := e.ledger(e.db).FindByID(ctx, paymentID)
	if errors.Is(err, ledger.ErrPaymentNotFound) {
		return nil, apperr.NewNotFound("Payment not found")
	}
	if err != nil {
		return nil, internal("Failed to load payment", err)
	}

	if payment.Status == model.PaymentRefunded || !payment.RefundedAmount.IsZero() {
		return nil, apperr.NewConflict("Payment has already been refunded")
	}
	if payment.Status != model.PaymentSucceeded {
		return nil, apperr.NewValidation("Only succeeded payments can be refunded")
	}

	refund, err := e.gateway.CreateRefund(ctx, gateway.RefundRequest{
		IntentID: payment.PaymentIntentID,
		Amount:   payment.Amount,
		Reason:   reason,
		// Retrying the same payment returns the same processor refund
		IdempotencyKey: "refund-" + strconv.FormatUint(uint64(payment.ID), 10),
		Metadata: map[string]string{
			"payment_id": strconv.FormatUint(uint64(payment.ID), 10),
			"actor_id":   strconv.FormatUint(uint64(actorID), 10),
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("Refund request failed, payment left unchanged")
		return nil, gatewayError(err)
	}
	if !refund.Confirmed() {
		log.Error().Str("refund_id", refund.ID).Str("refund_status", refund.Status).Msg("Refund not confirmed by processor")
		return nil, apperr.New(apperr.GatewayRejected, "Refund was not accepted by the payment provider")
	}

	if _, err := e.applyRefund(ctx, payment, reason); err != nil {
		// The processor has the money back; a retry reuses the same refund
		log.Error().Err(err).Str("refund_id", refund.ID).Msg("Refund confirmed but local update failed")
		return nil, err
	}

	log.Info().Str("refund_id", refund.ID).Str("amount", payment.Amount.StringFixed(2)).Msg("Payment refunded")
	return &RefundRecord{
		ID:        refund.ID,
		PaymentID: payment.ID,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Status:    refund.Status,
	}, nil
}

// applyRefund records a confirmed refund and removes the enrollment. Used by
// the coordinator and by refund notifications from the processor.
func (e *Engine) applyRefund(ctx context.Context, payment *model.Payment, reason string) (Outcome, error) {
	switch payment.Status {
	case model.PaymentRefunded:
		return OutcomeDuplicate, nil
	case model.PaymentSucceeded:
	default:
		e.log.Warn().Uint("payment_id", payment.ID).Str("status", string(payment.Status)).Msg("Refund reported for a payment that never settled")
		return OutcomeConflict, nil
	}

	fields := map[string]interface{}{
		"refunded_amount": payment.Amount,
		"refund_reason":   reason,
		"refunded_at":     e.now(),
	}

	var revokeErr error
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.ledger(tx).Transition(ctx, payment.ID, model.PaymentSucceeded, model.PaymentRefunded, fields); err != nil {
			return err
		}

		revokeErr = tx.Transaction(func(sp *gorm.DB) error {
			return e.catalog(sp).RemoveEnrollment(ctx, payment.CourseID, payment.UserID)
		})
		if revokeErr != nil && !errors.Is(revokeErr, catalog.ErrNotEnrolled) {
			return e.recordDiscrepancy(ctx, tx, payment, model.DiscrepancyRevoke, revokeErr)
		}
		return nil
	})

	if errors.Is(err, ledger.ErrStaleTransition) {
		current, ferr := e.ledger(e.db).FindByID(ctx, payment.ID)
		if ferr != nil {
			return "", internal("Failed to reload payment", ferr)
		}
		return e.applyRefund(ctx, current, reason)
	}
	if err != nil {
		return "", internal("Failed to record refund", err)
	}

	metrics.PaymentTransitions.WithLabelValues(string(model.PaymentSucceeded), string(model.PaymentRefunded)).Inc()
	if revokeErr != nil && !errors.Is(revokeErr, catalog.ErrNotEnrolled) {
		e.log.Error().Err(revokeErr).Uint("payment_id", payment.ID).Msg("Payment refunded but enrollment removal failed, discrepancy recorded")
	}
	return OutcomeApplied, nil
}
