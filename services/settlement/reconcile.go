package settlement

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/services/catalog"
	"github.com/sahilchouksey/coursemarket/services/gateway"
	"github.com/sahilchouksey/coursemarket/services/ledger"
	"github.com/sahilchouksey/coursemarket/utils/apperr"
	"github.com/sahilchouksey/coursemarket/utils/metrics"
)

// Outcome describes what a reconciliation did
type Outcome string

const (
	OutcomeApplied       Outcome = "applied"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeUnknownIntent Outcome = "unknown_intent"
	OutcomeIgnored       Outcome = "ignored"
	// OutcomeConflict means the event contradicts the local state; it is
	// acknowledged and logged for an operator.
	OutcomeConflict Outcome = "conflict"
)

func seenKey(eventID string) string {
	return "webhook:event:" + eventID
}

// Reconcile verifies and applies one webhook delivery. It is safe to call any
// number of times with the same event, including concurrently. Only signature
// failures and infrastructure errors are returned; everything else is
// acknowledged so the processor stops redelivering.
func (e *Engine) Reconcile(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	evt, err := e.gateway.ParseWebhook(payload, signature)
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			metrics.WebhookSignatureFailures.Inc()
			e.log.Warn().Err(err).Int("payload_bytes", len(payload)).Msg("[SECURITY] Webhook signature verification failed")
			return "", apperr.Wrap(apperr.Signature, "Invalid webhook signature", err)
		}
		if errors.Is(err, gateway.ErrMalformedEvent) {
			// Redelivery would carry the same bytes; acknowledge and leave it to an operator
			metrics.WebhookEvents.WithLabelValues("malformed", string(OutcomeIgnored)).Inc()
			e.log.Error().Err(err).Int("payload_bytes", len(payload)).Msg("[SECURITY] Signed webhook could not be decoded, event not applied")
			return OutcomeIgnored, nil
		}
		return "", internal("Failed to read webhook payload", err)
	}

	log := e.log.With().Str("event_id", evt.ID).Str("event_type", string(evt.Type)).Str("intent_id", evt.IntentID).Logger()

	outcome, err := e.reconcileEvent(ctx, evt)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(string(evt.Type), "error").Inc()
		log.Error().Err(err).Msg("Failed to apply webhook event")
		return "", err
	}

	metrics.WebhookEvents.WithLabelValues(metricEventType(evt), string(outcome)).Inc()
	log.Info().Str("outcome", string(outcome)).Msg("Webhook event reconciled")

	if evt.ID != "" && outcome != OutcomeIgnored {
		if err := e.marker.Mark(ctx, seenKey(evt.ID), e.cfg.SeenEventTTL); err != nil {
			log.Warn().Err(err).Msg("Failed to remember processed event")
		}
	}
	return outcome, nil
}

func metricEventType(evt *gateway.Event) string {
	if evt.Known() {
		return string(evt.Type)
	}
	return "other"
}

func (e *Engine) reconcileEvent(ctx context.Context, evt *gateway.Event) (Outcome, error) {
	if !evt.Known() {
		return OutcomeIgnored, nil
	}
	if evt.IntentID == "" {
		e.log.Warn().Str("event_id", evt.ID).Msg("Webhook event carries no payment intent")
		return OutcomeIgnored, nil
	}

	if evt.ID != "" {
		seen, err := e.marker.Seen(ctx, seenKey(evt.ID))
		if err != nil {
			e.log.Warn().Err(err).Msg("Processed-event cache unavailable, using database guard")
		} else if seen {
			return OutcomeDuplicate, nil
		}
	}

	payment, err := e.ledger(e.db).FindByIntentID(ctx, evt.IntentID)
	if errors.Is(err, ledger.ErrPaymentNotFound) {
		e.log.Warn().Str("intent_id", evt.IntentID).Str("event_id", evt.ID).Msg("Webhook for unknown payment intent, acknowledging")
		return OutcomeUnknownIntent, nil
	}
	if err != nil {
		return "", internal("Failed to load payment", err)
	}

	switch evt.Type {
	case gateway.EventPaymentSucceeded:
		return e.settleSucceeded(ctx, payment, evt.PaymentMethod)
	case gateway.EventPaymentFailed:
		return e.closePayment(ctx, payment, model.PaymentFailed, failureReason(evt.FailureReason))
	case gateway.EventPaymentCanceled:
		return e.closePayment(ctx, payment, model.PaymentCanceled, "")
	case gateway.EventChargeRefunded:
		if !evt.FullyRefunded {
			e.log.Warn().Uint("payment_id", payment.ID).Str("amount_refunded", evt.AmountRefunded.StringFixed(2)).Msg("Partial refund from processor ignored")
			return OutcomeIgnored, nil
		}
		return e.applyRefund(ctx, payment, "Refunded from payment provider")
	}
	return OutcomeIgnored, nil
}

func failureReason(reason string) string {
	if reason == "" {
		return "Payment failed"
	}
	return reason
}

// applyIntentStatus brings a payment in line with a retrieved intent
func (e *Engine) applyIntentStatus(ctx context.Context, payment *model.Payment, intent *gateway.Intent) (Outcome, error) {
	switch intent.Status {
	case gateway.IntentSucceeded:
		return e.settleSucceeded(ctx, payment, intent.PaymentMethod)
	case gateway.IntentFailed:
		return e.closePayment(ctx, payment, model.PaymentFailed, failureReason(intent.FailureReason))
	case gateway.IntentCanceled:
		return e.closePayment(ctx, payment, model.PaymentCanceled, "")
	default:
		return OutcomeIgnored, nil
	}
}

// settleSucceeded marks the payment succeeded and grants enrollment in one
// transaction. The enrollment runs under a savepoint: if it fails, the status
// change still commits together with a grant discrepancy.
func (e *Engine) settleSucceeded(ctx context.Context, payment *model.Payment, paymentMethod string) (Outcome, error) {
	switch payment.Status {
	case model.PaymentSucceeded:
		return e.ensureEnrolled(ctx, payment)
	case model.PaymentPending:
	default:
		e.log.Error().
			Uint("payment_id", payment.ID).
			Str("status", string(payment.Status)).
			Msg("Processor reports success for a closed payment, operator attention required")
		return OutcomeConflict, nil
	}

	fields := map[string]interface{}{"succeeded_at": e.now()}
	if paymentMethod != "" {
		fields["payment_method"] = paymentMethod
	}

	var enrollErr error
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := e.ledger(tx).Transition(ctx, payment.ID, model.PaymentPending, model.PaymentSucceeded, fields); err != nil {
			return err
		}

		enrollErr = tx.Transaction(func(sp *gorm.DB) error {
			_, err := e.catalog(sp).EnrollStudent(ctx, payment.CourseID, payment.UserID, &payment.ID)
			return err
		})
		if enrollErr != nil && !errors.Is(enrollErr, catalog.ErrAlreadyEnrolled) {
			return e.recordDiscrepancy(ctx, tx, payment, model.DiscrepancyGrant, enrollErr)
		}
		return nil
	})

	if errors.Is(err, ledger.ErrStaleTransition) {
		return e.reloadAndSettle(ctx, payment.ID)
	}
	if err != nil {
		return "", internal("Failed to settle payment", err)
	}

	metrics.PaymentTransitions.WithLabelValues(string(model.PaymentPending), string(model.PaymentSucceeded)).Inc()
	if enrollErr != nil && !errors.Is(enrollErr, catalog.ErrAlreadyEnrolled) {
		e.log.Error().Err(enrollErr).Uint("payment_id", payment.ID).Msg("Payment settled but enrollment failed, discrepancy recorded")
	} else {
		e.log.Info().Uint("payment_id", payment.ID).Uint("user_id", payment.UserID).Uint("course_id", payment.CourseID).Msg("Payment settled and student enrolled")
	}
	return OutcomeApplied, nil
}

// reloadAndSettle handles losing a transition race to a concurrent delivery
func (e *Engine) reloadAndSettle(ctx context.Context, paymentID uint) (Outcome, error) {
	current, err := e.ledger(e.db).FindByID(ctx, paymentID)
	if err != nil {
		return "", internal("Failed to reload payment", err)
	}
	if current.Status == model.PaymentSucceeded {
		return e.ensureEnrolled(ctx, current)
	}
	return e.settleSucceeded(ctx, current, "")
}

// ensureEnrolled repairs a missing roster entry for an already settled payment
func (e *Engine) ensureEnrolled(ctx context.Context, payment *model.Payment) (Outcome, error) {
	store := e.catalog(e.db)

	enrolled, err := store.IsEnrolled(ctx, payment.CourseID, payment.UserID)
	if err != nil {
		return "", internal("Failed to check enrollment", err)
	}
	if enrolled {
		return OutcomeDuplicate, nil
	}

	// Read after the roster check so a concurrent unenroll is always seen
	current, err := e.ledger(e.db).FindByID(ctx, payment.ID)
	if err != nil {
		return "", internal("Failed to reload payment", err)
	}
	if current.UnenrolledAt != nil {
		e.log.Info().Uint("payment_id", payment.ID).Msg("Student unenrolled after paying, enrollment not restored")
		return OutcomeDuplicate, nil
	}

	_, err = store.EnrollStudent(ctx, payment.CourseID, payment.UserID, &payment.ID)
	switch {
	case errors.Is(err, catalog.ErrAlreadyEnrolled):
		return OutcomeDuplicate, nil
	case err != nil:
		if derr := e.recordDiscrepancy(ctx, e.db, payment, model.DiscrepancyGrant, err); derr != nil {
			return "", internal("Failed to record enrollment discrepancy", derr)
		}
		return OutcomeApplied, nil
	}

	e.log.Warn().Uint("payment_id", payment.ID).Msg("Restored missing enrollment for settled payment")
	return OutcomeApplied, nil
}

// closePayment moves a pending payment to failed or canceled
func (e *Engine) closePayment(ctx context.Context, payment *model.Payment, to model.PaymentStatus, reason string) (Outcome, error) {
	if payment.Status == to {
		return OutcomeDuplicate, nil
	}
	if payment.Status != model.PaymentPending {
		e.log.Warn().
			Uint("payment_id", payment.ID).
			Str("status", string(payment.Status)).
			Str("event_status", string(to)).
			Msg("Ignoring event that contradicts a closed payment")
		return OutcomeConflict, nil
	}

	fields := map[string]interface{}{}
	if reason != "" {
		fields["failure_reason"] = reason
	}

	err := e.ledger(e.db).Transition(ctx, payment.ID, model.PaymentPending, to, fields)
	if errors.Is(err, ledger.ErrStaleTransition) {
		current, ferr := e.ledger(e.db).FindByID(ctx, payment.ID)
		if ferr != nil {
			return "", internal("Failed to reload payment", ferr)
		}
		return e.closePayment(ctx, current, to, reason)
	}
	if err != nil {
		return "", internal("Failed to update payment", err)
	}

	metrics.PaymentTransitions.WithLabelValues(string(model.PaymentPending), string(to)).Inc()
	e.log.Info().Uint("payment_id", payment.ID).Str("status", string(to)).Str("reason", reason).Msg("Payment closed")

	// A failed attempt stays payable on the processor side; cancel it so a
	// late success cannot land on a closed record. Buyers start a new attempt.
	if to == model.PaymentFailed {
		e.cancelOrphan(ctx, payment.PaymentIntentID)
	}
	return OutcomeApplied, nil
}
