package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/services/gateway"
	"github.com/sahilchouksey/coursemarket/services/ledger"
	"github.com/sahilchouksey/coursemarket/utils/apperr"
)

// PaymentStatus returns a payment to its owner, or to an admin. A pending
// payment is first checked against the processor and settled synchronously
// if a webhook was missed.
func (e *Engine) PaymentStatus(ctx context.Context, userID, paymentID uint, isAdmin bool) (*model.Payment, error) {
	payments := e.ledger(e.db)

	payment, err := payments.FindByID(ctx, paymentID)
	if errors.Is(err, ledger.ErrPaymentNotFound) {
		return nil, apperr.NewNotFound("Payment not found")
	}
	if err != nil {
		return nil, internal("Failed to load payment", err)
	}
	if !isAdmin && payment.UserID != userID {
		return nil, apperr.NewForbidden("You do not have access to this payment")
	}

	if payment.Status != model.PaymentPending {
		return payment, nil
	}

	intent, err := e.gateway.RetrieveIntent(ctx, payment.PaymentIntentID)
	if err != nil {
		return nil, gatewayError(err)
	}
	if intent.Status == gateway.IntentPending {
		return payment, nil
	}

	if _, err := e.applyIntentStatus(ctx, payment, intent); err != nil {
		return nil, err
	}

	payment, err = payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, internal("Failed to reload payment", err)
	}
	return payment, nil
}

// ListPayments returns a page of the user's payments
func (e *Engine) ListPayments(ctx context.Context, userID uint, limit, offset int) ([]model.Payment, int64, error) {
	payments, total, err := e.ledger(e.db).ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, internal("Failed to load payments", err)
	}
	return payments, total, nil
}

// SweepResult counts what a stale-payment sweep did
type SweepResult struct {
	Checked int `json:"checked"`
	Settled int `json:"settled"`
	Errors  int `json:"errors"`
}

// SweepStalePending pulls the processor state of payments that have been
// pending longer than olderThan, for attempts whose webhook never arrived.
func (e *Engine) SweepStalePending(ctx context.Context, olderThan time.Duration, limit int) (SweepResult, error) {
	var result SweepResult

	stale, err := e.ledger(e.db).ListStalePending(ctx, e.now().Add(-olderThan), limit)
	if err != nil {
		return result, err
	}

	for i := range stale {
		payment := &stale[i]
		result.Checked++

		intent, err := e.gateway.RetrieveIntent(ctx, payment.PaymentIntentID)
		if err != nil {
			result.Errors++
			e.log.Warn().Err(err).Uint("payment_id", payment.ID).Msg("Could not refresh stale payment")
			continue
		}
		if intent.Status == gateway.IntentPending {
			continue
		}

		outcome, err := e.applyIntentStatus(ctx, payment, intent)
		if err != nil {
			result.Errors++
			e.log.Warn().Err(err).Uint("payment_id", payment.ID).Msg("Could not settle stale payment")
			continue
		}
		if outcome == OutcomeApplied {
			result.Settled++
		}
	}

	return result, nil
}

// ExpireAbandoned cancels attempts the buyer never completed. Intents that
// the processor has meanwhile settled or closed are applied instead.
func (e *Engine) ExpireAbandoned(ctx context.Context, olderThan time.Duration, limit int) (SweepResult, error) {
	var result SweepResult

	stale, err := e.ledger(e.db).ListStalePending(ctx, e.now().Add(-olderThan), limit)
	if err != nil {
		return result, err
	}

	for i := range stale {
		payment := &stale[i]
		result.Checked++

		intent, err := e.gateway.RetrieveIntent(ctx, payment.PaymentIntentID)
		if err != nil {
			result.Errors++
			continue
		}

		if intent.Status == gateway.IntentPending {
			if err := e.gateway.CancelIntent(ctx, payment.PaymentIntentID); err != nil {
				result.Errors++
				e.log.Warn().Err(err).Uint("payment_id", payment.ID).Msg("Could not cancel abandoned payment intent")
				continue
			}
		}

		var outcome Outcome
		if intent.Status == gateway.IntentPending {
			outcome, err = e.closePayment(ctx, payment, model.PaymentCanceled, "Checkout abandoned")
		} else {
			outcome, err = e.applyIntentStatus(ctx, payment, intent)
		}
		if err != nil {
			result.Errors++
			continue
		}
		if outcome == OutcomeApplied {
			result.Settled++
		}
	}

	return result, nil
}
