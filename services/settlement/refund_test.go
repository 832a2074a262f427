package settlement

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/services/gateway"
	"github.com/sahilchouksey/coursemarket/utils/apperr"
	"github.com/sahilchouksey/coursemarket/utils/testutil"
)

func TestRefundRemovesOnlyMatchingEnrollment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	classmate := testutil.CreateUser(t, f.db, "classmate@example.com", model.RoleStudent)
	other := testutil.CreateCourse(t, f.db, f.instructor.ID, "40.00", model.CourseStatusPublished)

	p := f.purchaseAndSettle(t, f.student.ID, f.course.ID)
	f.purchaseAndSettle(t, classmate.ID, f.course.ID)
	f.purchaseAndSettle(t, f.student.ID, other.ID)

	record, err := f.refunds.Refund(ctx, p.ID, "Course content not as described", f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, record.PaymentID)
	assert.Equal(t, "100.00", record.Amount.StringFixed(2))
	assert.Equal(t, "usd", record.Currency)
	assert.Equal(t, "succeeded", record.Status)
	assert.NotEmpty(t, record.ID)

	refunds := f.gw.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, p.PaymentIntentID, refunds[0].IntentID)
	assert.Equal(t, "refund-"+strconv.FormatUint(uint64(p.ID), 10), refunds[0].IdempotencyKey)
	assert.True(t, refunds[0].Amount.Equal(p.Amount))

	p = f.payment(t, p.ID)
	assert.Equal(t, model.PaymentRefunded, p.Status)
	assert.True(t, p.RefundedAmount.Equal(p.Amount))
	assert.Equal(t, "Course content not as described", p.RefundReason)
	assert.NotNil(t, p.RefundedAt)

	assert.False(t, f.enrolled(t, f.course.ID, f.student.ID))
	assert.True(t, f.enrolled(t, f.course.ID, classmate.ID))
	assert.True(t, f.enrolled(t, other.ID, f.student.ID))
}

func TestRefundTwiceIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.purchaseAndSettle(t, f.student.ID, f.course.ID)

	_, err := f.refunds.Refund(ctx, p.ID, "", f.admin.ID)
	require.NoError(t, err)

	_, err = f.refunds.Refund(ctx, p.ID, "", f.admin.ID)
	assertKind(t, err, apperr.Conflict)
	assert.Len(t, f.gw.Refunds(), 1)
}

func TestRefundGatewayFailureChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.purchaseAndSettle(t, f.student.ID, f.course.ID)
	f.gw.RefundErr = &gateway.Error{Op: "create_refund", Kind: gateway.ErrUnavailable}

	_, err := f.refunds.Refund(ctx, p.ID, "requested", f.admin.ID)
	assertKind(t, err, apperr.GatewayUnavailable)

	p = f.payment(t, p.ID)
	assert.Equal(t, model.PaymentSucceeded, p.Status)
	assert.True(t, p.RefundedAmount.IsZero())
	assert.True(t, f.enrolled(t, f.course.ID, f.student.ID))
}

func TestRefundNotConfirmedChangesNothing(t *testing.T) {
	f := newFixture(t)

	p := f.purchaseAndSettle(t, f.student.ID, f.course.ID)
	f.gw.RefundStatus = "failed"

	_, err := f.refunds.Refund(context.Background(), p.ID, "", f.admin.ID)
	assertKind(t, err, apperr.GatewayRejected)
	assert.Equal(t, model.PaymentSucceeded, f.payment(t, p.ID).Status)
	assert.True(t, f.enrolled(t, f.course.ID, f.student.ID))
}

func TestRefundPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.refunds.Refund(ctx, 9999, "", f.admin.ID)
	assertKind(t, err, apperr.NotFound)

	res, err := f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)

	_, err = f.refunds.Refund(ctx, res.PaymentID, "", f.admin.ID)
	assertKind(t, err, apperr.Validation)
	assert.Empty(t, f.gw.Refunds())
}

func TestRefundRosterFailureLeavesPaymentRefunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.purchaseAndSettle(t, f.student.ID, f.course.ID)
	require.NoError(t, f.db.Migrator().DropTable(&model.Enrollment{}))

	_, err := f.refunds.Refund(ctx, p.ID, "chargeback risk", f.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRefunded, f.payment(t, p.ID).Status)

	var d model.EnrollmentDiscrepancy
	require.NoError(t, f.db.Where("payment_id = ? AND action = ?", p.ID, model.DiscrepancyRevoke).First(&d).Error)
	assert.Equal(t, model.DiscrepancyOpen, d.Status)

	// Retrying while the roster is still broken keeps the row open
	result, err := f.engine.RetryDiscrepancies(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	require.NoError(t, f.db.First(&d, d.ID).Error)
	assert.Equal(t, 1, d.Attempts)
	assert.Equal(t, model.DiscrepancyOpen, d.Status)
}
