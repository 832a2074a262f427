package settlement

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sahilchouksey/coursemarket/config"
	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/services/gateway"
	"github.com/sahilchouksey/coursemarket/services/gateway/gatewaytest"
	"github.com/sahilchouksey/coursemarket/utils/apperr"
	"github.com/sahilchouksey/coursemarket/utils/testutil"
)

type fixture struct {
	db         *gorm.DB
	gw         *gatewaytest.Fake
	engine     *Engine
	refunds    *RefundCoordinator
	instructor *model.User
	student    *model.User
	admin      *model.User
	course     *model.Course
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	gw := gatewaytest.New()
	engine := NewEngine(db, gw, Config{
		Mode:           "sandbox",
		Currency:       "usd",
		CommissionRate: decimal.RequireFromString("0.20"),
	}, opts...)

	f := &fixture{
		db:         db,
		gw:         gw,
		engine:     engine,
		refunds:    NewRefundCoordinator(engine),
		instructor: testutil.CreateUser(t, db, "teach@example.com", model.RoleInstructor),
		student:    testutil.CreateUser(t, db, "student@example.com", model.RoleStudent),
		admin:      testutil.CreateUser(t, db, "admin@example.com", model.RoleAdmin),
	}
	f.course = testutil.CreateCourse(t, db, f.instructor.ID, "100.00", model.CourseStatusPublished)
	return f
}

func (f *fixture) deliver(t *testing.T, p gatewaytest.WebhookPayload) (Outcome, error) {
	t.Helper()
	body, sig := f.gw.Event(p)
	return f.engine.Reconcile(context.Background(), body, sig)
}

func (f *fixture) payment(t *testing.T, id uint) *model.Payment {
	t.Helper()
	var p model.Payment
	require.NoError(t, f.db.First(&p, id).Error)
	return &p
}

func (f *fixture) countRows(t *testing.T, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(m).Where(query, args...).Count(&n).Error)
	return n
}

func (f *fixture) enrolled(t *testing.T, courseID, userID uint) bool {
	t.Helper()
	ok, err := f.engine.IsEnrolled(context.Background(), courseID, userID)
	require.NoError(t, err)
	return ok
}

// purchaseAndSettle buys the course and delivers the success webhook
func (f *fixture) purchaseAndSettle(t *testing.T, userID, courseID uint) *model.Payment {
	t.Helper()

	res, err := f.engine.InitiatePurchase(context.Background(), userID, courseID)
	require.NoError(t, err)
	p := f.payment(t, res.PaymentID)

	outcome, err := f.deliver(t, gatewaytest.WebhookPayload{
		ID: "evt_settle_" + p.PaymentIntentID, Type: string(gateway.EventPaymentSucceeded), IntentID: p.PaymentIntentID,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	return f.payment(t, p.ID)
}

func assertKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), "unexpected error: %v", err)
}

func TestComputeSplit(t *testing.T) {
	split := ComputeSplit(decimal.RequireFromString("100"), decimal.RequireFromString("0.20"))
	assert.Equal(t, "20.00", split.PlatformCommission.StringFixed(2))
	assert.Equal(t, "80.00", split.InstructorAmount.StringFixed(2))

	split = ComputeSplit(decimal.RequireFromString("19.99"), decimal.RequireFromString("0.20"))
	assert.Equal(t, "4.00", split.PlatformCommission.StringFixed(2))
	assert.Equal(t, "15.99", split.InstructorAmount.StringFixed(2))

	split = ComputeSplit(decimal.RequireFromString("0.01"), decimal.RequireFromString("0.5"))
	assert.Equal(t, "0.01", split.PlatformCommission.StringFixed(2))
	assert.True(t, split.InstructorAmount.IsZero())
}

func TestComputeSplitAlwaysSumsToAmount(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 5000; i++ {
		price := decimal.New(rng.Int63n(10_000_000)+1, -2) // 0.01 .. 100000.00
		rate := decimal.New(rng.Int63n(9999)+1, -4)        // 0.0001 .. 0.9999

		split := ComputeSplit(price, rate)
		require.True(t, split.PlatformCommission.Add(split.InstructorAmount).Equal(split.Amount),
			"price=%s rate=%s commission=%s instructor=%s", price, rate, split.PlatformCommission, split.InstructorAmount)
		require.True(t, split.Amount.Equal(price))
		require.LessOrEqual(t, split.PlatformCommission.Exponent(), int32(0))
		require.Equal(t, split.PlatformCommission.StringFixed(2), split.PlatformCommission.Round(2).StringFixed(2))
	}
}

func TestPurchaseAndWebhookScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, res.ClientAuthorizationToken)
	assert.False(t, res.Resumed)

	p := f.payment(t, res.PaymentID)
	assert.Equal(t, model.PaymentPending, p.Status)
	assert.Equal(t, "100.00", p.Amount.StringFixed(2))
	assert.Equal(t, "20.00", p.PlatformCommission.StringFixed(2))
	assert.Equal(t, "80.00", p.InstructorAmount.StringFixed(2))
	assert.Equal(t, "0.2", p.PlatformCommissionRate.String())
	assert.Equal(t, "usd", p.Currency)
	assert.Equal(t, "sandbox", p.Mode)
	assert.Equal(t, p.PaymentIntentID+"_secret", res.ClientAuthorizationToken)

	intent, err := f.gw.RetrieveIntent(ctx, p.PaymentIntentID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", intent.Amount.StringFixed(2))
	assert.NotEmpty(t, intent.Metadata["course_id"])
	assert.NotEmpty(t, intent.Metadata["user_id"])

	evt := gatewaytest.WebhookPayload{ID: "evt_1", Type: string(gateway.EventPaymentSucceeded), IntentID: p.PaymentIntentID}

	outcome, err := f.deliver(t, evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	p = f.payment(t, p.ID)
	assert.Equal(t, model.PaymentSucceeded, p.Status)
	assert.NotNil(t, p.SucceededAt)
	assert.True(t, f.enrolled(t, f.course.ID, f.student.ID))

	// Redelivery changes nothing
	outcome, err = f.deliver(t, evt)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Equal(t, model.PaymentSucceeded, f.payment(t, p.ID).Status)
	assert.Equal(t, int64(1), f.countRows(t, &model.Enrollment{}, "course_id = ?", f.course.ID))
}

func TestConcurrentWebhookDeliveriesEnrollOnce(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.InitiatePurchase(context.Background(), f.student.ID, f.course.ID)
	require.NoError(t, err)
	p := f.payment(t, res.PaymentID)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.deliver(t, gatewaytest.WebhookPayload{ID: "evt_dup", Type: string(gateway.EventPaymentSucceeded), IntentID: p.PaymentIntentID})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, model.PaymentSucceeded, f.payment(t, p.ID).Status)
	assert.Equal(t, int64(1), f.countRows(t, &model.Enrollment{}, "course_id = ? AND user_id = ?", f.course.ID, f.student.ID))
}

func TestInitiatePurchasePreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := testutil.CreateCourse(t, f.db, f.instructor.ID, "50.00", model.CourseStatusDraft)
	free := testutil.CreateCourse(t, f.db, f.instructor.ID, "0", model.CourseStatusPublished)

	_, err := f.engine.InitiatePurchase(ctx, f.student.ID, 9999)
	assertKind(t, err, apperr.NotFound)

	_, err = f.engine.InitiatePurchase(ctx, f.student.ID, draft.ID)
	assertKind(t, err, apperr.Validation)

	_, err = f.engine.InitiatePurchase(ctx, f.student.ID, free.ID)
	assertKind(t, err, apperr.Validation)

	_, err = f.engine.InitiatePurchase(ctx, f.instructor.ID, f.course.ID)
	assertKind(t, err, apperr.Validation)
	assert.Contains(t, apperr.PublicMessage(err), "own course")

	assert.Equal(t, int64(0), f.countRows(t, &model.Payment{}, "1 = 1"))
	assert.Equal(t, 0, f.gw.Calls("create_intent"))
}

func TestInitiatePurchaseRejectsEnrolledUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.catalog(f.db).EnrollStudent(ctx, f.course.ID, f.student.ID, nil)
	require.NoError(t, err)

	_, err = f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	assertKind(t, err, apperr.Validation)
	assert.Contains(t, apperr.PublicMessage(err), "already enrolled")
	assert.Equal(t, int64(0), f.countRows(t, &model.Payment{}, "1 = 1"))
}

func TestInitiatePurchaseRejectsAlreadyPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.purchaseAndSettle(t, f.student.ID, f.course.ID)
	// Roster lost but the money is settled: still no second charge
	require.NoError(t, f.engine.catalog(f.db).RemoveEnrollment(ctx, f.course.ID, f.student.ID))

	_, err := f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	assertKind(t, err, apperr.Validation)
	assert.Contains(t, apperr.PublicMessage(err), "already paid")
	assert.Equal(t, int64(1), f.countRows(t, &model.Payment{}, "user_id = ?", f.student.ID))
	assert.Equal(t, model.PaymentSucceeded, f.payment(t, p.ID).Status)
}

func TestInitiatePurchaseResumesOpenAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)

	second, err := f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)

	assert.True(t, second.Resumed)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, first.ClientAuthorizationToken, second.ClientAuthorizationToken)
	assert.Equal(t, 1, f.gw.Calls("create_intent"))
}

func TestInitiatePurchaseReplacesCanceledAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)
	old := f.payment(t, first.PaymentID)
	f.gw.SetIntentStatus(old.PaymentIntentID, gateway.IntentCanceled, "")

	second, err := f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)

	assert.NotEqual(t, first.PaymentID, second.PaymentID)
	assert.False(t, second.Resumed)
	assert.Equal(t, model.PaymentCanceled, f.payment(t, first.PaymentID).Status)
	assert.Equal(t, model.PaymentPending, f.payment(t, second.PaymentID).Status)
}

func TestInitiatePurchaseSettlesAttemptPaidWithoutWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)
	f.gw.SetIntentStatus(f.payment(t, first.PaymentID).PaymentIntentID, gateway.IntentSucceeded, "")

	_, err = f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	assertKind(t, err, apperr.Validation)

	assert.Equal(t, model.PaymentSucceeded, f.payment(t, first.PaymentID).Status)
	assert.True(t, f.enrolled(t, f.course.ID, f.student.ID))
}

func TestConcurrentPurchasesCreateOnePayment(t *testing.T) {
	f := newFixture(t)

	const workers = 8
	var wg sync.WaitGroup
	ids := make(chan uint, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.InitiatePurchase(context.Background(), f.student.ID, f.course.ID)
			if err != nil {
				assert.Equal(t, apperr.Conflict, apperr.KindOf(err), "unexpected error: %v", err)
				return
			}
			ids <- res.PaymentID
		}()
	}
	wg.Wait()
	close(ids)

	var winner uint
	for id := range ids {
		if winner == 0 {
			winner = id
		}
		assert.Equal(t, winner, id)
	}
	assert.NotZero(t, winner)
	assert.Equal(t, int64(1), f.countRows(t, &model.Payment{}, "user_id = ? AND course_id = ?", f.student.ID, f.course.ID))
}

func TestInitiatePurchaseGatewayTimeout(t *testing.T) {
	f := newFixture(t)
	f.gw.CreateErr = &gateway.Error{Op: "create_intent", Kind: gateway.ErrTimeout}

	_, err := f.engine.InitiatePurchase(context.Background(), f.student.ID, f.course.ID)
	assertKind(t, err, apperr.GatewayTimeout)
	assert.True(t, apperr.Retryable(err))
	assert.Equal(t, int64(0), f.countRows(t, &model.Payment{}, "1 = 1"))
}

func TestReconcileRejectsInvalidSignatureWithoutLookup(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.InitiatePurchase(context.Background(), f.student.ID, f.course.ID)
	require.NoError(t, err)
	p := f.payment(t, res.PaymentID)

	queries := 0
	require.NoError(t, f.db.Callback().Query().Before("gorm:query").Register("test:count_queries", func(*gorm.DB) { queries++ }))

	body, _ := f.gw.Event(gatewaytest.WebhookPayload{ID: "evt_forged", Type: string(gateway.EventPaymentSucceeded), IntentID: p.PaymentIntentID})
	_, err = f.engine.Reconcile(context.Background(), body, "forged")

	assertKind(t, err, apperr.Signature)
	assert.Equal(t, 0, queries)

	f.db.Callback().Query().Remove("test:count_queries")
	assert.Equal(t, model.PaymentPending, f.payment(t, p.ID).Status)
	assert.False(t, f.enrolled(t, f.course.ID, f.student.ID))
}

func TestReconcileAcknowledgesUnknownIntentAndEvent(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.deliver(t, gatewaytest.WebhookPayload{ID: "evt_x", Type: string(gateway.EventPaymentSucceeded), IntentID: "pi_elsewhere"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknownIntent, outcome)

	outcome, err = f.deliver(t, gatewaytest.WebhookPayload{ID: "evt_y", Type: "customer.subscription.created", IntentID: "pi_elsewhere"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestReconcileFailedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)
	p := f.payment(t, res.PaymentID)

	outcome, err := f.deliver(t, gatewaytest.WebhookPayload{
		ID: "evt_fail", Type: string(gateway.EventPaymentFailed), IntentID: p.PaymentIntentID, FailureReason: "Your card was declined.",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	p = f.payment(t, p.ID)
	assert.Equal(t, model.PaymentFailed, p.Status)
	assert.Equal(t, "Your card was declined.", p.FailureReason)
	assert.False(t, f.enrolled(t, f.course.ID, f.student.ID))
	assert.Contains(t, f.gw.Canceled(), p.PaymentIntentID)

	// A late success for the closed attempt is acknowledged, not applied
	outcome, err = f.deliver(t, gatewaytest.WebhookPayload{ID: "evt_late", Type: string(gateway.EventPaymentSucceeded), IntentID: p.PaymentIntentID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, outcome)
	assert.Equal(t, model.PaymentFailed, f.payment(t, p.ID).Status)

	// The pair is free for a new attempt
	retry, err := f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)
	assert.NotEqual(t, p.ID, retry.PaymentID)
}

func TestReconcileCanceledPayment(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.InitiatePurchase(context.Background(), f.student.ID, f.course.ID)
	require.NoError(t, err)
	p := f.payment(t, res.PaymentID)

	outcome, err := f.deliver(t, gatewaytest.WebhookPayload{ID: "evt_c", Type: string(gateway.EventPaymentCanceled), IntentID: p.PaymentIntentID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, model.PaymentCanceled, f.payment(t, p.ID).Status)
}

func TestRedeliveredSuccessRestoresMissingEnrollment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.purchaseAndSettle(t, f.student.ID, f.course.ID)
	require.NoError(t, f.engine.catalog(f.db).RemoveEnrollment(ctx, f.course.ID, f.student.ID))

	outcome, err := f.deliver(t, gatewaytest.WebhookPayload{ID: "evt_again", Type: string(gateway.EventPaymentSucceeded), IntentID: p.PaymentIntentID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.True(t, f.enrolled(t, f.course.ID, f.student.ID))
	assert.Equal(t, model.PaymentSucceeded, f.payment(t, p.ID).Status)
}

func TestEnrollmentFailureKeepsPaymentAndRecordsDiscrepancy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)
	p := f.payment(t, res.PaymentID)

	require.NoError(t, f.db.Migrator().DropTable(&model.Enrollment{}))

	outcome, err := f.deliver(t, gatewaytest.WebhookPayload{ID: "evt_ok", Type: string(gateway.EventPaymentSucceeded), IntentID: p.PaymentIntentID})
	require.NoError(t, err, "roster failure must not fail the webhook")
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, model.PaymentSucceeded, f.payment(t, p.ID).Status)

	var d model.EnrollmentDiscrepancy
	require.NoError(t, f.db.Where("payment_id = ?", p.ID).First(&d).Error)
	assert.Equal(t, model.DiscrepancyGrant, d.Action)
	assert.Equal(t, model.DiscrepancyOpen, d.Status)
	assert.NotEmpty(t, d.LastError)

	// Roster store comes back; the retry job grants access
	require.NoError(t, f.db.AutoMigrate(&model.Enrollment{}))

	result, err := f.engine.RetryDiscrepancies(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resolved)
	assert.True(t, f.enrolled(t, f.course.ID, f.student.ID))

	require.NoError(t, f.db.First(&d, d.ID).Error)
	assert.Equal(t, model.DiscrepancyResolved, d.Status)
	assert.NotNil(t, d.ResolvedAt)
}

func TestReconcileChargeRefundedFromDashboard(t *testing.T) {
	f := newFixture(t)

	p := f.purchaseAndSettle(t, f.student.ID, f.course.ID)

	outcome, err := f.deliver(t, gatewaytest.WebhookPayload{
		ID: "evt_ref", Type: string(gateway.EventChargeRefunded), IntentID: p.PaymentIntentID, AmountRefunded: "100.00",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	p = f.payment(t, p.ID)
	assert.Equal(t, model.PaymentRefunded, p.Status)
	assert.True(t, p.RefundedAmount.Equal(p.Amount))
	assert.False(t, f.enrolled(t, f.course.ID, f.student.ID))
}

// memoryMarker records marked keys
type memoryMarker struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryMarker) Seen(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[key], nil
}

func (m *memoryMarker) Mark(_ context.Context, key string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = true
	return nil
}

func TestSeenEventFastPath(t *testing.T) {
	marker := &memoryMarker{keys: map[string]bool{}}
	f := newFixture(t, WithMarker(marker))

	p := f.purchaseAndSettle(t, f.student.ID, f.course.ID)
	assert.True(t, marker.keys[seenKey("evt_settle_"+p.PaymentIntentID)])

	outcome, err := f.deliver(t, gatewaytest.WebhookPayload{
		ID: "evt_settle_" + p.PaymentIntentID, Type: string(gateway.EventPaymentSucceeded), IntentID: p.PaymentIntentID,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestEnrollDirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	free := testutil.CreateCourse(t, f.db, f.instructor.ID, "0", model.CourseStatusPublished)

	enrollment, err := f.engine.EnrollDirect(ctx, f.student.ID, free.ID)
	require.NoError(t, err)
	assert.Nil(t, enrollment.PaymentID)
	assert.True(t, f.enrolled(t, free.ID, f.student.ID))
	assert.Equal(t, int64(0), f.countRows(t, &model.Payment{}, "1 = 1"))

	_, err = f.engine.EnrollDirect(ctx, f.student.ID, free.ID)
	assertKind(t, err, apperr.Validation)

	_, err = f.engine.EnrollDirect(ctx, f.instructor.ID, free.ID)
	assertKind(t, err, apperr.Validation)

	// A priced course cannot bypass payment
	_, err = f.engine.EnrollDirect(ctx, f.student.ID, f.course.ID)
	assertKind(t, err, apperr.Validation)
	assert.False(t, f.enrolled(t, f.course.ID, f.student.ID))
}

func TestPaymentStatusPullsMissedWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)
	p := f.payment(t, res.PaymentID)

	got, err := f.engine.PaymentStatus(ctx, f.student.ID, p.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPending, got.Status)

	f.gw.SetIntentStatus(p.PaymentIntentID, gateway.IntentSucceeded, "")

	got, err = f.engine.PaymentStatus(ctx, f.student.ID, p.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentSucceeded, got.Status)
	assert.True(t, f.enrolled(t, f.course.ID, f.student.ID))
}

func TestPaymentStatusAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.purchaseAndSettle(t, f.student.ID, f.course.ID)
	other := testutil.CreateUser(t, f.db, "other@example.com", model.RoleStudent)

	_, err := f.engine.PaymentStatus(ctx, other.ID, p.ID, false)
	assertKind(t, err, apperr.Forbidden)

	got, err := f.engine.PaymentStatus(ctx, f.admin.ID, p.ID, true)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = f.engine.PaymentStatus(ctx, f.student.ID, 9999, false)
	assertKind(t, err, apperr.NotFound)
}

func TestPaymentStatusSurfacesGatewayErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)

	f.gw.RetrieveErr = &gateway.Error{Op: "retrieve_intent", Kind: gateway.ErrUnavailable}
	_, err = f.engine.PaymentStatus(ctx, f.student.ID, res.PaymentID, false)
	assertKind(t, err, apperr.GatewayUnavailable)
	assert.Equal(t, model.PaymentPending, f.payment(t, res.PaymentID).Status)
}

func TestSweepStalePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	second := testutil.CreateCourse(t, f.db, f.instructor.ID, "25.00", model.CourseStatusPublished)

	paid, err := f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)
	waiting, err := f.engine.InitiatePurchase(ctx, f.student.ID, second.ID)
	require.NoError(t, err)

	f.gw.SetIntentStatus(f.payment(t, paid.PaymentID).PaymentIntentID, gateway.IntentSucceeded, "")
	require.NoError(t, f.db.Model(&model.Payment{}).Where("1 = 1").
		Update("created_at", time.Now().UTC().Add(-2*time.Hour)).Error)

	result, err := f.engine.SweepStalePending(ctx, time.Hour, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Checked)
	assert.Equal(t, 1, result.Settled)
	assert.Equal(t, 0, result.Errors)

	assert.Equal(t, model.PaymentSucceeded, f.payment(t, paid.PaymentID).Status)
	assert.Equal(t, model.PaymentPending, f.payment(t, waiting.PaymentID).Status)
	assert.True(t, f.enrolled(t, f.course.ID, f.student.ID))
}

func TestListPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	second := testutil.CreateCourse(t, f.db, f.instructor.ID, "25.00", model.CourseStatusPublished)
	_, err := f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)
	_, err = f.engine.InitiatePurchase(ctx, f.student.ID, second.ID)
	require.NoError(t, err)

	payments, total, err := f.engine.ListPayments(ctx, f.student.ID, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, payments, 1)

	payments, total, err = f.engine.ListPayments(ctx, f.admin.ID, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, payments)
}

func TestNegativePriceIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	broken := testutil.CreateCourse(t, f.db, f.instructor.ID, "0", model.CourseStatusPublished)
	// Simulate a row written before the price constraint existed
	require.NoError(t, f.db.Exec("PRAGMA ignore_check_constraints = ON").Error)
	require.NoError(t, f.db.Model(&model.Course{}).Where("id = ?", broken.ID).
		Update("price", decimal.RequireFromString("-5.00")).Error)

	_, err := f.engine.EnrollDirect(ctx, f.student.ID, broken.ID)
	assertKind(t, err, apperr.Validation)

	_, err = f.engine.InitiatePurchase(ctx, f.student.ID, broken.ID)
	assertKind(t, err, apperr.Validation)

	assert.False(t, f.enrolled(t, broken.ID, f.student.ID))
	assert.Equal(t, int64(0), f.countRows(t, &model.Payment{}, "course_id = ?", broken.ID))
	assert.Equal(t, 0, f.gw.Calls("create_intent"))
}

func TestSignedButMalformedWebhookIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.purchaseAndSettle(t, f.student.ID, f.course.ID)

	for _, body := range []string{
		`{"id":"evt_bad_amount","type":"charge.refunded","intent_id":"` + p.PaymentIntentID + `","amount_refunded":"not-a-number"}`,
		`{"id":"evt_truncated","type":`,
	} {
		outcome, err := f.engine.Reconcile(ctx, []byte(body), f.gw.Sign([]byte(body)))
		require.NoError(t, err, body)
		assert.Equal(t, OutcomeIgnored, outcome)
	}

	assert.Equal(t, model.PaymentSucceeded, f.payment(t, p.ID).Status)
	assert.True(t, f.enrolled(t, f.course.ID, f.student.ID))
}

func TestDiscrepancyStaysOpenWhenResolveWriteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.InitiatePurchase(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)
	p := f.payment(t, res.PaymentID)

	require.NoError(t, f.db.Migrator().DropTable(&model.Enrollment{}))
	_, err = f.deliver(t, gatewaytest.WebhookPayload{ID: "evt_ok", Type: string(gateway.EventPaymentSucceeded), IntentID: p.PaymentIntentID})
	require.NoError(t, err)
	require.NoError(t, f.db.AutoMigrate(&model.Enrollment{}))

	const hook = "test:fail_discrepancy_resolve"
	require.NoError(t, f.db.Callback().Update().Before("gorm:update").Register(hook, func(tx *gorm.DB) {
		values, ok := tx.Statement.Dest.(map[string]interface{})
		if ok && tx.Statement.Table == "enrollment_discrepancies" && values["status"] == model.DiscrepancyResolved {
			tx.AddError(errors.New("database is read-only"))
		}
	}))

	result, err := f.engine.RetryDiscrepancies(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Resolved)
	assert.Equal(t, 1, result.Failed)
	assert.True(t, f.enrolled(t, f.course.ID, f.student.ID), "roster change itself went through")

	var d model.EnrollmentDiscrepancy
	require.NoError(t, f.db.Where("payment_id = ?", p.ID).First(&d).Error)
	assert.Equal(t, model.DiscrepancyOpen, d.Status)

	require.NoError(t, f.db.Callback().Update().Remove(hook))

	result, err = f.engine.RetryDiscrepancies(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resolved)
	require.NoError(t, f.db.First(&d, d.ID).Error)
	assert.Equal(t, model.DiscrepancyResolved, d.Status)
}

func TestConfigFromCarriesSettlementWindows(t *testing.T) {
	cfg := ConfigFrom(&config.PaymentConfig{
		Mode:           config.PaymentModeLive,
		Currency:       "eur",
		CommissionRate: decimal.RequireFromString("0.15"),
		LockTTL:        10 * time.Second,
		SeenEventTTL:   6 * time.Hour,
	})
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, 6*time.Hour, cfg.SeenEventTTL)
	assert.Equal(t, "eur", cfg.Currency)

	engine := NewEngine(nil, gatewaytest.New(), Config{})
	assert.Equal(t, config.DefaultLockTTL, engine.cfg.LockTTL)
	assert.Equal(t, config.DefaultSeenEventTTL, engine.cfg.SeenEventTTL)
}
