package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
	"github.com/twistedwarden/esm-v3-sub005/internal/notify"
	"github.com/twistedwarden/esm-v3-sub005/internal/payment"
	"github.com/twistedwarden/esm-v3-sub005/internal/testutil"
)

func (h *harness) seedApproved(t *testing.T, amount int64) *domain.Application {
	t.Helper()
	return h.seed(t,
		testutil.WithStatus(domain.StatusApproved),
		testutil.WithRequestedAmount(amount),
		testutil.WithApprovedAmount(amount),
	)
}

func (h *harness) grant(t *testing.T, appID string, method domain.PaymentMethod) *GrantResult {
	t.Helper()
	res, err := h.disbursement.ProcessGrant(context.Background(), ProcessGrantRequest{
		ApplicationID: appID,
		Method:        method,
		Actor:         officer,
	})
	require.NoError(t, err)
	return res
}

func TestProviderCancel_ReleasesAndRevertsToApproved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedBudget(t, 100000)
	app := h.seedApproved(t, 10000)

	res := h.grant(t, app.ID, domain.MethodBankTransfer)
	assert.Equal(t, domain.StatusGrantsProcessing, res.Application.Status)
	assert.Equal(t, domain.PaymentInitiated, res.Payment.Status)
	require.Len(t, h.paymentsOf(t, app.ID), 1)
	assert.Equal(t, int64(10000), h.bucket(t).AllocatedBudget)

	comp, err := h.disbursement.HandleProviderCancel(ctx, ProviderIdentifiers{ApplicationID: app.ID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompensated, comp.Outcome)
	assert.Equal(t, domain.StatusApproved, comp.Application.Status)
	assert.Equal(t, domain.PaymentCancelled, comp.Payment.Status)

	assert.Equal(t, domain.StatusApproved, h.app(t, app.ID).Status)
	b := h.bucket(t)
	assert.Equal(t, int64(0), b.AllocatedBudget)
	assert.Equal(t, int64(100000), b.Remaining())

	history, err := h.workflow.History(ctx, app.ID)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, domain.StatusGrantsProcessing, last.From)
	assert.Equal(t, domain.StatusApproved, last.To)
	assert.Equal(t, domain.SystemActor.ID, last.ActorID)
}

func TestProcessGrant_ProviderCheckout(t *testing.T) {
	h := newHarness(t)
	h.seedBudget(t, 100000)
	app := h.seedApproved(t, 20000)

	res := h.grant(t, app.ID, "")
	assert.Equal(t, domain.MethodProvider, res.Payment.Method)
	assert.Equal(t, domain.PaymentProcessing, res.Payment.Status)
	assert.Equal(t, "cs_"+res.Payment.ID, res.Payment.CheckoutSessionID)
	assert.Equal(t, "https://pay.test/"+res.Payment.ID, res.Payment.CheckoutURL)
	assert.Equal(t, []string{res.Payment.ID}, h.provider.calls())

	kinds := h.notifier.kinds()
	assert.Contains(t, kinds, notify.KindTransition)
	assert.Len(t, h.notifier.ofKind(notify.KindPayment), 2, "initiated then processing")
}

func TestProcessGrant_ProviderFailureResumesSameAttempt(t *testing.T) {
	h := newHarness(t)
	h.seedBudget(t, 100000)
	app := h.seedApproved(t, 20000)
	h.provider.failNext = 1

	_, err := h.disbursement.ProcessGrant(context.Background(), ProcessGrantRequest{ApplicationID: app.ID})
	require.ErrorIs(t, err, payment.ErrProviderUnavailable)

	payments := h.paymentsOf(t, app.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentInitiated, payments[0].Status)
	assert.Equal(t, domain.StatusGrantsProcessing, h.app(t, app.ID).Status)
	assert.Equal(t, int64(20000), h.bucket(t).AllocatedBudget)

	res := h.grant(t, app.ID, "")
	assert.Equal(t, payments[0].ID, res.Payment.ID, "resume reuses the open attempt")
	assert.Equal(t, domain.PaymentProcessing, res.Payment.Status)
	assert.Equal(t, int64(20000), h.bucket(t).AllocatedBudget, "no second reservation")
	assert.Equal(t, []string{payments[0].ID, payments[0].ID}, h.provider.calls(), "same idempotency key")

	again := h.grant(t, app.ID, "")
	assert.Equal(t, res.Payment.ID, again.Payment.ID)
	assert.Len(t, h.provider.calls(), 2, "a processing attempt is not sent again")
}

func TestProcessGrant_BudgetExhausted(t *testing.T) {
	h := newHarness(t)
	h.seedBudget(t, 5000)
	app := h.seedApproved(t, 10000)

	_, err := h.disbursement.ProcessGrant(context.Background(), ProcessGrantRequest{ApplicationID: app.ID})
	require.ErrorIs(t, err, domain.ErrBudgetExhausted)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.Equal(t, domain.StatusApproved, h.app(t, app.ID).Status)
	assert.Empty(t, h.paymentsOf(t, app.ID))
	assert.Equal(t, int64(0), h.bucket(t).AllocatedBudget)
	assert.Empty(t, h.provider.calls())
}

func TestProcessGrant_NoBudgetConfigured(t *testing.T) {
	h := newHarness(t)
	app := h.seedApproved(t, 10000)

	_, err := h.disbursement.ProcessGrant(context.Background(), ProcessGrantRequest{ApplicationID: app.ID})
	require.ErrorIs(t, err, domain.ErrBudgetExhausted)
	assert.Equal(t, domain.StatusApproved, h.app(t, app.ID).Status)
}

func TestProcessGrant_Preconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedBudget(t, 100000)
	review := h.seed(t, testutil.WithStatus(domain.StatusSSCFinalApproval))
	closed := h.seed(t, testutil.WithStatus(domain.StatusCancelled))
	approved := h.seedApproved(t, 1000)

	_, err := h.disbursement.ProcessGrant(ctx, ProcessGrantRequest{ApplicationID: review.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.disbursement.ProcessGrant(ctx, ProcessGrantRequest{ApplicationID: closed.ID})
	assert.ErrorIs(t, err, domain.ErrApplicationClosed)

	_, err = h.disbursement.ProcessGrant(ctx, ProcessGrantRequest{ApplicationID: approved.ID, Method: "crypto"})
	assert.ErrorIs(t, err, domain.ErrInvalidDecision)

	_, err = h.disbursement.ProcessGrant(ctx, ProcessGrantRequest{ApplicationID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, int64(0), h.bucket(t).AllocatedBudget)
}

func TestProcessGrant_NoProviderConfigured(t *testing.T) {
	h := newHarness(t, withServiceOptions(WithProvider(nil)))
	h.seedBudget(t, 100000)
	app := h.seedApproved(t, 1000)

	_, err := h.disbursement.ProcessGrant(context.Background(), ProcessGrantRequest{ApplicationID: app.ID})
	require.ErrorIs(t, err, domain.ErrInvalidDecision)

	res := h.grant(t, app.ID, domain.MethodCheck)
	assert.Equal(t, domain.PaymentInitiated, res.Payment.Status, "offline methods need no provider")
}

func TestProcessGrant_RollbackWhenTransitionFails(t *testing.T) {
	database := testutil.NewTestDB(t)
	injected := errors.New("injected application update failure")
	h := newHarness(t, withDB(database), withUoW(&testutil.FailOnNthExecUoW{
		DB:     database,
		FailOn: 1,
		Match:  "UPDATE applications",
		Err:    injected,
	}))
	h.seedBudget(t, 100000)
	app := h.seedApproved(t, 10000)

	_, err := h.disbursement.ProcessGrant(context.Background(), ProcessGrantRequest{
		ApplicationID: app.ID,
		Method:        domain.MethodBankTransfer,
	})
	require.ErrorIs(t, err, injected)

	assert.Equal(t, domain.StatusApproved, h.app(t, app.ID).Status)
	assert.Empty(t, h.paymentsOf(t, app.ID), "payment insert rolled back")
	assert.Equal(t, int64(0), h.bucket(t).AllocatedBudget, "reservation rolled back")
	assert.Empty(t, h.notifier.kinds())
}

func TestConfirmDisbursement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedBudget(t, 100000)
	app := h.seedApproved(t, 10000)
	h.grant(t, app.ID, domain.MethodBankTransfer)

	_, err := h.disbursement.ConfirmDisbursement(ctx, ConfirmRequest{ApplicationID: app.ID, ProviderRef: "BT-1"})
	require.ErrorIs(t, err, domain.ErrMissingReceipt)

	req := ConfirmRequest{
		ApplicationID: app.ID,
		ProviderRef:   "BT-1",
		Receipt:       "OR-2025-0001",
		Actor:         officer,
	}
	res, err := h.disbursement.ConfirmDisbursement(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGrantsDisbursed, res.Application.Status)
	assert.NotNil(t, res.Application.DisbursedAt)
	assert.Equal(t, domain.PaymentCompleted, res.Payment.Status)
	assert.Equal(t, "OR-2025-0001", res.Payment.ReceiptRef)
	assert.Equal(t, "BT-1", res.Payment.TransactionID)
	assert.Equal(t, officer.ID, res.Payment.DisbursedBy)

	b := h.bucket(t)
	assert.Equal(t, int64(0), b.AllocatedBudget)
	assert.Equal(t, int64(10000), b.DisbursedBudget)

	again, err := h.disbursement.ConfirmDisbursement(ctx, req)
	require.NoError(t, err, "duplicate confirmation is a no-op")
	assert.Equal(t, domain.StatusGrantsDisbursed, again.Application.Status)
	assert.Equal(t, int64(10000), h.bucket(t).DisbursedBudget)
}

func TestConfirmDisbursement_NoPayment(t *testing.T) {
	h := newHarness(t)
	app := h.seedApproved(t, 10000)

	_, err := h.disbursement.ConfirmDisbursement(context.Background(), ConfirmRequest{
		ApplicationID: app.ID, ProviderRef: "x", Receipt: "y",
	})
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestHandleProviderSuccess_BySession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedBudget(t, 100000)
	app := h.seedApproved(t, 15000)
	res := h.grant(t, app.ID, domain.MethodProvider)

	ids := ProviderIdentifiers{SessionID: res.Payment.CheckoutSessionID}
	done, err := h.disbursement.HandleProviderSuccess(ctx, ids, "txn_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGrantsDisbursed, done.Application.Status)
	assert.Equal(t, "txn_1", done.Payment.TransactionID)
	assert.Equal(t, domain.SystemActor.ID, done.Payment.DisbursedBy)

	_, err = h.disbursement.HandleProviderSuccess(ctx, ProviderIdentifiers{TransactionID: "txn_1"}, "txn_1")
	require.NoError(t, err, "repeat callback is idempotent")
	assert.Equal(t, int64(15000), h.bucket(t).DisbursedBudget)

	comp, err := h.disbursement.HandleProviderCancel(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotApplicable, comp.Outcome, "a paid grant is not compensated")
}

func TestHandleProviderCancel_Twice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedBudget(t, 100000)
	app := h.seedApproved(t, 10000)
	res := h.grant(t, app.ID, domain.MethodProvider)
	ids := ProviderIdentifiers{SessionID: res.Payment.CheckoutSessionID}

	first, err := h.disbursement.HandleProviderCancel(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompensated, first.Outcome)

	second, err := h.disbursement.HandleProviderCancel(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotApplicable, second.Outcome)

	b := h.bucket(t)
	assert.Equal(t, int64(0), b.AllocatedBudget, "one reversal only")
	assert.Equal(t, int64(100000), b.Remaining())
}

func TestHandleProviderSuccess_AfterCancelIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedBudget(t, 100000)
	app := h.seedApproved(t, 10000)
	res := h.grant(t, app.ID, domain.MethodProvider)
	ids := ProviderIdentifiers{SessionID: res.Payment.CheckoutSessionID}

	_, err := h.disbursement.HandleProviderCancel(ctx, ids)
	require.NoError(t, err)

	_, err = h.disbursement.HandleProviderSuccess(ctx, ids, "txn_late")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.StatusApproved, h.app(t, app.ID).Status)
	b := h.bucket(t)
	assert.Equal(t, int64(0), b.DisbursedBudget)
	assert.Equal(t, int64(0), b.AllocatedBudget)
}

func TestHandleProviderFailure_StoresReason(t *testing.T) {
	h := newHarness(t)
	h.seedBudget(t, 100000)
	app := h.seedApproved(t, 10000)
	h.grant(t, app.ID, domain.MethodProvider)

	comp, err := h.disbursement.HandleProviderFailure(context.Background(),
		ProviderIdentifiers{ApplicationID: app.ID}, "card declined")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompensated, comp.Outcome)
	assert.Equal(t, domain.PaymentFailed, comp.Payment.Status)
	assert.Equal(t, "card declined", comp.Payment.FailureReason)
	assert.True(t, comp.Payment.Retryable())
	assert.Equal(t, int64(0), h.bucket(t).AllocatedBudget)
}

func TestProviderCallback_UnknownIdentifiers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.disbursement.HandleProviderCancel(ctx, ProviderIdentifiers{SessionID: "cs_unknown"})
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)

	_, err = h.disbursement.HandleProviderFailure(ctx, ProviderIdentifiers{}, "x")
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)

	_, err = h.disbursement.HandleProviderSuccess(ctx, ProviderIdentifiers{SessionID: "cs_unknown"}, "txn")
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestRetryPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedBudget(t, 100000)
	app := h.seedApproved(t, 10000)
	first := h.grant(t, app.ID, domain.MethodProvider)

	_, err := h.disbursement.RetryPayment(ctx, first.Payment.ID, officer)
	require.ErrorIs(t, err, domain.ErrPaymentNotRetryable, "open attempts are not retried")

	_, err = h.disbursement.HandleProviderFailure(ctx, ProviderIdentifiers{ApplicationID: app.ID}, "timeout")
	require.NoError(t, err)

	retry, err := h.disbursement.RetryPayment(ctx, first.Payment.ID, officer)
	require.NoError(t, err)
	assert.Equal(t, 2, retry.Payment.Attempt)
	assert.Equal(t, 1, retry.Payment.RetryCount)
	assert.NotEqual(t, first.Payment.ReservationID, retry.Payment.ReservationID)
	assert.Equal(t, domain.PaymentProcessing, retry.Payment.Status)
	assert.Equal(t, domain.StatusGrantsProcessing, retry.Application.Status)
	assert.Equal(t, int64(10000), h.bucket(t).AllocatedBudget)

	payments, err := h.disbursement.Payments(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, retry.Payment.ID, payments[0].SupersededBy)
	assert.Equal(t, domain.PaymentFailed, payments[0].Status)

	_, err = h.disbursement.RetryPayment(ctx, first.Payment.ID, officer)
	require.ErrorIs(t, err, domain.ErrPaymentNotRetryable, "superseded attempts are not retried")

	_, err = h.disbursement.RetryPayment(ctx, "missing", officer)
	require.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestReconcile_ReportsOrphansWithoutReleasing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedBudget(t, 100000)
	stale := h.seedApproved(t, 10000)
	h.grant(t, stale.ID, domain.MethodBankTransfer)

	h.clock.Advance(2 * time.Hour)
	fresh := h.seedApproved(t, 5000)
	h.grant(t, fresh.ID, domain.MethodBankTransfer)

	report, err := h.disbursement.Reconcile(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, report.Orphans, 1)
	orphan := report.Orphans[0]
	assert.Equal(t, stale.ID, orphan.Reservation.ApplicationID)
	assert.Equal(t, OrphanPaymentPending, orphan.Reason)
	require.NotNil(t, orphan.Payment)
	assert.Equal(t, 2*time.Hour, orphan.Age)

	assert.Len(t, h.notifier.ofKind(notify.KindOrphan), 1)
	assert.Equal(t, int64(15000), h.bucket(t).AllocatedBudget, "reconciliation never releases")
	assert.Equal(t, domain.StatusGrantsProcessing, h.app(t, stale.ID).Status)
}

func TestProcessGrant_ConcurrentGrantsNeverOverspend(t *testing.T) {
	database := testutil.NewFileTestDB(t)
	h := newHarness(t, withDB(database))
	h.seedBudget(t, 50000)

	const apps = 10
	ids := make([]string, apps)
	for i := range ids {
		ids[i] = h.seedApproved(t, 10000).ID
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var granted, exhausted int
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := h.disbursement.ProcessGrant(context.Background(), ProcessGrantRequest{
				ApplicationID: id,
				Method:        domain.MethodCash,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted++
			case errors.Is(err, domain.ErrBudgetExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 5, granted)
	assert.Equal(t, 5, exhausted)
	b := h.bucket(t)
	assert.Equal(t, int64(50000), b.AllocatedBudget)
	assert.Equal(t, int64(0), b.Remaining())
}
