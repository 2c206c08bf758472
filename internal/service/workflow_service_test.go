package service

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
	"github.com/twistedwarden/esm-v3-sub005/internal/notify"
	"github.com/twistedwarden/esm-v3-sub005/internal/repository"
	"github.com/twistedwarden/esm-v3-sub005/internal/testutil"
)

func TestSubmit_CreatesSubmittedApplicationWithHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	app, err := h.workflow.Submit(ctx, SubmitRequest{
		StudentID:       "stu-42",
		Program:         testutil.DefaultProgram,
		SchoolYear:      testutil.DefaultSchoolYear,
		RequestedAmount: 25000,
		Actor:           domain.Actor{ID: "stu-42", Role: "student"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, app.Status)
	assert.Equal(t, domain.ApplicationNew, app.Type)
	assert.Equal(t, 1, app.ReviewCycle)
	require.NotNil(t, app.SubmittedAt)

	stored := h.app(t, app.ID)
	assert.Equal(t, domain.StatusSubmitted, stored.Status)

	history, err := h.workflow.History(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusDraft, history[0].From)
	assert.Equal(t, domain.StatusSubmitted, history[0].To)
	assert.Equal(t, "stu-42", history[0].ActorID)

	assert.Equal(t, []string{notify.KindSubmitted}, h.notifier.kinds())
}

func TestSubmit_RejectsInvalidApplication(t *testing.T) {
	h := newHarness(t)

	_, err := h.workflow.Submit(context.Background(), SubmitRequest{
		Program:         testutil.DefaultProgram,
		SchoolYear:      testutil.DefaultSchoolYear,
		RequestedAmount: 0,
	})
	require.ErrorIs(t, err, domain.ErrInvalidApplication)

	apps, err := h.workflow.List(context.Background(), repository.ApplicationFilter{})
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestTransition_FollowsTable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	app := h.seed(t)

	for _, to := range []domain.ApplicationStatus{
		domain.StatusDocumentsReviewed,
		domain.StatusInterviewScheduled,
		domain.StatusInterviewCompleted,
		domain.StatusEndorsedToSSC,
	} {
		got, err := h.workflow.Transition(ctx, TransitionRequest{ApplicationID: app.ID, Target: to, Actor: officer})
		require.NoError(t, err, "transition to %s", to)
		assert.Equal(t, to, got.Status)
	}

	stored := h.app(t, app.ID)
	assert.Equal(t, domain.StatusEndorsedToSSC, stored.Status)
	assert.NotNil(t, stored.ReviewedAt)

	history, err := h.workflow.History(ctx, app.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
	assert.Len(t, h.notifier.ofKind(notify.KindTransition), 4)
}

func TestTransition_SameTargetIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	app := h.seed(t, testutil.WithStatus(domain.StatusDocumentsReviewed))

	got, err := h.workflow.Transition(ctx, TransitionRequest{ApplicationID: app.ID, Target: domain.StatusDocumentsReviewed})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDocumentsReviewed, got.Status)
	assert.Equal(t, app.Version, h.app(t, app.ID).Version, "no write for a no-op")

	history, err := h.workflow.History(ctx, app.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, h.notifier.kinds())
}

func TestTransition_RejectsSkippedStep(t *testing.T) {
	h := newHarness(t)
	app := h.seed(t)

	_, err := h.workflow.Transition(context.Background(), TransitionRequest{
		ApplicationID: app.ID,
		Target:        domain.StatusInterviewScheduled,
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.StatusSubmitted, h.app(t, app.ID).Status)
}

func TestTransition_ClosedApplication(t *testing.T) {
	h := newHarness(t)
	app := h.seed(t, testutil.WithStatus(domain.StatusRejected))

	_, err := h.workflow.Transition(context.Background(), TransitionRequest{
		ApplicationID: app.ID,
		Target:        domain.StatusCancelled,
	})
	require.ErrorIs(t, err, domain.ErrApplicationClosed)

	got, err := h.workflow.Transition(context.Background(), TransitionRequest{
		ApplicationID: app.ID,
		Target:        domain.StatusRejected,
	})
	require.NoError(t, err, "same target is idempotent even when closed")
	assert.Equal(t, domain.StatusRejected, got.Status)
}

func TestTransition_ComponentOwnedTargets(t *testing.T) {
	tests := []struct {
		name   string
		from   domain.ApplicationStatus
		target domain.ApplicationStatus
	}{
		{"committee stage", domain.StatusEndorsedToSSC, domain.StatusSSCFinancialReview},
		{"approval", domain.StatusSSCFinalApproval, domain.StatusApproved},
		{"disbursed", domain.StatusGrantsProcessing, domain.StatusGrantsDisbursed},
		{"revision without decision", domain.StatusSSCAcademicReview, domain.StatusEndorsedToSSC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			app := h.seed(t, testutil.WithStatus(tt.from))

			_, err := h.workflow.Transition(context.Background(), TransitionRequest{ApplicationID: app.ID, Target: tt.target})
			require.ErrorIs(t, err, domain.ErrInvalidTransition)
			assert.Equal(t, tt.from, h.app(t, app.ID).Status)
		})
	}
}

func TestTransition_OnHoldResumesToHeldFrom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	app := h.seed(t, testutil.WithStatus(domain.StatusSSCAcademicReview))

	held, err := h.workflow.Transition(ctx, TransitionRequest{ApplicationID: app.ID, Target: domain.StatusOnHold})
	require.NoError(t, err)
	require.NotNil(t, held.HeldFrom)
	assert.Equal(t, domain.StatusSSCAcademicReview, *held.HeldFrom)

	_, err = h.workflow.Transition(ctx, TransitionRequest{ApplicationID: app.ID, Target: domain.StatusSSCFinancialReview})
	require.ErrorIs(t, err, domain.ErrInvalidTransition, "only the held-from status resumes")

	resumed, err := h.workflow.Transition(ctx, TransitionRequest{ApplicationID: app.ID, Target: domain.StatusSSCAcademicReview})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSSCAcademicReview, resumed.Status)
	assert.Nil(t, resumed.HeldFrom)
}

func TestTransition_GrantsProcessingStartsDisbursement(t *testing.T) {
	h := newHarness(t)
	h.seedBudget(t, 100000)
	app := h.seed(t, testutil.WithStatus(domain.StatusApproved), testutil.WithApprovedAmount(10000))

	got, err := h.workflow.Transition(context.Background(), TransitionRequest{
		ApplicationID: app.ID,
		Target:        domain.StatusGrantsProcessing,
		Actor:         officer,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGrantsProcessing, got.Status)

	payments := h.paymentsOf(t, app.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentProcessing, payments[0].Status)
	assert.Equal(t, int64(10000), h.bucket(t).AllocatedBudget)
}

func TestTransition_GrantsProcessingWithoutOrchestrator(t *testing.T) {
	h := newHarness(t)
	app := h.seed(t, testutil.WithStatus(domain.StatusApproved))
	wf := NewWorkflowService(h.db, h.uow, h.locker)

	_, err := wf.Transition(context.Background(), TransitionRequest{ApplicationID: app.ID, Target: domain.StatusGrantsProcessing})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestArchive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	open := h.seed(t)
	closed := h.seed(t, testutil.WithStatus(domain.StatusCancelled))

	_, err := h.workflow.Archive(ctx, open.ID, officer)
	require.ErrorIs(t, err, domain.ErrApplicationNotClosed)

	archived, err := h.workflow.Archive(ctx, closed.ID, officer)
	require.NoError(t, err)
	require.NotNil(t, archived.ArchivedAt)

	again, err := h.workflow.Archive(ctx, closed.ID, officer)
	require.NoError(t, err)
	assert.Equal(t, archived.ArchivedAt.UnixNano(), again.ArchivedAt.UnixNano())
	assert.Len(t, h.notifier.ofKind(notify.KindArchived), 1)

	visible, err := h.workflow.List(ctx, repository.ApplicationFilter{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, open.ID, visible[0].ID)

	all, err := h.workflow.List(ctx, repository.ApplicationFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGet_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.workflow.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// Random transition requests never move an application along an edge the
// table does not allow, and history records exactly the accepted moves.
func TestTransition_RandomWalkStaysOnTable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	statuses := domain.AllStatuses()

	for walk := 0; walk < 20; walk++ {
		app := h.seed(t)
		accepted := 0
		for step := 0; step < 30; step++ {
			before := h.app(t, app.ID)
			target := statuses[rng.Intn(len(statuses))]

			got, err := h.workflow.Transition(ctx, TransitionRequest{ApplicationID: app.ID, Target: target})
			after := h.app(t, app.ID)
			if err != nil {
				assert.Equal(t, before.Status, after.Status, "rejected transition must not change state")
				continue
			}
			assert.Equal(t, after.Status, got.Status)
			if before.Status == after.Status {
				continue
			}
			accepted++
			assert.True(t, before.CanTransition(after.Status),
				"%s -> %s is not an allowed edge", before.Status, after.Status)
		}

		history, err := h.workflow.History(ctx, app.ID)
		require.NoError(t, err)
		assert.Len(t, history, accepted)
		for i, change := range history {
			if i > 0 {
				assert.Equal(t, history[i-1].To, change.From, "history is a connected path")
			}
		}
	}
}
