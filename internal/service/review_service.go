package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twistedwarden/esm-v3-sub005/internal/db"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
	"github.com/twistedwarden/esm-v3-sub005/internal/lock"
	"github.com/twistedwarden/esm-v3-sub005/internal/notify"
	"github.com/twistedwarden/esm-v3-sub005/internal/repository"
)

const noteRevisionLimit = "revision limit exceeded"

type reviewService struct {
	core
}

func NewReviewService(database db.DBTX, uow db.UnitOfWork, locker lock.Locker, opts ...Option) ReviewService {
	return &reviewService{core: newCore(database, uow, locker, opts)}
}

func (s *reviewService) SubmitStageDecision(ctx context.Context, req StageDecisionRequest) (app *domain.Application, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"application_id": req.ApplicationID,
		"stage":          string(req.Stage),
		"decision":       string(req.Decision),
	}
	defer func() {
		if app != nil {
			fields["status"] = string(app.Status)
		}
		s.observe(ctx, "review.stage_decision", startedAt, fields, err)
	}()

	if !req.Stage.Valid() {
		return nil, fmt.Errorf("%w: unknown stage %q", domain.ErrInvalidDecision, req.Stage)
	}
	if !domain.ValidDecision(req.Decision) {
		return nil, fmt.Errorf("%w: unknown decision %q", domain.ErrInvalidDecision, req.Decision)
	}
	if req.Cycle < 0 {
		return nil, fmt.Errorf("%w: review cycle %d", domain.ErrInvalidDecision, req.Cycle)
	}
	if req.Cycle > 0 {
		fields["cycle"] = req.Cycle
	}

	// The document service is consulted before any lock is taken.
	var verified bool
	if req.Stage == domain.StageDocumentVerification && req.Decision == domain.StageApproved {
		verified, err = s.verifier.DocumentsVerified(ctx, req.ApplicationID)
		if err != nil {
			return nil, fmt.Errorf("checking documents for %s: %w", req.ApplicationID, err)
		}
	}

	unlock, err := s.locker.Lock(ctx, lock.AppKey(req.ApplicationID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var events []notify.Event
	var noop bool
	err = s.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		events, noop = nil, false
		reviews := repository.NewSQLiteReviewStageRepo(tx)

		a, err := repository.NewSQLiteApplicationRepo(tx).GetByID(ctx, req.ApplicationID)
		if err != nil {
			return err
		}
		app = a

		repeat, err := s.isRepeat(ctx, reviews, a, req)
		if err != nil {
			return err
		}
		if repeat {
			noop = true
			return nil
		}
		if a.IsClosed() {
			return fmt.Errorf("%w: application %s is %s", domain.ErrApplicationClosed, a.ID, a.Status)
		}
		if req.Cycle != 0 && req.Cycle != a.ReviewCycle {
			return fmt.Errorf("%w: decision for cycle %d, application is in cycle %d",
				domain.ErrStageNotActive, req.Cycle, a.ReviewCycle)
		}
		if entry := req.Stage.EntryStatus(); a.Status != entry {
			return fmt.Errorf("%w: %s requires %s, application is %s",
				domain.ErrStageNotActive, req.Stage, entry, a.Status)
		}

		now := s.now()
		row := &domain.ReviewStage{
			ID:            uuid.New().String(),
			ApplicationID: a.ID,
			Stage:         req.Stage,
			Attempt:       a.ReviewCycle,
			Status:        req.Decision,
			ReviewerID:    req.Actor.ID,
			Notes:         req.Notes,
			CreatedAt:     now,
			CompletedAt:   &now,
		}

		target, notes, err := s.decide(ctx, reviews, a, row, req, verified)
		if err != nil {
			return err
		}
		if err := reviews.Create(ctx, row); err != nil {
			return err
		}
		transitionEvents, err := s.transition(ctx, tx, a, target, req.Actor, notes)
		if err != nil {
			return err
		}
		events = append(events, stageEvent(row, req.Actor))
		events = append(events, transitionEvents...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	fields["noop"] = noop
	s.publish(events)
	return app, nil
}

// isRepeat reports whether the stage already holds req's decision for the
// cycle req names. A needs_revision row belongs to the cycle it closed, so
// resending one requires that cycle explicitly.
func (s *reviewService) isRepeat(ctx context.Context, reviews repository.ReviewStageRepo,
	a *domain.Application, req StageDecisionRequest) (bool, error) {
	cycle := req.Cycle
	if cycle == 0 {
		cycle = a.ReviewCycle
	}
	row, err := reviews.InCycle(ctx, a.ID, req.Stage, cycle)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return row.Status == req.Decision, nil
}

// decide validates the decision, fills the stage row and returns the status
// the application moves to.
func (s *reviewService) decide(ctx context.Context, reviews repository.ReviewStageRepo,
	a *domain.Application, row *domain.ReviewStage, req StageDecisionRequest, verified bool) (domain.ApplicationStatus, string, error) {
	target := domain.Outcome(req.Stage, req.Decision)
	switch req.Decision {
	case domain.StageApproved:
		payload := domain.StagePayload{
			RequestedAmount:   a.RequestedAmount,
			RecommendedAmount: req.RecommendedAmount,
			ApprovedAmount:    req.ApprovedAmount,
			DocumentsVerified: verified,
		}
		if req.Stage == domain.StageFinalApproval {
			rec, err := s.currentRecommendation(ctx, reviews, a)
			if err != nil {
				return "", "", err
			}
			payload.PriorRecommendation = rec
		}
		if err := domain.ValidateApproval(req.Stage, payload); err != nil {
			return "", "", err
		}
		switch req.Stage {
		case domain.StageFinancialReview:
			row.RecommendedAmount = copyAmount(req.RecommendedAmount)
		case domain.StageFinalApproval:
			row.ApprovedAmount = copyAmount(req.ApprovedAmount)
			a.ApprovedAmount = copyAmount(req.ApprovedAmount)
		}
		return target, req.Notes, nil

	case domain.StageRejected:
		notes := "rejected at " + string(req.Stage)
		if req.Notes != "" {
			notes += ": " + req.Notes
		}
		return target, notes, nil

	default:
		a.RevisionCount++
		a.ReviewCycle++
		if a.RevisionCount > s.revisionLimit {
			s.logger.Info("revision limit exceeded, rejecting application",
				"application_id", a.ID,
				"revision_count", a.RevisionCount,
				"limit", s.revisionLimit,
			)
			return domain.StatusRejected, noteRevisionLimit, nil
		}
		notes := "revision requested at " + string(req.Stage)
		if req.Notes != "" {
			notes += ": " + req.Notes
		}
		return target, notes, nil
	}
}

// currentRecommendation returns the financial recommendation approved in
// the application's current review cycle.
func (s *reviewService) currentRecommendation(ctx context.Context, reviews repository.ReviewStageRepo, a *domain.Application) (*int64, error) {
	fin, err := reviews.Latest(ctx, a.ID, domain.StageFinancialReview)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if fin.Attempt != a.ReviewCycle || fin.Status != domain.StageApproved {
		return nil, nil
	}
	return fin.RecommendedAmount, nil
}

func (s *reviewService) Stages(ctx context.Context, applicationID string) ([]*domain.ReviewStage, error) {
	if _, err := s.getApplication(ctx, applicationID); err != nil {
		return nil, err
	}
	return repository.NewSQLiteReviewStageRepo(s.db).ListByApplication(ctx, applicationID)
}

// Endorse forwards an interviewed application to the committee.
func (s *reviewService) Endorse(ctx context.Context, applicationID string, actor domain.Actor, notes string) (app *domain.Application, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"application_id": applicationID}
	defer func() { s.observe(ctx, "review.endorse", startedAt, fields, err) }()

	unlock, err := s.locker.Lock(ctx, lock.AppKey(applicationID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var events []notify.Event
	err = s.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		a, err := repository.NewSQLiteApplicationRepo(tx).GetByID(ctx, applicationID)
		if err != nil {
			return err
		}
		app = a
		switch {
		case a.Status == domain.StatusEndorsedToSSC:
			return nil
		case a.IsClosed():
			return fmt.Errorf("%w: application %s is %s", domain.ErrApplicationClosed, a.ID, a.Status)
		case a.Status != domain.StatusInterviewCompleted:
			return fmt.Errorf("%w: endorsement requires %s, application is %s",
				domain.ErrInvalidTransition, domain.StatusInterviewCompleted, a.Status)
		}
		events, err = s.transition(ctx, tx, a, domain.StatusEndorsedToSSC, actor, notes)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return app, nil
}

func stageEvent(row *domain.ReviewStage, actor domain.Actor) notify.Event {
	data := map[string]any{
		"stage":   string(row.Stage),
		"attempt": row.Attempt,
	}
	if row.RecommendedAmount != nil {
		data["recommended_amount"] = *row.RecommendedAmount
	}
	if row.ApprovedAmount != nil {
		data["approved_amount"] = *row.ApprovedAmount
	}
	return notify.Event{
		Kind:          notify.KindStage,
		ApplicationID: row.ApplicationID,
		To:            string(row.Status),
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		Notes:         row.Notes,
		Data:          data,
		OccurredAt:    row.CreatedAt,
	}
}

func copyAmount(v *int64) *int64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
