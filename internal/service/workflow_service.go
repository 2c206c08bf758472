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

type workflowService struct {
	core
}

func NewWorkflowService(database db.DBTX, uow db.UnitOfWork, locker lock.Locker, opts ...Option) WorkflowService {
	return &workflowService{core: newCore(database, uow, locker, opts)}
}

func (s *workflowService) Submit(ctx context.Context, req SubmitRequest) (app *domain.Application, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"program":     req.Program,
		"school_year": req.SchoolYear,
	}
	defer func() { s.observe(ctx, "workflow.submit", startedAt, fields, err) }()

	appType := req.Type
	if appType == "" {
		appType = domain.ApplicationNew
	}
	now := s.now()
	candidate := &domain.Application{
		ID:              uuid.New().String(),
		StudentID:       req.StudentID,
		Program:         req.Program,
		SchoolYear:      req.SchoolYear,
		Type:            appType,
		RequestedAmount: req.RequestedAmount,
		Status:          domain.StatusDraft,
		ReviewCycle:     1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err = candidate.Validate(); err != nil {
		return nil, err
	}
	if _, err = candidate.ApplyTransition(domain.StatusSubmitted, now); err != nil {
		return nil, err
	}
	fields["application_id"] = candidate.ID

	err = s.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		a := *candidate
		if err := repository.NewSQLiteApplicationRepo(tx).Create(ctx, &a); err != nil {
			return err
		}
		app = &a
		return repository.NewSQLiteHistoryRepo(tx).Append(ctx, &domain.StatusChange{
			ID:            uuid.New().String(),
			ApplicationID: a.ID,
			From:          domain.StatusDraft,
			To:            domain.StatusSubmitted,
			ActorID:       req.Actor.ID,
			ActorRole:     req.Actor.Role,
			Notes:         req.Notes,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish([]notify.Event{{
		Kind:          notify.KindSubmitted,
		ApplicationID: app.ID,
		From:          string(domain.StatusDraft),
		To:            string(domain.StatusSubmitted),
		ActorID:       req.Actor.ID,
		ActorRole:     req.Actor.Role,
		Notes:         req.Notes,
		Data:          map[string]any{"student_id": app.StudentID, "requested_amount": app.RequestedAmount},
		OccurredAt:    now,
	}})
	return app, nil
}

func (s *workflowService) Transition(ctx context.Context, req TransitionRequest) (app *domain.Application, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"application_id": req.ApplicationID,
		"target":         string(req.Target),
	}
	defer func() {
		if app != nil {
			fields["status"] = string(app.Status)
		}
		s.observe(ctx, "workflow.transition", startedAt, fields, err)
	}()

	if !req.Target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, req.Target)
	}
	if req.Target == domain.StatusGrantsProcessing {
		return s.startGrant(ctx, req)
	}

	unlock, err := s.locker.Lock(ctx, lock.AppKey(req.ApplicationID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var events []notify.Event
	err = s.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		a, err := repository.NewSQLiteApplicationRepo(tx).GetByID(ctx, req.ApplicationID)
		if err != nil {
			return err
		}
		app = a
		if a.Status == req.Target {
			return nil
		}
		if a.IsClosed() {
			return fmt.Errorf("%w: application %s is %s", domain.ErrApplicationClosed, a.ID, a.Status)
		}
		if err := checkWorkflowOwnership(a, req.Target); err != nil {
			return err
		}
		events, err = s.transition(ctx, tx, a, req.Target, req.Actor, req.Notes)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(events)
	return app, nil
}

// checkWorkflowOwnership rejects targets another component drives. Resuming
// an on_hold application is always allowed.
func checkWorkflowOwnership(a *domain.Application, to domain.ApplicationStatus) error {
	if a.Status == domain.StatusOnHold && a.HeldFrom != nil && *a.HeldFrom == to {
		return nil
	}
	if owner := domain.OwnerOf(to); owner != domain.OwnerWorkflow {
		return fmt.Errorf("%w: %s is driven by %s", domain.ErrInvalidTransition, to, owner)
	}
	if to == domain.StatusEndorsedToSSC && a.Status.Phase() == domain.PhaseSSCReview {
		return fmt.Errorf("%w: returning to %s requires a needs_revision decision",
			domain.ErrInvalidTransition, to)
	}
	return nil
}

func (s *workflowService) startGrant(ctx context.Context, req TransitionRequest) (*domain.Application, error) {
	current, err := s.getApplication(ctx, req.ApplicationID)
	if err != nil {
		return nil, err
	}
	if current.Status == req.Target {
		return current, nil
	}
	if current.IsClosed() {
		return nil, fmt.Errorf("%w: application %s is %s", domain.ErrApplicationClosed, current.ID, current.Status)
	}
	if s.grants == nil {
		return nil, fmt.Errorf("%w: no disbursement orchestrator configured", domain.ErrInvalidTransition)
	}
	res, err := s.grants.ProcessGrant(ctx, ProcessGrantRequest{ApplicationID: req.ApplicationID, Actor: req.Actor})
	if err != nil {
		return nil, err
	}
	return res.Application, nil
}

func (s *workflowService) Get(ctx context.Context, id string) (*domain.Application, error) {
	return s.getApplication(ctx, id)
}

func (s *workflowService) History(ctx context.Context, id string) ([]*domain.StatusChange, error) {
	if _, err := s.getApplication(ctx, id); err != nil {
		return nil, err
	}
	return repository.NewSQLiteHistoryRepo(s.db).ListByApplication(ctx, id)
}

func (s *workflowService) List(ctx context.Context, f repository.ApplicationFilter) ([]*domain.Application, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidApplication, f.Status)
	}
	return repository.NewSQLiteApplicationRepo(s.db).List(ctx, f)
}

// Archive hides a closed application from default listings. Archiving an
// archived application returns it unchanged.
func (s *workflowService) Archive(ctx context.Context, id string, actor domain.Actor) (app *domain.Application, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"application_id": id}
	defer func() { s.observe(ctx, "workflow.archive", startedAt, fields, err) }()

	unlock, err := s.locker.Lock(ctx, lock.AppKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var archived bool
	err = s.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		apps := repository.NewSQLiteApplicationRepo(tx)
		a, err := apps.GetByID(ctx, id)
		if err != nil {
			return err
		}
		app = a
		if !a.IsClosed() {
			return fmt.Errorf("%w: application %s is %s", domain.ErrApplicationNotClosed, a.ID, a.Status)
		}
		if a.ArchivedAt != nil {
			return nil
		}
		now := s.now()
		a.ArchivedAt = &now
		a.UpdatedAt = now
		archived = true
		return apps.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	if archived {
		s.publish([]notify.Event{{
			Kind:          notify.KindArchived,
			ApplicationID: app.ID,
			ActorID:       actor.ID,
			ActorRole:     actor.Role,
			OccurredAt:    *app.ArchivedAt,
		}})
	}
	return app, nil
}
