package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twistedwarden/esm-v3-sub005/internal/db"
	"github.com/twistedwarden/esm-v3-sub005/internal/docs"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
	"github.com/twistedwarden/esm-v3-sub005/internal/lock"
	"github.com/twistedwarden/esm-v3-sub005/internal/notify"
	"github.com/twistedwarden/esm-v3-sub005/internal/payment"
	"github.com/twistedwarden/esm-v3-sub005/internal/repository"
)

// DefaultRevisionLimit is how many needs_revision decisions an application
// may receive before it is rejected.
const DefaultRevisionLimit = 3

type settings struct {
	now           func() time.Time
	logger        *slog.Logger
	observer      UseCaseObserver
	notifier      notify.Notifier
	revisionLimit int
	provider      payment.Provider
	verifier      DocumentVerifier
	grants        GrantProcessor
}

// Option configures a service.
type Option func(*settings)

func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

func WithObservers(observers ...UseCaseObserver) Option {
	return func(s *settings) { s.observer = useCaseObserverOrNoop(observers) }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *settings) { s.notifier = n }
}

// WithRevisionLimit sets the needs_revision cap. Values below 1 are ignored.
func WithRevisionLimit(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.revisionLimit = n
		}
	}
}

func WithProvider(p payment.Provider) Option {
	return func(s *settings) { s.provider = p }
}

func WithDocumentVerifier(v DocumentVerifier) Option {
	return func(s *settings) { s.verifier = v }
}

// WithGrantProcessor lets the workflow hand transitions into
// grants_processing to the disbursement orchestrator.
func WithGrantProcessor(g GrantProcessor) Option {
	return func(s *settings) { s.grants = g }
}

// core holds what every service shares: storage, locks and the ambient
// collaborators.
type core struct {
	db     db.DBTX
	uow    db.UnitOfWork
	locker lock.Locker
	settings
}

func newCore(database db.DBTX, uow db.UnitOfWork, locker lock.Locker, opts []Option) core {
	s := settings{
		now:           func() time.Time { return time.Now().UTC() },
		logger:        slog.Default(),
		observer:      NoopUseCaseObserver{},
		notifier:      notify.Discard{},
		revisionLimit: DefaultRevisionLimit,
		verifier:      docs.Static{Verified: true},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return core{db: database, uow: uow, locker: locker, settings: s}
}

func (c *core) observe(ctx context.Context, name string, startedAt time.Time, fields map[string]any, err error) {
	c.observer.ObserveUseCase(ctx, UseCaseEvent{
		Name:      name,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Success:   err == nil,
		Err:       err,
		Fields:    fields,
	})
}

func (c *core) publish(events []notify.Event) {
	for _, e := range events {
		c.notifier.Publish(e)
	}
}

func (c *core) getApplication(ctx context.Context, id string) (*domain.Application, error) {
	return repository.NewSQLiteApplicationRepo(c.db).GetByID(ctx, id)
}

// transition moves app to the target status inside tx. The application row
// is always written, since callers may have changed other fields; a history
// row and an event are produced only when the status changed.
func (c *core) transition(ctx context.Context, tx db.DBTX, app *domain.Application,
	to domain.ApplicationStatus, actor domain.Actor, notes string) ([]notify.Event, error) {
	from := app.Status
	now := c.now()
	changed, err := app.ApplyTransition(to, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		app.UpdatedAt = now
	}
	if err := repository.NewSQLiteApplicationRepo(tx).Update(ctx, app); err != nil {
		return nil, err
	}
	if !changed {
		return nil, nil
	}

	change := &domain.StatusChange{
		ID:            uuid.New().String(),
		ApplicationID: app.ID,
		From:          from,
		To:            to,
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		Notes:         notes,
		CreatedAt:     now,
	}
	if err := repository.NewSQLiteHistoryRepo(tx).Append(ctx, change); err != nil {
		return nil, err
	}
	return []notify.Event{{
		Kind:          notify.KindTransition,
		ApplicationID: app.ID,
		From:          string(from),
		To:            string(to),
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		Notes:         notes,
		OccurredAt:    now,
	}}, nil
}

func paymentEvent(p *domain.PaymentRecord, actor domain.Actor, now time.Time) notify.Event {
	return notify.Event{
		Kind:          notify.KindPayment,
		ApplicationID: p.ApplicationID,
		To:            string(p.Status),
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		Notes:         p.FailureReason,
		Data: map[string]any{
			"payment_id": p.ID,
			"attempt":    p.Attempt,
			"method":     string(p.Method),
			"amount":     p.Amount,
		},
		OccurredAt: now,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
