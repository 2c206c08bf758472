// Package ledger tracks scholarship funds per (budget type, school year)
// bucket and the provisional holds placed on them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twistedwarden/esm-v3-sub005/internal/db"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
	"github.com/twistedwarden/esm-v3-sub005/internal/lock"
	"github.com/twistedwarden/esm-v3-sub005/internal/repository"
)

// Observer receives ledger telemetry.
type Observer interface {
	LedgerOperation(op string, bucket domain.Bucket, err error)
	BucketRemaining(bucket domain.Bucket, remaining int64)
}

type noopObserver struct{}

func (noopObserver) LedgerOperation(string, domain.Bucket, error) {}
func (noopObserver) BucketRemaining(domain.Bucket, int64)         {}

// Ledger is the standalone entry point: each call takes the bucket lock and
// runs in its own unit of work.
type Ledger struct {
	db       db.DBTX
	uow      db.UnitOfWork
	locker   lock.Locker
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

type Option func(*Ledger)

func WithLogger(l *slog.Logger) Option {
	return func(led *Ledger) { led.logger = l }
}

func WithObserver(o Observer) Option {
	return func(led *Ledger) { led.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(led *Ledger) { led.now = now }
}

// New creates a Ledger. database serves reads outside transactions.
func New(database db.DBTX, uow db.UnitOfWork, locker lock.Locker, opts ...Option) *Ledger {
	l := &Ledger{
		db:       database,
		uow:      uow,
		locker:   locker,
		logger:   slog.Default(),
		observer: noopObserver{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locker exposes the lock the ledger serializes buckets with, so callers
// composing a larger unit of work take the same keys.
func (l *Ledger) Locker() lock.Locker { return l.locker }

// InTx binds the ledger to an open transaction. The caller must already
// hold the bucket lock.
func (l *Ledger) InTx(tx db.DBTX) *Tx {
	return &Tx{
		budgets:      repository.NewSQLiteBudgetRepo(tx),
		reservations: repository.NewSQLiteReservationRepo(tx),
		ledger:       l,
	}
}

// Reserve holds amount from bucket for an application and returns the
// reservation id.
func (l *Ledger) Reserve(ctx context.Context, bucket domain.Bucket, applicationID string, amount int64) (string, error) {
	unlock, err := l.locker.Lock(ctx, lock.BucketKey(bucket.BudgetType, bucket.SchoolYear))
	if err != nil {
		return "", err
	}
	defer unlock()

	var id string
	err = l.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		res, err := l.InTx(tx).Reserve(ctx, bucket, applicationID, amount)
		if err != nil {
			return err
		}
		id = res.ID
		return nil
	})
	return id, err
}

// Commit finalizes a held reservation as disbursed.
func (l *Ledger) Commit(ctx context.Context, reservationID string) error {
	return l.resolve(ctx, reservationID, (*Tx).Commit)
}

// Release returns a held reservation to the bucket.
func (l *Ledger) Release(ctx context.Context, reservationID string) error {
	return l.resolve(ctx, reservationID, (*Tx).Release)
}

func (l *Ledger) resolve(ctx context.Context, reservationID string,
	op func(*Tx, context.Context, string) (*domain.Reservation, error)) error {
	res, err := repository.NewSQLiteReservationRepo(l.db).GetByID(ctx, reservationID)
	if err != nil {
		return err
	}
	unlock, err := l.locker.Lock(ctx, lock.BucketKey(res.Bucket.BudgetType, res.Bucket.SchoolYear))
	if err != nil {
		return err
	}
	defer unlock()

	return l.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		_, err := op(l.InTx(tx), ctx, reservationID)
		return err
	})
}

// SetTotal creates the bucket or replaces its total.
func (l *Ledger) SetTotal(ctx context.Context, bucket domain.Bucket, total int64) (*domain.BudgetAllocation, error) {
	if total < 0 {
		return nil, fmt.Errorf("%w: total budget must not be negative", domain.ErrInvalidDecision)
	}
	unlock, err := l.locker.Lock(ctx, lock.BucketKey(bucket.BudgetType, bucket.SchoolYear))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *domain.BudgetAllocation
	err = l.uow.WithinTx(ctx, func(ctx context.Context, tx db.DBTX) error {
		budgets := repository.NewSQLiteBudgetRepo(tx)
		now := l.now()
		b, err := budgets.Get(ctx, bucket)
		if errors.Is(err, repository.ErrNotFound) {
			out = &domain.BudgetAllocation{Bucket: bucket, TotalBudget: total, UpdatedAt: now}
			return budgets.Create(ctx, out)
		}
		if err != nil {
			return err
		}
		if err := b.SetTotal(total, now); err != nil {
			return l.checked("set_total", b, err)
		}
		out = b
		return budgets.Update(ctx, b)
	})
	l.observer.LedgerOperation("set_total", bucket, err)
	if err != nil {
		return nil, err
	}
	l.observer.BucketRemaining(bucket, out.Remaining())
	return out, nil
}

// Bucket returns the current totals for one bucket.
func (l *Ledger) Bucket(ctx context.Context, bucket domain.Bucket) (*domain.BudgetAllocation, error) {
	return repository.NewSQLiteBudgetRepo(l.db).Get(ctx, bucket)
}

// ListBuckets returns every bucket.
func (l *Ledger) ListBuckets(ctx context.Context) ([]*domain.BudgetAllocation, error) {
	return repository.NewSQLiteBudgetRepo(l.db).List(ctx)
}

// HeldOlderThan lists reservations still held that were created before cutoff.
func (l *Ledger) HeldOlderThan(ctx context.Context, cutoff time.Time) ([]*domain.Reservation, error) {
	return repository.NewSQLiteReservationRepo(l.db).ListHeldBefore(ctx, cutoff)
}

// checked logs invariant violations as bugs and passes err through.
func (l *Ledger) checked(op string, b *domain.BudgetAllocation, err error) error {
	var iv *domain.InvariantViolation
	if errors.As(err, &iv) {
		l.logger.Error("ledger invariant violated",
			"operation", op,
			"bucket", b.Bucket.String(),
			"total", iv.Total,
			"allocated", iv.Allocated,
			"disbursed", iv.Disbursed,
		)
	}
	return err
}
