package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
	"github.com/twistedwarden/esm-v3-sub005/internal/repository"
)

// Tx performs ledger operations inside a caller-owned transaction, so a
// reservation can commit or roll back together with other writes.
type Tx struct {
	budgets      repository.BudgetRepo
	reservations repository.ReservationRepo
	ledger       *Ledger
}

// Reserve moves amount from the bucket's remaining funds into a new held
// reservation. A bucket with no configured budget has nothing remaining.
func (t *Tx) Reserve(ctx context.Context, bucket domain.Bucket, applicationID string, amount int64) (*domain.Reservation, error) {
	res, err := t.reserve(ctx, bucket, applicationID, amount)
	t.ledger.observer.LedgerOperation("reserve", bucket, err)
	return res, err
}

func (t *Tx) reserve(ctx context.Context, bucket domain.Bucket, applicationID string, amount int64) (*domain.Reservation, error) {
	b, err := t.budgets.Get(ctx, bucket)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: no budget configured for %s", domain.ErrInsufficientFunds, bucket)
	}
	if err != nil {
		return nil, err
	}

	now := t.ledger.now()
	if err := b.Reserve(amount, now); err != nil {
		return nil, t.ledger.checked("reserve", b, err)
	}
	if err := t.budgets.Update(ctx, b); err != nil {
		return nil, err
	}

	res := &domain.Reservation{
		ID:            uuid.New().String(),
		Bucket:        bucket,
		ApplicationID: applicationID,
		Amount:        amount,
		Status:        domain.ReservationHeld,
		CreatedAt:     now,
	}
	if err := t.reservations.Create(ctx, res); err != nil {
		return nil, err
	}
	t.ledger.observer.BucketRemaining(bucket, b.Remaining())
	return res, nil
}

// Commit moves a held reservation into the bucket's disbursed total.
// Committing a committed reservation is a no-op.
func (t *Tx) Commit(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	return t.resolve(ctx, reservationID, domain.ReservationCommitted)
}

// Release returns a held reservation to the bucket's remaining funds.
// Releasing a released reservation is a no-op.
func (t *Tx) Release(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	return t.resolve(ctx, reservationID, domain.ReservationReleased)
}

func (t *Tx) resolve(ctx context.Context, reservationID string, target domain.ReservationStatus) (*domain.Reservation, error) {
	op := "commit"
	if target == domain.ReservationReleased {
		op = "release"
	}

	res, err := t.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	switch {
	case res.Status == target:
		return res, nil
	case res.Status == domain.ReservationReleased:
		return nil, fmt.Errorf("%w: reservation %s", domain.ErrReservationReleased, reservationID)
	case res.Status == domain.ReservationCommitted:
		return nil, fmt.Errorf("%w: reservation %s", domain.ErrReservationCommitted, reservationID)
	}

	err = t.apply(ctx, res, target, op)
	t.ledger.observer.LedgerOperation(op, res.Bucket, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (t *Tx) apply(ctx context.Context, res *domain.Reservation, target domain.ReservationStatus, op string) error {
	b, err := t.budgets.Get(ctx, res.Bucket)
	if err != nil {
		return err
	}
	now := t.ledger.now()
	if target == domain.ReservationCommitted {
		err = b.Commit(res.Amount, now)
	} else {
		err = b.Release(res.Amount, now)
	}
	if err != nil {
		return t.ledger.checked(op, b, err)
	}
	if err := t.budgets.Update(ctx, b); err != nil {
		return err
	}

	res.Status = target
	res.ResolvedAt = &now
	if err := t.reservations.Resolve(ctx, res); err != nil {
		return err
	}
	t.ledger.observer.BucketRemaining(res.Bucket, b.Remaining())
	return nil
}
