package repository

import (
	"context"
	"time"

	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
)

// ApplicationFilter narrows ApplicationRepo.List. Zero fields match everything.
type ApplicationFilter struct {
	Status          domain.ApplicationStatus
	StudentID       string
	Program         string
	SchoolYear      string
	IncludeArchived bool
	Limit           int
}

// ApplicationRepo persists applications. Update is a compare-and-swap on
// Version and bumps it on success.
type ApplicationRepo interface {
	Create(ctx context.Context, a *domain.Application) error
	GetByID(ctx context.Context, id string) (*domain.Application, error)
	List(ctx context.Context, f ApplicationFilter) ([]*domain.Application, error)
	Update(ctx context.Context, a *domain.Application) error
}

type HistoryRepo interface {
	Append(ctx context.Context, c *domain.StatusChange) error
	ListByApplication(ctx context.Context, applicationID string) ([]*domain.StatusChange, error)
}

type ReviewStageRepo interface {
	Create(ctx context.Context, s *domain.ReviewStage) error
	ListByApplication(ctx context.Context, applicationID string) ([]*domain.ReviewStage, error)
	// Latest returns the most recent row for the stage, or ErrNotFound.
	Latest(ctx context.Context, applicationID string, stage domain.StageName) (*domain.ReviewStage, error)
	// InCycle returns the most recent row for the stage written during the
	// given review cycle, or ErrNotFound.
	InCycle(ctx context.Context, applicationID string, stage domain.StageName, attempt int) (*domain.ReviewStage, error)
}

// BudgetRepo persists bucket totals. Update is a compare-and-swap on Version.
type BudgetRepo interface {
	Create(ctx context.Context, b *domain.BudgetAllocation) error
	Get(ctx context.Context, bucket domain.Bucket) (*domain.BudgetAllocation, error)
	List(ctx context.Context) ([]*domain.BudgetAllocation, error)
	Update(ctx context.Context, b *domain.BudgetAllocation) error
}

// ReservationRepo persists holds. Resolve only succeeds on a held row.
type ReservationRepo interface {
	Create(ctx context.Context, r *domain.Reservation) error
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)
	Resolve(ctx context.Context, r *domain.Reservation) error
	ListHeldBefore(ctx context.Context, cutoff time.Time) ([]*domain.Reservation, error)
}

// PaymentRepo persists disbursement attempts. Update is a compare-and-swap
// on Version.
type PaymentRepo interface {
	Create(ctx context.Context, p *domain.PaymentRecord) error
	GetByID(ctx context.Context, id string) (*domain.PaymentRecord, error)
	Update(ctx context.Context, p *domain.PaymentRecord) error
	ListByApplication(ctx context.Context, applicationID string) ([]*domain.PaymentRecord, error)
	LatestByApplication(ctx context.Context, applicationID string) (*domain.PaymentRecord, error)
	GetBySessionID(ctx context.Context, sessionID string) (*domain.PaymentRecord, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.PaymentRecord, error)
	GetByReservationID(ctx context.Context, reservationID string) (*domain.PaymentRecord, error)
}
