package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
)

// ApplicationCreator is satisfied by repository.ApplicationRepo.
type ApplicationCreator interface {
	Create(ctx context.Context, a *domain.Application) error
}

// BudgetCreator is satisfied by repository.BudgetRepo.
type BudgetCreator interface {
	Create(ctx context.Context, b *domain.BudgetAllocation) error
}

const (
	DefaultProgram    = "merit"
	DefaultSchoolYear = "2025-2026"
)

// Application options
type ApplicationOption func(*domain.Application)

func WithStatus(s domain.ApplicationStatus) ApplicationOption {
	return func(a *domain.Application) {
		a.Status = s
	}
}

func WithRequestedAmount(v int64) ApplicationOption {
	return func(a *domain.Application) {
		a.RequestedAmount = v
	}
}

func WithApprovedAmount(v int64) ApplicationOption {
	return func(a *domain.Application) {
		a.ApprovedAmount = &v
	}
}

func WithBucket(program, schoolYear string) ApplicationOption {
	return func(a *domain.Application) {
		a.Program = program
		a.SchoolYear = schoolYear
	}
}

func WithStudent(id string) ApplicationOption {
	return func(a *domain.Application) {
		a.StudentID = id
	}
}

func WithHeldFrom(s domain.ApplicationStatus) ApplicationOption {
	return func(a *domain.Application) {
		a.Status = domain.StatusOnHold
		a.HeldFrom = &s
	}
}

// NewTestApplication builds a submitted application in the default bucket.
func NewTestApplication(opts ...ApplicationOption) *domain.Application {
	now := time.Now().UTC()
	a := &domain.Application{
		ID:              uuid.New().String(),
		StudentID:       "stu-" + uuid.New().String()[:8],
		Program:         DefaultProgram,
		SchoolYear:      DefaultSchoolYear,
		Type:            domain.ApplicationNew,
		RequestedAmount: 50000,
		Status:          domain.StatusSubmitted,
		ReviewCycle:     1,
		SubmittedAt:     &now,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.Status == domain.StatusApproved && a.ApprovedAmount == nil {
		amt := a.RequestedAmount
		a.ApprovedAmount = &amt
	}
	return a
}

// SeedApplication inserts a test application and returns it.
func SeedApplication(t *testing.T, repo ApplicationCreator, opts ...ApplicationOption) *domain.Application {
	t.Helper()
	a := NewTestApplication(opts...)
	if err := repo.Create(context.Background(), a); err != nil {
		t.Fatalf("seeding application: %v", err)
	}
	return a
}

// NewTestBudget builds an empty allocation for the default bucket.
func NewTestBudget(total int64) *domain.BudgetAllocation {
	return &domain.BudgetAllocation{
		Bucket:      domain.Bucket{BudgetType: DefaultProgram, SchoolYear: DefaultSchoolYear},
		TotalBudget: total,
		UpdatedAt:   time.Now().UTC(),
		Version:     1,
	}
}

// SeedBudget inserts an allocation for the default bucket.
func SeedBudget(t *testing.T, repo BudgetCreator, total int64) *domain.BudgetAllocation {
	t.Helper()
	b := NewTestBudget(total)
	if err := repo.Create(context.Background(), b); err != nil {
		t.Fatalf("seeding budget: %v", err)
	}
	return b
}

// Amount returns a pointer to v.
func Amount(v int64) *int64 {
	return &v
}
