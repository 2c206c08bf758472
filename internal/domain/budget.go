package domain

import (
	"fmt"
	"time"
)

// Bucket identifies the (budget type, school year) pair funds are tracked under.
type Bucket struct {
	BudgetType string
	SchoolYear string
}

func (b Bucket) String() string {
	return b.BudgetType + "/" + b.SchoolYear
}

// BudgetAllocation holds the running totals of one bucket. Amounts are in
// minor currency units.
type BudgetAllocation struct {
	Bucket
	TotalBudget     int64
	AllocatedBudget int64 // reserved, not yet disbursed
	DisbursedBudget int64
	UpdatedAt       time.Time
	Version         int
}

// Remaining is the amount neither reserved nor disbursed.
func (b *BudgetAllocation) Remaining() int64 {
	return b.TotalBudget - b.AllocatedBudget - b.DisbursedBudget
}

// CheckInvariant verifies allocated >= 0, disbursed >= 0 and
// allocated + disbursed <= total.
func (b *BudgetAllocation) CheckInvariant(op string) error {
	if b.AllocatedBudget < 0 || b.DisbursedBudget < 0 ||
		b.AllocatedBudget+b.DisbursedBudget > b.TotalBudget {
		return &InvariantViolation{
			Bucket:    b.Bucket,
			Total:     b.TotalBudget,
			Allocated: b.AllocatedBudget,
			Disbursed: b.DisbursedBudget,
			Operation: op,
		}
	}
	return nil
}

// Reserve moves amount from remaining into allocated.
func (b *BudgetAllocation) Reserve(amount int64, now time.Time) error {
	if amount <= 0 {
		return fmt.Errorf("%w: reservation amount must be positive", ErrInvalidDecision)
	}
	if amount > b.Remaining() {
		return fmt.Errorf("%w: bucket %s has %d remaining, %d requested",
			ErrInsufficientFunds, b.Bucket, b.Remaining(), amount)
	}
	b.AllocatedBudget += amount
	b.UpdatedAt = now
	return b.CheckInvariant("reserve")
}

// Commit moves amount from allocated into disbursed.
func (b *BudgetAllocation) Commit(amount int64, now time.Time) error {
	b.AllocatedBudget -= amount
	b.DisbursedBudget += amount
	b.UpdatedAt = now
	return b.CheckInvariant("commit")
}

// Release returns amount from allocated to remaining.
func (b *BudgetAllocation) Release(amount int64, now time.Time) error {
	b.AllocatedBudget -= amount
	b.UpdatedAt = now
	return b.CheckInvariant("release")
}

// SetTotal replaces the bucket total. The new total may not drop below the
// funds already reserved or disbursed.
func (b *BudgetAllocation) SetTotal(total int64, now time.Time) error {
	if total < b.AllocatedBudget+b.DisbursedBudget {
		return fmt.Errorf("%w: total %d < allocated %d + disbursed %d",
			ErrBudgetBelowCommitted, total, b.AllocatedBudget, b.DisbursedBudget)
	}
	b.TotalBudget = total
	b.UpdatedAt = now
	return b.CheckInvariant("set_total")
}

// Reservation is a provisional hold on bucket funds pending a disbursement
// outcome. Every held reservation ends in exactly one commit or release.
type Reservation struct {
	ID            string
	Bucket        Bucket
	ApplicationID string
	Amount        int64
	Status        ReservationStatus
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}
