package domain

import (
	"fmt"
	"strings"
	"time"
)

// Application is a scholarship application. It is mutated only through
// ApplyTransition and is never physically deleted.
type Application struct {
	ID              string
	StudentID       string
	Program         string // budget type
	SchoolYear      string
	Type            ApplicationType
	RequestedAmount int64
	ApprovedAmount  *int64
	Status          ApplicationStatus
	HeldFrom        *ApplicationStatus

	// Committee review bookkeeping
	ReviewCycle   int
	RevisionCount int

	SubmittedAt *time.Time
	ReviewedAt  *time.Time
	ApprovedAt  *time.Time
	DisbursedAt *time.Time
	ClosedAt    *time.Time
	ArchivedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int
}

// Validate checks the fields supplied at submission.
func (a *Application) Validate() error {
	var problems []string
	if strings.TrimSpace(a.StudentID) == "" {
		problems = append(problems, "student id is required")
	}
	if strings.TrimSpace(a.Program) == "" {
		problems = append(problems, "program is required")
	}
	if strings.TrimSpace(a.SchoolYear) == "" {
		problems = append(problems, "school year is required")
	}
	if a.Type != ApplicationNew && a.Type != ApplicationRenewal {
		problems = append(problems, fmt.Sprintf("type %q must be new or renewal", a.Type))
	}
	if a.RequestedAmount <= 0 {
		problems = append(problems, "requested amount must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidApplication, strings.Join(problems, "; "))
	}
	return nil
}

// Bucket returns the budget bucket funding this application.
func (a *Application) Bucket() Bucket {
	return Bucket{BudgetType: a.Program, SchoolYear: a.SchoolYear}
}

// IsClosed reports whether the application reached a terminal status.
func (a *Application) IsClosed() bool {
	return a.Status.IsTerminal()
}

// CanTransition reports whether to is an allowed successor of the current
// status. An on_hold application may only resume to the status it was held
// from, or be closed.
func (a *Application) CanTransition(to ApplicationStatus) bool {
	if a.Status == StatusOnHold && a.HeldFrom != nil && *a.HeldFrom == to {
		return true
	}
	return isSuccessor(a.Status, to)
}

// ApplyTransition moves the application to the target status. Applying the
// current status again is a no-op and reports changed=false.
func (a *Application) ApplyTransition(to ApplicationStatus, now time.Time) (bool, error) {
	if to == a.Status {
		return false, nil
	}
	if a.IsClosed() {
		return false, fmt.Errorf("%w: application %s is %s", ErrApplicationClosed, a.ID, a.Status)
	}
	if !to.Valid() || !a.CanTransition(to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}

	from := a.Status
	switch {
	case to == StatusOnHold:
		a.HeldFrom = &from
	case from == StatusOnHold:
		a.HeldFrom = nil
	}

	a.Status = to
	a.UpdatedAt = now
	switch to {
	case StatusSubmitted:
		a.SubmittedAt = &now
	case StatusDocumentsReviewed:
		a.ReviewedAt = &now
	case StatusApproved:
		if a.ApprovedAt == nil {
			a.ApprovedAt = &now
		}
	case StatusGrantsDisbursed:
		a.DisbursedAt = &now
	}
	if to.IsTerminal() {
		a.ClosedAt = &now
	}
	return true, nil
}

// StatusChange is one row of the application's transition history.
type StatusChange struct {
	ID            string
	ApplicationID string
	From          ApplicationStatus
	To            ApplicationStatus
	ActorID       string
	ActorRole     string
	Notes         string
	CreatedAt     time.Time
}
