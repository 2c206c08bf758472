package httpapi

import (
	"time"

	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
	"github.com/twistedwarden/esm-v3-sub005/internal/service"
)

type applicationView struct {
	ID              string     `json:"id"`
	StudentID       string     `json:"student_id"`
	Program         string     `json:"program"`
	SchoolYear      string     `json:"school_year"`
	Type            string     `json:"type"`
	RequestedAmount int64      `json:"requested_amount"`
	ApprovedAmount  *int64     `json:"approved_amount,omitempty"`
	Status          string     `json:"status"`
	Phase           string     `json:"phase"`
	HeldFrom        string     `json:"held_from,omitempty"`
	ReviewCycle     int        `json:"review_cycle"`
	RevisionCount   int        `json:"revision_count"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	DisbursedAt     *time.Time `json:"disbursed_at,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	ArchivedAt      *time.Time `json:"archived_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Version         int        `json:"version"`
}

func toApplicationView(a *domain.Application) applicationView {
	v := applicationView{
		ID:              a.ID,
		StudentID:       a.StudentID,
		Program:         a.Program,
		SchoolYear:      a.SchoolYear,
		Type:            string(a.Type),
		RequestedAmount: a.RequestedAmount,
		ApprovedAmount:  a.ApprovedAmount,
		Status:          string(a.Status),
		Phase:           a.Status.Phase(),
		ReviewCycle:     a.ReviewCycle,
		RevisionCount:   a.RevisionCount,
		SubmittedAt:     a.SubmittedAt,
		ReviewedAt:      a.ReviewedAt,
		ApprovedAt:      a.ApprovedAt,
		DisbursedAt:     a.DisbursedAt,
		ClosedAt:        a.ClosedAt,
		ArchivedAt:      a.ArchivedAt,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
		Version:         a.Version,
	}
	if a.HeldFrom != nil {
		v.HeldFrom = string(*a.HeldFrom)
	}
	return v
}

type historyView struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	ActorID   string    `json:"actor_id"`
	ActorRole string    `json:"actor_role"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type stageView struct {
	ID                string     `json:"id"`
	Stage             string     `json:"stage"`
	Attempt           int        `json:"attempt"`
	Status            string     `json:"status"`
	ReviewerID        string     `json:"reviewer_id,omitempty"`
	RecommendedAmount *int64     `json:"recommended_amount,omitempty"`
	ApprovedAmount    *int64     `json:"approved_amount,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

type paymentView struct {
	ID                string     `json:"id"`
	ApplicationID     string     `json:"application_id"`
	Attempt           int        `json:"attempt"`
	Method            string     `json:"method"`
	ReservationID     string     `json:"reservation_id"`
	Amount            int64      `json:"amount"`
	Status            string     `json:"status"`
	CheckoutSessionID string     `json:"checkout_session_id,omitempty"`
	CheckoutURL       string     `json:"checkout_url,omitempty"`
	TransactionID     string     `json:"transaction_id,omitempty"`
	ReceiptRef        string     `json:"receipt_ref,omitempty"`
	DisbursedBy       string     `json:"disbursed_by,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	RetryCount        int        `json:"retry_count"`
	SupersededBy      string     `json:"superseded_by,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

func toPaymentView(p *domain.PaymentRecord) *paymentView {
	if p == nil {
		return nil
	}
	return &paymentView{
		ID:                p.ID,
		ApplicationID:     p.ApplicationID,
		Attempt:           p.Attempt,
		Method:            string(p.Method),
		ReservationID:     p.ReservationID,
		Amount:            p.Amount,
		Status:            string(p.Status),
		CheckoutSessionID: p.CheckoutSessionID,
		CheckoutURL:       p.CheckoutURL,
		TransactionID:     p.TransactionID,
		ReceiptRef:        p.ReceiptRef,
		DisbursedBy:       p.DisbursedBy,
		FailureReason:     p.FailureReason,
		RetryCount:        p.RetryCount,
		SupersededBy:      p.SupersededBy,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
		CompletedAt:       p.CompletedAt,
	}
}

type grantView struct {
	Application applicationView `json:"application"`
	Payment     *paymentView    `json:"payment,omitempty"`
}

func toGrantView(res *service.GrantResult) grantView {
	return grantView{
		Application: toApplicationView(res.Application),
		Payment:     toPaymentView(res.Payment),
	}
}

type compensationView struct {
	Outcome     string           `json:"outcome"`
	Application *applicationView `json:"application,omitempty"`
	Payment     *paymentView     `json:"payment,omitempty"`
}

func toCompensationView(res *service.CompensationResult) compensationView {
	v := compensationView{Outcome: string(res.Outcome), Payment: toPaymentView(res.Payment)}
	if res.Application != nil {
		app := toApplicationView(res.Application)
		v.Application = &app
	}
	return v
}

type bucketView struct {
	BudgetType string    `json:"budget_type"`
	SchoolYear string    `json:"school_year"`
	Total      int64     `json:"total_budget"`
	Allocated  int64     `json:"allocated_budget"`
	Disbursed  int64     `json:"disbursed_budget"`
	Remaining  int64     `json:"remaining_budget"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toBucketView(b *domain.BudgetAllocation) bucketView {
	return bucketView{
		BudgetType: b.BudgetType,
		SchoolYear: b.SchoolYear,
		Total:      b.TotalBudget,
		Allocated:  b.AllocatedBudget,
		Disbursed:  b.DisbursedBudget,
		Remaining:  b.Remaining(),
		UpdatedAt:  b.UpdatedAt,
	}
}
