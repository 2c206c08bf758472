package service

import (
	"context"
	"time"

	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
	"github.com/twistedwarden/esm-v3-sub005/internal/repository"
)

// SubmitRequest carries a new application. Type defaults to new.
type SubmitRequest struct {
	StudentID       string
	Program         string
	SchoolYear      string
	Type            domain.ApplicationType
	RequestedAmount int64
	Actor           domain.Actor
	Notes           string
}

type TransitionRequest struct {
	ApplicationID string
	Target        domain.ApplicationStatus
	Actor         domain.Actor
	Notes         string
}

type WorkflowService interface {
	Submit(ctx context.Context, req SubmitRequest) (*domain.Application, error)
	Transition(ctx context.Context, req TransitionRequest) (*domain.Application, error)
	Get(ctx context.Context, id string) (*domain.Application, error)
	History(ctx context.Context, id string) ([]*domain.StatusChange, error)
	List(ctx context.Context, f repository.ApplicationFilter) ([]*domain.Application, error)
	Archive(ctx context.Context, id string, actor domain.Actor) (*domain.Application, error)
}

// StageDecisionRequest is one committee decision. RecommendedAmount goes
// with a financial review approval, ApprovedAmount with a final approval.
// Cycle names the review cycle the decision belongs to; zero means the
// application's current cycle. Resending a decision with the cycle it was
// made in is a no-op.
type StageDecisionRequest struct {
	ApplicationID     string
	Stage             domain.StageName
	Decision          domain.StageStatus
	Cycle             int
	Actor             domain.Actor
	Notes             string
	RecommendedAmount *int64
	ApprovedAmount    *int64
}

type ReviewService interface {
	SubmitStageDecision(ctx context.Context, req StageDecisionRequest) (*domain.Application, error)
	Stages(ctx context.Context, applicationID string) ([]*domain.ReviewStage, error)
	Endorse(ctx context.Context, applicationID string, actor domain.Actor, notes string) (*domain.Application, error)
}

// DocumentVerifier reports whether the document service has verified every
// required document of an application.
type DocumentVerifier interface {
	DocumentsVerified(ctx context.Context, applicationID string) (bool, error)
}

// ProcessGrantRequest starts a disbursement. Method defaults to provider.
type ProcessGrantRequest struct {
	ApplicationID string
	Method        domain.PaymentMethod
	Actor         domain.Actor
}

// GrantResult is the application and payment attempt after a disbursement
// operation.
type GrantResult struct {
	Application *domain.Application
	Payment     *domain.PaymentRecord
}

type ConfirmRequest struct {
	ApplicationID string
	Method        domain.PaymentMethod
	ProviderRef   string
	Receipt       string
	Actor         domain.Actor
}

// ProviderIdentifiers locates the payment a provider callback refers to.
// The first identifier that matches a record wins, in field order.
type ProviderIdentifiers struct {
	ApplicationID string
	SessionID     string
	TransactionID string
}

type CompensationOutcome string

const (
	OutcomeCompensated   CompensationOutcome = "compensated"
	OutcomeNotApplicable CompensationOutcome = "not_applicable"
)

type CompensationResult struct {
	Outcome     CompensationOutcome
	Application *domain.Application
	Payment     *domain.PaymentRecord
}

// Orphan reasons.
const (
	OrphanPaymentPending = "payment_pending"
	OrphanNoPayment      = "no_payment"
	OrphanPaymentClosed  = "payment_closed"
)

// OrphanedReservation is a held reservation older than the reconciliation
// threshold.
type OrphanedReservation struct {
	Reservation *domain.Reservation
	Payment     *domain.PaymentRecord
	Age         time.Duration
	Reason      string
}

type ReconcileReport struct {
	CheckedAt time.Time
	Orphans   []OrphanedReservation
}

// GrantProcessor starts disbursement of an approved application.
type GrantProcessor interface {
	ProcessGrant(ctx context.Context, req ProcessGrantRequest) (*GrantResult, error)
}

type DisbursementService interface {
	GrantProcessor
	ConfirmDisbursement(ctx context.Context, req ConfirmRequest) (*GrantResult, error)
	HandleProviderSuccess(ctx context.Context, ids ProviderIdentifiers, transactionID string) (*GrantResult, error)
	HandleProviderCancel(ctx context.Context, ids ProviderIdentifiers) (*CompensationResult, error)
	HandleProviderFailure(ctx context.Context, ids ProviderIdentifiers, reason string) (*CompensationResult, error)
	RetryPayment(ctx context.Context, paymentID string, actor domain.Actor) (*GrantResult, error)
	Payments(ctx context.Context, applicationID string) ([]*domain.PaymentRecord, error)
	Reconcile(ctx context.Context, olderThan time.Duration) (*ReconcileReport, error)
}
