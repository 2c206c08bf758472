package domain

type ApplicationStatus string

const (
	StatusDraft              ApplicationStatus = "draft"
	StatusSubmitted          ApplicationStatus = "submitted"
	StatusDocumentsReviewed  ApplicationStatus = "documents_reviewed"
	StatusInterviewScheduled ApplicationStatus = "interview_scheduled"
	StatusInterviewCompleted ApplicationStatus = "interview_completed"
	StatusEndorsedToSSC      ApplicationStatus = "endorsed_to_ssc"

	// The committee review composite state, one sub-state per stage entry.
	StatusSSCFinancialReview ApplicationStatus = "ssc_financial_review"
	StatusSSCAcademicReview  ApplicationStatus = "ssc_academic_review"
	StatusSSCFinalApproval   ApplicationStatus = "ssc_final_approval"

	StatusApproved         ApplicationStatus = "approved"
	StatusGrantsProcessing ApplicationStatus = "grants_processing"
	StatusGrantsDisbursed  ApplicationStatus = "grants_disbursed"
	StatusRejected         ApplicationStatus = "rejected"
	StatusOnHold           ApplicationStatus = "on_hold"
	StatusCancelled        ApplicationStatus = "cancelled"
)

// PhaseSSCReview is the composite phase reported for all committee
// review sub-states.
const PhaseSSCReview = "ssc_review"

type ApplicationType string

const (
	ApplicationNew     ApplicationType = "new"
	ApplicationRenewal ApplicationType = "renewal"
)

type StageName string

const (
	StageDocumentVerification StageName = "document_verification"
	StageFinancialReview      StageName = "financial_review"
	StageAcademicReview       StageName = "academic_review"
	StageFinalApproval        StageName = "final_approval"
)

// StageOrder is the fixed order in which committee stages execute.
var StageOrder = []StageName{
	StageDocumentVerification,
	StageFinancialReview,
	StageAcademicReview,
	StageFinalApproval,
}

type StageStatus string

const (
	StagePending       StageStatus = "pending"
	StageApproved      StageStatus = "approved"
	StageRejected      StageStatus = "rejected"
	StageNeedsRevision StageStatus = "needs_revision"
)

type PaymentStatus string

const (
	PaymentInitiated  PaymentStatus = "initiated"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
)

type PaymentMethod string

const (
	MethodProvider     PaymentMethod = "provider"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCheck        PaymentMethod = "check"
	MethodCash         PaymentMethod = "cash"
)

// ValidPaymentMethods is the canonical set of accepted disbursement methods.
var ValidPaymentMethods = map[PaymentMethod]bool{
	MethodProvider: true, MethodBankTransfer: true, MethodCheck: true, MethodCash: true,
}

type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)
