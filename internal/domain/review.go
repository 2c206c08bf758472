package domain

import (
	"fmt"
	"time"
)

// ReviewStage is one committee decision row. Rows are append-only: a new
// review cycle writes new rows instead of rewriting old ones.
type ReviewStage struct {
	ID                string
	ApplicationID     string
	Stage             StageName
	Attempt           int
	Status            StageStatus
	ReviewerID        string
	RecommendedAmount *int64
	ApprovedAmount    *int64
	Notes             string
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

// StagePayload carries the inputs a stage policy validates on approval.
type StagePayload struct {
	RequestedAmount int64

	// Supplied with a financial review decision.
	RecommendedAmount *int64

	// Latest financial recommendation in the current cycle, looked up for
	// final approval.
	PriorRecommendation *int64

	// Supplied with a final approval decision.
	ApprovedAmount *int64

	DocumentsVerified bool
}

type stagePolicy struct {
	entry    ApplicationStatus
	next     ApplicationStatus
	validate func(p StagePayload) error
}

var stagePolicies = map[StageName]stagePolicy{
	StageDocumentVerification: {
		entry:    StatusEndorsedToSSC,
		next:     StatusSSCFinancialReview,
		validate: validateDocuments,
	},
	StageFinancialReview: {
		entry:    StatusSSCFinancialReview,
		next:     StatusSSCAcademicReview,
		validate: validateRecommendation,
	},
	StageAcademicReview: {
		entry: StatusSSCAcademicReview,
		next:  StatusSSCFinalApproval,
	},
	StageFinalApproval: {
		entry:    StatusSSCFinalApproval,
		next:     StatusApproved,
		validate: validateApprovedAmount,
	},
}

// Valid reports whether s names a committee stage.
func (s StageName) Valid() bool {
	_, ok := stagePolicies[s]
	return ok
}

// EntryStatus is the application status at which a decision for s is
// accepted.
func (s StageName) EntryStatus() ApplicationStatus {
	return stagePolicies[s].entry
}

// NextStatus is the status an approval of s advances the application to.
func (s StageName) NextStatus() ApplicationStatus {
	return stagePolicies[s].next
}

// ValidDecision reports whether d is a decision a reviewer may submit.
func ValidDecision(d StageStatus) bool {
	return d == StageApproved || d == StageRejected || d == StageNeedsRevision
}

// Outcome returns the status a decision on stage s leads to.
func Outcome(s StageName, d StageStatus) ApplicationStatus {
	switch d {
	case StageApproved:
		return s.NextStatus()
	case StageRejected:
		return StatusRejected
	default:
		return StatusEndorsedToSSC
	}
}

// ValidateApproval runs the stage-specific payload checks for an approval.
func ValidateApproval(s StageName, p StagePayload) error {
	policy, ok := stagePolicies[s]
	if !ok {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidDecision, s)
	}
	if policy.validate == nil {
		return nil
	}
	return policy.validate(p)
}

func validateDocuments(p StagePayload) error {
	if !p.DocumentsVerified {
		return ErrDocumentsNotVerified
	}
	return nil
}

func validateRecommendation(p StagePayload) error {
	if p.RecommendedAmount == nil || *p.RecommendedAmount <= 0 {
		return ErrMissingRecommendation
	}
	if *p.RecommendedAmount > p.RequestedAmount {
		return fmt.Errorf("%w: recommended %d, requested %d",
			ErrAmountExceedsRequest, *p.RecommendedAmount, p.RequestedAmount)
	}
	return nil
}

func validateApprovedAmount(p StagePayload) error {
	if p.ApprovedAmount == nil || *p.ApprovedAmount <= 0 {
		return fmt.Errorf("%w: approved amount must be positive", ErrInvalidDecision)
	}
	approved := *p.ApprovedAmount
	if approved > p.RequestedAmount {
		return fmt.Errorf("%w: approved %d, requested %d", ErrAmountExceedsRequest, approved, p.RequestedAmount)
	}
	if p.PriorRecommendation == nil {
		return ErrMissingRecommendation
	}
	if approved > *p.PriorRecommendation {
		return fmt.Errorf("%w: approved %d, recommended %d",
			ErrAmountExceedsRecommendation, approved, *p.PriorRecommendation)
	}
	return nil
}
