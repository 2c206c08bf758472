package domain

// transitions is the static successor table. on_hold is resolved against
// the status it was held from, see Application.CanTransition.
var transitions = map[ApplicationStatus][]ApplicationStatus{
	StatusDraft:              {StatusSubmitted, StatusCancelled},
	StatusSubmitted:          {StatusDocumentsReviewed, StatusRejected, StatusOnHold, StatusCancelled},
	StatusDocumentsReviewed:  {StatusInterviewScheduled, StatusRejected, StatusOnHold, StatusCancelled},
	StatusInterviewScheduled: {StatusInterviewCompleted, StatusRejected, StatusOnHold, StatusCancelled},
	StatusInterviewCompleted: {StatusEndorsedToSSC, StatusRejected, StatusOnHold, StatusCancelled},
	StatusEndorsedToSSC:      {StatusSSCFinancialReview, StatusRejected, StatusOnHold, StatusCancelled},
	StatusSSCFinancialReview: {StatusSSCAcademicReview, StatusEndorsedToSSC, StatusRejected, StatusOnHold},
	StatusSSCAcademicReview:  {StatusSSCFinalApproval, StatusEndorsedToSSC, StatusRejected, StatusOnHold},
	StatusSSCFinalApproval:   {StatusApproved, StatusEndorsedToSSC, StatusRejected, StatusOnHold},
	StatusApproved:           {StatusGrantsProcessing, StatusOnHold, StatusCancelled},
	StatusGrantsProcessing:   {StatusGrantsDisbursed, StatusApproved},
	StatusOnHold:             {StatusRejected, StatusCancelled},
	StatusGrantsDisbursed:    nil,
	StatusRejected:           nil,
	StatusCancelled:          nil,
}

// Owner names the component allowed to drive a transition into a status.
type Owner string

const (
	OwnerWorkflow     Owner = "workflow"
	OwnerReview       Owner = "committee_review"
	OwnerDisbursement Owner = "disbursement"
)

var owners = map[ApplicationStatus]Owner{
	StatusSSCFinancialReview: OwnerReview,
	StatusSSCAcademicReview:  OwnerReview,
	StatusSSCFinalApproval:   OwnerReview,
	StatusApproved:           OwnerReview,
	StatusGrantsProcessing:   OwnerDisbursement,
	StatusGrantsDisbursed:    OwnerDisbursement,
}

// OwnerOf returns the component that drives transitions into s.
func OwnerOf(s ApplicationStatus) Owner {
	if o, ok := owners[s]; ok {
		return o
	}
	return OwnerWorkflow
}

// Valid reports whether s is a member of the closed status enumeration.
func (s ApplicationStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no transition may leave s.
func (s ApplicationStatus) IsTerminal() bool {
	return s == StatusGrantsDisbursed || s == StatusRejected || s == StatusCancelled
}

// Phase collapses the committee review sub-states into ssc_review.
func (s ApplicationStatus) Phase() string {
	switch s {
	case StatusSSCFinancialReview, StatusSSCAcademicReview, StatusSSCFinalApproval:
		return PhaseSSCReview
	}
	return string(s)
}

// Successors returns the static successor set of s. The result must not be
// modified.
func Successors(s ApplicationStatus) []ApplicationStatus {
	return transitions[s]
}

// AllStatuses lists every status in the enumeration.
func AllStatuses() []ApplicationStatus {
	out := make([]ApplicationStatus, 0, len(transitions))
	for s := range transitions {
		out = append(out, s)
	}
	return out
}

func isSuccessor(from, to ApplicationStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
