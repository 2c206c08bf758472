package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentUpdate indicates a conditional update lost a race against
	// another writer. Callers may retry the whole operation.
	ErrConcurrentUpdate = errors.New("concurrent update")

	// Workflow ordering violations.
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrStageNotActive       = errors.New("stage not active")
	ErrApplicationClosed    = errors.New("application closed")
	ErrApplicationNotClosed = errors.New("application not closed")

	// Resource exhaustion.
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBudgetExhausted   = errors.New("budget exhausted")

	// Policy violations.
	ErrAmountExceedsRequest        = errors.New("amount exceeds request")
	ErrAmountExceedsRecommendation = errors.New("amount exceeds recommendation")
	ErrMissingRecommendation       = errors.New("recommended amount required")
	ErrMissingReceipt              = errors.New("receipt and provider reference required")
	ErrDocumentsNotVerified        = errors.New("documents not verified")
	ErrInvalidApplication          = errors.New("invalid application")
	ErrInvalidDecision             = errors.New("invalid decision")
	ErrPaymentNotRetryable         = errors.New("payment not retryable")
	ErrBudgetBelowCommitted        = errors.New("budget total below committed funds")

	// Ledger bookkeeping.
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrReservationReleased  = errors.New("reservation already released")
	ErrReservationCommitted = errors.New("reservation already committed")

	// ErrLedgerInvariant marks a bookkeeping bug. It is never a user error.
	ErrLedgerInvariant = errors.New("ledger invariant violated")
)

// InvariantViolation describes the bucket state that broke the ledger
// invariant. It unwraps to ErrLedgerInvariant.
type InvariantViolation struct {
	Bucket    Bucket
	Total     int64
	Allocated int64
	Disbursed int64
	Operation string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("%s: %s on %s (total=%d allocated=%d disbursed=%d)",
		ErrLedgerInvariant, e.Operation, e.Bucket, e.Total, e.Allocated, e.Disbursed)
}

func (e *InvariantViolation) Unwrap() error {
	return ErrLedgerInvariant
}
