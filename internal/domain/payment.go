package domain

import (
	"fmt"
	"time"
)

// PaymentRecord is one disbursement attempt for an application. Closed
// attempts are kept for audit; a retry creates a new record.
type PaymentRecord struct {
	ID                string
	ApplicationID     string
	Attempt           int
	Method            PaymentMethod
	ReservationID     string
	Amount            int64
	Status            PaymentStatus
	CheckoutSessionID string
	CheckoutURL       string
	TransactionID     string
	ReceiptRef        string
	DisbursedBy       string
	FailureReason     string
	RetryCount        int
	SupersededBy      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
	Version           int
}

// IsTerminal reports whether the record reached completed, failed or cancelled.
func (p *PaymentRecord) IsTerminal() bool {
	return p.Status.IsTerminal()
}

// IsTerminal reports whether s is a final payment status.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentCompleted || s == PaymentFailed || s == PaymentCancelled
}

// Retryable reports whether a new attempt may follow this record.
func (p *PaymentRecord) Retryable() bool {
	return p.Status == PaymentFailed || p.Status == PaymentCancelled
}

// MarkProcessing records the provider checkout session.
func (p *PaymentRecord) MarkProcessing(sessionID, url string, now time.Time) error {
	switch p.Status {
	case PaymentProcessing:
		if p.CheckoutSessionID == sessionID {
			return nil
		}
		return fmt.Errorf("%w: payment %s already has session %s", ErrInvalidTransition, p.ID, p.CheckoutSessionID)
	case PaymentInitiated:
	default:
		return fmt.Errorf("%w: payment %s is %s", ErrInvalidTransition, p.ID, p.Status)
	}
	p.Status = PaymentProcessing
	p.CheckoutSessionID = sessionID
	p.CheckoutURL = url
	p.UpdatedAt = now
	return nil
}

// Complete marks the record paid. Completing a completed record is a no-op.
func (p *PaymentRecord) Complete(transactionID, receipt, disbursedBy string, now time.Time) (bool, error) {
	if p.Status == PaymentCompleted {
		return false, nil
	}
	if p.IsTerminal() {
		return false, fmt.Errorf("%w: payment %s is %s", ErrInvalidTransition, p.ID, p.Status)
	}
	p.Status = PaymentCompleted
	if transactionID != "" {
		p.TransactionID = transactionID
	}
	p.ReceiptRef = receipt
	p.DisbursedBy = disbursedBy
	p.UpdatedAt = now
	p.CompletedAt = &now
	return true, nil
}

// Close ends a non-terminal record as cancelled or failed. Closing an
// already-closed record with the same status is a no-op.
func (p *PaymentRecord) Close(status PaymentStatus, reason string, now time.Time) (bool, error) {
	if status != PaymentCancelled && status != PaymentFailed {
		return false, fmt.Errorf("%w: cannot close payment as %s", ErrInvalidTransition, status)
	}
	if p.Status == status {
		return false, nil
	}
	if p.IsTerminal() {
		return false, fmt.Errorf("%w: payment %s is %s", ErrInvalidTransition, p.ID, p.Status)
	}
	p.Status = status
	p.FailureReason = reason
	p.UpdatedAt = now
	p.CompletedAt = &now
	return true, nil
}
