// Package payment talks to the external payment provider that hosts
// scholarship checkouts.
package payment

import (
	"context"
	"fmt"
)

// CheckoutRequest asks the provider for a hosted checkout session.
// IdempotencyKey makes a repeated request return the same session.
type CheckoutRequest struct {
	IdempotencyKey string
	ApplicationID  string
	StudentID      string
	Amount         int64
	Description    string
}

// Checkout is the provider's answer to a CheckoutRequest.
type Checkout struct {
	SessionID string
	URL       string
}

// Provider creates checkout sessions.
type Provider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
}

// Manual is the provider used when no hosted checkout is configured. It
// returns a deterministic offline session so the disbursement can be
// confirmed by hand.
type Manual struct{}

func (Manual) CreateCheckout(_ context.Context, req CheckoutRequest) (*Checkout, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", ErrRejected)
	}
	return &Checkout{SessionID: "manual_" + req.IdempotencyKey}, nil
}
