package payment

import "errors"

var (
	// ErrProviderUnavailable indicates the payment provider is unreachable.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrTimeout indicates the provider call exceeded the configured timeout.
	ErrTimeout = errors.New("payment provider request timed out")

	// ErrRejected indicates the provider refused the request (4xx).
	// Rejections are not retried.
	ErrRejected = errors.New("payment provider rejected request")

	// ErrRetryExhausted indicates all retry attempts have been exhausted.
	ErrRetryExhausted = errors.New("payment provider retry attempts exhausted")

	// ErrBadSignature indicates a webhook body did not match its signature.
	ErrBadSignature = errors.New("invalid webhook signature")
)
