package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/twistedwarden/esm-v3-sub005/internal/docs"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
	"github.com/twistedwarden/esm-v3-sub005/internal/payment"
)

const maxBodyBytes = 1 << 20

var (
	errBadRequest   = errors.New("bad request")
	errUnauthorized = errors.New("unauthorized")
	errRateLimited  = errors.New("rate limit exceeded")
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

// statusFor maps an error to its HTTP status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, "rate_limited"

	case errors.Is(err, domain.ErrLedgerInvariant):
		return http.StatusInternalServerError, "ledger_invariant"

	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrPaymentNotFound):
		return http.StatusNotFound, "not_found"

	case errors.Is(err, domain.ErrConcurrentUpdate):
		return http.StatusConflict, "concurrent_update"
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrStageNotActive),
		errors.Is(err, domain.ErrApplicationClosed),
		errors.Is(err, domain.ErrApplicationNotClosed):
		return http.StatusConflict, "invalid_state"

	case errors.Is(err, domain.ErrBudgetExhausted), errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "budget_exhausted"
	case errors.Is(err, domain.ErrAmountExceedsRequest),
		errors.Is(err, domain.ErrAmountExceedsRecommendation),
		errors.Is(err, domain.ErrMissingRecommendation),
		errors.Is(err, domain.ErrMissingReceipt),
		errors.Is(err, domain.ErrDocumentsNotVerified),
		errors.Is(err, domain.ErrInvalidApplication),
		errors.Is(err, domain.ErrInvalidDecision),
		errors.Is(err, domain.ErrPaymentNotRetryable),
		errors.Is(err, domain.ErrBudgetBelowCommitted):
		return http.StatusUnprocessableEntity, "policy_violation"

	case errors.Is(err, payment.ErrBadSignature):
		return http.StatusUnauthorized, "bad_signature"
	case errors.Is(err, payment.ErrRejected),
		errors.Is(err, payment.ErrProviderUnavailable),
		errors.Is(err, payment.ErrTimeout),
		errors.Is(err, payment.ErrRetryExhausted):
		return http.StatusBadGateway, "provider_error"
	case errors.Is(err, docs.ErrUnavailable):
		return http.StatusServiceUnavailable, "documents_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
		if code == "internal" || code == "ledger_invariant" {
			msg = http.StatusText(status)
		}
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

