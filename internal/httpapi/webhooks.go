package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/twistedwarden/esm-v3-sub005/internal/payment"
	"github.com/twistedwarden/esm-v3-sub005/internal/service"
)

// SignatureHeader carries the provider's HMAC of the raw webhook body.
const SignatureHeader = "X-Provider-Signature"

type webhookInput struct {
	ApplicationID string `json:"application_id"`
	SessionID     string `json:"session_id"`
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

func (in webhookInput) identifiers() service.ProviderIdentifiers {
	return service.ProviderIdentifiers{
		ApplicationID: in.ApplicationID,
		SessionID:     in.SessionID,
		TransactionID: in.TransactionID,
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: reading body: %v", errBadRequest, err))
		return
	}
	if err := payment.VerifySignature(s.webhookSecret, body, r.Header.Get(SignatureHeader)); err != nil {
		s.logger.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
		s.writeError(w, r, err)
		return
	}

	var in webhookInput
	if err := json.Unmarshal(body, &in); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err))
		return
	}
	if in.ApplicationID == "" && in.SessionID == "" && in.TransactionID == "" {
		s.writeError(w, r, fmt.Errorf("%w: one of application_id, session_id or transaction_id is required", errBadRequest))
		return
	}

	ctx := r.Context()
	switch outcome := mux.Vars(r)["outcome"]; outcome {
	case "success":
		if in.TransactionID == "" {
			s.writeError(w, r, fmt.Errorf("%w: transaction_id is required", errBadRequest))
			return
		}
		res, err := s.disbursement.HandleProviderSuccess(ctx, in.identifiers(), in.TransactionID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toGrantView(res))
	case "cancel":
		res, err := s.disbursement.HandleProviderCancel(ctx, in.identifiers())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toCompensationView(res))
	case "failure":
		res, err := s.disbursement.HandleProviderFailure(ctx, in.identifiers(), in.Reason)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toCompensationView(res))
	default:
		s.writeError(w, r, fmt.Errorf("%w: unknown outcome %q", errBadRequest, outcome))
	}
}
