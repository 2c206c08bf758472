package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
	"github.com/twistedwarden/esm-v3-sub005/internal/service"
)

type grantInput struct {
	Method string `json:"method"`
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in grantInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.disbursement.ProcessGrant(r.Context(), service.ProcessGrantRequest{
		ApplicationID: mux.Vars(r)["id"],
		Method:        domain.PaymentMethod(in.Method),
		Actor:         a,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGrantView(res))
}

type confirmInput struct {
	Method      string `json:"method"`
	ProviderRef string `json:"provider_ref"`
	Receipt     string `json:"receipt"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in confirmInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.disbursement.ConfirmDisbursement(r.Context(), service.ConfirmRequest{
		ApplicationID: mux.Vars(r)["id"],
		Method:        domain.PaymentMethod(in.Method),
		ProviderRef:   in.ProviderRef,
		Receipt:       in.Receipt,
		Actor:         a,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGrantView(res))
}

func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	records, err := s.disbursement.Payments(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]*paymentView, 0, len(records))
	for _, p := range records {
		out = append(out, toPaymentView(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.disbursement.RetryPayment(r.Context(), mux.Vars(r)["id"], a)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGrantView(res))
}
