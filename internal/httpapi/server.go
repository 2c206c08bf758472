// Package httpapi exposes the scholarship services over JSON/HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
	"github.com/twistedwarden/esm-v3-sub005/internal/service"
)

// Budgets is the subset of the ledger the API needs.
type Budgets interface {
	SetTotal(ctx context.Context, bucket domain.Bucket, total int64) (*domain.BudgetAllocation, error)
	Bucket(ctx context.Context, bucket domain.Bucket) (*domain.BudgetAllocation, error)
	ListBuckets(ctx context.Context) ([]*domain.BudgetAllocation, error)
}

// Pinger reports storage health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Middleware wraps every routed handler.
type Middleware = mux.MiddlewareFunc

type Server struct {
	workflow     service.WorkflowService
	review       service.ReviewService
	disbursement service.DisbursementService
	budgets      Budgets
	health       Pinger

	logger        *slog.Logger
	metrics       http.Handler
	middleware    []Middleware
	webhookSecret string
	limiter       *rateLimiter
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics mounts h at /metrics and wraps every route with mw.
func WithMetrics(h http.Handler, mw Middleware) Option {
	return func(s *Server) {
		s.metrics = h
		if mw != nil {
			s.middleware = append(s.middleware, mw)
		}
	}
}

// WithWebhookSecret enables signature checks on provider webhooks.
func WithWebhookSecret(secret string) Option {
	return func(s *Server) { s.webhookSecret = secret }
}

// WithWebhookRateLimit limits webhook calls per remote address.
func WithWebhookRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) { s.limiter = newRateLimiter(perSecond, burst) }
}

func WithHealthCheck(p Pinger) Option {
	return func(s *Server) { s.health = p }
}

func New(
	workflow service.WorkflowService,
	review service.ReviewService,
	disbursement service.DisbursementService,
	budgets Budgets,
	opts ...Option,
) *Server {
	s := &Server{
		workflow:     workflow,
		review:       review,
		disbursement: disbursement,
		budgets:      budgets,
		logger:       slog.Default(),
		limiter:      newRateLimiter(20, 40),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	for _, mw := range s.middleware {
		r.Use(mw)
	}

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()

	apps := v1.PathPrefix("/applications").Subrouter()
	apps.HandleFunc("", s.handleSubmit).Methods(http.MethodPost)
	apps.HandleFunc("", s.handleList).Methods(http.MethodGet)
	apps.HandleFunc("/{id}", s.handleGet).Methods(http.MethodGet)
	apps.HandleFunc("/{id}/history", s.handleHistory).Methods(http.MethodGet)
	apps.HandleFunc("/{id}/transitions", s.handleTransition).Methods(http.MethodPost)
	apps.HandleFunc("/{id}/archive", s.handleArchive).Methods(http.MethodPost)
	apps.HandleFunc("/{id}/stages", s.handleStages).Methods(http.MethodGet)
	apps.HandleFunc("/{id}/stages/{stage}/decision", s.handleStageDecision).Methods(http.MethodPost)
	apps.HandleFunc("/{id}/endorse", s.handleEndorse).Methods(http.MethodPost)
	apps.HandleFunc("/{id}/grant", s.handleGrant).Methods(http.MethodPost)
	apps.HandleFunc("/{id}/disbursement/confirm", s.handleConfirm).Methods(http.MethodPost)
	apps.HandleFunc("/{id}/payments", s.handlePayments).Methods(http.MethodGet)

	v1.HandleFunc("/payments/{id}/retry", s.handleRetry).Methods(http.MethodPost)

	v1.HandleFunc("/budgets", s.handleListBuckets).Methods(http.MethodGet)
	v1.HandleFunc("/budgets/{type}/{year}", s.handleBucket).Methods(http.MethodGet)
	v1.HandleFunc("/budgets/{type}/{year}", s.handleSetTotal).Methods(http.MethodPut)

	v1.Handle("/webhooks/payments/{outcome}",
		s.limiter.Handler(http.HandlerFunc(s.handleWebhook))).Methods(http.MethodPost)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.PingContext(ctx); err != nil {
			s.logger.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// actor reads the identity the gateway attached to the request.
func actor(r *http.Request) (domain.Actor, error) {
	a := domain.Actor{
		ID:   r.Header.Get("X-Actor-ID"),
		Role: r.Header.Get("X-Actor-Role"),
	}
	if a.ID == "" {
		return domain.Actor{}, errUnauthorized
	}
	return a, nil
}
