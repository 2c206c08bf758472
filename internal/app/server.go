package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/twistedwarden/esm-v3-sub005/internal/httpapi"
)

const shutdownGrace = 10 * time.Second

// Handler returns the HTTP API with metrics and health endpoints.
func (a *App) Handler() http.Handler {
	return httpapi.New(a.Workflow, a.Review, a.Disbursement, a.Ledger,
		httpapi.WithLogger(a.Logger),
		httpapi.WithMetrics(a.Metrics.Handler(), a.Metrics.Middleware),
		httpapi.WithHealthCheck(a.DB),
		httpapi.WithWebhookSecret(a.Config.Payment.WebhookSecret),
		httpapi.WithWebhookRateLimit(a.Config.Webhooks.RatePerSecond, a.Config.Webhooks.Burst),
	).Handler()
}

// Serve runs the HTTP server and the reconciliation schedule until ctx is
// cancelled, then shuts both down.
func (a *App) Serve(ctx context.Context) error {
	stopCron, err := a.StartReconciler(ctx)
	if err != nil {
		return err
	}
	defer stopCron()

	srv := &http.Server{
		Addr:              a.Config.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
