package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twistedwarden/esm-v3-sub005/internal/config"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
	"github.com/twistedwarden/esm-v3-sub005/internal/service"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "scholarship.db")
	cfg.Reconcile.Schedule = ""
	return cfg
}

func buildApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestBuild_WiresServices(t *testing.T) {
	a := buildApp(t, testConfig(t))
	ctx := context.Background()

	_, err := a.Ledger.SetTotal(ctx, domain.Bucket{BudgetType: "merit", SchoolYear: "2025-2026"}, 100000)
	require.NoError(t, err)

	app, err := a.Workflow.Submit(ctx, service.SubmitRequest{
		StudentID:       "stu-1",
		Program:         "merit",
		SchoolYear:      "2025-2026",
		RequestedAmount: 50000,
		Actor:           domain.Actor{ID: "stu-1", Role: "student"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, app.Status)

	report, err := a.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Orphans)
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	a := buildApp(t, testConfig(t))
	h := a.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scholarship_http_requests_total")
}

func TestStartReconciler(t *testing.T) {
	cfg := testConfig(t)
	a := buildApp(t, cfg)

	stop, err := a.StartReconciler(context.Background())
	require.NoError(t, err)
	stop()

	a.Config.Reconcile.Schedule = "@every 1h"
	stop, err = a.StartReconciler(context.Background())
	require.NoError(t, err)
	stop()

	a.Config.Reconcile.Schedule = "not a schedule"
	_, err = a.StartReconciler(context.Background())
	assert.Error(t, err)
}

func TestBuild_BadRedisFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	a, err := Build(context.Background(), testConfig(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))
}
