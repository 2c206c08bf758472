package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/twistedwarden/esm-v3-sub005/internal/service"
)

// Reconcile runs one orphaned-reservation sweep with the configured
// threshold.
func (a *App) Reconcile(ctx context.Context) (*service.ReconcileReport, error) {
	return a.Disbursement.Reconcile(ctx, a.Config.Reconcile.OlderThan)
}

// StartReconciler schedules Reconcile on the configured cron spec. Overlapping
// runs are skipped. The returned function stops the schedule and waits for
// a running sweep. An empty schedule starts nothing.
func (a *App) StartReconciler(ctx context.Context) (stop func(), err error) {
	spec := a.Config.Reconcile.Schedule
	if spec == "" {
		return func() {}, nil
	}
	logger := cronLogger{a.Logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() {
		report, err := a.Reconcile(ctx)
		if err != nil {
			a.Logger.Error("scheduled reconciliation failed", "error", err)
			return
		}
		a.Logger.Info("scheduled reconciliation complete", "orphans", len(report.Orphans))
	}); err != nil {
		return nil, fmt.Errorf("scheduling reconciliation %q: %w", spec, err)
	}
	c.Start()
	a.Logger.Info("reconciliation scheduled", "schedule", spec, "older_than", a.Config.Reconcile.OlderThan)
	return func() { <-c.Stop().Done() }, nil
}

// cronLogger adapts slog to cron.Logger. Cron's own info chatter goes to
// debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
