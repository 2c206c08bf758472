// Package app wires configuration into a running scholarship engine:
// storage, locks, ledger, services, notifications and metrics.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twistedwarden/esm-v3-sub005/internal/config"
	"github.com/twistedwarden/esm-v3-sub005/internal/db"
	"github.com/twistedwarden/esm-v3-sub005/internal/docs"
	"github.com/twistedwarden/esm-v3-sub005/internal/ledger"
	"github.com/twistedwarden/esm-v3-sub005/internal/lock"
	"github.com/twistedwarden/esm-v3-sub005/internal/metrics"
	"github.com/twistedwarden/esm-v3-sub005/internal/notify"
	"github.com/twistedwarden/esm-v3-sub005/internal/payment"
	"github.com/twistedwarden/esm-v3-sub005/internal/service"
)

// App is the assembled engine. Close releases everything Build opened.
type App struct {
	Config  config.Config
	Logger  *slog.Logger
	DB      *sql.DB
	Ledger  *ledger.Ledger
	Metrics *metrics.Collector

	Workflow     service.WorkflowService
	Review       service.ReviewService
	Disbursement service.DisbursementService

	dispatcher *notify.Dispatcher
	closers    []func(context.Context) error
}

// Build opens storage and wires every component from cfg.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.NewCollector("")}

	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.DB = database
	a.closers = append(a.closers, func(context.Context) error { return database.Close() })

	locker, err := a.buildLocker(ctx)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	a.dispatcher = notify.NewDispatcher(a.sinks(),
		notify.WithBuffer(cfg.Notify.Buffer),
		notify.WithLogger(logger),
		notify.WithDeliveryTimeout(time.Duration(cfg.Notify.TimeoutMs)*time.Millisecond),
		notify.WithDropHook(a.Metrics.NotificationDropped),
	)
	// Drain notifications before the database closes.
	a.closers = append([]func(context.Context) error{a.dispatcher.Close}, a.closers...)

	uow := db.NewSQLiteUnitOfWork(database)
	a.Ledger = ledger.New(database, uow, locker,
		ledger.WithLogger(logger),
		ledger.WithObserver(a.Metrics),
	)

	common := []service.Option{
		service.WithLogger(logger),
		service.WithObservers(service.NewLogUseCaseObserver(logger), a.Metrics),
		service.WithNotifier(a.dispatcher),
		service.WithRevisionLimit(cfg.RevisionLimit),
		service.WithProvider(a.provider()),
		service.WithDocumentVerifier(a.verifier()),
	}
	a.Disbursement = service.NewDisbursementService(database, uow, a.Ledger, common...)
	a.Review = service.NewReviewService(database, uow, locker, common...)
	a.Workflow = service.NewWorkflowService(database, uow, locker,
		append(common, service.WithGrantProcessor(a.Disbursement))...)

	if err := a.publishBudgetGauges(ctx); err != nil {
		logger.Warn("initial budget gauges unavailable", "error", err)
	}
	return a, nil
}

func (a *App) buildLocker(ctx context.Context) (lock.Locker, error) {
	if a.Config.Redis.Addr == "" {
		return lock.NewKeyed(), nil
	}
	r, err := lock.DialRedis(ctx, a.Config.Redis.Addr, a.Config.Redis.Password,
		lock.WithTTL(a.Config.Redis.LockTTL),
		lock.WithLogger(a.Logger),
	)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return r.Close() })
	a.Logger.Info("using redis locks", "addr", a.Config.Redis.Addr)
	return r, nil
}

func (a *App) sinks() []notify.Sink {
	sinks := []notify.Sink{notify.LogSink{Logger: a.Logger}, a.Metrics.Sink()}
	if url := a.Config.Notify.WebhookURL; url != "" {
		sinks = append(sinks, notify.NewWebhookSink(url, time.Duration(a.Config.Notify.TimeoutMs)*time.Millisecond))
	}
	return sinks
}

func (a *App) provider() payment.Provider {
	if !a.Config.Payment.Enabled {
		return payment.Manual{}
	}
	return payment.NewHTTPProvider(a.Config.Payment, payment.NewLogObserver(a.Logger))
}

func (a *App) verifier() service.DocumentVerifier {
	if a.Config.Docs.Endpoint == "" {
		return docs.Static{Verified: true}
	}
	return docs.NewClient(a.Config.Docs.Endpoint, a.Config.Docs.Token,
		time.Duration(a.Config.Docs.TimeoutMs)*time.Millisecond)
}

// publishBudgetGauges seeds the remaining-funds gauges at startup; after
// that the ledger keeps them current.
func (a *App) publishBudgetGauges(ctx context.Context) error {
	buckets, err := a.Ledger.ListBuckets(ctx)
	if err != nil {
		return err
	}
	for _, b := range buckets {
		a.Metrics.BucketRemaining(b.Bucket, b.Remaining())
	}
	return nil
}

// Close shuts components down in order and returns every error.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, c := range a.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
