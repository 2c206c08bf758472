package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twistedwarden/esm-v3-sub005/internal/db"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
	"github.com/twistedwarden/esm-v3-sub005/internal/ledger"
	"github.com/twistedwarden/esm-v3-sub005/internal/lock"
	"github.com/twistedwarden/esm-v3-sub005/internal/notify"
	"github.com/twistedwarden/esm-v3-sub005/internal/payment"
	"github.com/twistedwarden/esm-v3-sub005/internal/repository"
	"github.com/twistedwarden/esm-v3-sub005/internal/testutil"
)

var (
	reviewer = domain.Actor{ID: "rev-1", Role: "ssc_member"}
	officer  = domain.Actor{ID: "off-1", Role: "scholarship_officer"}
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Publish(e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recordingNotifier) ofKind(kind string) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fakeProvider struct {
	mu       sync.Mutex
	keys     []string
	failNext int
}

func (f *fakeProvider) CreateCheckout(_ context.Context, req payment.CheckoutRequest) (*payment.Checkout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, req.IdempotencyKey)
	if f.failNext > 0 {
		f.failNext--
		return nil, payment.ErrProviderUnavailable
	}
	return &payment.Checkout{
		SessionID: "cs_" + req.IdempotencyKey,
		URL:       "https://pay.test/" + req.IdempotencyKey,
	}, nil
}

func (f *fakeProvider) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}

// testClock is a settable clock shared by every component of a harness.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	db       *sql.DB
	uow      db.UnitOfWork
	locker   *lock.Keyed
	ledger   *ledger.Ledger
	clock    *testClock
	notifier *recordingNotifier
	provider *fakeProvider

	apps     *repository.SQLiteApplicationRepo
	history  *repository.SQLiteHistoryRepo
	stages   *repository.SQLiteReviewStageRepo
	budgets  *repository.SQLiteBudgetRepo
	payments *repository.SQLitePaymentRepo

	workflow     WorkflowService
	review       ReviewService
	disbursement DisbursementService
}

type harnessConfig struct {
	database *sql.DB
	uow      db.UnitOfWork
	opts     []Option
}

type harnessOption func(*harnessConfig)

func withDB(database *sql.DB) harnessOption {
	return func(c *harnessConfig) { c.database = database }
}

func withUoW(uow db.UnitOfWork) harnessOption {
	return func(c *harnessConfig) { c.uow = uow }
}

func withServiceOptions(opts ...Option) harnessOption {
	return func(c *harnessConfig) { c.opts = append(c.opts, opts...) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := &harnessConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.database == nil {
		cfg.database = testutil.NewTestDB(t)
	}
	if cfg.uow == nil {
		cfg.uow = testutil.NewTestUoW(cfg.database)
	}

	h := &harness{
		db:       cfg.database,
		uow:      cfg.uow,
		locker:   lock.NewKeyed(),
		clock:    &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
		provider: &fakeProvider{},
		apps:     repository.NewSQLiteApplicationRepo(cfg.database),
		history:  repository.NewSQLiteHistoryRepo(cfg.database),
		stages:   repository.NewSQLiteReviewStageRepo(cfg.database),
		budgets:  repository.NewSQLiteBudgetRepo(cfg.database),
		payments: repository.NewSQLitePaymentRepo(cfg.database),
	}
	h.ledger = ledger.New(cfg.database, cfg.uow, h.locker, ledger.WithClock(h.clock.Now))

	common := append([]Option{
		WithClock(h.clock.Now),
		WithNotifier(h.notifier),
		WithProvider(h.provider),
	}, cfg.opts...)
	h.disbursement = NewDisbursementService(cfg.database, cfg.uow, h.ledger, common...)
	h.review = NewReviewService(cfg.database, cfg.uow, h.locker, common...)
	h.workflow = NewWorkflowService(cfg.database, cfg.uow, h.locker,
		append(common, WithGrantProcessor(h.disbursement))...)
	return h
}

func (h *harness) seed(t *testing.T, opts ...testutil.ApplicationOption) *domain.Application {
	t.Helper()
	return testutil.SeedApplication(t, h.apps, opts...)
}

func (h *harness) seedBudget(t *testing.T, total int64) {
	t.Helper()
	testutil.SeedBudget(t, h.budgets, total)
}

func (h *harness) bucket(t *testing.T) *domain.BudgetAllocation {
	t.Helper()
	b, err := h.ledger.Bucket(context.Background(), domain.Bucket{
		BudgetType: testutil.DefaultProgram,
		SchoolYear: testutil.DefaultSchoolYear,
	})
	require.NoError(t, err)
	return b
}

func (h *harness) app(t *testing.T, id string) *domain.Application {
	t.Helper()
	a, err := h.apps.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (h *harness) paymentsOf(t *testing.T, id string) []*domain.PaymentRecord {
	t.Helper()
	ps, err := h.payments.ListByApplication(context.Background(), id)
	require.NoError(t, err)
	return ps
}
