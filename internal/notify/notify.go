// Package notify delivers lifecycle events to audit and notification sinks.
// Publishing never blocks the caller and delivery failures never reach it.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event kinds.
const (
	KindTransition = "application.transition"
	KindSubmitted  = "application.submitted"
	KindArchived   = "application.archived"
	KindStage      = "review.stage_decision"
	KindPayment    = "payment.updated"
	KindOrphan     = "reconciliation.orphaned_reservation"
)

// Event is a transport-agnostic record of something that happened to an
// application.
type Event struct {
	Kind          string         `json:"kind"`
	ApplicationID string         `json:"application_id"`
	From          string         `json:"from,omitempty"`
	To            string         `json:"to,omitempty"`
	ActorID       string         `json:"actor_id,omitempty"`
	ActorRole     string         `json:"actor_role,omitempty"`
	Notes         string         `json:"notes,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// Notifier accepts events for asynchronous delivery.
type Notifier interface {
	Publish(e Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

// Sink delivers one event somewhere.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

// Dispatcher buffers events and fans them out to every sink from a single
// worker goroutine. A full buffer drops the event.
type Dispatcher struct {
	events  chan Event
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration
	onDrop  func(Event)

	dropped atomic.Int64
	closed  atomic.Bool
	mu      sync.RWMutex
	done    chan struct{}
}

type Option func(*Dispatcher)

func WithBuffer(n int) Option {
	return func(d *Dispatcher) { d.events = make(chan Event, n) }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithDeliveryTimeout bounds each sink call.
func WithDeliveryTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithDropHook is called for every event dropped on a full buffer.
func WithDropHook(fn func(Event)) Option {
	return func(d *Dispatcher) { d.onDrop = fn }
}

func NewDispatcher(sinks []Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		events:  make(chan Event, 256),
		sinks:   sinks,
		logger:  slog.Default(),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

func (d *Dispatcher) Publish(e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed.Load() {
		d.drop(e)
		return
	}
	select {
	case d.events <- e:
	default:
		d.drop(e)
	}
}

func (d *Dispatcher) drop(e Event) {
	d.dropped.Add(1)
	d.logger.Warn("notification dropped", "kind", e.Kind, "application_id", e.ApplicationID)
	if d.onDrop != nil {
		d.onDrop(e)
	}
}

// Dropped reports how many events were discarded.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting events and waits until the buffer drains or ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed.Swap(true) {
		close(d.events)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.events {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			if err := s.Deliver(ctx, e); err != nil {
				d.logger.Error("notification delivery failed",
					"sink", s.Name(),
					"kind", e.Kind,
					"application_id", e.ApplicationID,
					"error", err,
				)
			}
			cancel()
		}
	}
}
