// Package metrics exposes Prometheus collectors for the scholarship
// engine: service use cases, ledger operations, lifecycle events and HTTP.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twistedwarden/esm-v3-sub005/internal/domain"
	"github.com/twistedwarden/esm-v3-sub005/internal/notify"
	"github.com/twistedwarden/esm-v3-sub005/internal/service"
)

const defaultNamespace = "scholarship"

// Collector owns a registry and every collector registered on it.
type Collector struct {
	registry *prometheus.Registry

	useCases        *prometheus.CounterVec
	useCaseDuration *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	ledgerOps       *prometheus.CounterVec
	invariantBreaks prometheus.Counter
	remaining       *prometheus.GaugeVec
	orphans         prometheus.Gauge
	dropped         prometheus.Counter

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector creates a Collector under namespace ("scholarship" when empty).
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = defaultNamespace
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		useCases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "use_cases_total",
			Help:      "Service use-case executions by outcome.",
		}, []string{"use_case", "success"}),
		useCaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "use_case_duration_seconds",
			Help:      "Duration of service use cases.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}, []string{"use_case"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Accepted application status transitions.",
		}, []string{"from", "to"}),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by result.",
		}, []string{"operation", "result"}),
		invariantBreaks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "invariant_violations_total",
			Help:      "Bucket invariant violations. Any non-zero value is a bug.",
		}),
		remaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "bucket_remaining",
			Help:      "Funds neither reserved nor disbursed, in minor units.",
		}, []string{"budget_type", "school_year"}),
		orphans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "disbursement",
			Name:      "orphaned_reservations",
			Help:      "Held reservations older than the threshold at the last reconciliation.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_events_total",
			Help:      "Lifecycle events dropped because the buffer was full.",
		}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "path"}),
	}
	c.registry.MustRegister(
		c.useCases,
		c.useCaseDuration,
		c.transitions,
		c.ledgerOps,
		c.invariantBreaks,
		c.remaining,
		c.orphans,
		c.dropped,
		c.httpInFlight,
		c.httpRequests,
		c.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler exposes the registered metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveUseCase implements service.UseCaseObserver.
func (c *Collector) ObserveUseCase(_ context.Context, event service.UseCaseEvent) {
	c.useCases.WithLabelValues(event.Name, strconv.FormatBool(event.Success)).Inc()
	c.useCaseDuration.WithLabelValues(event.Name).Observe(event.Duration.Seconds())
	if event.Name == "disbursement.reconcile" && event.Success {
		if n, ok := event.Fields["orphans"].(int); ok {
			c.orphans.Set(float64(n))
		}
	}
}

// LedgerOperation implements ledger.Observer.
func (c *Collector) LedgerOperation(op string, _ domain.Bucket, err error) {
	result := "ok"
	switch {
	case errors.Is(err, domain.ErrLedgerInvariant):
		result = "invariant_violation"
		c.invariantBreaks.Inc()
	case errors.Is(err, domain.ErrInsufficientFunds):
		result = "insufficient_funds"
	case err != nil:
		result = "error"
	}
	c.ledgerOps.WithLabelValues(op, result).Inc()
}

// BucketRemaining implements ledger.Observer.
func (c *Collector) BucketRemaining(bucket domain.Bucket, remaining int64) {
	c.remaining.WithLabelValues(bucket.BudgetType, bucket.SchoolYear).Set(float64(remaining))
}

// NotificationDropped counts an event the dispatcher could not buffer.
func (c *Collector) NotificationDropped(notify.Event) {
	c.dropped.Inc()
}

// Sink returns a notify.Sink that counts status transitions.
func (c *Collector) Sink() notify.Sink {
	return transitionSink{c: c}
}

type transitionSink struct {
	c *Collector
}

func (transitionSink) Name() string { return "metrics" }

func (s transitionSink) Deliver(_ context.Context, e notify.Event) error {
	if e.Kind == notify.KindTransition {
		s.c.transitions.WithLabelValues(e.From, e.To).Inc()
	}
	return nil
}

// Middleware records HTTP metrics labelled by route template.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		c.httpInFlight.Inc()
		defer c.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		method := strings.ToUpper(r.Method)
		c.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		c.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.status = code
		r.written = true
		r.ResponseWriter.WriteHeader(code)
	}
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}
