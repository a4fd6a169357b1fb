// Package metrics exposes the service's Prometheus collectors: HTTP traffic,
// submissions, launch throttling, and gauges read live from the engine and hub.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/scrape-queue/internal/dispatcher"
)

// EngineStats is the read side of the scheduler.
type EngineStats interface {
	Stats() dispatcher.Stats
}

// HubStats is the read side of the event broadcaster.
type HubStats interface {
	Observers() int
	ObserverDrops() int64
	BufferDrops() int64
}

// Metrics owns a registry and the service-level collectors.
type Metrics struct {
	reg *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	submissions    *prometheus.CounterVec
	rateLimitDelay *prometheus.HistogramVec
}

// New builds a registry with Go and process collectors plus the service collectors.
func New() (*Metrics, error) {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapeq_submissions_total",
			Help: "Submitted references, labeled by whether they were queued.",
		}, []string{"result"}),
		rateLimitDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scrapeq_rate_limit_delay_seconds",
			Help:    "Time launches spent waiting on the per-origin throttle.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"origin"}),
	}
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.submissions,
		m.rateLimitDelay,
	} {
		if err := m.reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Registry exposes the registry so other components can add collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// RegisterEngine exports queue depth and scheduler state, read at scrape time.
func (m *Metrics) RegisterEngine(src EngineStats) error {
	gauge := func(name, help string, read func(dispatcher.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return read(src.Stats())
		})
	}
	return m.register(
		gauge("scrapeq_queue_pending", "Jobs waiting in the pending queue.",
			func(s dispatcher.Stats) float64 { return float64(s.Pending) }),
		gauge("scrapeq_queue_running", "Jobs currently holding a worker slot.",
			func(s dispatcher.Stats) float64 { return float64(s.Running) }),
		gauge("scrapeq_queue_completed", "Entries in the completed results log.",
			func(s dispatcher.Stats) float64 { return float64(s.Completed) }),
		gauge("scrapeq_concurrency_limit", "Configured worker concurrency.",
			func(s dispatcher.Stats) float64 { return float64(s.Concurrency) }),
		gauge("scrapeq_processing", "1 while a processing run is active.",
			func(s dispatcher.Stats) float64 {
				if s.Processing {
					return 1
				}
				return 0
			}),
	)
}

// RegisterHub exports observer counts and delivery drops.
func (m *Metrics) RegisterHub(src HubStats) error {
	return m.register(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "scrapeq_observers",
			Help: "Connected progress observers.",
		}, func() float64 { return float64(src.Observers()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "scrapeq_observer_drops_total",
			Help: "Events dropped for observers that fell behind.",
		}, func() float64 { return float64(src.ObserverDrops()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "scrapeq_event_buffer_drops_total",
			Help: "Events dropped because the hub buffer was full.",
		}, func() float64 { return float64(src.BufferDrops()) }),
	)
}

func (m *Metrics) register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := m.reg.Register(c); err != nil {
			return fmt.Errorf("register collector: %w", err)
		}
	}
	return nil
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSubmission records how many of the submitted references were queued.
func (m *Metrics) ObserveSubmission(submitted, accepted int) {
	m.submissions.WithLabelValues("accepted").Add(float64(accepted))
	if skipped := submitted - accepted; skipped > 0 {
		m.submissions.WithLabelValues("skipped").Add(float64(skipped))
	}
}

// ObserveRateLimitDelay records a throttle wait; it matches ratelimit.DelayObserver.
func (m *Metrics) ObserveRateLimitDelay(origin string, delay time.Duration) {
	m.rateLimitDelay.WithLabelValues(origin).Observe(delay.Seconds())
}
