package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/scrape-queue/internal/progress"
)

// PrometheusSink exports job progress metrics via Prometheus. It owns all
// collectors for jobs started/completed/running and per-stage transitions.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	stages        *prometheus.CounterVec
	extracted     prometheus.Counter
	queueUpdates  prometheus.Counter

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrapeq_jobs_started_total",
			Help: "Total jobs whose worker process was launched.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapeq_jobs_completed_total",
			Help: "Total jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scrapeq_jobs_running",
			Help: "Current number of jobs between launch and a terminal stage.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scrapeq_job_runtime_seconds",
			Help:    "Wall time per completed job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapeq_stage_transitions_total",
			Help: "Worker stage transitions partitioned by stage.",
		}, []string{"stage"}),
		extracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrapeq_extracted_items_total",
			Help: "Items reported by successful scrapes.",
		}),
		queueUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scrapeq_queue_updates_total",
			Help: "Queue state broadcasts observed.",
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.stages,
		s.extracted,
		s.queueUpdates,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Type {
	case progress.TypeQueueUpdate:
		s.queueUpdates.Inc()
	case progress.TypeProcessing:
		s.stages.WithLabelValues(string(evt.Stage)).Inc()
		s.handleStage(evt)
	}
}

func (s *PrometheusSink) handleStage(evt progress.Event) {
	switch evt.Stage {
	case progress.StageScraping:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.Job.ID, evt.TS) {
			s.jobsRunning.Inc()
		}
		return
	case progress.StageCompleted:
		s.jobsCompleted.WithLabelValues("success").Inc()
		if evt.Outcome != nil && evt.Outcome.ExtractedCount != nil {
			s.extracted.Add(float64(*evt.Outcome.ExtractedCount))
		}
		s.finish(evt, "success")
	case progress.StageError:
		s.jobsCompleted.WithLabelValues("error").Inc()
		s.finish(evt, "error")
	}
}

func (s *PrometheusSink) finish(evt progress.Event, label string) {
	started, ok := s.tracker.complete(evt.Job.ID)
	if !ok {
		return
	}
	s.jobsRunning.Dec()
	if dur := evt.TS.Sub(started); dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]time.Time
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]time.Time)}
}

func (t *jobTracker) start(id string, ts time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = ts
	return true
}

func (t *jobTracker) complete(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	started, ok := t.running[id]
	if !ok {
		return time.Time{}, false
	}
	delete(t.running, id)
	return started, true
}
