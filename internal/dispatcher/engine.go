// Package dispatcher owns the queue state and admits pending jobs to the
// worker launcher under a runtime-adjustable concurrency ceiling.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-queue/internal/job"
	"github.com/JakeFAU/scrape-queue/internal/progress"
	"github.com/JakeFAU/scrape-queue/internal/queue/memory"
	"github.com/JakeFAU/scrape-queue/internal/results"
)

// Concurrency bounds.
const (
	MinConcurrency     = 1
	MaxConcurrency     = 10
	DefaultConcurrency = 3
)

var (
	// ErrAlreadyProcessing is returned by Start while a run is active.
	ErrAlreadyProcessing = errors.New("already processing")
	// ErrEmptyQueue is returned by Start when nothing is pending.
	ErrEmptyQueue = errors.New("queue is empty")
	// ErrClosed is returned once the engine has been closed.
	ErrClosed = errors.New("engine closed")
)

// Describer turns a raw source reference into a pending job.
type Describer interface {
	Describe(rawRef string) (job.Job, error)
}

// Config wires an Engine.
type Config struct {
	Concurrency int
	Clock       job.Clock
	Logger      *zap.Logger
}

// Stats is a cheap count-only view of the queue state.
type Stats struct {
	Pending     int
	Running     int
	Completed   int
	Concurrency int
	Processing  bool
}

// Engine is the single owner of the pending queue, the running set and the
// completed log. Every mutation happens under mu and is followed, still under
// mu, by a queue_update event, so observers see changes in mutation order.
type Engine struct {
	describer Describer
	runner    job.Runner
	emitter   progress.Emitter
	results   *results.Aggregator
	clock     job.Clock
	logger    *zap.Logger

	mu         sync.Mutex
	pending    *memory.Queue
	running    map[string]job.Job
	order      []string
	index      map[string]string
	ceiling    int
	version    uint64
	processing bool
	closed     bool
	current    *run
	idle       chan struct{}
}

// run is one Idle -> Processing -> Idle cycle. Jobs launched by a run report
// back through it so completions from a stopped run can be recognized.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	wg     sync.WaitGroup
}

// New constructs an idle Engine.
func New(cfg Config, describer Describer, runner job.Runner, emitter progress.Emitter, agg *results.Aggregator) (*Engine, error) {
	if describer == nil {
		return nil, errors.New("describer is required")
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if agg == nil {
		agg = results.NewAggregator(cfg.Clock)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ceiling := cfg.Concurrency
	if ceiling == 0 {
		ceiling = DefaultConcurrency
	}
	idle := make(chan struct{})
	close(idle)
	return &Engine{
		describer: describer,
		runner:    runner,
		emitter:   emitter,
		results:   agg,
		clock:     cfg.Clock,
		logger:    logger.Named("dispatcher"),
		pending:   memory.NewQueue(64),
		running:   make(map[string]job.Job),
		index:     make(map[string]string),
		ceiling:   ClampConcurrency(ceiling),
		idle:      idle,
	}, nil
}

// ClampConcurrency bounds n to [MinConcurrency, MaxConcurrency].
func ClampConcurrency(n int) int {
	if n < MinConcurrency {
		return MinConcurrency
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// Enqueue describes each reference and appends the valid, previously unseen
// ones to the pending queue in order. Invalid references and duplicates
// (against pending, running, completed, and earlier entries of the same batch)
// are dropped silently. It never starts processing.
func (e *Engine) Enqueue(refs []string) []job.Job {
	described := make([]job.Job, 0, len(refs))
	for _, ref := range refs {
		j, err := e.describer.Describe(ref)
		if err != nil {
			e.logger.Debug("reference rejected", zap.String("source", ref), zap.Error(err))
			continue
		}
		described = append(described, j)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	accepted := make([]job.Job, 0, len(described))
	for _, j := range described {
		if _, dup := e.index[j.Key]; dup {
			continue
		}
		e.index[j.Key] = j.ID
		e.pending.Enqueue(j)
		accepted = append(accepted, j.Clone())
	}
	if len(accepted) == 0 {
		return accepted
	}
	e.logger.Info("jobs enqueued", zap.Int("accepted", len(accepted)), zap.Int("submitted", len(refs)))
	e.changedLocked()
	if e.current != nil {
		e.current.signal()
	}
	return accepted
}

// Start switches the engine to processing and launches the admission loop.
// ctx supplies values for the run; its cancellation does not stop the run.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if e.processing {
		return ErrAlreadyProcessing
	}
	if e.pending.Len() == 0 {
		return ErrEmptyQueue
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{ctx: runCtx, cancel: cancel, wake: make(chan struct{}, 1)}
	e.current = r
	e.processing = true
	e.idle = make(chan struct{})
	e.logger.Info("processing started", zap.Int("pending", e.pending.Len()), zap.Int("concurrency", e.ceiling))
	e.changedLocked()
	r.wg.Add(1)
	go e.loop(r)
	return nil
}

// Stop cancels every running job, keeps pending jobs, and returns to idle.
// It blocks until the stopped jobs have released their resources. Stop is a
// no-op when the engine is already idle.
func (e *Engine) Stop() {
	_ = e.stop(context.Background())
}

func (e *Engine) stop(ctx context.Context) error {
	e.mu.Lock()
	r := e.current
	if r == nil {
		e.mu.Unlock()
		return nil
	}
	e.haltLocked(r)
	e.changedLocked()
	e.mu.Unlock()
	return waitGroup(ctx, &r.wg)
}

// Clear discards every pending job. If a run is active it is stopped as well.
func (e *Engine) Clear() {
	e.mu.Lock()
	dropped := e.pending.Drain()
	for _, j := range dropped {
		delete(e.index, j.Key)
	}
	r := e.current
	if r != nil {
		e.haltLocked(r)
	}
	e.logger.Info("queue cleared", zap.Int("dropped", len(dropped)))
	e.changedLocked()
	e.mu.Unlock()
	if r != nil {
		_ = waitGroup(context.Background(), &r.wg)
	}
}

// SetConcurrency clamps and stores a new ceiling and returns it. Running jobs
// are never preempted; the new ceiling applies to the next admission.
func (e *Engine) SetConcurrency(n int) int {
	n = ClampConcurrency(n)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ceiling = n
	e.changedLocked()
	if e.current != nil {
		e.current.signal()
	}
	return n
}

// Snapshot returns a copy of the whole queue state.
func (e *Engine) Snapshot() job.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Stats returns queue counts without copying jobs.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Pending:     e.pending.Len(),
		Running:     len(e.running),
		Completed:   e.results.Len(),
		Concurrency: e.ceiling,
		Processing:  e.processing,
	}
}

// Wait blocks until the engine is idle or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	idle := e.idle
	e.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for idle: %w", ctx.Err())
	}
}

// Close stops any active run and rejects further work. It waits for stopped
// jobs until ctx is done.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return e.stop(ctx)
}

func (e *Engine) loop(r *run) {
	defer r.wg.Done()
	for {
		e.mu.Lock()
		if e.current != r {
			e.mu.Unlock()
			return
		}
		e.admitLocked(r)
		if e.pending.Len() == 0 && len(e.running) == 0 {
			e.haltLocked(r)
			e.logger.Info("processing finished", zap.Int("completed", e.results.Len()))
			e.changedLocked()
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		select {
		case <-r.wake:
		case <-r.ctx.Done():
			return
		}
	}
}

func (e *Engine) admitLocked(r *run) {
	admitted := 0
	for len(e.running) < e.ceiling {
		j, ok := e.pending.Dequeue()
		if !ok {
			break
		}
		j = j.MarkRunning(e.now())
		e.running[j.ID] = j
		e.order = append(e.order, j.ID)
		admitted++
		r.wg.Add(1)
		go e.execute(r, j)
	}
	if admitted > 0 {
		e.changedLocked()
	}
}

func (e *Engine) execute(r *run, j job.Job) {
	defer r.wg.Done()
	outcome := e.runJob(r.ctx, j)
	e.complete(r, j, outcome)
}

func (e *Engine) runJob(ctx context.Context, j job.Job) (outcome job.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("runner panicked", zap.String("job_id", j.ID), zap.Any("panic", rec))
			outcome = job.Failed("runner", fmt.Errorf("runner panic: %v", rec))
		}
	}()
	return e.runner.Run(ctx, j)
}

func (e *Engine) complete(r *run, j job.Job, outcome job.Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != r {
		e.logger.Debug("discarding outcome from stopped run", zap.String("job_id", j.ID))
		return
	}
	e.removeRunningLocked(j.ID)
	e.results.Record(j, outcome)
	if outcome.Status == job.StatusFailed {
		e.logger.Warn("job failed",
			zap.String("job_id", j.ID),
			zap.String("source", j.Source),
			zap.String("stage", outcome.Stage),
			zap.String("error", outcome.Error),
		)
	}
	e.changedLocked()
	r.signal()
}

// haltLocked ends run r: cancels its jobs, forgets them (their keys may be
// submitted again) and returns the engine to idle.
func (e *Engine) haltLocked(r *run) {
	r.cancel()
	for _, id := range e.order {
		if j, ok := e.running[id]; ok {
			delete(e.index, j.Key)
		}
	}
	if len(e.running) > 0 {
		e.logger.Info("processing stopped", zap.Int("killed", len(e.running)), zap.Int("pending", e.pending.Len()))
	}
	e.running = make(map[string]job.Job)
	e.order = nil
	e.current = nil
	e.processing = false
	close(e.idle)
}

func (e *Engine) removeRunningLocked(id string) {
	delete(e.running, id)
	for i, rid := range e.order {
		if rid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			return
		}
	}
}

func (e *Engine) changedLocked() {
	e.version++
	// Events share the append-only completed log so each change costs
	// O(pending+running) instead of copying every finished job.
	e.emitter.Emit(progress.QueueUpdate(e.stateLocked(e.results.View()), e.now()))
}

func (e *Engine) snapshotLocked() job.Snapshot {
	return e.stateLocked(e.results.Entries())
}

func (e *Engine) stateLocked(completed []job.CompletedEntry) job.Snapshot {
	running := make([]job.Job, 0, len(e.order))
	for _, id := range e.order {
		running = append(running, e.running[id].Clone())
	}
	return job.Snapshot{
		Pending:      e.pending.Items(),
		Running:      running,
		Completed:    completed,
		IsProcessing: e.processing,
		Concurrency:  e.ceiling,
		ActiveCount:  len(running),
		Version:      e.version,
	}
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now().UTC()
	}
	return e.clock.Now()
}

func (r *run) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for workers: %w", ctx.Err())
	}
}
