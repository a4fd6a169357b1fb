package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrHubClosed is returned by Subscribe once Close has begun.
var ErrHubClosed = errors.New("progress hub closed")

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 4096).
//   - ObserverBuffer: per-observer stream capacity (default 256).
//   - MaxBatchEvents: flush once this many events queue (default 1000).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize     int
	ObserverBuffer int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultObserverBuffer = 256
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub fans Events out to observers and batches them for registered sinks. It
// is safe for concurrent use by multiple goroutines and never blocks callers.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	subCh  chan subscribeRequest
	unsub  chan *Subscription
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	// owned by run
	observers map[uint64]*Subscription
	sinkCh    chan Event

	nextID           atomic.Uint64
	dropLimiter      rateLimiter
	observerLimiter  rateLimiter
	dropped          atomic.Int64
	droppedTotal     atomic.Int64
	observerDrops    atomic.Int64
	observerReported atomic.Int64
	observerCount    atomic.Int64
	closed           atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

type subscribeRequest struct {
	sub    *Subscription
	source SnapshotSource
	ready  chan struct{}
}

// NewHub initializes a Hub and starts its background goroutines using the
// supplied sinks. The returned Hub is immediately ready to accept events.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.ObserverBuffer <= 0 {
		cfg.ObserverBuffer = defaultObserverBuffer
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:             cfg,
		sinks:           append([]Sink(nil), sinks...),
		events:          make(chan Event, cfg.BufferSize),
		subCh:           make(chan subscribeRequest),
		unsub:           make(chan *Subscription),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
		logger:          logger,
		observers:       make(map[uint64]*Subscription),
		sinkCh:          make(chan Event, cfg.BufferSize),
		dropLimiter:     rateLimiter{interval: dropLogInterval},
		observerLimiter: rateLimiter{interval: dropLogInterval},
	}
	sinksDone := make(chan struct{})
	go h.runSinks(sinksDone)
	go h.run(sinksDone)
	return h
}

// Emit enqueues an Event for delivery. It never blocks; if the buffer is full
// the event is dropped and a rate-limited warning is logged.
func (h *Hub) Emit(evt Event) {
	if h == nil {
		return
	}
	if h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.droppedTotal.Add(1)
		h.dropped.Add(1)
		if h.dropLimiter.Allow(time.Now()) {
			count := h.dropped.Swap(0)
			h.logger.Warn("progress events dropped due to backpressure", zap.Int64("dropped", count))
		}
	}
}

// Subscribe registers a new observer. The returned stream starts with one
// queue_update built from source, followed by every event emitted after that
// snapshot was taken. queue_update events older than the snapshot are skipped.
// The subscription ends when ctx is canceled, Close is called, or the hub
// shuts down; the stream channel is closed in every case.
func (h *Hub) Subscribe(ctx context.Context, source SnapshotSource) (*Subscription, error) {
	if source == nil {
		return nil, errors.New("snapshot source is required")
	}
	if h.closed.Load() {
		return nil, ErrHubClosed
	}
	sub := &Subscription{
		id:     h.nextID.Add(1),
		hub:    h,
		events: make(chan Event, h.cfg.ObserverBuffer),
	}
	req := subscribeRequest{sub: sub, source: source, ready: make(chan struct{})}
	select {
	case h.subCh <- req:
	case <-h.stopCh:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, fmt.Errorf("subscribe: %w", ctx.Err())
	}
	select {
	case <-req.ready:
	case <-h.doneCh:
		return nil, ErrHubClosed
	}
	sub.mu.Lock()
	sub.stopWatch = context.AfterFunc(ctx, sub.Close)
	sub.mu.Unlock()
	return sub, nil
}

// Observers reports the number of registered observers.
func (h *Hub) Observers() int {
	return int(h.observerCount.Load())
}

// ObserverDrops reports the total number of events lost to slow observers.
func (h *Hub) ObserverDrops() int64 {
	return h.observerDrops.Load()
}

// BufferDrops reports the total number of events dropped on Emit.
func (h *Hub) BufferDrops() int64 {
	return h.droppedTotal.Load()
}

// Close drains remaining events, flushes sinks, closes every observer stream,
// and blocks until the background goroutines exit. It is safe to call
// multiple times; subsequent calls are ignored once shutdown begins.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run(sinksDone <-chan struct{}) {
	defer close(h.doneCh)
	for {
		select {
		case evt := <-h.events:
			h.dispatch(evt)
		case req := <-h.subCh:
			h.register(req)
		case sub := <-h.unsub:
			h.unregister(sub)
		case <-h.stopCh:
			h.drain()
			for _, sub := range h.observers {
				h.unregister(sub)
			}
			close(h.sinkCh)
			<-sinksDone
			return
		}
	}
}

func (h *Hub) drain() {
	for {
		select {
		case evt := <-h.events:
			h.dispatch(evt)
		default:
			return
		}
	}
}

func (h *Hub) register(req subscribeRequest) {
	snap := req.source.Snapshot()
	sub := req.sub
	sub.minVersion = snap.Version
	sub.events <- QueueUpdate(snap, time.Now().UTC())
	h.observers[sub.id] = sub
	h.observerCount.Store(int64(len(h.observers)))
	close(req.ready)
}

func (h *Hub) unregister(sub *Subscription) {
	if _, ok := h.observers[sub.id]; !ok {
		return
	}
	delete(h.observers, sub.id)
	h.observerCount.Store(int64(len(h.observers)))
	close(sub.events)
}

func (h *Hub) dispatch(evt Event) {
	for _, sub := range h.observers {
		if evt.Type == TypeQueueUpdate && evt.Version <= sub.minVersion {
			continue
		}
		select {
		case sub.events <- evt:
		default:
			sub.dropped.Add(1)
			h.observerDrops.Add(1)
			if h.observerLimiter.Allow(time.Now()) {
				total := h.observerDrops.Load()
				h.logger.Warn("observer delivery failed",
					zap.Uint64("observer", sub.id),
					zap.Int64("dropped", total-h.observerReported.Swap(total)),
				)
			}
		}
	}
	select {
	case h.sinkCh <- evt:
	default:
		h.droppedTotal.Add(1)
		if h.dropLimiter.Allow(time.Now()) {
			h.logger.Warn("progress sink buffer full, dropping event", zap.String("type", string(evt.Type)))
		}
	}
}

func (h *Hub) runSinks(done chan<- struct{}) {
	defer close(done)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	timerActive := false
	for {
		select {
		case evt, ok := <-h.sinkCh:
			if !ok {
				h.stopTimer(timer, &timerActive)
				h.flush(batch)
				h.closeSinks()
				return
			}
			batch = h.enqueueEvent(batch, evt, timer, &timerActive)
		case <-timer.C:
			timerActive = false
			if len(batch) > 0 {
				h.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (h *Hub) enqueueEvent(batch []Event, evt Event, timer *time.Timer, timerActive *bool) []Event {
	batch = append(batch, evt)
	if len(batch) >= h.cfg.MaxBatchEvents {
		h.flush(batch)
		batch = batch[:0]
		h.stopTimer(timer, timerActive)
	} else if !*timerActive {
		timer.Reset(h.cfg.MaxBatchWait)
		*timerActive = true
	}
	return batch
}

func (h *Hub) stopTimer(timer *time.Timer, timerActive *bool) {
	if !*timerActive {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	*timerActive = false
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	copyBatch := append([]Event(nil), batch...)
	baseCtx := h.cfg.BaseContext
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(baseCtx, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, copyBatch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

// Subscription is one observer's view of the stream.
type Subscription struct {
	id         uint64
	hub        *Hub
	events     chan Event
	minVersion uint64
	dropped    atomic.Int64

	mu        sync.Mutex
	stopWatch func() bool
	closeOnce sync.Once
}

// Events returns the observer stream. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Dropped reports how many events this observer lost because its buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close ends the subscription. It is safe to call multiple times.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		stop := s.stopWatch
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		select {
		case s.hub.unsub <- s:
		case <-s.hub.doneCh:
		}
	})
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
