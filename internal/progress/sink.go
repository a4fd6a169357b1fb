package progress

import (
	"context"

	"github.com/JakeFAU/scrape-queue/internal/job"
)

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// scheduler and workers remain agnostic about how events are delivered.
type Emitter interface {
	Emit(evt Event)
}

// SnapshotSource provides the state an observer starts from.
type SnapshotSource interface {
	Snapshot() job.Snapshot
}

// SnapshotFunc adapts a function to SnapshotSource.
type SnapshotFunc func() job.Snapshot

// Snapshot calls f.
func (f SnapshotFunc) Snapshot() job.Snapshot { return f() }

// NopEmitter discards every event.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(Event) {}
