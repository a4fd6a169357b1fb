// Package results keeps the append-only log of finished jobs.
package results

import (
	"sync"
	"time"

	"github.com/JakeFAU/scrape-queue/internal/job"
)

// Aggregator records terminal job outcomes in completion order.
type Aggregator struct {
	mu      sync.RWMutex
	clock   job.Clock
	entries []job.CompletedEntry
}

// NewAggregator constructs an empty Aggregator. A nil clock uses UTC wall time.
func NewAggregator(clock job.Clock) *Aggregator {
	return &Aggregator{clock: clock}
}

// Record appends the outcome for j and returns the stored entry.
func (a *Aggregator) Record(j job.Job, outcome job.Outcome) job.CompletedEntry {
	finished := j.Clone()
	finished.Status = outcome.Status
	entry := job.CompletedEntry{
		Job:        finished,
		Outcome:    outcome.Clone(),
		RecordedAt: a.now(),
	}
	a.mu.Lock()
	a.entries = append(a.entries, entry)
	a.mu.Unlock()
	return entry
}

// Entries returns a copy of the log.
func (a *Aggregator) Entries() []job.CompletedEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]job.CompletedEntry, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, job.CompletedEntry{
			Job:        e.Job.Clone(),
			Outcome:    e.Outcome.Clone(),
			RecordedAt: e.RecordedAt,
		})
	}
	return out
}

// View returns the log without copying it. Entries are never modified after
// Record and the view's capacity is capped, so later appends cannot reach it;
// callers must treat it as read-only.
func (a *Aggregator) View() []job.CompletedEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.entries[:len(a.entries):len(a.entries)]
}

// Len reports the number of recorded outcomes.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

func (a *Aggregator) now() time.Time {
	if a.clock == nil {
		return time.Now().UTC()
	}
	return a.clock.Now()
}
