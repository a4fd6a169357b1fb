package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/scrape-queue/internal/job"
)

// Type distinguishes full state updates from per-job stage changes.
type Type string

// Supported event types.
const (
	TypeQueueUpdate Type = "queue_update"
	TypeProcessing  Type = "processing"
)

// Stage denotes the worker milestone carried by a processing event.
type Stage string

// Supported processing stages.
const (
	StageScraping   Stage = "scraping"
	StageConverting Stage = "converting"
	StageCompleted  Stage = "completed"
	StageError      Stage = "error"
)

// Terminal reports whether the stage ends a job attempt.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageError
}

// Event is one item of the progress stream.
type Event struct {
	// Type selects which of the fields below are populated.
	Type Type
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Version is the queue state version a queue_update was taken at.
	Version uint64
	// Snapshot is the full queue state for queue_update events.
	Snapshot *job.Snapshot

	// Job identifies the job a processing event refers to.
	Job job.Job
	// Stage is the worker milestone reached.
	Stage Stage
	// Message is a short human readable note (stderr tail, count, ...).
	Message string
	// Outcome is set on terminal processing events.
	Outcome *job.Outcome
}

// QueueUpdate builds a queue_update event from a snapshot.
func QueueUpdate(snap job.Snapshot, ts time.Time) Event {
	return Event{
		Type:     TypeQueueUpdate,
		TS:       ts,
		Version:  snap.Version,
		Snapshot: &snap,
	}
}

// Processing builds a processing event for j.
func Processing(j job.Job, stage Stage, message string, ts time.Time) Event {
	return Event{
		Type:    TypeProcessing,
		TS:      ts,
		Job:     j,
		Stage:   stage,
		Message: message,
	}
}

// WithOutcome attaches a terminal outcome to a processing event.
func (e Event) WithOutcome(o job.Outcome) Event {
	cp := o.Clone()
	e.Outcome = &cp
	return e
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case TypeQueueUpdate:
		if e.Snapshot == nil {
			return errors.New("queue update requires a snapshot")
		}
	case TypeProcessing:
		if e.Job.ID == "" {
			return errors.New("processing event requires a job id")
		}
		switch e.Stage {
		case StageScraping, StageConverting, StageCompleted, StageError:
		default:
			return fmt.Errorf("unknown stage %q", e.Stage)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}

type queueUpdatePayload struct {
	Type         Type                 `json:"type"`
	Queue        []job.Job            `json:"queue"`
	Current      []job.Job            `json:"current"`
	Results      []job.CompletedEntry `json:"results"`
	IsProcessing bool                 `json:"isProcessing"`
	Concurrency  int                  `json:"concurrency"`
	ActiveCount  int                  `json:"activeCount"`
}

type processingPayload struct {
	Type    Type   `json:"type"`
	ID      string `json:"id"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

// MarshalJSON renders the wire form observers receive.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case TypeQueueUpdate:
		var snap job.Snapshot
		if e.Snapshot != nil {
			snap = *e.Snapshot
		}
		return json.Marshal(queueUpdatePayload{
			Type:         e.Type,
			Queue:        nonNil(snap.Pending),
			Current:      nonNil(snap.Running),
			Results:      nonNil(snap.Completed),
			IsProcessing: snap.IsProcessing,
			Concurrency:  snap.Concurrency,
			ActiveCount:  snap.ActiveCount,
		})
	case TypeProcessing:
		return json.Marshal(processingPayload{
			Type:    e.Type,
			ID:      e.Job.ID,
			Stage:   e.Stage,
			Message: e.Message,
		})
	default:
		return nil, fmt.Errorf("marshal event: unknown type %q", e.Type)
	}
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
