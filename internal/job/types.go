// Package job defines the job record shared by the scheduler, the worker
// launcher and the event stream, plus the factory that derives jobs from
// submitted source references.
package job

import (
	"context"
	"time"
)

// Status represents the lifecycle state of a job.
type Status string

// Job status values.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions can happen from s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Segments are the positional path fields decoded from a source reference.
type Segments struct {
	Epoch       string `json:"epoch"`
	Competition string `json:"competition"`
	Region      string `json:"region"`
	Phase       string `json:"phase"`
	Round       string `json:"round"`
}

// Values returns the segments in positional order.
func (s Segments) Values() []string {
	return []string{s.Epoch, s.Competition, s.Region, s.Phase, s.Round}
}

// Job is one unit of work derived from a submitted source reference.
type Job struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	Source      string     `json:"source"`
	Label       string     `json:"label"`
	OutputName  string     `json:"outputName"`
	Segments    Segments   `json:"segments"`
	Status      Status     `json:"status"`
	SubmittedAt time.Time  `json:"submittedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
}

// Outcome is the terminal result of running a job.
type Outcome struct {
	Status         Status   `json:"status"`
	ExtractedCount *int     `json:"extractedCount,omitempty"`
	Artifacts      []string `json:"artifacts,omitempty"`
	Stage          string   `json:"stage,omitempty"`
	Error          string   `json:"error,omitempty"`
	// Stderr is the bounded tail of the failing command's stderr.
	Stderr string `json:"stderr,omitempty"`
}

// Succeeded builds a successful outcome.
func Succeeded(count *int, artifacts []string) Outcome {
	return Outcome{Status: StatusSucceeded, ExtractedCount: count, Artifacts: artifacts}
}

// Failed builds a failed outcome for the given stage.
func Failed(stage string, err error) Outcome {
	out := Outcome{Status: StatusFailed, Stage: stage}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// CompletedEntry is one record of the append-only completed log.
type CompletedEntry struct {
	Job        Job       `json:"job"`
	Outcome    Outcome   `json:"outcome"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Snapshot is a point-in-time copy of the whole queue state.
type Snapshot struct {
	Pending      []Job            `json:"pending"`
	Running      []Job            `json:"running"`
	Completed    []CompletedEntry `json:"completed"`
	IsProcessing bool             `json:"isProcessing"`
	Concurrency  int              `json:"concurrency"`
	ActiveCount  int              `json:"activeCount"`
	Version      uint64           `json:"-"`
}

// Runner executes a single job to completion. Implementations must return
// promptly once ctx is canceled.
type Runner interface {
	Run(ctx context.Context, j Job) Outcome
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher computes digests for job identity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clone returns a copy of j that shares no pointers with it.
func (j Job) Clone() Job {
	out := j
	if j.StartedAt != nil {
		started := *j.StartedAt
		out.StartedAt = &started
	}
	return out
}

// MarkRunning returns a copy of j moved to the running state at t.
func (j Job) MarkRunning(t time.Time) Job {
	out := j.Clone()
	out.Status = StatusRunning
	out.StartedAt = &t
	return out
}

// Clone returns a deep copy of o.
func (o Outcome) Clone() Outcome {
	out := o
	if o.ExtractedCount != nil {
		count := *o.ExtractedCount
		out.ExtractedCount = &count
	}
	if o.Artifacts != nil {
		out.Artifacts = append([]string(nil), o.Artifacts...)
	}
	return out
}
