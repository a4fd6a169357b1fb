// Package system provides clock implementations for the job engine.
package system

import (
	"sync"
	"time"
)

// Clock implements job.Clock using the wall clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a settable clock for tests and replays. Every call to Now
// advances it by Step so that successive timestamps stay ordered.
type Manual struct {
	mu   sync.Mutex
	now  time.Time
	Step time.Duration
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now returns the current manual time and advances it by Step.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now
	m.now = m.now.Add(m.Step)
	return now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
}
