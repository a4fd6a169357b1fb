// Package ratelimit throttles worker launches per source origin with token
// buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DelayObserver receives the time a caller spent waiting for a token.
type DelayObserver func(origin string, delay time.Duration)

// Config holds rate limiter configuration. A non-positive RatePerSecond
// disables throttling.
type Config struct {
	RatePerSecond float64
	Burst         int
	Observe       DelayObserver
}

// Limiter manages one token bucket per origin host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	observe  DelayObserver
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
		observe:  cfg.Observe,
	}
}

// Wait blocks until a launch token is available for the origin of rawURL.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	origin := originOf(rawURL)
	limiter := l.limiterFor(origin)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", origin, err)
	}
	// A token that was already available costs no measurable time.
	if delay := time.Since(start); delay > time.Millisecond && l.observe != nil {
		l.observe(origin, delay)
	}
	return nil
}

// Origins reports how many distinct origins have been throttled.
func (l *Limiter) Origins() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *Limiter) limiterFor(origin string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[origin]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[origin] = limiter
	}
	return limiter
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
