// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

// Package ratelimit implements a fixed-window per-client request counter.
//
// The limiter counts per fixed window, not sliding-window or token-bucket.
// A burst straddling a window boundary can admit up to twice the configured
// maximum within the burst's span.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/SNU-SE/sentinel/internal/logging"
	"github.com/SNU-SE/sentinel/internal/metrics"
)

// Result is the outcome of a single rate limit check.
type Result struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetTime is when the current window ends and the count resets.
	ResetTime time.Time `json:"reset_time"`

	// Blocked reports whether this request exceeded the window's limit.
	Blocked bool `json:"blocked"`
}

// record tracks one client's window state.
type record struct {
	windowStart time.Time
	count       int
}

// Limiter is a fixed-window rate limiter keyed by client identifier.
// All methods are safe for concurrent use. Check never fails: an unknown
// client is treated as a fresh one, and a disabled limiter admits everything.
type Limiter struct {
	mu      sync.Mutex
	records map[string]*record

	maxRequests int
	window      time.Duration
	enabled     bool

	sweepInterval time.Duration

	// now is replaceable for tests.
	now func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSweepInterval overrides how often expired records are swept.
func WithSweepInterval(interval time.Duration) Option {
	return func(l *Limiter) { l.sweepInterval = interval }
}

// Disabled makes every check report a permissive default.
func Disabled() Option {
	return func(l *Limiter) { l.enabled = false }
}

// New creates a Limiter admitting maxRequests per window per client.
func New(maxRequests int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		records:       make(map[string]*record),
		maxRequests:   maxRequests,
		window:        window,
		enabled:       true,
		sweepInterval: time.Minute,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check counts one request for clientID and reports whether it is admitted.
func (l *Limiter) Check(clientID string) Result {
	if !l.enabled {
		return Result{Remaining: l.maxRequests, ResetTime: l.now().Add(l.window), Blocked: false}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	rec, ok := l.records[clientID]
	if !ok || now.Sub(rec.windowStart) >= l.window {
		rec = &record{windowStart: now}
		l.records[clientID] = rec
	}

	rec.count++
	blocked := rec.count > l.maxRequests

	remaining := l.maxRequests - rec.count
	if remaining < 0 {
		remaining = 0
	}

	metrics.RecordRateLimitCheck(blocked)
	return Result{
		Remaining: remaining,
		ResetTime: rec.windowStart.Add(l.window),
		Blocked:   blocked,
	}
}

// ResetTime returns when clientID's current window ends. A client without a
// record returns the zero time.
func (l *Limiter) ResetTime(clientID string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[clientID]
	if !ok {
		return time.Time{}
	}
	return rec.windowStart.Add(l.window)
}

// ActiveClients returns the number of tracked records.
func (l *Limiter) ActiveClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Sweep removes records whose window has expired. A record still inside its
// active window is never removed. Returns the number of records dropped.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, rec := range l.records {
		if now.Sub(rec.windowStart) >= l.window {
			delete(l.records, id)
			removed++
		}
	}

	metrics.RateLimitActiveClients.Set(float64(len(l.records)))
	return removed
}

// Serve runs the periodic sweep until the context is canceled.
// It implements suture.Service.
func (l *Limiter) Serve(ctx context.Context) error {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := l.Sweep(); removed > 0 {
				logging.Debug().Int("removed", removed).Msg("rate limit sweep")
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (l *Limiter) String() string {
	return "ratelimit-sweeper"
}
