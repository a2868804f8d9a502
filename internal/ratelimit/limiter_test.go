// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fakeClock provides a controllable time source for window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCheck_BlocksAfterMaxRequests(t *testing.T) {
	clock := newFakeClock()
	l := New(3, time.Second, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		if res := l.Check("c1"); res.Blocked {
			t.Fatalf("call %d blocked, want admitted", i+1)
		}
	}

	res := l.Check("c1")
	if !res.Blocked {
		t.Error("call 4 admitted, want blocked")
	}
	if res.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", res.Remaining)
	}
}

func TestCheck_WindowScenario(t *testing.T) {
	// Client c1 with (maxRequests=3, window=1000ms): calls at t=0,100,200ms
	// admitted, t=300ms blocked, t=1100ms admitted again with a fresh window.
	clock := newFakeClock()
	l := New(3, time.Second, WithClock(clock.Now))
	start := clock.Now()

	steps := []struct {
		at      time.Duration
		blocked bool
	}{
		{0, false},
		{100 * time.Millisecond, false},
		{200 * time.Millisecond, false},
		{300 * time.Millisecond, true},
		{1100 * time.Millisecond, false},
	}

	for _, step := range steps {
		clock.mu.Lock()
		clock.now = start.Add(step.at)
		clock.mu.Unlock()

		res := l.Check("c1")
		if res.Blocked != step.blocked {
			t.Errorf("t=%s: blocked = %v, want %v", step.at, res.Blocked, step.blocked)
		}
	}
}

func TestCheck_WindowRolloverResetsCount(t *testing.T) {
	clock := newFakeClock()
	l := New(2, time.Second, WithClock(clock.Now))

	l.Check("c1")
	l.Check("c1")
	if res := l.Check("c1"); !res.Blocked {
		t.Fatal("expected block at limit")
	}

	clock.Advance(time.Second)

	res := l.Check("c1")
	if res.Blocked {
		t.Error("post-rollover call blocked, want admitted")
	}
	if res.Remaining != 1 {
		t.Errorf("post-rollover remaining = %d, want 1 (count reset to 1)", res.Remaining)
	}
}

func TestCheck_ResetTime(t *testing.T) {
	clock := newFakeClock()
	l := New(5, time.Minute, WithClock(clock.Now))

	start := clock.Now()
	res := l.Check("c1")
	if !res.ResetTime.Equal(start.Add(time.Minute)) {
		t.Errorf("resetTime = %s, want windowStart+window = %s", res.ResetTime, start.Add(time.Minute))
	}
	if !l.ResetTime("c1").Equal(start.Add(time.Minute)) {
		t.Errorf("ResetTime(c1) = %s, want %s", l.ResetTime("c1"), start.Add(time.Minute))
	}
	if !l.ResetTime("unknown").IsZero() {
		t.Errorf("ResetTime for untracked client = %s, want zero", l.ResetTime("unknown"))
	}
}

func TestCheck_ClientsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := New(1, time.Minute, WithClock(clock.Now))

	l.Check("c1")
	if res := l.Check("c1"); !res.Blocked {
		t.Error("c1 second call admitted, want blocked")
	}
	if res := l.Check("c2"); res.Blocked {
		t.Error("c2 first call blocked, want admitted")
	}
}

func TestCheck_Disabled(t *testing.T) {
	l := New(1, time.Minute, Disabled())

	for i := 0; i < 10; i++ {
		if res := l.Check("c1"); res.Blocked {
			t.Fatal("disabled limiter blocked a request")
		}
	}
}

func TestSweep_RemovesOnlyExpiredRecords(t *testing.T) {
	clock := newFakeClock()
	l := New(10, time.Second, WithClock(clock.Now))

	l.Check("old")
	clock.Advance(700 * time.Millisecond)
	l.Check("fresh")

	clock.Advance(400 * time.Millisecond) // "old" at 1.1s, "fresh" at 0.4s

	removed := l.Sweep()
	if removed != 1 {
		t.Errorf("sweep removed %d records, want 1", removed)
	}
	if l.ActiveClients() != 1 {
		t.Errorf("active clients = %d, want 1", l.ActiveClients())
	}

	// A fresh record inside its active window must survive any sweep.
	if res := l.Check("fresh"); res.Remaining != 8 {
		t.Errorf("fresh client remaining = %d, want 8 (count preserved)", res.Remaining)
	}
}

func TestCheck_ConcurrentCounts(t *testing.T) {
	l := New(1000, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Check("shared")
			}
		}()
	}
	wg.Wait()

	res := l.Check("shared")
	if res.Remaining != 1000-501 {
		t.Errorf("remaining = %d after 501 concurrent checks, want %d", res.Remaining, 1000-501)
	}
}
