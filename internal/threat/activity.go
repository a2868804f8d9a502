// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

package threat

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/SNU-SE/sentinel/internal/metrics"
)

// clientActivity tracks one client's recent suspicious payloads.
type clientActivity struct {
	hits     []time.Time
	lastHash uint64
	repeats  int
	lastSeen time.Time
}

// Tracker flags probing behavior: a client repeatedly submitting suspicious
// payloads inside a short interval, or resubmitting a near-identical payload.
// A single detector hit is recorded but not flagged, which separates one
// false positive from a probe sequence.
type Tracker struct {
	mu      sync.Mutex
	clients map[string]*clientActivity

	threshold int
	window    time.Duration

	// recordings counts calls since the last stale-client prune.
	recordings int

	now func() time.Time
}

// NewTracker creates a Tracker flagging clients with threshold or more
// suspicious payloads inside window.
func NewTracker(threshold int, window time.Duration) *Tracker {
	if threshold <= 0 {
		threshold = 3
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Tracker{
		clients:   make(map[string]*clientActivity),
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// SetClock overrides the tracker's time source. Intended for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// DetectSuspiciousActivity runs both detectors on input and, when one fires,
// folds the hit into the client's recent history. It returns true only when
// the history indicates probing: repeated hits inside the window, or the
// same payload submitted more than once.
func (t *Tracker) DetectSuspiciousActivity(clientID, input string) bool {
	threatType, hit := Scan(input)
	if !hit {
		return false
	}
	metrics.ThreatsDetected.WithLabelValues(string(threatType)).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.maybePrune(now)

	ca, ok := t.clients[clientID]
	if !ok {
		ca = &clientActivity{}
		t.clients[clientID] = ca
	}
	ca.lastSeen = now

	// Drop hits that fell out of the window.
	cutoff := now.Add(-t.window)
	kept := ca.hits[:0]
	for _, ts := range ca.hits {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	ca.hits = append(kept, now)

	h := payloadHash(input)
	if h == ca.lastHash {
		ca.repeats++
	} else {
		ca.lastHash = h
		ca.repeats = 1
	}

	suspicious := len(ca.hits) >= t.threshold || ca.repeats >= 2
	if suspicious {
		metrics.ThreatsDetected.WithLabelValues(string(TypeSuspicious)).Inc()
	}
	return suspicious
}

// maybePrune drops clients idle for longer than the window. Runs every 256
// recordings to keep the map bounded without a dedicated sweeper.
func (t *Tracker) maybePrune(now time.Time) {
	t.recordings++
	if t.recordings < 256 {
		return
	}
	t.recordings = 0

	cutoff := now.Add(-t.window)
	for id, ca := range t.clients {
		if ca.lastSeen.Before(cutoff) {
			delete(t.clients, id)
		}
	}
}

// TrackedClients returns the number of clients with recorded activity.
func (t *Tracker) TrackedClients() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

func payloadHash(input string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(input))
	return h.Sum64()
}
