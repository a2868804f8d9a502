// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

package security

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/SNU-SE/sentinel/internal/audit"
	"github.com/SNU-SE/sentinel/internal/config"
	"github.com/SNU-SE/sentinel/internal/ratelimit"
	"github.com/SNU-SE/sentinel/internal/threat"
	"github.com/SNU-SE/sentinel/internal/validation"
)

func testConfig(level config.SecurityLevel) config.SecurityConfig {
	cfg := config.Default().Security
	cfg.Level = level
	cfg.EnableRateLimit = true
	cfg.EnableInputValidation = true
	cfg.MaxRequests = 3
	cfg.Window = time.Minute
	return cfg
}

func newTestService(t *testing.T, level config.SecurityLevel) (*Service, *audit.MemoryStore, *audit.Processor) {
	t.Helper()

	cfg := testConfig(level)
	store := audit.NewMemoryStore(1000)
	processor := audit.NewProcessor(store, nil, audit.ProcessorConfig{BatchSize: 1000})

	svc := New(cfg, Deps{
		Limiter:   ratelimit.New(cfg.MaxRequests, cfg.Window),
		Tracker:   threat.NewTracker(cfg.SuspicionThreshold, cfg.SuspicionWindow),
		Validator: validation.New(validation.Options{}),
		Processor: processor,
	})
	return svc, store, processor
}

func flushedEvents(t *testing.T, store *audit.MemoryStore, p *audit.Processor, filter audit.QueryFilter) []audit.Event {
	t.Helper()
	p.Flush(context.Background())
	events, err := store.Query(context.Background(), filter)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	return events
}

func TestValidateInput_CleanPassesThrough(t *testing.T) {
	svc, _, _ := newTestService(t, config.LevelMedium)

	res := svc.ValidateInput("client-1", validation.KindGeneric, "hello world")
	if !res.IsValid {
		t.Fatalf("expected valid, errors: %v", res.Errors)
	}
	if res.SanitizedValue != "hello world" {
		t.Errorf("SanitizedValue = %q, want unchanged", res.SanitizedValue)
	}
	if len(svc.RecentViolations()) != 0 {
		t.Error("clean input must not record a violation")
	}
}

func TestValidateInput_RejectionRecordsViolationAndAudit(t *testing.T) {
	svc, store, p := newTestService(t, config.LevelMedium)

	res := svc.ValidateInput("client-1", validation.KindGeneric, "<script>alert(1)</script>")
	if res.IsValid {
		t.Fatal("expected rejection")
	}

	violations := svc.RecentViolations()
	if len(violations) == 0 {
		t.Fatal("expected a recorded violation")
	}
	if violations[0].ClientID != "client-1" {
		t.Errorf("ClientID = %q", violations[0].ClientID)
	}
	if violations[0].Type != ViolationInvalidInput {
		t.Errorf("Type = %q, want %q", violations[0].Type, ViolationInvalidInput)
	}
	if !strings.Contains(violations[0].Detail, "xss_attempt") {
		t.Errorf("Detail = %q, want the validation code carried in the detail", violations[0].Detail)
	}

	events := flushedEvents(t, store, p, audit.QueryFilter{
		Actions: []audit.Action{audit.ActionValidationRejected},
	})
	if len(events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(events))
	}
	if events[0].Success {
		t.Error("validation rejection event must be a failure")
	}
}

func TestValidateInput_DisabledIsPermissive(t *testing.T) {
	cfg := testConfig(config.LevelHigh)
	cfg.EnableInputValidation = false
	svc := New(cfg, Deps{Validator: validation.New(validation.Options{})})

	res := svc.ValidateInput("client-1", validation.KindGeneric, "<script>alert(1)</script>")
	if !res.IsValid {
		t.Error("disabled validation must pass everything through")
	}
}

func TestCheckRateLimit_MediumRecordsWithoutBlocking(t *testing.T) {
	svc, store, p := newTestService(t, config.LevelMedium)

	var last ratelimit.Result
	for i := 0; i < 5; i++ {
		last = svc.CheckRateLimit("client-1")
	}

	if last.Blocked {
		t.Error("medium level must not enforce the limit")
	}
	violations := svc.RecentViolations()
	if len(violations) == 0 {
		t.Fatal("exceeding the limit must still record violations")
	}
	if violations[0].Type != ViolationRateLimit {
		t.Errorf("Type = %q, want %q", violations[0].Type, ViolationRateLimit)
	}

	events := flushedEvents(t, store, p, audit.QueryFilter{
		Actions: []audit.Action{audit.ActionRateLimitExceeded},
	})
	if len(events) != 2 {
		t.Errorf("rate limit audit events = %d, want 2", len(events))
	}
}

func TestCheckRateLimit_HighBlocks(t *testing.T) {
	svc, _, _ := newTestService(t, config.LevelHigh)

	var last ratelimit.Result
	for i := 0; i < 4; i++ {
		last = svc.CheckRateLimit("client-1")
	}
	if !last.Blocked {
		t.Error("high level must enforce the limit")
	}
	if svc.IsBlocked("client-1") {
		t.Error("high level must not quarantine")
	}
}

func TestCheckRateLimit_CriticalQuarantines(t *testing.T) {
	base := time.Unix(1756500000, 0)
	now := base
	clock := func() time.Time { return now }

	cfg := testConfig(config.LevelCritical)
	store := audit.NewMemoryStore(1000)
	p := audit.NewProcessor(store, nil, audit.ProcessorConfig{BatchSize: 1000})
	svc := New(cfg, Deps{
		Limiter:   ratelimit.New(cfg.MaxRequests, cfg.Window, ratelimit.WithClock(clock)),
		Processor: p,
	})
	svc.SetClock(clock)

	for i := 0; i < 4; i++ {
		svc.CheckRateLimit("client-1")
	}
	if !svc.IsBlocked("client-1") {
		t.Fatal("critical level must quarantine the client")
	}

	// Quarantined clients are rejected without touching the limiter.
	res := svc.CheckRateLimit("client-1")
	if !res.Blocked {
		t.Error("quarantined client must stay blocked")
	}

	// Other clients are unaffected.
	if svc.IsBlocked("client-2") {
		t.Error("quarantine must be per-client")
	}

	// Quarantine expires with the window.
	now = base.Add(2 * time.Minute)
	if svc.IsBlocked("client-1") {
		t.Error("quarantine must expire after the window")
	}

	events := flushedEvents(t, store, p, audit.QueryFilter{
		Actions: []audit.Action{audit.ActionClientBlocked},
	})
	if len(events) == 0 {
		t.Error("expected a client_blocked audit event")
	}
}

func TestValidateInput_CriticalQuarantinesSuspiciousClient(t *testing.T) {
	base := time.Unix(1756500000, 0)
	now := base
	clock := func() time.Time { return now }

	cfg := testConfig(config.LevelCritical)
	svc := New(cfg, Deps{
		Limiter:   ratelimit.New(cfg.MaxRequests, cfg.Window, ratelimit.WithClock(clock)),
		Tracker:   threat.NewTracker(cfg.SuspicionThreshold, cfg.SuspicionWindow),
		Validator: validation.New(validation.Options{}),
	})
	svc.SetClock(clock)

	// The repeated payload trips the tracker. The limiter has never seen
	// this client, so the quarantine falls back to now+window.
	payload := "<script>alert(1)</script>"
	svc.ValidateInput("client-7", validation.KindGeneric, payload)
	svc.ValidateInput("client-7", validation.KindGeneric, payload)

	if !svc.IsBlocked("client-7") {
		t.Fatal("critical level must quarantine a client flagged as suspicious")
	}

	if res := svc.CheckRateLimit("client-7"); !res.Blocked {
		t.Error("quarantined client must be rejected by rate limit checks")
	}

	now = base.Add(cfg.Window + time.Second)
	if svc.IsBlocked("client-7") {
		t.Error("quarantine must expire after the window")
	}
}

func TestCheckRateLimit_DisabledIsPermissive(t *testing.T) {
	cfg := testConfig(config.LevelCritical)
	cfg.EnableRateLimit = false
	svc := New(cfg, Deps{Limiter: ratelimit.New(1, time.Minute)})

	for i := 0; i < 10; i++ {
		if res := svc.CheckRateLimit("client-1"); res.Blocked {
			t.Fatal("disabled rate limiting must never block")
		}
	}
}

func TestLogSecurityEvent(t *testing.T) {
	svc, store, p := newTestService(t, config.LevelMedium)

	svc.LogSecurityEvent(ViolationSuspiciousActivity, "client-9", "script tag in comment")

	violations := svc.RecentViolations()
	if len(violations) != 1 || violations[0].Type != ViolationSuspiciousActivity {
		t.Fatalf("violations = %+v", violations)
	}

	events := flushedEvents(t, store, p, audit.QueryFilter{SecurityOnly: true})
	if len(events) != 1 {
		t.Fatalf("security audit events = %d, want 1", len(events))
	}
}

func TestRecentViolations_BoundedNewestFirst(t *testing.T) {
	svc, _, _ := newTestService(t, config.LevelMedium)

	for i := 0; i < 15; i++ {
		svc.LogSecurityEvent(ViolationSuspiciousActivity, fmt.Sprintf("client-%d", i), "detail")
	}

	violations := svc.RecentViolations()
	if len(violations) != recentViolationCount {
		t.Fatalf("violations = %d, want %d", len(violations), recentViolationCount)
	}
	if violations[0].ClientID != "client-14" {
		t.Errorf("newest first: got %q, want client-14", violations[0].ClientID)
	}
	if violations[len(violations)-1].ClientID != "client-5" {
		t.Errorf("oldest kept: got %q, want client-5", violations[len(violations)-1].ClientID)
	}
}
