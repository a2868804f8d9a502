// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

// Package security is the facade tying rate limiting, threat detection,
// validation, and audit logging into a single entry point.
//
// Enforcement scales with the configured security level: low and medium
// record rate-limit violations without blocking, high blocks, and critical
// additionally quarantines offending clients until their window expires.
// Validation rejections are always honored; returning tainted input is
// never acceptable at any level.
package security

import (
	"strings"
	"sync"
	"time"

	"github.com/SNU-SE/sentinel/internal/audit"
	"github.com/SNU-SE/sentinel/internal/config"
	"github.com/SNU-SE/sentinel/internal/logging"
	"github.com/SNU-SE/sentinel/internal/metrics"
	"github.com/SNU-SE/sentinel/internal/ratelimit"
	"github.com/SNU-SE/sentinel/internal/threat"
	"github.com/SNU-SE/sentinel/internal/validation"
)

// recentViolationCount is how many violations the in-memory ring keeps.
const recentViolationCount = 10

// Violation types. The specific validation code or detector verdict rides in
// the violation's Detail.
const (
	ViolationRateLimit          = "rate_limit"
	ViolationInvalidInput       = "invalid_input"
	ViolationSuspiciousActivity = "suspicious_activity"
)

// Violation is a recorded security violation.
type Violation struct {
	Type      string    `json:"type"`
	ClientID  string    `json:"client_id"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// Deps are the collaborators the facade coordinates. Any may be nil; the
// corresponding concern is then skipped.
type Deps struct {
	Limiter   *ratelimit.Limiter
	Tracker   *threat.Tracker
	Validator *validation.Validator
	Processor *audit.Processor
}

// Service coordinates the security subsystems behind one API.
type Service struct {
	cfg  config.SecurityConfig
	deps Deps

	mu         sync.Mutex
	violations []Violation
	blocked    map[string]time.Time

	now func() time.Time
}

// New creates the security facade.
func New(cfg config.SecurityConfig, deps Deps) *Service {
	return &Service{
		cfg:     cfg,
		deps:    deps,
		blocked: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the time source (for tests).
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ValidateInput validates a value for the given field kind. When input
// validation is disabled the value passes through unchanged. Suspicious
// activity by the client is tracked independently of the verdict.
func (s *Service) ValidateInput(clientID string, kind validation.Kind, value string) validation.Result {
	if !s.cfg.EnableInputValidation || s.deps.Validator == nil {
		return validation.Result{IsValid: true, SanitizedValue: value}
	}

	res := s.deps.Validator.Validate(kind, value)

	if s.deps.Tracker != nil && s.deps.Tracker.DetectSuspiciousActivity(clientID, value) {
		s.recordViolation(ViolationSuspiciousActivity, clientID, "repeated threat payloads from client")
		if s.cfg.Level == config.LevelCritical {
			s.quarantine(clientID)
		}
	}

	if !res.IsValid {
		first := res.Errors[0]
		s.recordViolation(ViolationInvalidInput, clientID, violationDetail(first))
		s.logAudit(audit.NewEvent(clientID, audit.ActionValidationRejected,
			audit.WithFailure(first.Message),
			audit.WithDetails(map[string]any{"field": first.Field, "code": first.Code, "kind": string(kind)}),
		))
	}

	return res
}

// violationDetail keeps the specific validation code alongside its message.
func violationDetail(fe validation.FieldError) string {
	return strings.ToLower(fe.Code) + ": " + fe.Message
}

// ValidateFile validates uploaded file metadata.
func (s *Service) ValidateFile(clientID string, meta validation.FileMeta) validation.Result {
	if !s.cfg.EnableInputValidation || s.deps.Validator == nil {
		return validation.Result{IsValid: true, SanitizedValue: meta.Name}
	}

	res := s.deps.Validator.ValidateFile(meta)
	if !res.IsValid {
		first := res.Errors[0]
		s.recordViolation(ViolationInvalidInput, clientID, violationDetail(first))
		s.logAudit(audit.NewEvent(clientID, audit.ActionValidationRejected,
			audit.WithResource("file", "", meta.Name),
			audit.WithFailure(first.Message),
		))
	}
	return res
}

// CheckRateLimit counts a request against clientID's window. Below the
// high security level an exceeded limit is recorded but not enforced.
func (s *Service) CheckRateLimit(clientID string) ratelimit.Result {
	if !s.cfg.EnableRateLimit || s.deps.Limiter == nil {
		return ratelimit.Result{
			Remaining: s.cfg.MaxRequests,
			ResetTime: s.now().Add(s.cfg.Window),
		}
	}

	if until, ok := s.quarantined(clientID); ok {
		return ratelimit.Result{ResetTime: until, Blocked: true}
	}

	res := s.deps.Limiter.Check(clientID)
	if !res.Blocked {
		return res
	}

	s.recordViolation(ViolationRateLimit, clientID, "request limit exceeded")
	s.logAudit(audit.NewEvent(clientID, audit.ActionRateLimitExceeded,
		audit.WithFailure("request limit exceeded"),
	))

	switch s.cfg.Level {
	case config.LevelLow, config.LevelMedium:
		// Record-only: the request proceeds.
		res.Blocked = false
	case config.LevelCritical:
		s.quarantine(clientID)
		s.logAudit(audit.NewEvent(clientID, audit.ActionClientBlocked,
			audit.WithFailure("client quarantined until window reset"),
		))
	}

	return res
}

// quarantine blocks clientID until its current window would have reset.
func (s *Service) quarantine(clientID string) {
	until := s.now().Add(s.cfg.Window)
	if s.deps.Limiter != nil {
		if reset := s.deps.Limiter.ResetTime(clientID); !reset.IsZero() {
			until = reset
		}
	}

	s.mu.Lock()
	s.blocked[clientID] = until
	n := len(s.blocked)
	s.mu.Unlock()

	metrics.BlockedClients.Set(float64(n))
	logging.Warn().Str("client", logging.SanitizeUserID(clientID)).
		Time("until", until).Msg("Client quarantined")
}

// quarantined reports whether clientID is currently blocked, expiring
// stale entries as a side effect.
func (s *Service) quarantined(clientID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.blocked[clientID]
	if !ok {
		return time.Time{}, false
	}
	if !s.now().Before(until) {
		delete(s.blocked, clientID)
		metrics.BlockedClients.Set(float64(len(s.blocked)))
		return time.Time{}, false
	}
	return until, true
}

// IsBlocked reports whether clientID is currently quarantined.
func (s *Service) IsBlocked(clientID string) bool {
	_, ok := s.quarantined(clientID)
	return ok
}

// LogEvent records an application audit event through the processor.
func (s *Service) LogEvent(userID string, action audit.Action, opts ...audit.EventOption) {
	s.logAudit(audit.NewEvent(userID, action, opts...))
}

// LogSecurityEvent records a security violation with its audit trail.
func (s *Service) LogSecurityEvent(violationType, clientID, detail string) {
	s.recordViolation(violationType, clientID, detail)
	s.logAudit(audit.NewEvent(clientID, audit.ActionThreatDetected,
		audit.WithFailure(detail),
		audit.WithDetails(map[string]any{"violation_type": violationType}),
	))
}

// RecentViolations returns the most recent violations, newest first.
func (s *Service) RecentViolations() []Violation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Violation, len(s.violations))
	for i, v := range s.violations {
		out[len(s.violations)-1-i] = v
	}
	return out
}

// recordViolation appends to the bounded ring and bumps metrics.
func (s *Service) recordViolation(violationType, clientID, detail string) {
	metrics.SecurityViolations.WithLabelValues(violationType).Inc()

	s.mu.Lock()
	s.violations = append(s.violations, Violation{
		Type:      violationType,
		ClientID:  clientID,
		Detail:    detail,
		Timestamp: s.now(),
	})
	if len(s.violations) > recentViolationCount {
		s.violations = s.violations[len(s.violations)-recentViolationCount:]
	}
	s.mu.Unlock()

	logging.Warn().
		Str("type", violationType).
		Str("client", logging.SanitizeUserID(clientID)).
		Str("detail", logging.SanitizePayload(detail)).
		Msg("Security violation recorded")
}

func (s *Service) logAudit(event *audit.Event) {
	if s.deps.Processor != nil {
		s.deps.Processor.Log(event)
	}
}
