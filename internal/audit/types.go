// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Action categorizes audit events by the operation performed.
type Action string

const (
	// Document events
	ActionDocumentCreated  Action = "document.created"
	ActionDocumentViewed   Action = "document.viewed"
	ActionDocumentUpdated  Action = "document.updated"
	ActionDocumentDeleted  Action = "document.deleted"
	ActionDocumentUploaded Action = "document.uploaded"

	// Folder events
	ActionFolderCreated Action = "folder.created"
	ActionFolderRenamed Action = "folder.renamed"
	ActionFolderDeleted Action = "folder.deleted"

	// Permission events
	ActionPermissionGranted Action = "permission.granted"
	ActionPermissionRevoked Action = "permission.revoked"

	// Chat and search events
	ActionChatMessage   Action = "chat.message"
	ActionSearchPerform Action = "search.perform"

	// User events
	ActionUserLogin  Action = "user.login"
	ActionUserLogout Action = "user.logout"

	// System events
	ActionSystemStartup  Action = "system.startup"
	ActionSystemShutdown Action = "system.shutdown"
	ActionDataExport     Action = "data.export"
	ActionDataCleanup    Action = "data.cleanup"

	// Security events
	ActionRateLimitExceeded  Action = "security.rate_limit_exceeded"
	ActionThreatDetected     Action = "security.threat_detected"
	ActionValidationRejected Action = "security.validation_rejected"
	ActionClientBlocked      Action = "security.client_blocked"
)

// securityActions are the actions counted as security events in statistics.
var securityActions = map[Action]bool{
	ActionRateLimitExceeded:  true,
	ActionThreatDetected:     true,
	ActionValidationRejected: true,
	ActionClientBlocked:      true,
}

// IsSecurity reports whether the action is a security event.
func (a Action) IsSecurity() bool {
	return securityActions[a]
}

// AnonymousUser is recorded when no authenticated user is attributable.
const AnonymousUser = "anonymous"

// Metadata normalization bounds. Values beyond these are truncated or
// dropped so a hostile caller cannot blow up storage through event details.
const (
	maxMetadataDepth    = 3
	maxMetadataKeys     = 32
	maxMetadataValueLen = 4096
)

// Event is a single audit record.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Timestamp when the event occurred. Strictly increasing within a
	// process; see nextTimestamp.
	Timestamp time.Time `json:"timestamp"`

	// UserID of the actor, or AnonymousUser.
	UserID string `json:"user_id"`

	// Action categorizes what was done.
	Action Action `json:"action"`

	// ResourceType of the object acted on (document, folder, user, ...).
	ResourceType string `json:"resource_type,omitempty"`

	// ResourceID of the object acted on.
	ResourceID string `json:"resource_id,omitempty"`

	// ResourceName is the human-readable name of the object.
	ResourceName string `json:"resource_name,omitempty"`

	// Success indicates whether the action succeeded.
	Success bool `json:"success"`

	// ErrorMessage holds the failure reason when Success is false.
	ErrorMessage string `json:"error_message,omitempty"`

	// IPAddress of the client.
	IPAddress string `json:"ip_address,omitempty"`

	// UserAgent of the client.
	UserAgent string `json:"user_agent,omitempty"`

	// Details contains action-specific payload, normalized on creation.
	Details json.RawMessage `json:"details,omitempty"`

	// Metadata contains caller-supplied context, normalized on creation.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// lastTimestamp guards the per-process monotonic timestamp. Wall clocks can
// step backwards (NTP); audit ordering must not.
var (
	tsMu          sync.Mutex
	lastTimestamp time.Time
)

// nextTimestamp returns a timestamp strictly after every previously issued
// one in this process.
func nextTimestamp() time.Time {
	tsMu.Lock()
	defer tsMu.Unlock()

	now := time.Now().UTC()
	if !now.After(lastTimestamp) {
		now = lastTimestamp.Add(time.Microsecond)
	}
	lastTimestamp = now
	return now
}

// NewEvent creates an event with a generated ID and a monotonic timestamp.
// Empty userID is recorded as AnonymousUser. Details and metadata are
// normalized; values that cannot be represented are dropped, never failed.
func NewEvent(userID string, action Action, opts ...EventOption) *Event {
	if userID == "" {
		userID = AnonymousUser
	}
	e := &Event{
		ID:        uuid.NewString(),
		Timestamp: nextTimestamp(),
		UserID:    userID,
		Action:    action,
		Success:   true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EventOption configures optional event fields.
type EventOption func(*Event)

// WithResource sets the resource the action was performed on.
func WithResource(resourceType, resourceID, resourceName string) EventOption {
	return func(e *Event) {
		e.ResourceType = resourceType
		e.ResourceID = resourceID
		e.ResourceName = resourceName
	}
}

// WithFailure marks the event failed with the given reason.
func WithFailure(message string) EventOption {
	return func(e *Event) {
		e.Success = false
		e.ErrorMessage = message
	}
}

// WithClient sets the client network attributes.
func WithClient(ipAddress, userAgent string) EventOption {
	return func(e *Event) {
		e.IPAddress = ipAddress
		e.UserAgent = userAgent
	}
}

// WithDetails attaches a normalized action-specific payload.
func WithDetails(details map[string]any) EventOption {
	return func(e *Event) {
		e.Details = normalizeMap(details)
	}
}

// WithMetadata attaches normalized caller-supplied context.
func WithMetadata(metadata map[string]any) EventOption {
	return func(e *Event) {
		e.Metadata = normalizeMap(metadata)
	}
}

// normalizeMap bounds a caller-supplied map and marshals it. Returns nil
// for empty or unmarshalable input.
func normalizeMap(m map[string]any) json.RawMessage {
	if len(m) == 0 {
		return nil
	}
	bounded := boundValue(m, maxMetadataDepth)
	data, err := json.Marshal(bounded)
	if err != nil {
		return nil
	}
	return data
}

// boundValue enforces depth, key count, and string length limits
// recursively. Maps past the depth limit collapse to a marker string.
func boundValue(v any, depth int) any {
	switch val := v.(type) {
	case map[string]any:
		if depth <= 0 {
			return "[truncated]"
		}
		out := make(map[string]any, len(val))
		n := 0
		for k, inner := range val {
			if n >= maxMetadataKeys {
				break
			}
			out[k] = boundValue(inner, depth-1)
			n++
		}
		return out
	case []any:
		if depth <= 0 {
			return "[truncated]"
		}
		out := make([]any, 0, len(val))
		for i, inner := range val {
			if i >= maxMetadataKeys {
				break
			}
			out = append(out, boundValue(inner, depth-1))
		}
		return out
	case string:
		if len(val) > maxMetadataValueLen {
			return val[:maxMetadataValueLen]
		}
		return val
	default:
		return val
	}
}

// Store defines the interface for audit event persistence.
type Store interface {
	// WriteBatch persists a batch of events atomically.
	WriteBatch(ctx context.Context, events []Event) error

	// Query retrieves events matching the filter.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Count returns the number of events matching the filter.
	Count(ctx context.Context, filter QueryFilter) (int64, error)

	// Delete removes events older than the given time and returns the
	// number deleted.
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
}

// QueryFilter defines filtering options for audit queries.
type QueryFilter struct {
	// Actions filters by event actions.
	Actions []Action `json:"actions,omitempty"`

	// UserID filters by actor.
	UserID string `json:"user_id,omitempty"`

	// ResourceType filters by resource type.
	ResourceType string `json:"resource_type,omitempty"`

	// ResourceID filters by resource ID.
	ResourceID string `json:"resource_id,omitempty"`

	// Success filters by outcome when set.
	Success *bool `json:"success,omitempty"`

	// SecurityOnly restricts results to security actions.
	SecurityOnly bool `json:"security_only,omitempty"`

	// IPAddress filters by client IP.
	IPAddress string `json:"ip_address,omitempty"`

	// StartTime is the beginning of the time range (inclusive).
	StartTime *time.Time `json:"start_time,omitempty"`

	// EndTime is the end of the time range (inclusive).
	EndTime *time.Time `json:"end_time,omitempty"`

	// SearchText matches against resource name and error message.
	SearchText string `json:"search_text,omitempty"`

	// Limit is the maximum number of results.
	Limit int `json:"limit,omitempty"`

	// Offset for pagination.
	Offset int `json:"offset,omitempty"`

	// OrderBy specifies the sort field.
	OrderBy string `json:"order_by,omitempty"`

	// OrderDesc sorts in descending order.
	OrderDesc bool `json:"order_desc,omitempty"`
}

// DefaultQueryFilter returns a sensible default filter.
func DefaultQueryFilter() QueryFilter {
	return QueryFilter{
		Limit:     100,
		OrderBy:   "timestamp",
		OrderDesc: true,
	}
}
