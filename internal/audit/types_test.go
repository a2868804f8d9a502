// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

package audit

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestNewEvent_Defaults(t *testing.T) {
	e := NewEvent("", ActionDocumentViewed)

	if e.ID == "" {
		t.Error("expected a generated ID")
	}
	if e.UserID != AnonymousUser {
		t.Errorf("UserID = %q, want %q", e.UserID, AnonymousUser)
	}
	if !e.Success {
		t.Error("expected Success to default to true")
	}
	if e.Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}
}

func TestNewEvent_Options(t *testing.T) {
	e := NewEvent("user-1", ActionDocumentDeleted,
		WithResource("document", "doc-42", "Quarterly Report"),
		WithFailure("permission denied"),
		WithClient("203.0.113.7", "test-agent"),
	)

	if e.ResourceType != "document" || e.ResourceID != "doc-42" || e.ResourceName != "Quarterly Report" {
		t.Errorf("unexpected resource fields: %+v", e)
	}
	if e.Success {
		t.Error("WithFailure should clear Success")
	}
	if e.ErrorMessage != "permission denied" {
		t.Errorf("ErrorMessage = %q", e.ErrorMessage)
	}
	if e.IPAddress != "203.0.113.7" || e.UserAgent != "test-agent" {
		t.Errorf("unexpected client fields: %+v", e)
	}
}

func TestNewEvent_TimestampsStrictlyIncrease(t *testing.T) {
	prev := NewEvent("u", ActionChatMessage)
	for i := 0; i < 1000; i++ {
		next := NewEvent("u", ActionChatMessage)
		if !next.Timestamp.After(prev.Timestamp) {
			t.Fatalf("timestamp %v not after %v", next.Timestamp, prev.Timestamp)
		}
		prev = next
	}
}

func TestAction_IsSecurity(t *testing.T) {
	if !ActionThreatDetected.IsSecurity() {
		t.Error("threat_detected should be a security action")
	}
	if !ActionRateLimitExceeded.IsSecurity() {
		t.Error("rate_limit_exceeded should be a security action")
	}
	if ActionDocumentViewed.IsSecurity() {
		t.Error("document.viewed should not be a security action")
	}
}

func TestWithMetadata_Normalization(t *testing.T) {
	deep := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": map[string]any{
					"d": "too deep",
				},
			},
		},
		"long": strings.Repeat("x", maxMetadataValueLen+100),
	}

	e := NewEvent("u", ActionDocumentCreated, WithMetadata(deep))
	if len(e.Metadata) == 0 {
		t.Fatal("expected metadata")
	}

	var decoded map[string]any
	if err := json.Unmarshal(e.Metadata, &decoded); err != nil {
		t.Fatalf("metadata is not valid JSON: %v", err)
	}

	// Depth limit: the map at depth 4 collapses to a marker.
	a := decoded["a"].(map[string]any)
	b := a["b"].(map[string]any)
	if c, ok := b["c"].(string); !ok || c != "[truncated]" {
		t.Errorf("expected depth-limited map to collapse, got %v", b["c"])
	}

	if s := decoded["long"].(string); len(s) != maxMetadataValueLen {
		t.Errorf("long value length = %d, want %d", len(s), maxMetadataValueLen)
	}
}

func TestWithMetadata_KeyCap(t *testing.T) {
	big := make(map[string]any, maxMetadataKeys*2)
	for i := 0; i < maxMetadataKeys*2; i++ {
		big[strings.Repeat("k", i+1)] = i
	}

	e := NewEvent("u", ActionDocumentCreated, WithMetadata(big))

	var decoded map[string]any
	if err := json.Unmarshal(e.Metadata, &decoded); err != nil {
		t.Fatalf("metadata is not valid JSON: %v", err)
	}
	if len(decoded) > maxMetadataKeys {
		t.Errorf("metadata has %d keys, cap is %d", len(decoded), maxMetadataKeys)
	}
}

func TestWithMetadata_Empty(t *testing.T) {
	e := NewEvent("u", ActionDocumentCreated, WithMetadata(nil))
	if e.Metadata != nil {
		t.Errorf("expected nil metadata, got %s", e.Metadata)
	}
}
