// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

package audit

import (
	"encoding/csv"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func exportFixture() []Event {
	return []Event{
		*NewEvent("alice", ActionDocumentCreated,
			WithResource("document", "d1", "Report|2026"),
			WithMetadata(map[string]any{"tags": "a,b"})),
		*NewEvent("bob", ActionThreatDetected,
			WithFailure("xss blocked"),
			WithClient("198.51.100.1", "agent")),
	}
}

func TestJSONExporter(t *testing.T) {
	data, err := (&JSONExporter{}).Export(exportFixture())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	var decoded []Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(decoded) != 2 {
		t.Errorf("decoded %d events, want 2", len(decoded))
	}
	if decoded[0].UserID != "alice" {
		t.Errorf("UserID = %q, want alice", decoded[0].UserID)
	}
}

func TestCSVExporter(t *testing.T) {
	data, err := (&CSVExporter{}).Export(exportFixture())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("export is not valid CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d rows, want header plus 2", len(records))
	}
	if records[0][0] != "id" || records[0][3] != "action" {
		t.Errorf("unexpected header: %v", records[0])
	}
	if records[2][3] != string(ActionThreatDetected) {
		t.Errorf("action column = %q, want %q", records[2][3], ActionThreatDetected)
	}
	if records[2][8] != "xss blocked" {
		t.Errorf("error column = %q, want %q", records[2][8], "xss blocked")
	}

	// Comma-bearing metadata survives quoting as a single JSON column.
	var meta map[string]any
	if err := json.Unmarshal([]byte(records[1][11]), &meta); err != nil {
		t.Fatalf("metadata column is not valid JSON: %v", err)
	}
	if meta["tags"] != "a,b" {
		t.Errorf("metadata tags = %v, want a,b", meta["tags"])
	}
}

func TestCEFExporter(t *testing.T) {
	data, err := NewCEFExporter().Export(exportFixture())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "CEF:0|SNU-SE|Sentinel|1.0|") {
			t.Errorf("line missing CEF header: %s", line)
		}
	}

	// Pipe in the resource name must be escaped.
	if !strings.Contains(lines[0], `Report\|2026`) {
		t.Errorf("pipe not escaped in: %s", lines[0])
	}

	// Security events score high.
	if !strings.Contains(lines[1], "|8|") {
		t.Errorf("security event severity not 8: %s", lines[1])
	}
	if !strings.Contains(lines[1], "src=198.51.100.1") {
		t.Errorf("source IP missing: %s", lines[1])
	}
	if !strings.Contains(lines[1], "outcome=failure") {
		t.Errorf("outcome missing: %s", lines[1])
	}
}

func TestExporterFor(t *testing.T) {
	tests := []struct {
		format   string
		wantType string
		wantErr  bool
	}{
		{format: "json", wantType: "application/json"},
		{format: "", wantType: "application/json"},
		{format: "CSV", wantType: "text/csv"},
		{format: "cef", wantType: "text/plain"},
		{format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			exp, err := ExporterFor(tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ExporterFor failed: %v", err)
			}
			if exp.ContentType() != tt.wantType {
				t.Errorf("ContentType = %q, want %q", exp.ContentType(), tt.wantType)
			}
		})
	}
}
