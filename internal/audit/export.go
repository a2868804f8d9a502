// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Exporter serializes a slice of events for download or SIEM ingestion.
type Exporter interface {
	Export(events []Event) ([]byte, error)
	ContentType() string
}

// JSONExporter exports events as indented JSON.
type JSONExporter struct{}

// Export exports events to JSON format.
func (e *JSONExporter) Export(events []Event) ([]byte, error) {
	return json.MarshalIndent(events, "", "  ")
}

// ContentType returns the MIME type of the export.
func (e *JSONExporter) ContentType() string {
	return "application/json"
}

// csvHeader is the column order for CSV exports.
var csvHeader = []string{
	"id", "timestamp", "user_id", "action",
	"resource_type", "resource_id", "resource_name",
	"success", "error_message", "ip_address", "user_agent",
	"metadata",
}

// CSVExporter exports events as CSV with a header row. Metadata rides in
// the last column as a JSON blob; the csv writer quotes it as needed.
type CSVExporter struct{}

// Export exports events to CSV format.
func (e *CSVExporter) Export(events []Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i := range events {
		event := &events[i]
		row := []string{
			event.ID,
			event.Timestamp.UTC().Format(time.RFC3339Nano),
			event.UserID,
			string(event.Action),
			event.ResourceType,
			event.ResourceID,
			event.ResourceName,
			strconv.FormatBool(event.Success),
			event.ErrorMessage,
			event.IPAddress,
			event.UserAgent,
			string(event.Metadata),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return buf.Bytes(), nil
}

// ContentType returns the MIME type of the export.
func (e *CSVExporter) ContentType() string {
	return "text/csv"
}

// CEFExporter exports events in Common Event Format (for SIEM integration).
type CEFExporter struct {
	DeviceVendor  string
	DeviceProduct string
	DeviceVersion string
}

// NewCEFExporter creates a new CEF exporter with defaults.
func NewCEFExporter() *CEFExporter {
	return &CEFExporter{
		DeviceVendor:  "SNU-SE",
		DeviceProduct: "Sentinel",
		DeviceVersion: "1.0",
	}
}

// Export exports events to CEF format.
// CEF Format: CEF:Version|Device Vendor|Device Product|Device Version|Signature ID|Name|Severity|Extension
func (e *CEFExporter) Export(events []Event) ([]byte, error) {
	var lines []string

	for idx := range events {
		event := &events[idx]
		severity := e.cefSeverity(event)
		extension := e.buildExtension(event)

		name := string(event.Action)
		if event.ResourceName != "" {
			name = fmt.Sprintf("%s %s", event.Action, event.ResourceName)
		}

		line := fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
			e.escape(e.DeviceVendor),
			e.escape(e.DeviceProduct),
			e.escape(e.DeviceVersion),
			e.escape(string(event.Action)),
			e.escape(name),
			severity,
			extension,
		)

		lines = append(lines, line)
	}

	return []byte(strings.Join(lines, "\n")), nil
}

// ContentType returns the MIME type of the export.
func (e *CEFExporter) ContentType() string {
	return "text/plain"
}

// cefSeverity maps an event to CEF severity (0-10). Security events score
// high; routine failures score mid; successes score low.
func (e *CEFExporter) cefSeverity(event *Event) int {
	switch {
	case event.Action.IsSecurity():
		return 8
	case !event.Success:
		return 5
	default:
		return 2
	}
}

// buildExtension builds the CEF extension string.
func (e *CEFExporter) buildExtension(event *Event) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("rt=%d", event.Timestamp.UnixMilli()))
	parts = append(parts, fmt.Sprintf("suid=%s", e.escape(event.UserID)))

	if event.IPAddress != "" {
		parts = append(parts, fmt.Sprintf("src=%s", e.escape(event.IPAddress)))
	}

	if event.ResourceID != "" {
		parts = append(parts, fmt.Sprintf("duid=%s", e.escape(event.ResourceID)))
	}
	if event.ResourceName != "" {
		parts = append(parts, fmt.Sprintf("duser=%s", e.escape(event.ResourceName)))
	}

	parts = append(parts, fmt.Sprintf("act=%s", e.escape(string(event.Action))))

	outcome := "success"
	if !event.Success {
		outcome = "failure"
	}
	parts = append(parts, "outcome="+outcome)

	if event.ErrorMessage != "" {
		parts = append(parts, fmt.Sprintf("msg=%s", e.escape(event.ErrorMessage)))
	}

	return strings.Join(parts, " ")
}

// escape escapes special characters for CEF format.
func (e *CEFExporter) escape(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "=", "\\=")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return s
}

// ExporterFor returns the exporter for a format name.
func ExporterFor(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "json", "":
		return &JSONExporter{}, nil
	case "csv":
		return &CSVExporter{}, nil
	case "cef":
		return NewCEFExporter(), nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}
