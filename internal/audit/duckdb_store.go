// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/SNU-SE/sentinel/internal/logging"
)

// DuckDBStore implements Store using DuckDB for persistent storage.
// This provides durable audit logging suitable for production use.
type DuckDBStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewDuckDBStore creates a new DuckDB-backed audit store.
// The caller is responsible for calling CreateTable during initialization.
func NewDuckDBStore(db *sql.DB) *DuckDBStore {
	return &DuckDBStore{
		db: db,
	}
}

// CreateTable creates the audit_events table if it doesn't exist.
// This should be called during database initialization.
func (s *DuckDBStore) CreateTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			user_id TEXT NOT NULL,
			action TEXT NOT NULL,

			-- Resource information
			resource_type TEXT,
			resource_id TEXT,
			resource_name TEXT,

			-- Outcome
			success BOOLEAN NOT NULL,
			error_message TEXT,

			-- Client information
			ip_address TEXT,
			user_agent TEXT,

			-- Event payload
			details JSON,
			metadata JSON,

			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Indexes for common query patterns
		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_user_id ON audit_events(user_id);
		CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action);
		CREATE INDEX IF NOT EXISTS idx_audit_resource_id ON audit_events(resource_id);
		CREATE INDEX IF NOT EXISTS idx_audit_ip_address ON audit_events(ip_address);
	`

	// Split and execute each statement
	statements := strings.Split(query, ";")
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	logging.Info().Msg("Audit events table created/verified")
	return nil
}

// WriteBatch persists a batch of events in a single transaction. Either the
// whole batch lands or none of it does.
func (s *DuckDBStore) WriteBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit batch transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, insertQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare audit insert: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		if _, err := stmt.ExecContext(ctx, eventParams(&events[i])...); err != nil {
			return fmt.Errorf("failed to insert audit event %s: %w", events[i].ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit batch: %w", err)
	}

	return nil
}

const insertQuery = `
	INSERT INTO audit_events (
		id, timestamp, user_id, action,
		resource_type, resource_id, resource_name,
		success, error_message,
		ip_address, user_agent,
		details, metadata,
		created_at
	) VALUES (
		?, ?, ?, ?,
		?, ?, ?,
		?, ?,
		?, ?,
		?, ?,
		?
	)
`

// eventParams prepares all parameters for event insertion.
func eventParams(event *Event) []interface{} {
	return []interface{}{
		event.ID,
		event.Timestamp,
		event.UserID,
		string(event.Action),
		nullString(event.ResourceType),
		nullString(event.ResourceID),
		nullString(event.ResourceName),
		event.Success,
		nullString(event.ErrorMessage),
		nullString(event.IPAddress),
		nullString(event.UserAgent),
		rawJSONParam(event.Details),
		rawJSONParam(event.Metadata),
		time.Now().UTC(),
	}
}

// nullString maps empty strings to NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// rawJSONParam converts raw JSON to a string for a DuckDB JSON column.
func rawJSONParam(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

// Query retrieves events matching the filter.
func (s *DuckDBStore) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := buildQuery(filter, false)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEventFromRows(rows)
		if err != nil {
			logging.Warn().Err(err).Msg("Failed to scan audit event row")
			continue
		}
		events = append(events, *event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}

// Count returns the number of events matching the filter.
func (s *DuckDBStore) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := buildQuery(filter, true)

	var count int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	return count, nil
}

// Delete removes events older than the given time.
func (s *DuckDBStore) Delete(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `DELETE FROM audit_events WHERE timestamp < ?`

	result, err := s.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit events: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}

	if count > 0 {
		logging.Info().Int64("deleted", count).Time("older_than", olderThan).Msg("Deleted old audit events")
	}

	return count, nil
}

// CountByAction executes a GROUP BY query and returns counts per action.
// start and end optionally bound the counted range.
func (s *DuckDBStore) CountByAction(ctx context.Context, start, end *time.Time) (map[string]int64, error) {
	return s.countGrouped(ctx, "action", start, end)
}

// CountByResourceType returns counts per resource type, skipping events
// without one.
func (s *DuckDBStore) CountByResourceType(ctx context.Context, start, end *time.Time) (map[string]int64, error) {
	return s.countGrouped(ctx, "resource_type", start, end)
}

// CountByUser returns counts per user.
func (s *DuckDBStore) CountByUser(ctx context.Context, start, end *time.Time) (map[string]int64, error) {
	return s.countGrouped(ctx, "user_id", start, end)
}

func (s *DuckDBStore) countGrouped(ctx context.Context, column string, start, end *time.Time) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conditions := []string{column + " IS NOT NULL"}
	var args []interface{}
	if start != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *start)
	}
	if end != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *end)
	}

	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM audit_events WHERE %s GROUP BY %s",
		column, strings.Join(conditions, " AND "), column)

	result := make(map[string]int64)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s counts: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err == nil {
			result[key] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s counts: %w", column, err)
	}
	return result, nil
}

// buildQuery constructs the SQL query based on the filter.
func buildQuery(filter QueryFilter, countOnly bool) (string, []interface{}) {
	conditions, args := buildFilterConditions(filter)

	query := baseQuery(countOnly)

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	if !countOnly {
		query = appendOrderAndLimit(query, filter)
	}

	return query, args
}

// buildFilterConditions builds WHERE clause conditions from a QueryFilter.
func buildFilterConditions(filter QueryFilter) ([]string, []interface{}) {
	var args []interface{}
	var conditions []string

	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			placeholders[i] = "?"
			args = append(args, string(a))
		}
		conditions = append(conditions, fmt.Sprintf("action IN (%s)", strings.Join(placeholders, ",")))
	}

	if filter.SecurityOnly {
		conditions = append(conditions, "action LIKE 'security.%'")
	}

	conditions, args = appendStringCondition(conditions, args, "user_id", filter.UserID)
	conditions, args = appendStringCondition(conditions, args, "resource_type", filter.ResourceType)
	conditions, args = appendStringCondition(conditions, args, "resource_id", filter.ResourceID)
	conditions, args = appendStringCondition(conditions, args, "ip_address", filter.IPAddress)

	if filter.Success != nil {
		conditions = append(conditions, "success = ?")
		args = append(args, *filter.Success)
	}

	if filter.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, *filter.EndTime)
	}

	if filter.SearchText != "" {
		conditions = append(conditions, "(LOWER(resource_name) LIKE ? OR LOWER(error_message) LIKE ?)")
		searchPattern := "%" + strings.ToLower(filter.SearchText) + "%"
		args = append(args, searchPattern, searchPattern)
	}

	return conditions, args
}

// appendStringCondition adds a string equality condition if value is non-empty.
func appendStringCondition(conditions []string, args []interface{}, column, value string) ([]string, []interface{}) {
	if value != "" {
		conditions = append(conditions, column+" = ?")
		args = append(args, value)
	}
	return conditions, args
}

// baseQuery returns the SELECT statement for audit events.
func baseQuery(countOnly bool) string {
	if countOnly {
		return "SELECT COUNT(*) FROM audit_events"
	}
	// Cast JSON columns to VARCHAR for proper scanning
	return `
		SELECT
			id, timestamp, user_id, action,
			resource_type, resource_id, resource_name,
			success, error_message,
			ip_address, user_agent,
			CAST(details AS VARCHAR) as details,
			CAST(metadata AS VARCHAR) as metadata
		FROM audit_events
	`
}

// appendOrderAndLimit adds ORDER BY, LIMIT, and OFFSET clauses.
func appendOrderAndLimit(query string, filter QueryFilter) string {
	// ORDER BY with validation
	orderBy := "timestamp"
	validFields := map[string]bool{
		"timestamp": true, "action": true, "user_id": true,
		"resource_type": true, "created_at": true,
	}
	if filter.OrderBy != "" && validFields[filter.OrderBy] {
		orderBy = filter.OrderBy
	}

	if filter.OrderDesc {
		query += fmt.Sprintf(" ORDER BY %s DESC", orderBy)
	} else {
		query += fmt.Sprintf(" ORDER BY %s ASC", orderBy)
	}

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	return query
}

// scanEventFromRows scans a row from sql.Rows into an Event.
func scanEventFromRows(rows *sql.Rows) (*Event, error) {
	var (
		event        Event
		action       string
		resourceType sql.NullString
		resourceID   sql.NullString
		resourceName sql.NullString
		errorMessage sql.NullString
		ipAddress    sql.NullString
		userAgent    sql.NullString
		details      sql.NullString
		metadata     sql.NullString
	)

	err := rows.Scan(
		&event.ID,
		&event.Timestamp,
		&event.UserID,
		&action,
		&resourceType,
		&resourceID,
		&resourceName,
		&event.Success,
		&errorMessage,
		&ipAddress,
		&userAgent,
		&details,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	event.Action = Action(action)
	event.ResourceType = resourceType.String
	event.ResourceID = resourceID.String
	event.ResourceName = resourceName.String
	event.ErrorMessage = errorMessage.String
	event.IPAddress = ipAddress.String
	event.UserAgent = userAgent.String
	if details.Valid && details.String != "" {
		event.Details = json.RawMessage(details.String)
	}
	if metadata.Valid && metadata.String != "" {
		event.Metadata = json.RawMessage(metadata.String)
	}

	return &event, nil
}
