// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/SNU-SE/sentinel/internal/logging"
)

// recentEventCount is how many recent events Stats carries.
const recentEventCount = 10

// Stats summarizes the audit trail.
type Stats struct {
	TotalEvents      int64            `json:"total_events"`
	SuccessCount     int64            `json:"success_count"`
	FailureCount     int64            `json:"failure_count"`
	SuccessRate      float64          `json:"success_rate"`
	EventsByAction   map[string]int64 `json:"events_by_action"`
	EventsByResource map[string]int64 `json:"events_by_resource"`
	EventsByUser     map[string]int64 `json:"events_by_user"`
	RecentEvents     []Event          `json:"recent_events"`
	SecurityEvents   []Event          `json:"security_events"`
}

// statsAggregator is implemented by stores that can aggregate server-side.
// start and end bound the aggregation; either may be nil.
type statsAggregator interface {
	CountByAction(ctx context.Context, start, end *time.Time) (map[string]int64, error)
	CountByResourceType(ctx context.Context, start, end *time.Time) (map[string]int64, error)
	CountByUser(ctx context.Context, start, end *time.Time) (map[string]int64, error)
}

// QueryService reads the audit trail. Queries go to the store; a processor
// may be attached so pending events are flushed before reads.
type QueryService struct {
	store     Store
	processor *Processor
}

// NewQueryService creates a query service over store. processor may be nil.
func NewQueryService(store Store, processor *Processor) *QueryService {
	return &QueryService{
		store:     store,
		processor: processor,
	}
}

// flushPending pushes queued events into the store so reads see them.
func (q *QueryService) flushPending(ctx context.Context) {
	if q.processor != nil {
		q.processor.Flush(ctx)
	}
}

// Query retrieves events matching the filter.
func (q *QueryService) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	q.flushPending(ctx)

	if filter.Limit <= 0 {
		filter.Limit = DefaultQueryFilter().Limit
	}
	return q.store.Query(ctx, filter)
}

// Count returns the number of events matching the filter.
func (q *QueryService) Count(ctx context.Context, filter QueryFilter) (int64, error) {
	q.flushPending(ctx)
	return q.store.Count(ctx, filter)
}

// Stats computes summary statistics over the audit trail. start and end
// optionally bound the range; either may be nil for an open end. The success
// rate is a percentage; an empty trail yields 0, not NaN.
func (q *QueryService) Stats(ctx context.Context, start, end *time.Time) (*Stats, error) {
	q.flushPending(ctx)

	total, err := q.store.Count(ctx, QueryFilter{StartTime: start, EndTime: end})
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	success := true
	successCount, err := q.store.Count(ctx, QueryFilter{Success: &success, StartTime: start, EndTime: end})
	if err != nil {
		return nil, fmt.Errorf("failed to count successful events: %w", err)
	}

	stats := &Stats{
		TotalEvents:      total,
		SuccessCount:     successCount,
		FailureCount:     total - successCount,
		EventsByAction:   make(map[string]int64),
		EventsByResource: make(map[string]int64),
		EventsByUser:     make(map[string]int64),
	}
	if total > 0 {
		stats.SuccessRate = float64(successCount) / float64(total) * 100
	}

	recent, err := q.store.Query(ctx, QueryFilter{
		StartTime: start,
		EndTime:   end,
		Limit:     recentEventCount,
		OrderBy:   "timestamp",
		OrderDesc: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	stats.RecentEvents = recent

	security, err := q.store.Query(ctx, QueryFilter{
		SecurityOnly: true,
		StartTime:    start,
		EndTime:      end,
		Limit:        recentEventCount,
		OrderBy:      "timestamp",
		OrderDesc:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	stats.SecurityEvents = security

	if agg, ok := q.store.(statsAggregator); ok {
		if stats.EventsByAction, err = agg.CountByAction(ctx, start, end); err != nil {
			return nil, fmt.Errorf("failed to count events by action: %w", err)
		}
		if stats.EventsByResource, err = agg.CountByResourceType(ctx, start, end); err != nil {
			return nil, fmt.Errorf("failed to count events by resource: %w", err)
		}
		if stats.EventsByUser, err = agg.CountByUser(ctx, start, end); err != nil {
			return nil, fmt.Errorf("failed to count events by user: %w", err)
		}
	} else {
		// Store cannot aggregate; count from a bounded scan instead.
		events, err := q.store.Query(ctx, QueryFilter{StartTime: start, EndTime: end, Limit: 10000})
		if err != nil {
			return nil, fmt.Errorf("failed to scan events for stat counts: %w", err)
		}
		for i := range events {
			stats.EventsByAction[string(events[i].Action)]++
			if events[i].ResourceType != "" {
				stats.EventsByResource[events[i].ResourceType]++
			}
			stats.EventsByUser[events[i].UserID]++
		}
	}

	return stats, nil
}

// Cleanup deletes events older than the retention period and returns the
// number deleted.
func (q *QueryService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	return q.store.Delete(ctx, time.Now().UTC().Add(-retention))
}

// RetentionJob periodically deletes events past the retention window.
// Implements suture.Service.
type RetentionJob struct {
	query     *QueryService
	retention time.Duration
	interval  time.Duration
}

// NewRetentionJob creates a cleanup job running every interval.
func NewRetentionJob(query *QueryService, retention, interval time.Duration) *RetentionJob {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &RetentionJob{
		query:     query,
		retention: retention,
		interval:  interval,
	}
}

// Serve runs the cleanup loop until ctx is canceled.
func (j *RetentionJob) Serve(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := j.query.Cleanup(ctx, j.retention); err != nil {
				logging.Error().Err(err).Msg("Audit retention cleanup failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// String identifies the job in supervisor logs.
func (j *RetentionJob) String() string {
	return "audit-retention"
}
