// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/SNU-SE/sentinel/internal/logging"
	"github.com/SNU-SE/sentinel/internal/metrics"
)

// ProcessorConfig configures the batching processor.
type ProcessorConfig struct {
	// BatchSize triggers a flush when the queue reaches this many events.
	BatchSize int

	// FlushInterval triggers a flush on a timer regardless of queue size.
	FlushInterval time.Duration

	// WriteTimeout bounds a single store write.
	WriteTimeout time.Duration
}

// DefaultProcessorConfig returns the processor defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:     10,
		FlushInterval: 5 * time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

// Processor batches audit events and writes them to the primary store.
// When the store is unavailable the batch is diverted to the fallback
// buffer; successful flushes drain the fallback back into the store.
//
// Log never blocks on storage: events are queued under a mutex and flushed
// from a timer tick or a size trigger. At most one flush runs at a time.
type Processor struct {
	store    Store
	fallback *FallbackStore
	cfg      ProcessorConfig
	breaker  *gobreaker.CircuitBreaker[any]

	mu       sync.Mutex
	queue    []Event
	flushing bool
}

// NewProcessor creates a processor writing to store, diverting failed
// batches to fallback. fallback may be nil; failed batches are then dropped
// with a log line.
func NewProcessor(store Store, fallback *FallbackStore, cfg ProcessorConfig) *Processor {
	def := DefaultProcessorConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "audit-store",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Audit store circuit breaker state changed")
		},
	})

	return &Processor{
		store:    store,
		fallback: fallback,
		cfg:      cfg,
		breaker:  breaker,
	}
}

// Log enqueues an event. Returns immediately; a flush is kicked off in the
// background when the batch size is reached.
func (p *Processor) Log(event *Event) {
	if event == nil {
		return
	}

	p.mu.Lock()
	p.queue = append(p.queue, *event)
	n := len(p.queue)
	p.mu.Unlock()

	metrics.AuditEventsEnqueued.Inc()
	metrics.AuditQueueLength.Set(float64(n))

	if n >= p.cfg.BatchSize {
		go p.Flush(context.Background())
	}
}

// QueueLen returns the number of events awaiting flush.
func (p *Processor) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Flush writes queued events to the store in batch sized chunks. If a flush
// is already in progress this call returns immediately; the running flush
// owns the queue it swapped out and the next timer tick picks up anything
// queued since.
//
// Each write stays within BatchSize so a backlog after an outage never
// produces one oversized store write or fallback transaction. Once a chunk
// fails, the rest of the backlog is diverted without further write attempts.
func (p *Processor) Flush(ctx context.Context) {
	p.mu.Lock()
	if p.flushing || len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	p.flushing = true
	backlog := p.queue
	p.queue = nil
	p.mu.Unlock()

	metrics.AuditQueueLength.Set(0)

	defer func() {
		p.mu.Lock()
		p.flushing = false
		p.mu.Unlock()
	}()

	var cause error
	for len(backlog) > 0 {
		n := p.cfg.BatchSize
		if n > len(backlog) {
			n = len(backlog)
		}
		chunk := backlog[:n]
		backlog = backlog[n:]

		if cause == nil {
			if cause = p.write(ctx, chunk); cause == nil {
				continue
			}
		}
		p.divert(chunk, cause)
	}

	if cause == nil {
		p.drainFallback(ctx)
	}
}

// write sends one batch through the circuit breaker with the configured
// timeout.
func (p *Processor) write(ctx context.Context, batch []Event) error {
	start := time.Now()

	_, err := p.breaker.Execute(func() (any, error) {
		wctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
		defer cancel()
		return nil, p.store.WriteBatch(wctx, batch)
	})

	switch {
	case err == nil:
		metrics.RecordFlush("success", time.Since(start))
		return nil
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordFlush("breaker_open", time.Since(start))
		return err
	default:
		metrics.RecordFlush("failure", time.Since(start))
		return err
	}
}

// divert routes a failed batch to the fallback buffer.
func (p *Processor) divert(batch []Event, cause error) {
	if p.fallback == nil {
		logging.Error().Err(cause).Int("dropped", len(batch)).
			Msg("Audit flush failed with no fallback configured, events dropped")
		return
	}

	if err := p.fallback.Append(batch); err != nil {
		logging.Error().Err(err).Int("dropped", len(batch)).
			Msg("Audit fallback write failed, events dropped")
		return
	}

	logging.Warn().Err(cause).Int("events", len(batch)).
		Msg("Audit flush failed, batch diverted to fallback store")
}

// drainFallback moves buffered fallback events back into the store in batch
// sized chunks. Stops on the first write failure; the undrained remainder
// stays buffered.
func (p *Processor) drainFallback(ctx context.Context) {
	if p.fallback == nil {
		return
	}

	for {
		chunk, err := p.fallback.Drain(p.cfg.BatchSize)
		if err != nil {
			logging.Error().Err(err).Msg("Failed to drain audit fallback store")
			return
		}
		if len(chunk) == 0 {
			return
		}

		if err := p.write(ctx, chunk); err != nil {
			// Put the chunk back rather than lose it. Ordering relative
			// to events still buffered is not preserved.
			if aerr := p.fallback.Append(chunk); aerr != nil {
				logging.Error().Err(aerr).Int("dropped", len(chunk)).
					Msg("Failed to re-buffer drained audit events, events dropped")
			}
			return
		}

		logging.Info().Int("events", len(chunk)).Msg("Drained audit events from fallback store")
	}
}

// Serve runs the periodic flush loop until ctx is canceled, then performs a
// final flush. Implements suture.Service.
func (p *Processor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Flush(ctx)
		case <-ctx.Done():
			// ctx is already canceled; give the final flush its own
			// bounded context.
			fctx, cancel := context.WithTimeout(context.Background(), p.cfg.WriteTimeout)
			p.Flush(fctx)
			cancel()
			return ctx.Err()
		}
	}
}

// String identifies the processor in supervisor logs.
func (p *Processor) String() string {
	return "audit-processor"
}
