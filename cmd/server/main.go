// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

// Package main is the entry point for the Sentinel server.
//
// Sentinel records security-relevant application events (document access,
// permission changes, detected threats) into a DuckDB-backed audit trail
// and exposes the trail, statistics, and exports over a small HTTP API.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered load via Koanf v2 (defaults, config.yaml, env)
//  2. Audit storage: DuckDB primary store plus a Badger fallback buffer
//  3. Security subsystems: rate limiter, threat tracker, input validator
//  4. HTTP API: chi router with CORS, security headers, and edge limiting
//  5. Supervision: everything runs under a suture tree
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (SENTINEL_ prefix)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP server
// drains in-flight requests, the audit processor performs a final flush,
// and the databases are closed.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/SNU-SE/sentinel/internal/api"
	"github.com/SNU-SE/sentinel/internal/audit"
	"github.com/SNU-SE/sentinel/internal/config"
	"github.com/SNU-SE/sentinel/internal/logging"
	"github.com/SNU-SE/sentinel/internal/ratelimit"
	"github.com/SNU-SE/sentinel/internal/security"
	"github.com/SNU-SE/sentinel/internal/supervisor"
	"github.com/SNU-SE/sentinel/internal/threat"
	"github.com/SNU-SE/sentinel/internal/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("level", string(cfg.Security.Level)).
		Bool("audit", cfg.Audit.Enabled).
		Str("db_path", cfg.Database.Path).
		Msg("Starting Sentinel")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("Server exited with error")
	}
	logging.Info().Msg("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	store, fallback, cleanup, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	processor := audit.NewProcessor(store, fallback, audit.ProcessorConfig{
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
		WriteTimeout:  cfg.Audit.WriteTimeout,
	})
	query := audit.NewQueryService(store, processor)

	limiter := ratelimit.New(cfg.Security.MaxRequests, cfg.Security.Window,
		ratelimit.WithSweepInterval(cfg.Security.SweepInterval))
	tracker := threat.NewTracker(cfg.Security.SuspicionThreshold, cfg.Security.SuspicionWindow)
	validator := validation.New(validation.Options{
		MaxTitleLength:   cfg.Security.MaxTitleLength,
		MaxContentLength: cfg.Security.MaxContentLength,
		MaxFileSize:      cfg.Security.MaxFileSize,
		AllowedMimeTypes: cfg.Security.AllowedMimeTypes,
	})

	sec := security.New(cfg.Security, security.Deps{
		Limiter:   limiter,
		Tracker:   tracker,
		Validator: validator,
		Processor: processor,
	})

	mw := api.NewMiddleware(&api.MiddlewareConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		CORSAllowedMethods: []string{"GET", "POST", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "Authorization"},
		CORSMaxAge:         86400,
		RateLimitRequests:  cfg.Server.RateLimitRequests,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
		RateLimitDisabled:  cfg.Server.RateLimitDisabled,
	})
	router := api.NewRouter(query, sec, mw)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := api.NewServer(addr, router.Handler(), cfg.Server.Timeout)

	tree := supervisor.NewTree(logging.NewSlogLogger(logging.Logger()), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(processor)
	tree.AddPipelineService(limiter)
	if cfg.Audit.Enabled && cfg.Audit.RetentionDays > 0 {
		retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
		tree.AddPipelineService(audit.NewRetentionJob(query, retention, cfg.Audit.CleanupInterval))
	}
	tree.AddAPIService(server)

	processor.Log(audit.NewEvent("", audit.ActionSystemStartup))

	err = tree.Serve(ctx)

	processor.Log(audit.NewEvent("", audit.ActionSystemShutdown))
	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Audit.WriteTimeout)
	processor.Flush(flushCtx)
	cancel()

	return err
}

// openStorage opens the primary and fallback stores per configuration.
// With auditing disabled everything runs against an in-memory store so the
// API remains functional without persisting anything.
func openStorage(ctx context.Context, cfg *config.Config) (audit.Store, *audit.FallbackStore, func(), error) {
	if !cfg.Audit.Enabled {
		logging.Warn().Msg("Audit persistence disabled, using in-memory store")
		return audit.NewMemoryStore(0), nil, func() {}, nil
	}

	db, err := sql.Open("duckdb", cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open DuckDB at %s: %w", cfg.Database.Path, err)
	}
	if cfg.Database.Threads > 0 {
		db.SetMaxOpenConns(cfg.Database.Threads)
	}

	store := audit.NewDuckDBStore(db)
	if err := store.CreateTable(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	badgerOpts := badger.DefaultOptions(cfg.Fallback.Path)
	if cfg.Fallback.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	badgerOpts.Logger = nil

	badgerDB, err := badger.Open(badgerOpts)
	if err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, nil, nil, fmt.Errorf("failed to open fallback store at %s: %w", cfg.Fallback.Path, err)
	}

	fallback, err := audit.NewFallbackStore(badgerDB, cfg.Fallback.Capacity)
	if err != nil {
		badgerDB.Close() //nolint:errcheck // already failing
		db.Close()       //nolint:errcheck // already failing
		return nil, nil, nil, err
	}

	cleanup := func() {
		if err := badgerDB.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing fallback store")
		}
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}

	return store, fallback, cleanup, nil
}
