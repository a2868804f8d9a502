// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

// Package audit records security-relevant application events for compliance
// and forensic analysis.
//
// Events flow through a batching Processor into a Store (DuckDB in
// production, MemoryStore in tests). When the primary store is unavailable
// the batch is diverted to a Badger-backed FallbackStore and drained back
// once writes recover. Queries, statistics, and exports (JSON, CSV, CEF)
// read from the Store directly.
package audit
