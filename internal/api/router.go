// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SNU-SE/sentinel/internal/audit"
	"github.com/SNU-SE/sentinel/internal/logging"
	"github.com/SNU-SE/sentinel/internal/security"
)

// Router serves the audit and security endpoints.
type Router struct {
	query    *audit.QueryService
	security *security.Service
	mw       *Middleware
}

// NewRouter creates the API router.
func NewRouter(query *audit.QueryService, sec *security.Service, mw *Middleware) *Router {
	if mw == nil {
		mw = NewMiddleware(nil)
	}
	return &Router{
		query:    query,
		security: sec,
		mw:       mw,
	}
}

// Handler builds the chi route tree.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(SecurityHeaders())
	r.Use(rt.mw.CORS())
	r.Use(rt.mw.RateLimit())

	r.Get("/healthz", rt.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/audit", func(r chi.Router) {
			r.Get("/events", rt.handleEvents)
			r.Get("/stats", rt.handleStats)
			r.Get("/export", rt.handleExport)
		})
		r.Get("/security/violations", rt.handleViolations)
	})

	return r
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvents serves GET /api/v1/audit/events with query-string filters.
func (rt *Router) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	events, err := rt.query.Query(r.Context(), filter)
	if err != nil {
		logging.Error().Err(err).Msg("Audit query failed")
		writeError(w, http.StatusInternalServerError, errors.New("query failed"))
		return
	}

	total, err := rt.query.Count(r.Context(), filter)
	if err != nil {
		logging.Error().Err(err).Msg("Audit count failed")
		writeError(w, http.StatusInternalServerError, errors.New("query failed"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// handleStats serves summary statistics, optionally bounded by start/end.
func (rt *Router) handleStats(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stats, err := rt.query.Stats(r.Context(), filter.StartTime, filter.EndTime)
	if err != nil {
		logging.Error().Err(err).Msg("Audit stats failed")
		writeError(w, http.StatusInternalServerError, errors.New("stats failed"))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleExport streams the filtered audit trail in the requested format.
func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request) {
	exporter, err := audit.ExporterFor(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if filter.Limit <= 0 {
		filter.Limit = 10000
	}

	events, err := rt.query.Query(r.Context(), filter)
	if err != nil {
		logging.Error().Err(err).Msg("Audit export query failed")
		writeError(w, http.StatusInternalServerError, errors.New("export failed"))
		return
	}

	data, err := exporter.Export(events)
	if err != nil {
		logging.Error().Err(err).Msg("Audit export serialization failed")
		writeError(w, http.StatusInternalServerError, errors.New("export failed"))
		return
	}

	if rt.security != nil {
		rt.security.LogEvent(audit.AnonymousUser, audit.ActionDataExport,
			audit.WithClient(clientIP(r), r.UserAgent()),
			audit.WithDetails(map[string]any{"format": r.URL.Query().Get("format"), "events": len(events)}),
		)
	}

	w.Header().Set("Content-Type", exporter.ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck // response write
}

func (rt *Router) handleViolations(w http.ResponseWriter, r *http.Request) {
	if rt.security == nil {
		writeJSON(w, http.StatusOK, map[string]any{"violations": []security.Violation{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"violations": rt.security.RecentViolations(),
	})
}

// filterFromQuery builds an audit filter from URL query parameters.
func filterFromQuery(r *http.Request) (audit.QueryFilter, error) {
	q := r.URL.Query()

	filter := audit.DefaultQueryFilter()
	filter.UserID = q.Get("user_id")
	filter.ResourceType = q.Get("resource_type")
	filter.ResourceID = q.Get("resource_id")
	filter.IPAddress = q.Get("ip_address")
	filter.SearchText = q.Get("search")
	filter.SecurityOnly = q.Get("security_only") == "true"

	if action := q.Get("action"); action != "" {
		filter.Actions = []audit.Action{audit.Action(action)}
	}

	if v := q.Get("success"); v != "" {
		success, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("invalid success parameter: %q", v)
		}
		filter.Success = &success
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("invalid limit parameter: %q", v)
		}
		filter.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("invalid offset parameter: %q", v)
		}
		filter.Offset = offset
	}

	if v := q.Get("start"); v != "" {
		start, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid start parameter: %q", v)
		}
		filter.StartTime = &start
	}
	if v := q.Get("end"); v != "" {
		end, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid end parameter: %q", v)
		}
		filter.EndTime = &end
	}

	return filter, nil
}

// clientIP extracts the client address without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Server wraps http.Server as a supervised service.
type Server struct {
	addr    string
	handler http.Handler
	timeout time.Duration
}

// NewServer creates a supervised HTTP server.
func NewServer(addr string, handler http.Handler, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		addr:    addr,
		handler: handler,
		timeout: timeout,
	}
}

// Serve runs the HTTP server until ctx is canceled. Implements
// suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.timeout,
		WriteTimeout:      s.timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		<-errCh
		return ctx.Err()
	}
}

// String identifies the server in supervisor logs.
func (s *Server) String() string {
	return "http-server"
}
