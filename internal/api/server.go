// Package api exposes the HTTP interface for the search service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Nacnud88/markschecker3/internal/config"
	"github.com/Nacnud88/markschecker3/internal/metrics"
	"github.com/Nacnud88/markschecker3/internal/search"
	"github.com/Nacnud88/markschecker3/internal/session"
)

// Coordinator is the session lifecycle surface the server exposes.
type Coordinator interface {
	Start(ctx context.Context, req session.StartRequest) (session.StartResponse, error)
	ProcessChunk(ctx context.Context, req session.ChunkRequest) (session.ChunkResponse, error)
	Status(ctx context.Context, sessionID string) (session.StatusResponse, error)
	Results(ctx context.Context, sessionID string) (session.ResultsResponse, error)
	Cleanup(ctx context.Context, sessionID string) (session.CleanupResponse, error)
}

// Server wires HTTP handlers to the session coordinator.
type Server struct {
	router      chi.Router
	coordinator Coordinator
	cfg         config.Config
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(coordinator Coordinator, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		coordinator: coordinator,
		cfg:         cfg,
		logger:      logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(metricsMiddleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.startSession)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", s.sessionStatus)
				r.Get("/results", s.sessionResults)
				r.Post("/chunks", s.processChunk)
			})
		})
		r.Post("/cleanup-session", s.cleanupSession)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// startSessionRequest accepts both current and legacy field names for the
// term list and session credential.
type startSessionRequest struct {
	SearchTerm       string `json:"searchTerm"`
	SearchTerms      string `json:"search_terms"`
	GlobalSid        string `json:"globalSid"`
	SessionID        string `json:"sessionId"`
	VoilaSessionID   string `json:"voilaSessionId"`
	Limit            any    `json:"limit"`
	SearchType       string `json:"searchType"`
	LegacySearchType string `json:"search_type"`
}

func (r startSessionRequest) terms() string {
	if r.SearchTerm != "" {
		return r.SearchTerm
	}
	return r.SearchTerms
}

func (r startSessionRequest) credential() string {
	switch {
	case r.GlobalSid != "":
		return r.GlobalSid
	case r.SessionID != "":
		return r.SessionID
	default:
		return r.VoilaSessionID
	}
}

func (r startSessionRequest) mode() string {
	if r.SearchType != "" {
		return r.SearchType
	}
	return r.LegacySearchType
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	resp, err := s.coordinator.Start(r.Context(), session.StartRequest{
		Terms:      req.terms(),
		Credential: req.credential(),
		Limit:      s.limitOrDefault(req.Limit),
		Mode:       req.mode(),
	})
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type chunkRequest struct {
	SearchTerms    []string `json:"searchTerms"`
	Terms          []string `json:"terms"`
	GlobalSid      string   `json:"globalSid"`
	SessionID      string   `json:"sessionId"`
	VoilaSessionID string   `json:"voilaSessionId"`
	Limit          any      `json:"limit"`
	SearchType     string   `json:"searchType"`
	ChunkIndex     int      `json:"chunkIndex"`
}

func (r chunkRequest) termList() []string {
	if len(r.SearchTerms) > 0 {
		return r.SearchTerms
	}
	return r.Terms
}

func (r chunkRequest) credential() string {
	switch {
	case r.GlobalSid != "":
		return r.GlobalSid
	case r.SessionID != "":
		return r.SessionID
	default:
		return r.VoilaSessionID
	}
}

func (s *Server) processChunk(w http.ResponseWriter, r *http.Request) {
	var req chunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	resp, err := s.coordinator.ProcessChunk(r.Context(), session.ChunkRequest{
		SessionID:  chi.URLParam(r, "session_id"),
		ChunkIndex: req.ChunkIndex,
		Terms:      req.termList(),
		Credential: req.credential(),
		Limit:      s.limitOrDefault(req.Limit),
		Mode:       req.SearchType,
	})
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.coordinator.Status(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) sessionResults(w http.ResponseWriter, r *http.Request) {
	resp, err := s.coordinator.Results(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type cleanupRequest struct {
	SessionID       string `json:"sessionId"`
	LegacySessionID string `json:"session_id"`
}

func (r cleanupRequest) sessionID() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return r.LegacySessionID
}

func (s *Server) cleanupSession(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.sessionID() == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}
	resp, err := s.coordinator.Cleanup(r.Context(), req.sessionID())
	if err != nil {
		s.writeCoordinatorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// limitOrDefault substitutes the configured default for an omitted limit.
// Malformed limits pass through untouched for the resolver to reject.
func (s *Server) limitOrDefault(raw any) any {
	if raw == nil {
		return s.cfg.Search.DefaultLimit
	}
	return raw
}

func (s *Server) writeCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrMissingCredential),
		errors.Is(err, session.ErrMissingTerms),
		errors.Is(err, session.ErrEmptyChunk):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, search.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}
		metrics.ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
