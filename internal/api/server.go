// Package api implements the HTTP surface: one chat endpoint plus
// health, version and read-only session views.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/studywithme/internal/agent"
	"github.com/nugget/studywithme/internal/buildinfo"
	"github.com/nugget/studywithme/internal/history"
)

// maxBodyBytes bounds a /chat request body.
const maxBodyBytes = 1 << 20

// Responder answers one query. *agent.Orchestrator implements it.
type Responder interface {
	Respond(ctx context.Context, userID, query string) (*agent.Result, error)
}

// SessionReader exposes stored sessions. *history.Store implements it.
type SessionReader interface {
	GetSession(ctx context.Context, userID string) history.Session
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	agent    Responder
	sessions SessionReader
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates a new API server. sessions may be nil, which
// disables GET /sessions/{user_id}.
func NewServer(address string, port int, responder Responder, sessions SessionReader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:  address,
		port:     port,
		agent:    responder,
		sessions: sessions,
		logger:   logger.With("component", "api"),
	}
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /sessions/{user_id}", s.handleSession)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns
// [http.ErrServerClosed] after [Server.Shutdown].
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Long enough for a decision plus a full generation.
		WriteTimeout: 5 * time.Minute,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the response status for logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		level := slog.LevelInfo
		if r.URL.Path == "/health" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"detail": detail}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

// ChatRequest is the POST /chat body.
type ChatRequest struct {
	UserID string `json:"user_id"`
	Query  string `json:"query"`
}

// ChatResponse is the POST /chat reply.
type ChatResponse struct {
	UserID   string `json:"user_id"`
	Query    string `json:"query"`
	Response string `json:"response"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.errorResponse(w, http.StatusBadRequest, "query is required")
		return
	}

	res, err := s.agent.Respond(r.Context(), req.UserID, req.Query)
	if err != nil {
		var xerr *agent.ExchangeError
		// The answer was generated; only recording it failed.
		if !errors.As(err, &xerr) || xerr.Stage != agent.StagePersist {
			s.errorResponse(w, http.StatusInternalServerError, res.Answer)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		UserID:   res.UserID,
		Query:    res.Query,
		Response: res.Answer,
	}, s.logger)
}

// SessionResponse is the GET /sessions/{user_id} reply.
type SessionResponse struct {
	UserID     string         `json:"user_id"`
	History    []history.Turn `json:"history"`
	LastAnswer string         `json:"last_answer,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "session view not configured")
		return
	}
	sess := s.sessions.GetSession(r.Context(), r.PathValue("user_id"))
	turns := sess.History
	if turns == nil {
		turns = []history.Turn{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, SessionResponse{
		UserID:     sess.UserID,
		History:    turns,
		LastAnswer: sess.LastAnswer,
	}, s.logger)
}
