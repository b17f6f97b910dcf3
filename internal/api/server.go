// Package api implements the HTTP surface of the diary companion: the
// chat endpoint, diary reads for page refreshes, and a live event feed.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/piggy-diary/piggy/internal/agent"
	"github.com/piggy-diary/piggy/internal/buildinfo"
	"github.com/piggy-diary/piggy/internal/diary"
	"github.com/piggy-diary/piggy/internal/events"
	"github.com/piggy-diary/piggy/internal/metrics"
)

// maxBodyBytes bounds inbound JSON bodies.
const maxBodyBytes = 1 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Chatter runs one chat turn.
type Chatter interface {
	Run(ctx context.Context, req *agent.Request) (*agent.Result, error)
}

// DiaryStore is the slice of the diary used by the REST endpoints.
type DiaryStore interface {
	LogMood(ctx context.Context, in diary.MoodInput) (*diary.Mood, bool, error)
	ListMoods(ctx context.Context, limit int, date string) ([]diary.Mood, error)
	ListPeriods(ctx context.Context, limit int) ([]diary.Period, error)
}

// Options configures a Server.
type Options struct {
	Address string
	Port    int
	Chat    Chatter
	// Diary may be nil; the diary endpoints then answer 503.
	Diary  DiaryStore
	Bus    *events.Bus
	Logger *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	chat    Chatter
	diary   DiaryStore
	bus     *events.Bus
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: opts.Address,
		port:    opts.Port,
		chat:    opts.Chat,
		diary:   opts.Diary,
		bus:     opts.Bus,
		logger:  logger,
	}
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)

	mux.HandleFunc("GET /api/moods", s.handleListMoods)
	mux.HandleFunc("POST /api/moods", s.handleSaveMood)
	mux.HandleFunc("GET /api/periods", s.handleListPeriods)
	mux.HandleFunc("GET /api/events", s.handleEvents)

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
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

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Piggy",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// errorResponse writes {"error": message}, the only error shape
// callers ever see.
func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]string{"error": message}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
