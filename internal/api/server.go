// Package api serves a read-only HTTP view of the running scan: its state,
// the run history and the Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/anstrom/gvmscan/internal/config"
	"github.com/anstrom/gvmscan/internal/errors"
	"github.com/anstrom/gvmscan/internal/logging"
	"github.com/anstrom/gvmscan/internal/metrics"
	"github.com/anstrom/gvmscan/internal/orchestrator"
	"github.com/anstrom/gvmscan/internal/profiles"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 10 * time.Second
	healthCheckTimeout    = 5 * time.Second
	readHeaderTimeout     = 5 * time.Second
	defaultRunsLimit      = 20
	maxRunsLimit          = 200
)

// StatusSource exposes the state of the current run.
type StatusSource interface {
	Snapshot() orchestrator.Snapshot
}

// HistorySource lists past runs.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]orchestrator.Snapshot, error)
}

// pinger is implemented by history sources backed by a database.
type pinger interface {
	PingContext(ctx context.Context) error
}

// Server represents the status API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	status     StatusSource
	history    HistorySource
	metrics    *metrics.PrometheusMetrics
	logger     *logging.Logger
	version    string
	startTime  time.Time

	mu   sync.Mutex
	addr net.Addr
}

// New creates a status server listening on the configured address.
func New(cfg config.APIConfig, status StatusSource, m *metrics.PrometheusMetrics) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		status:    status,
		metrics:   m,
		logger:    logging.Default().WithComponent("api"),
		version:   "dev",
		startTime: time.Now(),
	}

	s.setupRoutes()
	s.setupMiddleware()

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.ListenAddr, strconv.Itoa(cfg.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// WithHistory enables the run history endpoint.
func (s *Server) WithHistory(h HistorySource) *Server {
	s.history = h
	return s
}

// WithLogger sets the logger.
func (s *Server) WithLogger(l *logging.Logger) *Server {
	s.logger = l.WithComponent("api")
	return s
}

// WithVersion sets the version reported by the version endpoint.
func (s *Server) WithVersion(v string) *Server {
	s.version = v
	return s
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("API server failed to listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("Starting API server", "address", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped")
	return nil
}

// Addr returns the bound address once serving, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/liveness", s.livenessHandler).Methods(http.MethodGet)
	api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	api.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.runsHandler).Methods(http.MethodGet)
	api.HandleFunc("/catalog", s.catalogHandler).Methods(http.MethodGet)
	api.HandleFunc("/version", s.versionHandler).Methods(http.MethodGet)

	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/", s.indexHandler).Methods(http.MethodGet)
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
	))
	s.router.Use(handlers.CompressHandler)
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	s.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"service": "gvmscan",
		"version": "v1",
		"endpoints": map[string]string{
			"liveness": "/api/v1/liveness",
			"health":   "/api/v1/health",
			"status":   "/api/v1/status",
			"runs":     "/api/v1/runs",
			"catalog":  "/api/v1/catalog",
			"metrics":  "/metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	s.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	checks := map[string]string{"database": "not configured"}

	if p, ok := s.history.(pinger); ok {
		if err := p.PingContext(ctx); err != nil {
			status = "unhealthy"
			checks["database"] = "failed: " + err.Error()
		} else {
			checks["database"] = "ok"
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.WriteJSON(w, r, code, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

// StatusResponse is the body of the status endpoint.
type StatusResponse struct {
	orchestrator.Snapshot
	Terminal bool   `json:"terminal"`
	Uptime   string `json:"uptime"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		s.writeError(w, r, http.StatusServiceUnavailable, fmt.Errorf("no scan is running"))
		return
	}
	snap := s.status.Snapshot()
	s.WriteJSON(w, r, http.StatusOK, StatusResponse{
		Snapshot: snap,
		Terminal: snap.State.Terminal(),
		Uptime:   time.Since(s.startTime).String(),
	})
}

func (s *Server) runsHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, r, http.StatusNotFound, fmt.Errorf("run history is not enabled"))
		return
	}

	limit, err := s.GetQueryParamInt(r, "limit", defaultRunsLimit)
	if err != nil || limit < 1 {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid limit"))
		return
	}
	limit = min(limit, maxRunsLimit)

	runs, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.IsCode(err, errors.CodeDatabaseConnection) {
			code = http.StatusServiceUnavailable
		}
		s.writeError(w, r, code, err)
		return
	}
	if runs == nil {
		runs = []orchestrator.Snapshot{}
	}
	s.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

type catalogResponse struct {
	Profiles      []profiles.Profile      `json:"profiles"`
	ReportFormats []profiles.ReportFormat `json:"report_formats"`
	AliveTests    []string                `json:"alive_tests"`
}

func (s *Server) catalogHandler(w http.ResponseWriter, r *http.Request) {
	s.WriteJSON(w, r, http.StatusOK, catalogResponse{
		Profiles:      profiles.Profiles(),
		ReportFormats: profiles.ReportFormats(),
		AliveTests:    profiles.AliveTests(),
	})
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	s.WriteJSON(w, r, http.StatusOK, map[string]interface{}{
		"version":   s.version,
		"timestamp": time.Now().UTC(),
		"service":   "gvmscan",
	})
}

// ErrorResponse represents a standard API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	s.logger.Warn("API error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"error", err)

	s.WriteJSON(w, r, statusCode, ErrorResponse{
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: r.Header.Get("X-Request-ID"),
	})
}

// WriteJSON writes a JSON response.
func (s *Server) WriteJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response",
			"error", err,
			"path", r.URL.Path,
			"method", r.Method)
	}
}

// GetQueryParamInt gets an integer query parameter with optional default value.
func (s *Server) GetQueryParamInt(r *http.Request, key string, defaultValue int) (int, error) {
	if value := r.URL.Query().Get(key); value != "" {
		return strconv.Atoi(value)
	}
	return defaultValue, nil
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic in API handler",
					"error", err,
					"path", r.URL.Path,
					"method", r.Method)
				s.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
