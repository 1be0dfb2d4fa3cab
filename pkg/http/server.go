package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"coachsync-server/pkg/coach"
	"coachsync-server/pkg/config"
	"coachsync-server/pkg/errors"
	"coachsync-server/pkg/metrics"
	"coachsync-server/pkg/version"
)

// Server exposes the session API, the dashboard WebSocket stream, health
// checks and metrics.
type Server struct {
	config      *config.HTTPConfig
	logger      *logrus.Logger
	coordinator *coach.Coordinator
	hub         *SnapshotHub
	httpServer  *http.Server
	mux         *http.ServeMux
	startTime   time.Time
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(logger *logrus.Logger, cfg *config.HTTPConfig, coordinator *coach.Coordinator, hub *SnapshotHub) *Server {
	server := &Server{
		config:      cfg,
		logger:      logger,
		coordinator: coordinator,
		hub:         hub,
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	server.mux = mux

	addServerHeader := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", version.ServerHeader())
			next(w, r)
		}
	}

	mux.HandleFunc("/health", addServerHeader(server.HealthHandler))
	mux.HandleFunc("/health/live", addServerHeader(server.LivenessHandler))
	mux.HandleFunc("/health/ready", addServerHeader(server.ReadinessHandler))

	mux.HandleFunc("/api/sessions", addServerHeader(server.SessionsHandler))
	mux.HandleFunc("/api/sessions/", addServerHeader(server.SessionHandler))

	if hub != nil {
		mux.HandleFunc("/ws", addServerHeader(server.WebSocketHandler))
	}

	if cfg.EnableMetrics {
		promHandler := promhttp.HandlerFor(
			metrics.GetRegistry(),
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          metrics.GetRegistry(),
			},
		)
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", version.ServerHeader())
			promHandler.ServeHTTP(w, r)
		})
		logger.Info("Prometheus metrics endpoint enabled at /metrics")
	}

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.WithField("port", s.config.Port).Info("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "HTTP server failed")
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// HealthHandler reports server health and uptime.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": version.Version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// LivenessHandler always reports alive while the process runs.
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "alive"})
}

// ReadinessHandler reports readiness to accept sessions.
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrSessionEnded):
		status = http.StatusGone
	case errors.Is(err, errors.ErrInvalidDelta), errors.Is(err, errors.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrSessionAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, errors.ErrFailedPrecondition):
		status = http.StatusConflict
	case errors.Is(err, errors.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}
