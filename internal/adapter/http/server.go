// Package http exposes the service's operational endpoints and the
// read-only query surface the dashboard consumes. The dashboard never
// receives a default score in place of an error: "model not ready" and
// "insufficient data" map to distinct failure responses.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/citypulse/traffic-stream-etl/internal/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// ScoringAPI is the read-only inference surface served to the dashboard.
type ScoringAPI interface {
	ScoreSegments(ctx context.Context) ([]domain.SegmentScore, error)
	ModelAccuracy() float64
	Forecast(ctx context.Context, street string, horizon int) (domain.StreetForecast, error)
	ForecastableStreets(ctx context.Context) ([]string, error)
	LatestSegments(ctx context.Context) ([]domain.TrafficRecord, error)
}

// Server exposes health, readiness, metrics, and dashboard API routes.
type Server struct {
	httpServer     *http.Server
	logger         *slog.Logger
	api            ScoringAPI
	defaultHorizon int
}

// NewServer creates the HTTP server. defaultHorizon applies to forecast
// requests that omit the horizon parameter.
func NewServer(addr string, ready ReadinessChecker, api ScoringAPI, defaultHorizon int, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger:         logger,
		api:            api,
		defaultHorizon: defaultHorizon,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/segments", s.handleSegments)
	mux.HandleFunc("GET /api/congestion", s.handleCongestion)
	mux.HandleFunc("GET /api/streets", s.handleStreets)
	mux.HandleFunc("GET /api/forecast/{street}", s.handleForecast)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	segments, err := s.api.LatestSegments(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"segments": segments})
}

func (s *Server) handleCongestion(w http.ResponseWriter, r *http.Request) {
	scores, err := s.api.ScoreSegments(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scores":         scores,
		"model_accuracy": s.api.ModelAccuracy(),
	})
}

func (s *Server) handleStreets(w http.ResponseWriter, r *http.Request) {
	streets, err := s.api.ForecastableStreets(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"streets": streets})
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	street := r.PathValue("street")

	horizon := s.defaultHorizon
	if raw := r.URL.Query().Get("horizon"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":  "invalid_horizon",
				"detail": "horizon must be a positive integer",
			})
			return
		}
		horizon = n
	}

	forecast, err := s.api.Forecast(r.Context(), street, horizon)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, forecast)
}

// writeError maps domain errors onto distinct statuses so the dashboard can
// tell "not ready" and "not enough data" apart from real failures.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		notReady  *domain.ModelNotReadyError
		noData    *domain.InsufficientDataError
		noHistory *domain.InsufficientHistoryError
	)
	switch {
	case errors.As(err, &notReady):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "model_not_ready", "detail": err.Error(),
		})
	case errors.As(err, &noData):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "insufficient_data", "detail": err.Error(),
		})
	case errors.As(err, &noHistory):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "insufficient_history", "detail": err.Error(),
		})
	default:
		s.logger.Error("api request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal", "detail": "internal error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response body
}
