// Package api provides the HTTP server for freqlockd.
// It exposes lock control, status, the thermal policy catalog and a live
// thermal event feed.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xtrakernel/freqlockd/internal/domain"
	"github.com/xtrakernel/freqlockd/internal/health"
	"github.com/xtrakernel/freqlockd/internal/infra/catalog"
	"github.com/xtrakernel/freqlockd/internal/infra/metrics"
	"github.com/xtrakernel/freqlockd/internal/infra/sensorguard"
)

// Locker is the lock engine surface the server drives.
type Locker interface {
	Lock(ctx context.Context, configs map[int]domain.ClusterLockConfig, policyType domain.PolicyType, thermalPolicy string) domain.Result
	Unlock(ctx context.Context) domain.Result
	Retry(ctx context.Context) domain.Result
	Status() domain.LockStatus
	State() domain.LockState
	Events(ctx context.Context) <-chan domain.ThermalEvent
	Catalog() *catalog.Catalog
}

// EventHistory serves previously journaled thermal events.
type EventHistory interface {
	RecentEvents(limit int) ([]domain.ThermalEvent, error)
	EventsSince(since time.Time, typ domain.ThermalEventType) ([]domain.ThermalEvent, error)
	CountEvents() (int, error)
}

// SensorBreaker is the circuit breaker in front of the temperature sensor.
type SensorBreaker interface {
	Snapshot() sensorguard.Snapshot
	Reset()
}

// HealthReporter exposes the latest health check results.
type HealthReporter interface {
	Statuses() []health.Status
	IsHealthy() bool
}

// Server is the freqlockd HTTP API server.
type Server struct {
	locker         Locker
	history        EventHistory
	health         HealthReporter
	sensor         SensorBreaker
	clusters       domain.ClusterDiscovery
	version        string
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(locker Locker) *Server {
	return &Server{locker: locker, version: "dev"}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHistory sets the thermal event journal behind /api/events/history.
func (s *Server) SetHistory(h EventHistory) { s.history = h }

// SetHealth sets the health checker behind /api/health.
func (s *Server) SetHealth(h HealthReporter) { s.health = h }

// SetSensor sets the breaker reported by /api/health and reset by
// POST /api/sensor/reset.
func (s *Server) SetSensor(b SensorBreaker) { s.sensor = b }

// SetDiscovery sets the cluster discovery behind /api/clusters.
func (s *Server) SetDiscovery(d domain.ClusterDiscovery) { s.clusters = d }

// SetVersion sets the version string reported by /api/version.
func (s *Server) SetVersion(v string) { s.version = v }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(instrument)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": s.version,
		})
	})

	// The event stream is long-lived, so it sits outside the timeout group.
	r.Get("/api/events", s.handleEventStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/api/status", s.handleStatus)
		r.Route("/api/lock", func(r chi.Router) {
			r.Get("/", s.handleGetLock)
			r.Post("/", s.handleLock)
			r.Delete("/", s.handleUnlock)
			r.Post("/retry", s.handleRetry)
		})
		r.Get("/api/clusters", s.handleClusters)
		r.Get("/api/policies", s.handleListPolicies)
		r.Get("/api/policies/{name}", s.handleGetPolicy)
		r.Get("/api/events/history", s.handleEventHistory)
		r.Get("/api/health", s.handleHealth)
		r.Post("/api/sensor/reset", s.handleSensorReset)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers for local dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument counts requests by route pattern and status code.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	})
}
