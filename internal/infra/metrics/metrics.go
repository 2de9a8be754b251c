// Package metrics provides Prometheus metrics for freqlockd.
// Counters, gauges and histograms for lock operations, thermal supervision,
// sysfs writes, persistence and health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Lock Operations ────────────────────────────────────────────────────────

// LockOperations tracks lock/unlock/retry calls by result kind.
var LockOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "freqlock",
	Name:      "lock_operations_total",
	Help:      "Total lock operations by operation and result.",
}, []string{"op", "result"})

// ClusterWriteFailures tracks failed cluster writes by operation.
var ClusterWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "freqlock",
	Name:      "cluster_write_failures_total",
	Help:      "Total failed cluster writes (lock, restore, unlock, governor).",
}, []string{"op"})

// ─── Lock State ─────────────────────────────────────────────────────────────

// Locked is 1 while frequency locks are applied.
var Locked = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "freqlock",
	Name:      "locked",
	Help:      "Whether frequency locks are applied (1=locked, 0=unlocked).",
})

// OverrideActive is 1 while a thermal override suspends the session.
var OverrideActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "freqlock",
	Name:      "thermal_override_active",
	Help:      "Whether a thermal override is active (1=active, 0=inactive).",
})

// ClustersConfigured tracks clusters in the current lock request.
var ClustersConfigured = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "freqlock",
	Name:      "clusters_configured",
	Help:      "Number of clusters in the current lock session.",
})

// RetryCount tracks user retries spent in the current window.
var RetryCount = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "freqlock",
	Name:      "retry_count",
	Help:      "Retries spent in the current hourly window.",
})

// ─── Thermal ────────────────────────────────────────────────────────────────

// Temperature tracks the last CPU temperature sample in celsius.
var Temperature = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "freqlock",
	Name:      "cpu_temperature_celsius",
	Help:      "Last sampled CPU temperature in Celsius.",
})

// ThermalEvents tracks emitted thermal events by type.
var ThermalEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "freqlock",
	Name:      "thermal_events_total",
	Help:      "Total thermal events by type.",
}, []string{"type"})

// ThermalActions tracks executed thermal actions.
var ThermalActions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "freqlock",
	Name:      "thermal_actions_total",
	Help:      "Total thermal actions executed by action.",
}, []string{"action"})

// EventsDropped tracks event deliveries skipped for slow subscribers.
var EventsDropped = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "freqlock",
	Name:      "events_dropped",
	Help:      "Event deliveries dropped because a subscriber was full.",
})

// ─── Monitor ────────────────────────────────────────────────────────────────

// MonitorTicks tracks completed monitoring ticks.
var MonitorTicks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "freqlock",
	Name:      "monitor_ticks_total",
	Help:      "Total monitoring ticks.",
})

// MonitorTickErrors tracks ticks that failed and triggered a backoff.
var MonitorTickErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "freqlock",
	Name:      "monitor_tick_errors_total",
	Help:      "Total monitoring ticks that failed.",
})

// MonitorTickLatency tracks tick duration including capability I/O.
var MonitorTickLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "freqlock",
	Name:      "monitor_tick_seconds",
	Help:      "Monitoring tick duration in seconds.",
	Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
})

// RestoreAttempts tracks auto-restore attempts by outcome.
var RestoreAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "freqlock",
	Name:      "restore_attempts_total",
	Help:      "Total auto-restore attempts by outcome.",
}, []string{"outcome"})

// ─── Persistence ────────────────────────────────────────────────────────────

// PersistFailures tracks failed state or event writes.
var PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "freqlock",
	Name:      "persist_failures_total",
	Help:      "Total failed persistence writes by kind.",
}, []string{"kind"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "freqlock",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "freqlock",
	Name:      "health_recoveries_total",
	Help:      "Total auto-recovery attempts per check.",
}, []string{"check"})

// ─── API ────────────────────────────────────────────────────────────────────

// HTTPRequests tracks API requests by route and status class.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "freqlock",
	Name:      "http_requests_total",
	Help:      "Total API requests by route and status code.",
}, []string{"route", "code"})

// ─── Sensor Guard ───────────────────────────────────────────────────────────

// SensorCircuitState tracks the temperature sensor breaker (0=closed, 1=open, 2=half-open).
var SensorCircuitState = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "freqlock",
	Name:      "sensor_circuit_state",
	Help:      "Temperature sensor circuit breaker state (0=closed, 1=open, 2=half-open).",
})
