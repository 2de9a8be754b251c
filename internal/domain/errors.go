package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure, with no infrastructure dependency.

var (
	// Capability (I/O) errors
	ErrSensorUnavailable = errors.New("temperature sensor unavailable")
	ErrClusterNotFound   = errors.New("cpu cluster not found")
	ErrNoClusters        = errors.New("no cpu clusters detected")
	ErrWriteRejected     = errors.New("kernel rejected cpufreq write")

	// Validation errors, rejected before any mutation
	ErrInvalidConfig = errors.New("invalid cluster lock config")
	ErrInvalidPolicy = errors.New("invalid thermal policy")
	ErrUnknownPolicy = errors.New("unknown thermal policy")

	// Thermal refusal
	ErrThermalRefusal = errors.New("temperature at or above critical threshold, lock refused")

	// Persistence errors
	ErrStateCorrupted = errors.New("persisted lock state is corrupted")
)
