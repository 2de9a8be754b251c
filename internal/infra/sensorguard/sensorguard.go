// Package sensorguard puts a circuit breaker in front of the CPU temperature
// sensor. After repeated read failures the guard stops touching the sensor for
// a cool-off period and fails fast, then lets probe reads through to decide
// whether to close again.
//
// States:
//   - CLOSED    reads pass through; FailureThreshold consecutive failures → OPEN
//   - OPEN      reads fail fast with ErrCircuitOpen; after ResetTimeout → HALF_OPEN
//   - HALF_OPEN reads pass through; ProbeSuccesses successes → CLOSED, any failure → OPEN
package sensorguard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/xtrakernel/freqlockd/internal/domain"
	"github.com/xtrakernel/freqlockd/internal/infra/metrics"
)

// ErrCircuitOpen is returned while the guard is refusing reads.
var ErrCircuitOpen = errors.New("sensor circuit open")

// State of the breaker.
type State int

const (
	Closed   State = iota // Reads pass through
	Open                  // Reads fail fast
	HalfOpen              // Probing the sensor again
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config tunes the breaker.
type Config struct {
	FailureThreshold int           // consecutive failures that open the circuit (default 5)
	ResetTimeout     time.Duration // time spent OPEN before probing (default 30s)
	ProbeSuccesses   int           // successful probes that close it again (default 1)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		ProbeSuccesses:   1,
	}
}

// Snapshot is a point-in-time view of the guard.
type Snapshot struct {
	State      State     `json:"state"`
	Failures   int       `json:"failures"`
	TotalTrips int       `json:"total_trips"`
	TrippedAt  time.Time `json:"tripped_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Sensor wraps a domain.TemperatureReader with a circuit breaker.
// Safe for concurrent use.
type Sensor struct {
	inner domain.TemperatureReader
	cfg   Config

	mu        sync.Mutex
	state     State
	failures  int
	probes    int
	trippedAt time.Time
	trips     int
	lastErr   error
	now       func() time.Time
}

// New wraps inner. Zero config fields take the defaults.
func New(inner domain.TemperatureReader, cfg Config) *Sensor {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.ProbeSuccesses <= 0 {
		cfg.ProbeSuccesses = def.ProbeSuccesses
	}
	return &Sensor{inner: inner, cfg: cfg, now: time.Now}
}

// CurrentCPUTemperature reads through the breaker.
func (s *Sensor) CurrentCPUTemperature(ctx context.Context) (float64, error) {
	if err := s.allow(); err != nil {
		return 0, err
	}
	temp, err := s.inner.CurrentCPUTemperature(ctx)
	if err != nil {
		// A cancelled caller says nothing about the sensor.
		if ctx.Err() == nil {
			s.recordFailure(err)
		}
		return 0, err
	}
	s.recordSuccess()
	return temp, nil
}

func (s *Sensor) allow() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked()
	if s.state == Open {
		return fmt.Errorf("%w: %w (last error: %v)", domain.ErrSensorUnavailable, ErrCircuitOpen, s.lastErr)
	}
	return nil
}

// advanceLocked moves OPEN to HALF_OPEN once the reset timeout has passed.
func (s *Sensor) advanceLocked() {
	if s.state == Open && s.now().Sub(s.trippedAt) >= s.cfg.ResetTimeout {
		s.setStateLocked(HalfOpen)
		s.probes = 0
	}
}

func (s *Sensor) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case HalfOpen:
		s.probes++
		if s.probes >= s.cfg.ProbeSuccesses {
			s.failures = 0
			s.lastErr = nil
			s.setStateLocked(Closed)
			log.Printf("[sensorguard] temperature sensor recovered, circuit closed")
		}
	case Closed:
		s.failures = 0
	}
}

func (s *Sensor) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	switch s.state {
	case Closed:
		s.failures++
		if s.failures >= s.cfg.FailureThreshold {
			s.tripLocked()
		}
	case HalfOpen:
		s.tripLocked()
	}
}

func (s *Sensor) tripLocked() {
	s.trippedAt = s.now()
	s.trips++
	s.setStateLocked(Open)
	log.Printf("[sensorguard] temperature sensor failed %d times, circuit open for %s: %v",
		s.failures, s.cfg.ResetTimeout, s.lastErr)
}

func (s *Sensor) setStateLocked(st State) {
	s.state = st
	metrics.SensorCircuitState.Set(float64(st))
}

// State returns the current breaker state.
func (s *Sensor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked()
	return s.state
}

// Snapshot returns the current breaker view.
func (s *Sensor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceLocked()
	snap := Snapshot{
		State:      s.state,
		Failures:   s.failures,
		TotalTrips: s.trips,
		TrippedAt:  s.trippedAt,
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

// Reset closes the circuit immediately.
func (s *Sensor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
	s.probes = 0
	s.lastErr = nil
	s.setStateLocked(Closed)
}
