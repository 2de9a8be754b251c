package sensorguard

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xtrakernel/freqlockd/internal/domain"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

type flakySensor struct {
	mu    sync.Mutex
	err   error
	temp  float64
	reads int
}

func (f *flakySensor) CurrentCPUTemperature(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.err != nil {
		return 0, f.err
	}
	return f.temp, nil
}

func (f *flakySensor) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *flakySensor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGuard(t *testing.T) (*Sensor, *flakySensor, *clock) {
	t.Helper()
	inner := &flakySensor{temp: 55}
	clk := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	g := New(inner, Config{FailureThreshold: 3, ResetTimeout: time.Minute, ProbeSuccesses: 2})
	g.now = clk.now
	return g, inner, clk
}

func readN(g *Sensor, n int) {
	for i := 0; i < n; i++ {
		_, _ = g.CurrentCPUTemperature(context.Background())
	}
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Closed, "CLOSED"},
		{Open, "OPEN"},
		{HalfOpen, "HALF_OPEN"},
		{State(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestSnapshot_JSONUsesStateNames(t *testing.T) {
	data, err := json.Marshal(Snapshot{State: HalfOpen, Failures: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"state":"HALF_OPEN"`) {
		t.Errorf("json = %s", data)
	}
}

func TestNew_Defaults(t *testing.T) {
	g := New(&flakySensor{}, Config{})
	if g.cfg != DefaultConfig() {
		t.Errorf("cfg = %+v, want defaults", g.cfg)
	}
}

func TestGuard_PassesReadsThrough(t *testing.T) {
	g, _, _ := newTestGuard(t)
	temp, err := g.CurrentCPUTemperature(context.Background())
	if err != nil || temp != 55 {
		t.Fatalf("read = %v, %v; want 55, nil", temp, err)
	}
	if g.State() != Closed {
		t.Errorf("state = %s, want CLOSED", g.State())
	}
}

func TestGuard_OpensAfterConsecutiveFailures(t *testing.T) {
	g, inner, _ := newTestGuard(t)
	inner.fail(domain.ErrSensorUnavailable)

	readN(g, 2)
	if g.State() != Closed {
		t.Fatalf("state after 2 failures = %s, want CLOSED", g.State())
	}
	readN(g, 1)
	if g.State() != Open {
		t.Fatalf("state after 3 failures = %s, want OPEN", g.State())
	}

	reads := inner.count()
	_, err := g.CurrentCPUTemperature(context.Background())
	if !errors.Is(err, ErrCircuitOpen) || !errors.Is(err, domain.ErrSensorUnavailable) {
		t.Errorf("err = %v, want ErrCircuitOpen wrapping ErrSensorUnavailable", err)
	}
	if inner.count() != reads {
		t.Error("an open circuit must not touch the sensor")
	}
}

func TestGuard_SuccessResetsFailureRun(t *testing.T) {
	g, inner, _ := newTestGuard(t)
	inner.fail(domain.ErrSensorUnavailable)
	readN(g, 2)
	inner.fail(nil)
	readN(g, 1)
	inner.fail(domain.ErrSensorUnavailable)
	readN(g, 2)
	if g.State() != Closed {
		t.Errorf("state = %s, failures must be consecutive", g.State())
	}
}

func TestGuard_HalfOpenProbesThenCloses(t *testing.T) {
	g, inner, clk := newTestGuard(t)
	inner.fail(domain.ErrSensorUnavailable)
	readN(g, 3)

	clk.advance(time.Minute)
	if g.State() != HalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN after the reset timeout", g.State())
	}

	inner.fail(nil)
	readN(g, 1)
	if g.State() != HalfOpen {
		t.Fatalf("one probe of two: state = %s, want HALF_OPEN", g.State())
	}
	readN(g, 1)
	if g.State() != Closed {
		t.Errorf("state = %s, want CLOSED", g.State())
	}
}

func TestGuard_HalfOpenFailureReopens(t *testing.T) {
	g, inner, clk := newTestGuard(t)
	inner.fail(domain.ErrSensorUnavailable)
	readN(g, 3)
	clk.advance(time.Minute)

	readN(g, 1)
	snap := g.Snapshot()
	if snap.State != Open {
		t.Errorf("state = %s, want OPEN", snap.State)
	}
	if snap.TotalTrips != 2 {
		t.Errorf("trips = %d, want 2", snap.TotalTrips)
	}
	if snap.LastError == "" {
		t.Error("snapshot should carry the last sensor error")
	}
}

func TestGuard_CancelledReadIsNotAFailure(t *testing.T) {
	g, inner, _ := newTestGuard(t)
	inner.fail(context.Canceled)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		_, _ = g.CurrentCPUTemperature(ctx)
	}
	if g.State() != Closed {
		t.Errorf("state = %s, cancelled reads must not trip the circuit", g.State())
	}
}

func TestGuard_Reset(t *testing.T) {
	g, inner, _ := newTestGuard(t)
	inner.fail(domain.ErrSensorUnavailable)
	readN(g, 3)
	g.Reset()
	if g.State() != Closed {
		t.Errorf("state = %s, want CLOSED after Reset", g.State())
	}
}
