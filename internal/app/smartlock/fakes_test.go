package smartlock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xtrakernel/freqlockd/internal/domain"
	"github.com/xtrakernel/freqlockd/internal/infra/catalog"
)

// ─── Fake Hardware ──────────────────────────────────────────────────────────

type fakeCluster struct {
	min, max int
	governor string
	hwMin    int
	hwMax    int
}

// fakeHW implements all three capability ports over an in-memory set of
// clusters and counts every call.
type fakeHW struct {
	mu       sync.Mutex
	clusters map[int]*fakeCluster
	hidden   map[int]bool // not reported by discovery
	rejects  map[int]bool // LockCluster fails
	script   []float64    // temperatures, last value repeats
	tempErr  error
	panics   bool
	calls    map[string]int

	// honorCtx makes writes fail on a done context, like sysfs.Host.
	honorCtx bool
	onWrite  func(op string) // called after each successful write
}

func newFakeHW(ids ...int) *fakeHW {
	hw := &fakeHW{
		clusters: make(map[int]*fakeCluster),
		hidden:   make(map[int]bool),
		rejects:  make(map[int]bool),
		script:   []float64{50},
		calls:    make(map[string]int),
	}
	for _, id := range ids {
		hw.clusters[id] = &fakeCluster{
			min: 300_000, max: 1_800_000 + id*400_000, governor: "schedutil",
			hwMin: 300_000, hwMax: 1_800_000 + id*400_000,
		}
	}
	return hw
}

func (f *fakeHW) ports() Ports {
	return Ports{Temperature: f, Discovery: f, Controller: f}
}

func (f *fakeHW) setTemps(temps ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append([]float64(nil), temps...)
}

func (f *fakeHW) setTempErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tempErr = err
}

func (f *fakeHW) setPanics(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panics = v
}

func (f *fakeHW) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeHW) mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls["lock"] + f.calls["restore"] + f.calls["unlock"] + f.calls["governor"]
}

// ctxErr reports a done context when the fake honors cancellation.
// Caller holds f.mu.
func (f *fakeHW) ctxErr(ctx context.Context) error {
	if f.honorCtx {
		return ctx.Err()
	}
	return nil
}

// Caller holds f.mu.
func (f *fakeHW) wrote(op string) {
	if f.onWrite != nil {
		f.onWrite(op)
	}
}

func (f *fakeHW) cluster(id int) fakeCluster {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.clusters[id]
}

func (f *fakeHW) CurrentCPUTemperature(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["temp"]++
	if f.panics {
		panic("sensor driver bug")
	}
	if f.tempErr != nil {
		return 0, f.tempErr
	}
	t := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return t, nil
}

func (f *fakeHW) DetectClusters(ctx context.Context) ([]domain.ClusterSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["detect"]++
	var out []domain.ClusterSnapshot
	for id, c := range f.clusters {
		if f.hidden[id] {
			continue
		}
		out = append(out, domain.ClusterSnapshot{
			ClusterID:     id,
			HardwareMin:   c.hwMin,
			HardwareMax:   c.hwMax,
			CurrentMinKHz: c.min,
			CurrentMaxKHz: c.max,
			Governor:      c.governor,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClusterID < out[j].ClusterID })
	return out, nil
}

func (f *fakeHW) LockCluster(ctx context.Context, id, minKHz, maxKHz int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["lock"]++
	if err := f.ctxErr(ctx); err != nil {
		return err
	}
	c, ok := f.clusters[id]
	if !ok {
		return fmt.Errorf("cluster %d: %w", id, domain.ErrClusterNotFound)
	}
	if f.rejects[id] {
		return fmt.Errorf("cluster %d: %w", id, domain.ErrWriteRejected)
	}
	c.min, c.max = minKHz, maxKHz
	f.wrote("lock")
	return nil
}

func (f *fakeHW) RestoreCluster(ctx context.Context, id, minKHz, maxKHz int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["restore"]++
	if err := f.ctxErr(ctx); err != nil {
		return err
	}
	c, ok := f.clusters[id]
	if !ok {
		return fmt.Errorf("cluster %d: %w", id, domain.ErrClusterNotFound)
	}
	c.min, c.max = minKHz, maxKHz
	f.wrote("restore")
	return nil
}

func (f *fakeHW) UnlockCluster(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["unlock"]++
	if err := f.ctxErr(ctx); err != nil {
		return err
	}
	c, ok := f.clusters[id]
	if !ok {
		return fmt.Errorf("cluster %d: %w", id, domain.ErrClusterNotFound)
	}
	c.min, c.max = c.hwMin, c.hwMax
	return nil
}

func (f *fakeHW) SetGovernor(ctx context.Context, id int, governor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["governor"]++
	if err := f.ctxErr(ctx); err != nil {
		return err
	}
	c, ok := f.clusters[id]
	if !ok {
		return fmt.Errorf("cluster %d: %w", id, domain.ErrClusterNotFound)
	}
	c.governor = governor
	return nil
}

// ─── Fake Clock ─────────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// fastCatalog shortens Balanced so restores complete within a test.
func fastCatalog(t *testing.T, restoreDelay, warningCooldown time.Duration) *catalog.Catalog {
	t.Helper()
	p, ok := catalog.Default().ByName(catalog.Balanced)
	require.True(t, ok)
	p.RestoreDelay = restoreDelay
	p.WarningCooldown = warningCooldown
	c, err := catalog.Default().With(p)
	require.NoError(t, err)
	return c
}

func newTestEngine(t *testing.T, hw *fakeHW, cat *catalog.Catalog) *Engine {
	t.Helper()
	e := New(hw.ports(), cat, Config{
		TickInterval: 2 * time.Millisecond,
		ErrorBackoff: 20 * time.Millisecond,
	})
	t.Cleanup(e.Cleanup)
	return e
}

func configs(ids ...int) map[int]domain.ClusterLockConfig {
	m := make(map[int]domain.ClusterLockConfig, len(ids))
	for _, id := range ids {
		m[id] = domain.ClusterLockConfig{ClusterID: id, MinFreqKHz: 1_000_000, MaxFreqKHz: 1_200_000}
	}
	return m
}

func nextEvent(t *testing.T, ch <-chan domain.ThermalEvent, within time.Duration) domain.ThermalEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(within):
		t.Fatalf("no thermal event within %s", within)
	}
	return domain.ThermalEvent{}
}

func noEvent(t *testing.T, ch <-chan domain.ThermalEvent, within time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected %s event at %.1f°C", ev.Type, ev.Temperature)
	case <-time.After(within):
	}
}
