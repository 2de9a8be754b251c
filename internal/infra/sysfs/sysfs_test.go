package sysfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/xtrakernel/freqlockd/internal/domain"
)

// ─── Fake Tree ──────────────────────────────────────────────────────────────

type fakePolicy struct {
	cpus      []int
	hwMin     int
	hwMax     int
	governor  string
	governors string
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
}

// newFakeTree lays out cpuN/cpufreq for every CPU of every policy.
func newFakeTree(t *testing.T, policies ...fakePolicy) string {
	t.Helper()
	root := t.TempDir()
	for _, p := range policies {
		related := make([]string, len(p.cpus))
		for i, c := range p.cpus {
			related[i] = strconv.Itoa(c)
		}
		for _, c := range p.cpus {
			dir := filepath.Join(root, "devices", "system", "cpu", "cpu"+strconv.Itoa(c), "cpufreq")
			files := map[string]string{
				"cpuinfo_min_freq":            strconv.Itoa(p.hwMin),
				"cpuinfo_max_freq":            strconv.Itoa(p.hwMax),
				"cpuinfo_transition_latency":  "0",
				"scaling_cur_freq":            strconv.Itoa(p.hwMax),
				"scaling_min_freq":            strconv.Itoa(p.hwMin),
				"scaling_max_freq":            strconv.Itoa(p.hwMax),
				"scaling_governor":            p.governor,
				"scaling_available_governors": p.governors,
				"scaling_driver":              "cpufreq-dt",
				"scaling_setspeed":            "<unsupported>",
				"related_cpus":                strings.Join(related, " "),
			}
			for name, v := range files {
				writeFile(t, filepath.Join(dir, name), v)
			}
		}
	}
	return root
}

func addZone(t *testing.T, root string, n int, typ string, milliC int) {
	t.Helper()
	dir := filepath.Join(root, "class", "thermal", "thermal_zone"+strconv.Itoa(n))
	writeFile(t, filepath.Join(dir, "type"), typ)
	writeFile(t, filepath.Join(dir, "policy"), "step_wise")
	writeFile(t, filepath.Join(dir, "temp"), strconv.Itoa(milliC))
}

func bigLittle(t *testing.T) string {
	return newFakeTree(t,
		fakePolicy{cpus: []int{0, 1, 2, 3}, hwMin: 300000, hwMax: 1800000,
			governor: "schedutil", governors: "schedutil performance powersave"},
		fakePolicy{cpus: []int{4, 5, 6}, hwMin: 710000, hwMax: 2400000,
			governor: "schedutil", governors: "schedutil performance powersave"},
		fakePolicy{cpus: []int{7}, hwMin: 844000, hwMax: 3000000,
			governor: "schedutil", governors: "schedutil performance powersave"},
	)
}

func readBack(t *testing.T, root string, cpu int, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, "devices", "system", "cpu", "cpu"+strconv.Itoa(cpu), "cpufreq", name))
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(data))
}

// ─── Discovery Tests ────────────────────────────────────────────────────────

func TestDetectClusters(t *testing.T) {
	h, err := New(Config{Root: bigLittle(t)})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	snaps, err := h.DetectClusters(context.Background())
	if err != nil {
		t.Fatalf("DetectClusters() error: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("clusters = %d, want 3", len(snaps))
	}
	wantCores := [][]int{{0, 1, 2, 3}, {4, 5, 6}, {7}}
	for i, s := range snaps {
		if s.ClusterID != i {
			t.Errorf("snaps[%d].ClusterID = %d", i, s.ClusterID)
		}
		if len(s.Cores) != len(wantCores[i]) || s.Cores[0] != wantCores[i][0] {
			t.Errorf("cluster %d cores = %v, want %v", i, s.Cores, wantCores[i])
		}
		if s.Governor != "schedutil" {
			t.Errorf("cluster %d governor = %q", i, s.Governor)
		}
	}
	if snaps[2].HardwareMax != 3000000 || snaps[2].CurrentMaxKHz != 3000000 {
		t.Errorf("prime cluster = %+v", snaps[2])
	}
}

func TestDetectClusters_NoCpufreq(t *testing.T) {
	h, err := New(Config{Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.DetectClusters(context.Background()); !errors.Is(err, domain.ErrNoClusters) {
		t.Errorf("error = %v, want ErrNoClusters", err)
	}
}

func TestParseCPUList(t *testing.T) {
	tests := []struct {
		in   string
		want []int
	}{
		{"0 1 2 3", []int{0, 1, 2, 3}},
		{"4-6", []int{4, 5, 6}},
		{"0-1,6", []int{0, 1, 6}},
		{"7", []int{7}},
		{"", nil},
		{"x 2", []int{2}},
	}
	for _, tt := range tests {
		got := parseCPUList(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("parseCPUList(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parseCPUList(%q) = %v, want %v", tt.in, got, tt.want)
				break
			}
		}
	}
}

// ─── Controller Tests ───────────────────────────────────────────────────────

func TestLockAndUnlockCluster(t *testing.T) {
	root := bigLittle(t)
	h, _ := New(Config{Root: root})
	ctx := context.Background()

	if err := h.LockCluster(ctx, 1, 1200000, 1500000); err != nil {
		t.Fatalf("LockCluster() error: %v", err)
	}
	if got := readBack(t, root, 4, "scaling_min_freq"); got != "1200000" {
		t.Errorf("min = %s, want 1200000", got)
	}
	if got := readBack(t, root, 4, "scaling_max_freq"); got != "1500000" {
		t.Errorf("max = %s, want 1500000", got)
	}

	if err := h.UnlockCluster(ctx, 1); err != nil {
		t.Fatalf("UnlockCluster() error: %v", err)
	}
	if got := readBack(t, root, 4, "scaling_min_freq"); got != "710000" {
		t.Errorf("min after unlock = %s, want 710000", got)
	}
	if got := readBack(t, root, 4, "scaling_max_freq"); got != "2400000" {
		t.Errorf("max after unlock = %s, want 2400000", got)
	}
}

func TestRestoreCluster(t *testing.T) {
	root := bigLittle(t)
	h, _ := New(Config{Root: root})
	ctx := context.Background()

	if err := h.LockCluster(ctx, 0, 1000000, 1000000); err != nil {
		t.Fatal(err)
	}
	if err := h.RestoreCluster(ctx, 0, 300000, 1800000); err != nil {
		t.Fatalf("RestoreCluster() error: %v", err)
	}
	if got := readBack(t, root, 0, "scaling_max_freq"); got != "1800000" {
		t.Errorf("max = %s, want 1800000", got)
	}
}

func TestLockCluster_UnknownCluster(t *testing.T) {
	h, _ := New(Config{Root: bigLittle(t)})
	err := h.LockCluster(context.Background(), 9, 1, 2)
	if !errors.Is(err, domain.ErrClusterNotFound) {
		t.Errorf("error = %v, want ErrClusterNotFound", err)
	}
}

func TestSetGovernor(t *testing.T) {
	root := bigLittle(t)
	h, _ := New(Config{Root: root})
	ctx := context.Background()

	if err := h.SetGovernor(ctx, 2, "powersave"); err != nil {
		t.Fatalf("SetGovernor() error: %v", err)
	}
	if got := readBack(t, root, 7, "scaling_governor"); got != "powersave" {
		t.Errorf("governor = %s, want powersave", got)
	}
	if err := h.SetGovernor(ctx, 2, "turbo"); !errors.Is(err, domain.ErrWriteRejected) {
		t.Errorf("unavailable governor error = %v, want ErrWriteRejected", err)
	}
}

func TestCancelledContext(t *testing.T) {
	h, _ := New(Config{Root: bigLittle(t)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.LockCluster(ctx, 0, 1, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

// ─── Thermal Tests ──────────────────────────────────────────────────────────

func TestCurrentCPUTemperature_AveragesCPUZones(t *testing.T) {
	root := bigLittle(t)
	addZone(t, root, 0, "cpu-0-0-usr", 60000)
	addZone(t, root, 1, "cpu-1-0-usr", 70000)
	addZone(t, root, 2, "battery", 35000)
	h, _ := New(Config{Root: root})

	got, err := h.CurrentCPUTemperature(context.Background())
	if err != nil {
		t.Fatalf("CurrentCPUTemperature() error: %v", err)
	}
	if got != 65 {
		t.Errorf("temperature = %.1f, want 65.0", got)
	}
}

func TestCurrentCPUTemperature_FallbackAndBroken(t *testing.T) {
	root := bigLittle(t)
	addZone(t, root, 0, "acpitz", 48000)
	addZone(t, root, 1, "cpu_thermal", -40000) // broken sensor
	h, _ := New(Config{Root: root})

	got, err := h.CurrentCPUTemperature(context.Background())
	if err != nil {
		t.Fatalf("CurrentCPUTemperature() error: %v", err)
	}
	if got != 48 {
		t.Errorf("temperature = %.1f, want fallback 48.0", got)
	}
}

func TestCurrentCPUTemperature_NoZones(t *testing.T) {
	h, _ := New(Config{Root: bigLittle(t)})
	_, err := h.CurrentCPUTemperature(context.Background())
	if !errors.Is(err, domain.ErrSensorUnavailable) {
		t.Errorf("error = %v, want ErrSensorUnavailable", err)
	}
}

func TestCustomZoneFilter(t *testing.T) {
	root := bigLittle(t)
	addZone(t, root, 0, "cpu-0-0-usr", 90000)
	addZone(t, root, 1, "skin-therm", 40000)
	h, _ := New(Config{Root: root, ZoneFilter: []string{"skin"}})

	got, err := h.CurrentCPUTemperature(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != 40 {
		t.Errorf("temperature = %.1f, want 40.0", got)
	}
}
