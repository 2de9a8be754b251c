package sysfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/xtrakernel/freqlockd/internal/domain"
)

// DetectClusters groups CPUs by their cpufreq policy (related_cpus).
// Cluster ids are assigned in order of each cluster's lowest CPU.
func (h *Host) DetectClusters(ctx context.Context) ([]domain.ClusterSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stats, err := h.fs.SystemCpufreq()
	if err != nil {
		return nil, fmt.Errorf("%w: read cpufreq: %v", domain.ErrNoClusters, err)
	}

	byLeader := make(map[int]domain.ClusterSnapshot)
	for _, s := range stats {
		cpu, err := strconv.Atoi(s.Name)
		if err != nil {
			continue
		}
		cores := parseCPUList(s.RelatedCpus)
		if len(cores) == 0 {
			cores = []int{cpu}
		}
		leader := cores[0]
		if cpu != leader {
			continue
		}
		byLeader[leader] = domain.ClusterSnapshot{
			Cores:         cores,
			HardwareMin:   khz(s.CpuinfoMinimumFrequency),
			HardwareMax:   khz(s.CpuinfoMaximumFrequency),
			CurrentMinKHz: khz(s.ScalingMinimumFrequency),
			CurrentMaxKHz: khz(s.ScalingMaximumFrequency),
			Governor:      s.Governor,
		}
	}
	if len(byLeader) == 0 {
		return nil, domain.ErrNoClusters
	}

	leaders := make([]int, 0, len(byLeader))
	for l := range byLeader {
		leaders = append(leaders, l)
	}
	sort.Ints(leaders)

	out := make([]domain.ClusterSnapshot, 0, len(leaders))
	ids := make(map[int]int, len(leaders))
	for id, l := range leaders {
		snap := byLeader[l]
		snap.ClusterID = id
		out = append(out, snap)
		ids[id] = l
	}

	h.mu.Lock()
	h.leaders = ids
	h.mu.Unlock()
	return out, nil
}

// LockCluster pins scaling_min_freq and scaling_max_freq.
func (h *Host) LockCluster(ctx context.Context, clusterID, minKHz, maxKHz int) error {
	return h.writeRange(ctx, clusterID, minKHz, maxKHz)
}

// RestoreCluster writes back a captured range.
func (h *Host) RestoreCluster(ctx context.Context, clusterID, minKHz, maxKHz int) error {
	return h.writeRange(ctx, clusterID, minKHz, maxKHz)
}

// UnlockCluster resets the scaling range to the hardware limits.
func (h *Host) UnlockCluster(ctx context.Context, clusterID int) error {
	dir, err := h.policyDir(ctx, clusterID)
	if err != nil {
		return err
	}
	hwMin, err := readInt(filepath.Join(dir, "cpuinfo_min_freq"))
	if err != nil {
		return fmt.Errorf("cluster %d: %w", clusterID, err)
	}
	hwMax, err := readInt(filepath.Join(dir, "cpuinfo_max_freq"))
	if err != nil {
		return fmt.Errorf("cluster %d: %w", clusterID, err)
	}
	return h.writeRange(ctx, clusterID, hwMin, hwMax)
}

// SetGovernor switches scaling_governor. Governors missing from
// scaling_available_governors are rejected without writing.
func (h *Host) SetGovernor(ctx context.Context, clusterID int, governor string) error {
	dir, err := h.policyDir(ctx, clusterID)
	if err != nil {
		return err
	}
	if avail, err := os.ReadFile(filepath.Join(dir, "scaling_available_governors")); err == nil {
		fields := strings.Fields(string(avail))
		if len(fields) > 0 && !slices.Contains(fields, governor) {
			return fmt.Errorf("%w: cluster %d: governor %q not in %v",
				domain.ErrWriteRejected, clusterID, governor, fields)
		}
	}
	return writeValue(filepath.Join(dir, "scaling_governor"), governor)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeRange orders the two writes so the kernel never sees min > max.
func (h *Host) writeRange(ctx context.Context, clusterID, minKHz, maxKHz int) error {
	dir, err := h.policyDir(ctx, clusterID)
	if err != nil {
		return err
	}
	minPath := filepath.Join(dir, "scaling_min_freq")
	maxPath := filepath.Join(dir, "scaling_max_freq")

	curMax, err := readInt(maxPath)
	if err != nil {
		return fmt.Errorf("cluster %d: %w", clusterID, err)
	}
	first, second := [2]string{minPath, strconv.Itoa(minKHz)}, [2]string{maxPath, strconv.Itoa(maxKHz)}
	if minKHz > curMax {
		first, second = second, first
	}
	if err := writeValue(first[0], first[1]); err != nil {
		return fmt.Errorf("cluster %d: %w", clusterID, err)
	}
	if err := writeValue(second[0], second[1]); err != nil {
		return fmt.Errorf("cluster %d: %w", clusterID, err)
	}
	return nil
}

// policyDir resolves a cluster id to its leader's cpufreq directory,
// rediscovering once when the id is unknown.
func (h *Host) policyDir(ctx context.Context, clusterID int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h.mu.Lock()
	leader, ok := h.leaders[clusterID]
	h.mu.Unlock()
	if !ok {
		if _, err := h.DetectClusters(ctx); err != nil {
			return "", err
		}
		h.mu.Lock()
		leader, ok = h.leaders[clusterID]
		h.mu.Unlock()
		if !ok {
			return "", fmt.Errorf("%w: %d", domain.ErrClusterNotFound, clusterID)
		}
	}
	return filepath.Join(h.root, "devices", "system", "cpu", "cpu"+strconv.Itoa(leader), "cpufreq"), nil
}

func writeValue(path, value string) error {
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrWriteRejected, path, err)
	}
	return nil
}

func readInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

func khz(v *uint64) int {
	if v == nil {
		return 0
	}
	return int(*v)
}

// parseCPUList parses related_cpus ("0 1 2 3") or a range list ("0-3,6").
func parseCPUList(s string) []int {
	var cpus []int
	for _, field := range strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' }) {
		lo, hi, isRange := strings.Cut(field, "-")
		a, err := strconv.Atoi(lo)
		if err != nil {
			continue
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(hi); err != nil || b < a {
				continue
			}
		}
		for c := a; c <= b; c++ {
			cpus = append(cpus, c)
		}
	}
	sort.Ints(cpus)
	return cpus
}
