// Package sysfs implements the capability ports over the Linux sysfs tree:
// cpufreq policies for cluster discovery and frequency writes, and thermal
// zones for the CPU temperature.
//
// Reads go through github.com/prometheus/procfs/sysfs. Writes are plain file
// writes into the cpufreq directory of each cluster's leader CPU.
package sysfs

import (
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/procfs/sysfs"
)

// DefaultRoot is the sysfs mount point.
const DefaultRoot = "/sys"

// DefaultZoneFilter matches thermal zone types that report CPU temperature
// on common SoCs and desktops.
var DefaultZoneFilter = []string{"cpu", "tsens", "soc", "x86_pkg_temp", "coretemp", "thermal"}

// Config selects the sysfs tree to operate on.
type Config struct {
	Root       string   // sysfs mount point (default: /sys)
	ZoneFilter []string // case-insensitive substrings of thermal zone types
}

// Host is the sysfs-backed implementation of domain.TemperatureReader,
// domain.ClusterDiscovery and domain.ClusterController.
type Host struct {
	root       string
	fs         sysfs.FS
	zoneFilter []string

	mu      sync.Mutex
	leaders map[int]int // cluster id → leader cpu, from the last discovery
}

// New opens the sysfs tree at cfg.Root.
func New(cfg Config) (*Host, error) {
	if cfg.Root == "" {
		cfg.Root = DefaultRoot
	}
	if len(cfg.ZoneFilter) == 0 {
		cfg.ZoneFilter = DefaultZoneFilter
	}
	fs, err := sysfs.NewFS(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("open sysfs at %s: %w", cfg.Root, err)
	}
	filter := make([]string, 0, len(cfg.ZoneFilter))
	for _, f := range cfg.ZoneFilter {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			filter = append(filter, f)
		}
	}
	return &Host{
		root:       cfg.Root,
		fs:         fs,
		zoneFilter: filter,
		leaders:    make(map[int]int),
	}, nil
}

// Root returns the sysfs mount point.
func (h *Host) Root() string { return h.root }
