// Package domain — CPU frequency lock types.
// A lock session pins one or more CPU clusters to a frequency range and,
// for SMART sessions, is supervised by the thermal monitoring loop.
package domain

import (
	"fmt"
	"sort"
	"time"
)

// PolicyType selects how a lock session behaves.
type PolicyType string

const (
	PolicyManual        PolicyType = "MANUAL"         // User-controlled, no thermal supervision
	PolicySmart         PolicyType = "SMART"          // Thermal-aware with autonomous override/restore
	PolicyGame          PolicyType = "GAME"           // Game-optimized thresholds
	PolicyBatterySaving PolicyType = "BATTERY_SAVING" // Power-efficient thresholds
)

// ParsePolicyType converts a user-supplied string into a PolicyType.
func ParsePolicyType(s string) (PolicyType, error) {
	switch PolicyType(s) {
	case PolicyManual, PolicySmart, PolicyGame, PolicyBatterySaving:
		return PolicyType(s), nil
	case "":
		return PolicyManual, nil
	}
	return "", fmt.Errorf("%w: unknown policy type %q", ErrInvalidConfig, s)
}

// ClusterLockConfig is the requested frequency range for one cluster.
// Frequencies are in kHz, the unit cpufreq exposes in sysfs.
type ClusterLockConfig struct {
	ClusterID           int        `json:"cluster_id"`
	MinFreqKHz          int        `json:"min_freq_khz"`
	MaxFreqKHz          int        `json:"max_freq_khz"`
	TemporarilyUnlocked bool       `json:"temporarily_unlocked"`
	UnlockReason        *string    `json:"unlock_reason,omitempty"`
	UnlockExpiry        *time.Time `json:"unlock_expiry,omitempty"`
	LastAppliedAt       time.Time  `json:"last_applied_at"`
}

// Validate enforces 0 < min <= max.
func (c ClusterLockConfig) Validate() error {
	if c.ClusterID < 0 {
		return fmt.Errorf("%w: cluster id %d is negative", ErrInvalidConfig, c.ClusterID)
	}
	if c.MinFreqKHz <= 0 || c.MaxFreqKHz <= 0 {
		return fmt.Errorf("%w: cluster %d frequencies must be positive", ErrInvalidConfig, c.ClusterID)
	}
	if c.MinFreqKHz > c.MaxFreqKHz {
		return fmt.Errorf("%w: cluster %d min %d > max %d",
			ErrInvalidConfig, c.ClusterID, c.MinFreqKHz, c.MaxFreqKHz)
	}
	return nil
}

// OriginalFrequencyBackup records a cluster's settings before the first
// mutation of a lock session. Immutable for the lifetime of that session.
type OriginalFrequencyBackup struct {
	ClusterID  int       `json:"cluster_id"`
	MinFreqKHz int       `json:"min_freq_khz"`
	MaxFreqKHz int       `json:"max_freq_khz"`
	Governor   string    `json:"governor"`
	CapturedAt time.Time `json:"captured_at"`
}

// LockState is the authoritative state of the frequency lock.
// Owned and mutated exclusively by the smartlock engine.
type LockState struct {
	IsLocked              bool                            `json:"is_locked"`
	ClusterConfigs        map[int]ClusterLockConfig       `json:"cluster_configs"`
	PolicyType            PolicyType                      `json:"policy_type"`
	ThermalPolicy         string                          `json:"thermal_policy"`
	LastTemperature       float64                         `json:"last_temperature"`
	LastUpdateAt          time.Time                       `json:"last_update_at"`
	ThermalOverrideActive bool                            `json:"thermal_override_active"`
	OriginalFrequencies   map[int]OriginalFrequencyBackup `json:"original_frequencies"`
	RetryCount            int                             `json:"retry_count"`
	LastRetryAt           time.Time                       `json:"last_retry_at"`
}

// EmptyLockState returns the unlocked value.
func EmptyLockState() LockState {
	return LockState{
		ClusterConfigs:      map[int]ClusterLockConfig{},
		PolicyType:          PolicyManual,
		OriginalFrequencies: map[int]OriginalFrequencyBackup{},
	}
}

// SessionActive reports whether a lock session exists, either applied or
// suspended by a thermal override.
func (s LockState) SessionActive() bool {
	return s.IsLocked || s.ThermalOverrideActive
}

// Clone returns a deep copy; maps and nullable fields are not shared.
func (s LockState) Clone() LockState {
	out := s
	out.ClusterConfigs = make(map[int]ClusterLockConfig, len(s.ClusterConfigs))
	for id, c := range s.ClusterConfigs {
		if c.UnlockReason != nil {
			reason := *c.UnlockReason
			c.UnlockReason = &reason
		}
		if c.UnlockExpiry != nil {
			expiry := *c.UnlockExpiry
			c.UnlockExpiry = &expiry
		}
		out.ClusterConfigs[id] = c
	}
	out.OriginalFrequencies = make(map[int]OriginalFrequencyBackup, len(s.OriginalFrequencies))
	for id, b := range s.OriginalFrequencies {
		out.OriginalFrequencies[id] = b
	}
	return out
}

// ClusterIDs returns the configured cluster ids in ascending order.
func (s LockState) ClusterIDs() []int {
	return SortedKeys(s.ClusterConfigs)
}

// SortedKeys returns the int keys of m in ascending order.
func SortedKeys[V any](m map[int]V) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ClusterSnapshot is a live view of one cluster as reported by discovery.
type ClusterSnapshot struct {
	ClusterID     int    `json:"cluster_id"`
	Cores         []int  `json:"cores"`
	HardwareMin   int    `json:"hardware_min_khz"`
	HardwareMax   int    `json:"hardware_max_khz"`
	CurrentMinKHz int    `json:"current_min_khz"`
	CurrentMaxKHz int    `json:"current_max_khz"`
	Governor      string `json:"governor"`
}

// LockStatus is the UI-facing projection of LockState.
type LockStatus struct {
	IsLocked              bool       `json:"is_locked"`
	PolicyType            PolicyType `json:"policy_type"`
	ThermalPolicy         string     `json:"thermal_policy"`
	ThermalOverrideActive bool       `json:"thermal_override_active"`
	LastTemperature       float64    `json:"last_temperature"`
	LastUpdateAt          time.Time  `json:"last_update_at"`
	ClusterCount          int        `json:"cluster_count"`
	LockedClusters        []int      `json:"locked_clusters"`
	RetryCount            int        `json:"retry_count"`
	CanRetry              bool       `json:"can_retry"`
	IsHealthy             bool       `json:"is_healthy"`
	NeedsAttention        bool       `json:"needs_attention"`
}

// Presentation heuristics, independent of the active thermal policy.
const (
	HealthyBelowCelsius   = 70.0
	AttentionAboveCelsius = 75.0
)

// NewLockStatus projects a state into a status. canRetry is computed by the
// caller since it depends on the active policy.
func NewLockStatus(s LockState, canRetry bool) LockStatus {
	return LockStatus{
		IsLocked:              s.IsLocked,
		PolicyType:            s.PolicyType,
		ThermalPolicy:         s.ThermalPolicy,
		ThermalOverrideActive: s.ThermalOverrideActive,
		LastTemperature:       s.LastTemperature,
		LastUpdateAt:          s.LastUpdateAt,
		ClusterCount:          len(s.ClusterConfigs),
		LockedClusters:        s.ClusterIDs(),
		RetryCount:            s.RetryCount,
		CanRetry:              canRetry,
		IsHealthy:             !s.ThermalOverrideActive && s.LastTemperature < HealthyBelowCelsius,
		NeedsAttention:        s.ThermalOverrideActive || s.LastTemperature > AttentionAboveCelsius,
	}
}
