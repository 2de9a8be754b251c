// Package catalog provides the registry of thermal policies.
// This is freqlockd's "policy phonebook": it maps names like "Balanced"
// (or the legacy "PolicyB") to an immutable threshold ladder and behavior.
// Catalogs never change after construction; overlays build a new Catalog.
package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/xtrakernel/freqlockd/internal/domain"
)

// Preset names.
const (
	Performance  = "Performance"
	Balanced     = "Balanced"
	Conservative = "Conservative"
	Gaming       = "Gaming"
	BatterySaver = "BatterySaver"
)

// Presets is the built-in policy list, in display order.
var Presets = []domain.ThermalPolicy{
	{
		Name:               Performance,
		WarningThreshold:   75,
		EmergencyThreshold: 85,
		CriticalThreshold:  90,
		RestoreThreshold:   70,
		RestoreDelay:       15 * time.Second,
		WarningCooldown:    5 * time.Second,
		Behavior: domain.ThermalBehavior{
			ActionOnEmergency:  domain.ActionUnlockAll,
			ActionOnCritical:   domain.ActionUnlockAndGovernorPowersave,
			AutoRestoreEnabled: true,
			MaxRetriesPerHour:  5,
			NotifyUser:         true,
		},
	},
	{
		Name:               Balanced,
		WarningThreshold:   72,
		EmergencyThreshold: 82,
		CriticalThreshold:  87,
		RestoreThreshold:   68,
		RestoreDelay:       10 * time.Second,
		WarningCooldown:    3 * time.Second,
		Behavior: domain.ThermalBehavior{
			ActionOnEmergency:  domain.ActionUnlockAll,
			ActionOnCritical:   domain.ActionUnlockAndGovernorPowersave,
			AutoRestoreEnabled: true,
			MaxRetriesPerHour:  3,
			NotifyUser:         true,
		},
	},
	{
		Name:               Conservative,
		WarningThreshold:   68,
		EmergencyThreshold: 78,
		CriticalThreshold:  85,
		RestoreThreshold:   65,
		RestoreDelay:       8 * time.Second,
		WarningCooldown:    2 * time.Second,
		Behavior: domain.ThermalBehavior{
			ActionOnEmergency:  domain.ActionUnlockAndGovernorPowersave,
			ActionOnCritical:   domain.ActionUnlockAndGovernorPowersave,
			AutoRestoreEnabled: true,
			MaxRetriesPerHour:  2,
			NotifyUser:         true,
		},
	},
	{
		Name:               Gaming,
		WarningThreshold:   76,
		EmergencyThreshold: 86,
		CriticalThreshold:  92,
		RestoreThreshold:   72,
		RestoreDelay:       20 * time.Second,
		WarningCooldown:    4 * time.Second,
		Behavior: domain.ThermalBehavior{
			ActionOnEmergency:  domain.ActionUnlockAll,
			ActionOnCritical:   domain.ActionUnlockAndGovernorPowersave,
			AutoRestoreEnabled: true,
			MaxRetriesPerHour:  8, // More retries for gaming
			NotifyUser:         true,
		},
	},
	{
		Name:               BatterySaver,
		WarningThreshold:   65,
		EmergencyThreshold: 75,
		CriticalThreshold:  80,
		RestoreThreshold:   62,
		RestoreDelay:       5 * time.Second,
		WarningCooldown:    1500 * time.Millisecond,
		Behavior: domain.ThermalBehavior{
			ActionOnEmergency:  domain.ActionUnlockAndGovernorPowersave,
			ActionOnCritical:   domain.ActionUnlockAndGovernorPowersave,
			AutoRestoreEnabled: false, // Stay unlocked once the device has cooled
			MaxRetriesPerHour:  1,
			NotifyUser:         true,
		},
	},
}

// legacyAliases maps names persisted by earlier releases onto presets.
var legacyAliases = map[string]string{
	"policya":                 Performance,
	"policy a (performance)":  Performance,
	"policyb":                 Balanced,
	"policy b (balanced)":     Balanced,
	"policyc":                 Conservative,
	"policy c (conservative)": Conservative,
	"gaming mode":             Gaming,
	"battery saver":           BatterySaver,
	"battery_saver":           BatterySaver,
}

// Catalog is an immutable, validated set of thermal policies.
type Catalog struct {
	policies []domain.ThermalPolicy
	index    map[string]int // lower-cased name → position
}

// Default returns a catalog holding the built-in presets.
func Default() *Catalog {
	c, err := New(Presets...)
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in presets invalid: %v", err))
	}
	return c
}

// New builds a catalog. Every policy must validate and names must be unique
// (case-insensitive).
func New(policies ...domain.ThermalPolicy) (*Catalog, error) {
	c := &Catalog{
		policies: make([]domain.ThermalPolicy, 0, len(policies)),
		index:    make(map[string]int, len(policies)),
	}
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		key := strings.ToLower(p.Name)
		if _, dup := c.index[key]; dup {
			return nil, fmt.Errorf("%w: duplicate policy name %q", domain.ErrInvalidPolicy, p.Name)
		}
		c.index[key] = len(c.policies)
		c.policies = append(c.policies, p)
	}
	return c, nil
}

// With returns a new catalog where the given policies replace same-named
// entries and unknown names are appended.
func (c *Catalog) With(overrides ...domain.ThermalPolicy) (*Catalog, error) {
	merged := c.All()
	for _, o := range overrides {
		if i, ok := c.index[strings.ToLower(o.Name)]; ok {
			merged[i] = o
			continue
		}
		merged = append(merged, o)
	}
	return New(merged...)
}

// ByName finds a policy by name or legacy alias. Matching is case-insensitive.
func (c *Catalog) ByName(name string) (domain.ThermalPolicy, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if i, ok := c.index[key]; ok {
		return c.policies[i], true
	}
	if canonical, ok := legacyAliases[key]; ok {
		if i, ok := c.index[strings.ToLower(canonical)]; ok {
			return c.policies[i], true
		}
	}
	return domain.ThermalPolicy{}, false
}

// All returns a copy of every policy in display order.
func (c *Catalog) All() []domain.ThermalPolicy {
	out := make([]domain.ThermalPolicy, len(c.policies))
	copy(out, c.policies)
	return out
}

// Default policy used when nothing else is selected.
func (c *Catalog) Default() domain.ThermalPolicy {
	if p, ok := c.ByName(Balanced); ok {
		return p
	}
	return Presets[1]
}

// RecommendedFor returns the policy matching a lock type.
func (c *Catalog) RecommendedFor(pt domain.PolicyType) domain.ThermalPolicy {
	var name string
	switch pt {
	case domain.PolicyGame:
		name = Gaming
	case domain.PolicyBatterySaving:
		name = BatterySaver
	default:
		name = Balanced // MANUAL and SMART
	}
	if p, ok := c.ByName(name); ok {
		return p
	}
	return c.Default()
}

// IsValid reports whether a policy's thresholds and delays are coherent.
func IsValid(p domain.ThermalPolicy) bool {
	return p.Validate() == nil
}
