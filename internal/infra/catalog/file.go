package catalog

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtrakernel/freqlockd/internal/domain"
)

// policyFile is the on-disk layout of a custom policy file:
//
//	policies:
//	  - name: TrackDay
//	    warning: 78
//	    emergency: 88
//	    critical: 93
//	    restore: 74
//	    restore_delay: 30s
//	    warning_cooldown: 5s
//	    action_on_emergency: UNLOCK_ALL
//	    action_on_critical: UNLOCK_AND_GOVERNOR_POWERSAVE
//	    auto_restore: true
//	    max_retries_per_hour: 4
type policyFile struct {
	Policies []policyEntry `yaml:"policies"`
}

type policyEntry struct {
	Name              string  `yaml:"name"`
	Warning           float64 `yaml:"warning"`
	Emergency         float64 `yaml:"emergency"`
	Critical          float64 `yaml:"critical"`
	Restore           float64 `yaml:"restore"`
	RestoreDelay      string  `yaml:"restore_delay"`
	WarningCooldown   string  `yaml:"warning_cooldown"`
	ActionOnEmergency string  `yaml:"action_on_emergency"`
	ActionOnCritical  string  `yaml:"action_on_critical"`
	AutoRestore       *bool   `yaml:"auto_restore"`
	MaxRetriesPerHour int     `yaml:"max_retries_per_hour"`
	NotifyUser        *bool   `yaml:"notify_user"`
}

// LoadFile returns the default catalog overlaid with the policies in path.
// A missing file yields the defaults; an invalid policy fails the load.
func LoadFile(path string) (*Catalog, error) {
	base := Default()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return base, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	policies, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return base.With(policies...)
}

// Parse decodes and validates a YAML policy document.
func Parse(data []byte) ([]domain.ThermalPolicy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	out := make([]domain.ThermalPolicy, 0, len(f.Policies))
	for _, e := range f.Policies {
		p, err := e.toPolicy()
		if err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (e policyEntry) toPolicy() (domain.ThermalPolicy, error) {
	restoreDelay, err := parseDuration(e.RestoreDelay, "restore_delay", e.Name)
	if err != nil {
		return domain.ThermalPolicy{}, err
	}
	cooldown, err := parseDuration(e.WarningCooldown, "warning_cooldown", e.Name)
	if err != nil {
		return domain.ThermalPolicy{}, err
	}
	onEmergency, err := parseAction(e.ActionOnEmergency, domain.ActionUnlockAll)
	if err != nil {
		return domain.ThermalPolicy{}, err
	}
	onCritical, err := parseAction(e.ActionOnCritical, domain.ActionUnlockAndGovernorPowersave)
	if err != nil {
		return domain.ThermalPolicy{}, err
	}

	autoRestore, notify := true, true
	if e.AutoRestore != nil {
		autoRestore = *e.AutoRestore
	}
	if e.NotifyUser != nil {
		notify = *e.NotifyUser
	}

	return domain.ThermalPolicy{
		Name:               e.Name,
		WarningThreshold:   e.Warning,
		EmergencyThreshold: e.Emergency,
		CriticalThreshold:  e.Critical,
		RestoreThreshold:   e.Restore,
		RestoreDelay:       restoreDelay,
		WarningCooldown:    cooldown,
		Behavior: domain.ThermalBehavior{
			ActionOnEmergency:  onEmergency,
			ActionOnCritical:   onCritical,
			AutoRestoreEnabled: autoRestore,
			MaxRetriesPerHour:  e.MaxRetriesPerHour,
			NotifyUser:         notify,
		},
	}, nil
}

func parseDuration(s, field, policy string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: %s: %s is required", domain.ErrInvalidPolicy, policy, field)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %s: %v", domain.ErrInvalidPolicy, policy, field, err)
	}
	return d, nil
}

func parseAction(s string, fallback domain.ThermalAction) (domain.ThermalAction, error) {
	switch a := domain.ThermalAction(s); a {
	case "":
		return fallback, nil
	case domain.ActionNone, domain.ActionUnlockAll,
		domain.ActionUnlockAndGovernorPowersave, domain.ActionEmergencyShutdown:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown thermal action %q", domain.ErrInvalidPolicy, s)
}
