// Package domain — thermal policy, severity, and event types.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ThermalAction is what the engine does when a threshold is crossed.
type ThermalAction string

const (
	ActionNone                       ThermalAction = "NONE"
	ActionUnlockAll                  ThermalAction = "UNLOCK_ALL"                    // Restore original frequencies
	ActionUnlockAndGovernorPowersave ThermalAction = "UNLOCK_AND_GOVERNOR_POWERSAVE" // Unlock, then force powersave
	ActionEmergencyShutdown          ThermalAction = "EMERGENCY_SHUTDOWN"            // Reserved, logged only
)

// PowersaveGovernor is forced on every cluster by ActionUnlockAndGovernorPowersave.
const PowersaveGovernor = "powersave"

// ThermalBehavior configures the reaction to thermal transitions.
type ThermalBehavior struct {
	ActionOnEmergency  ThermalAction `json:"action_on_emergency"`
	ActionOnCritical   ThermalAction `json:"action_on_critical"`
	AutoRestoreEnabled bool          `json:"auto_restore_enabled"`
	MaxRetriesPerHour  int           `json:"max_retries_per_hour"`
	NotifyUser         bool          `json:"notify_user"`
}

// ThermalPolicy is an immutable threshold ladder plus behavior.
// Thresholds are in °C: restore < warning < emergency < critical.
type ThermalPolicy struct {
	Name               string          `json:"name"`
	WarningThreshold   float64         `json:"warning_threshold"`
	EmergencyThreshold float64         `json:"emergency_threshold"`
	CriticalThreshold  float64         `json:"critical_threshold"`
	RestoreThreshold   float64         `json:"restore_threshold"`
	RestoreDelay       time.Duration   `json:"restore_delay"`
	WarningCooldown    time.Duration   `json:"warning_cooldown"`
	Behavior           ThermalBehavior `json:"behavior"`
}

// Validate checks threshold ordering and positive delays/retry counts.
func (p ThermalPolicy) Validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: policy name is empty", ErrInvalidPolicy)
	case !(p.CriticalThreshold > p.EmergencyThreshold):
		return fmt.Errorf("%w: %s: critical %.1f must exceed emergency %.1f",
			ErrInvalidPolicy, p.Name, p.CriticalThreshold, p.EmergencyThreshold)
	case !(p.EmergencyThreshold > p.WarningThreshold):
		return fmt.Errorf("%w: %s: emergency %.1f must exceed warning %.1f",
			ErrInvalidPolicy, p.Name, p.EmergencyThreshold, p.WarningThreshold)
	case !(p.WarningThreshold > p.RestoreThreshold):
		return fmt.Errorf("%w: %s: warning %.1f must exceed restore %.1f",
			ErrInvalidPolicy, p.Name, p.WarningThreshold, p.RestoreThreshold)
	case p.RestoreDelay <= 0:
		return fmt.Errorf("%w: %s: restore delay must be positive", ErrInvalidPolicy, p.Name)
	case p.WarningCooldown <= 0:
		return fmt.Errorf("%w: %s: warning cooldown must be positive", ErrInvalidPolicy, p.Name)
	case p.Behavior.MaxRetriesPerHour <= 0:
		return fmt.Errorf("%w: %s: max retries per hour must be positive", ErrInvalidPolicy, p.Name)
	}
	return nil
}

// Severity is the discrete classification of a temperature reading.
type Severity int

const (
	SeverityNormal Severity = iota
	SeverityWarning
	SeverityEmergency
	SeverityCritical
)

// String returns a human-readable severity.
func (s Severity) String() string {
	switch s {
	case SeverityNormal:
		return "NORMAL"
	case SeverityWarning:
		return "WARNING"
	case SeverityEmergency:
		return "EMERGENCY"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Classify maps a temperature onto the policy's ladder. Ties round up to
// the more severe class.
func (p ThermalPolicy) Classify(tempC float64) Severity {
	switch {
	case tempC >= p.CriticalThreshold:
		return SeverityCritical
	case tempC >= p.EmergencyThreshold:
		return SeverityEmergency
	case tempC >= p.WarningThreshold:
		return SeverityWarning
	default:
		return SeverityNormal
	}
}

// ThermalEventType enumerates notable thermal transitions.
type ThermalEventType string

const (
	EventWarning       ThermalEventType = "WARNING"
	EventEmergency     ThermalEventType = "EMERGENCY"
	EventCritical      ThermalEventType = "CRITICAL"
	EventRestoreSafe   ThermalEventType = "RESTORE_SAFE"
	EventRestoreFailed ThermalEventType = "RESTORE_FAILED"
)

// ParseThermalEventType accepts an event type name in any case.
func ParseThermalEventType(s string) (ThermalEventType, error) {
	switch t := ThermalEventType(strings.ToUpper(s)); t {
	case EventWarning, EventEmergency, EventCritical, EventRestoreSafe, EventRestoreFailed:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown thermal event type %q", ErrInvalidConfig, s)
}

// ThermalEvent is a fire-and-forget notification. Not persisted as state.
type ThermalEvent struct {
	ID               string           `json:"id"`
	Type             ThermalEventType `json:"type"`
	Temperature      float64          `json:"temperature"`
	Policy           string           `json:"policy"`
	Message          string           `json:"message"`
	Timestamp        time.Time        `json:"timestamp"`
	AffectedClusters []int            `json:"affected_clusters"`
	Notify           bool             `json:"notify"` // policy asks for the user to be told
}
