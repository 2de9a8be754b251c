// Package domain — lock operation outcomes.
package domain

import (
	"fmt"
	"time"
)

// ResultKind tags a Result variant.
type ResultKind string

const (
	ResultSuccess                  ResultKind = "SUCCESS"
	ResultSuccessWithWarning       ResultKind = "SUCCESS_WITH_WARNING"
	ResultError                    ResultKind = "ERROR"
	ResultThermalOverrideActivated ResultKind = "THERMAL_OVERRIDE_ACTIVATED"
	ResultAlreadyLocked            ResultKind = "ALREADY_LOCKED"
	ResultNotLocked                ResultKind = "NOT_LOCKED"
	ResultPartialSuccess           ResultKind = "PARTIAL_SUCCESS"
	ResultRetryExceeded            ResultKind = "RETRY_EXCEEDED"
)

// Result is the typed outcome of Lock, Unlock and Retry. Only the fields of
// the variant named by Kind are meaningful. Not persisted.
type Result struct {
	Kind ResultKind `json:"kind"`

	Message string `json:"message,omitempty"` // SuccessWithWarning, Error
	Cause   error  `json:"-"`                 // Error

	Temperature float64 `json:"temperature,omitempty"` // ThermalOverrideActivated
	Policy      string  `json:"policy,omitempty"`      // ThermalOverrideActivated

	Succeeded []int `json:"succeeded,omitempty"` // PartialSuccess
	Failed    []int `json:"failed,omitempty"`    // PartialSuccess

	RetryCount  int       `json:"retry_count,omitempty"`   // RetryExceeded
	NextRetryAt time.Time `json:"next_retry_at,omitempty"` // RetryExceeded
}

func Success() Result { return Result{Kind: ResultSuccess} }

func SuccessWithWarning(msg string) Result {
	return Result{Kind: ResultSuccessWithWarning, Message: msg}
}

func ErrorResult(msg string, cause error) Result {
	return Result{Kind: ResultError, Message: msg, Cause: cause}
}

func ThermalOverrideActivated(tempC float64, policy string) Result {
	return Result{Kind: ResultThermalOverrideActivated, Temperature: tempC, Policy: policy, Cause: ErrThermalRefusal}
}

func AlreadyLocked() Result { return Result{Kind: ResultAlreadyLocked} }

func NotLocked() Result { return Result{Kind: ResultNotLocked} }

func PartialSuccess(succeeded, failed []int) Result {
	return Result{Kind: ResultPartialSuccess, Succeeded: succeeded, Failed: failed}
}

func RetryExceeded(count int, nextRetryAt time.Time) Result {
	return Result{Kind: ResultRetryExceeded, RetryCount: count, NextRetryAt: nextRetryAt}
}

// OK reports whether the operation fully took effect.
func (r Result) OK() bool {
	return r.Kind == ResultSuccess || r.Kind == ResultSuccessWithWarning
}

// String renders the result for display.
func (r Result) String() string {
	switch r.Kind {
	case ResultSuccess:
		return "success"
	case ResultSuccessWithWarning:
		return "success (warning: " + r.Message + ")"
	case ResultError:
		if r.Cause != nil {
			return fmt.Sprintf("error: %s: %v", r.Message, r.Cause)
		}
		return "error: " + r.Message
	case ResultThermalOverrideActivated:
		return fmt.Sprintf("refused: %.1f°C is at or above the critical threshold of %s", r.Temperature, r.Policy)
	case ResultAlreadyLocked:
		return "already locked"
	case ResultNotLocked:
		return "not locked"
	case ResultPartialSuccess:
		return fmt.Sprintf("partial success: succeeded %v, failed %v", r.Succeeded, r.Failed)
	case ResultRetryExceeded:
		return fmt.Sprintf("retry budget exhausted after %d attempts, next retry at %s",
			r.RetryCount, r.NextRetryAt.Format(time.RFC3339))
	default:
		return "unknown result"
	}
}
