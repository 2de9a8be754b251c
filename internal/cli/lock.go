package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xtrakernel/freqlockd/internal/api"
	"github.com/xtrakernel/freqlockd/internal/domain"
)

func init() {
	lockCmd.Flags().StringArrayVarP(&lockClusters, "cluster", "c", nil,
		"Cluster range as ID=MIN:MAX in kHz (repeatable), e.g. 0=1000000:1200000")
	lockCmd.Flags().StringVarP(&lockType, "type", "t", string(domain.PolicyManual),
		"Policy type: MANUAL, SMART, GAME or BATTERY_SAVING")
	lockCmd.Flags().StringVarP(&lockPolicy, "policy", "p", "",
		"Thermal policy name (default: recommended for the type)")
	_ = lockCmd.MarkFlagRequired("cluster")
	rootCmd.AddCommand(lockCmd, unlockCmd, retryCmd)
}

var (
	lockClusters []string
	lockType     string
	lockPolicy   string
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Lock CPU clusters to a frequency range",
	Example: `  freqlockd lock -c 0=1000000:1200000 -c 1=1400000:1800000
  freqlockd lock -t SMART -p Balanced -c 0=1000000:1200000`,
	RunE: runLock,
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Release all locks and restore the original frequencies",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendResult(cmd, http.MethodDelete, "/api/lock", nil)
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-apply the last lock request (rate limited per policy)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendResult(cmd, http.MethodPost, "/api/lock/retry", nil)
	},
}

func runLock(cmd *cobra.Command, args []string) error {
	clusters, err := parseClusterSpecs(lockClusters)
	if err != nil {
		return err
	}
	req := api.LockRequest{
		PolicyType:    strings.ToUpper(lockType),
		ThermalPolicy: lockPolicy,
		Clusters:      clusters,
	}
	return sendResult(cmd, http.MethodPost, "/api/lock", req)
}

// parseClusterSpecs turns "ID=MIN:MAX" flags into lock requests.
func parseClusterSpecs(specs []string) ([]api.ClusterConfig, error) {
	out := make([]api.ClusterConfig, 0, len(specs))
	for _, spec := range specs {
		id, rng, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("cluster %q: want ID=MIN:MAX", spec)
		}
		lo, hi, ok := strings.Cut(rng, ":")
		if !ok {
			return nil, fmt.Errorf("cluster %q: want ID=MIN:MAX", spec)
		}
		var c api.ClusterConfig
		var err error
		if c.ClusterID, err = strconv.Atoi(strings.TrimSpace(id)); err != nil {
			return nil, fmt.Errorf("cluster %q: bad id: %w", spec, err)
		}
		if c.MinFreqKHz, err = strconv.Atoi(strings.TrimSpace(lo)); err != nil {
			return nil, fmt.Errorf("cluster %q: bad min: %w", spec, err)
		}
		if c.MaxFreqKHz, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
			return nil, fmt.Errorf("cluster %q: bad max: %w", spec, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// sendResult calls a lock-control endpoint and prints the typed result.
// Anything short of full success is returned as an error for the exit code.
func sendResult(cmd *cobra.Command, method, path string, body interface{}) error {
	c := newClient()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach freqlockd at %s (is \"freqlockd serve\" running?): %w", c.base, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var res api.ResultResponse
	if err := json.Unmarshal(raw, &res); err != nil || res.Kind == "" {
		resp.Body = io.NopCloser(bytes.NewReader(raw))
		return apiError(resp)
	}

	fmt.Fprintln(cmd.OutOrStdout(), describeResult(res))
	if !res.OK() {
		return fmt.Errorf("%s", strings.ToLower(string(res.Kind)))
	}
	return nil
}

func describeResult(res api.ResultResponse) string {
	switch res.Kind {
	case domain.ResultSuccess:
		if !res.Status.IsLocked {
			return "OK: unlocked"
		}
		return fmt.Sprintf("OK: %d cluster(s) locked", len(res.Status.LockedClusters))
	case domain.ResultSuccessWithWarning:
		return "OK with warning: " + res.Message
	case domain.ResultError:
		if res.Error != "" {
			return fmt.Sprintf("Error: %s: %s", res.Message, res.Error)
		}
		return "Error: " + res.Message
	case domain.ResultThermalOverrideActivated:
		return fmt.Sprintf("Refused: CPU at %.1f°C is at or above the %s critical threshold", res.Temperature, res.Policy)
	case domain.ResultAlreadyLocked:
		return "Already locked (unlock first to change a MANUAL lock)"
	case domain.ResultNotLocked:
		return "Not locked"
	case domain.ResultPartialSuccess:
		return fmt.Sprintf("Partial: clusters %v applied, %v failed", res.Succeeded, res.Failed)
	case domain.ResultRetryExceeded:
		return fmt.Sprintf("Retry limit reached (%d this hour); next retry after %s",
			res.RetryCount, res.NextRetryAt.Local().Format("15:04:05"))
	}
	return string(res.Kind)
}
