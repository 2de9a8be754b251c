package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xtrakernel/freqlockd/internal/domain"
)

func init() {
	rootCmd.AddCommand(statusCmd, clustersCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current lock session and temperature",
	RunE:  runStatus,
}

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "List CPU clusters and their current frequency ranges",
	RunE:  runClusters,
}

func runStatus(cmd *cobra.Command, args []string) error {
	var st domain.LockState
	if _, err := newClient().do("GET", "/api/lock", nil, &st); err != nil {
		return err
	}
	var status domain.LockStatus
	if _, err := newClient().do("GET", "/api/status", nil, &status); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	state := "unlocked"
	switch {
	case status.ThermalOverrideActive:
		state = "thermal override"
	case status.IsLocked:
		state = "locked"
	}
	fmt.Fprintf(out, "State:        %s\n", state)
	fmt.Fprintf(out, "Policy:       %s / %s\n", status.PolicyType, status.ThermalPolicy)
	fmt.Fprintf(out, "Temperature:  %.1f°C", status.LastTemperature)
	if status.NeedsAttention {
		fmt.Fprint(out, " (needs attention)")
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Retries:      %d (can retry: %v)\n", status.RetryCount, status.CanRetry)

	if len(st.ClusterConfigs) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLUSTER\tMIN (kHz)\tMAX (kHz)\tSTATE")
	for _, id := range domain.SortedKeys(st.ClusterConfigs) {
		c := st.ClusterConfigs[id]
		note := "applied"
		if c.TemporarilyUnlocked {
			note = "released"
			if c.UnlockReason != nil {
				note += " (" + *c.UnlockReason + ")"
			}
		}
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\n", id, c.MinFreqKHz, c.MaxFreqKHz, note)
	}
	return w.Flush()
}

func runClusters(cmd *cobra.Command, args []string) error {
	var resp struct {
		Clusters []domain.ClusterSnapshot `json:"clusters"`
	}
	if _, err := newClient().do("GET", "/api/clusters", nil, &resp); err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLUSTER\tCORES\tHW RANGE (kHz)\tCURRENT (kHz)\tGOVERNOR")
	for _, c := range resp.Clusters {
		fmt.Fprintf(w, "%d\t%v\t%d-%d\t%d-%d\t%s\n",
			c.ClusterID, c.Cores, c.HardwareMin, c.HardwareMax,
			c.CurrentMinKHz, c.CurrentMaxKHz, c.Governor)
	}
	return w.Flush()
}
