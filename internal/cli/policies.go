package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xtrakernel/freqlockd/internal/api"
)

func init() {
	rootCmd.AddCommand(policiesCmd)
}

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List the thermal policies the daemon knows",
	RunE:  runPolicies,
}

func runPolicies(cmd *cobra.Command, args []string) error {
	var resp struct {
		Default  string               `json:"default"`
		Policies []api.PolicyResponse `json:"policies"`
	}
	if _, err := newClient().do("GET", "/api/policies", nil, &resp); err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tWARN\tEMERG\tCRIT\tRESTORE\tDELAY\tAUTO-RESTORE\tRETRIES/H")
	for _, p := range resp.Policies {
		name := p.Name
		if name == resp.Default {
			name += " *"
		}
		fmt.Fprintf(w, "%s\t%.0f°C\t%.0f°C\t%.0f°C\t%.0f°C\t%s\t%v\t%d\n",
			name, p.WarningThreshold, p.EmergencyThreshold, p.CriticalThreshold,
			p.RestoreThreshold, p.RestoreDelay, p.Behavior.AutoRestoreEnabled,
			p.Behavior.MaxRetriesPerHour)
	}
	return w.Flush()
}
