// Package cli implements the freqlockd command-line interface using Cobra.
// "serve" runs the daemon; every other subcommand talks to a running daemon
// over its HTTP API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "freqlockd",
	Short: "freqlockd — thermal-aware CPU frequency locking",
	Long: `freqlockd pins CPU clusters to a frequency range and, for SMART locks,
watches the CPU temperature to release and re-apply the locks as the
device heats up and cools down.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serverAddr string

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", defaultAddr(),
		"freqlockd API address (env FREQLOCK_ADDR)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func defaultAddr() string {
	if v := os.Getenv("FREQLOCK_ADDR"); v != "" {
		return v
	}
	return "http://127.0.0.1:7731"
}
