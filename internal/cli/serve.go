package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/xtrakernel/freqlockd/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveSysfs, "sysfs", "", "sysfs root (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost  string
	servePort  int
	serveSysfs string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the freqlockd daemon",
	Long: `Start the daemon: resume any persisted lock session, supervise SMART locks
and serve the HTTP API (default 127.0.0.1:7731).`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if serveSysfs != "" {
		cfg.Sysfs.Root = serveSysfs
	}

	d, err := daemon.NewWithConfig(cfg, cmd.Root().Version)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Serve(context.Background())
}
