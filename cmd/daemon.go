//go:build unix

package cmd

import (
	"fmt"
	"time"

	"github.com/sitekit/sitekit/internal/daemon"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the sitekit daemon",
	Long: `Control the sitekit background daemon that serves the site registry
over a Unix socket, so other tooling (install, backup, deploy scripts) can
query and mutate sites without shelling out.

All mutations still go through the registry's file lock, so daemon and
direct CLI invocations never interleave.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sitekit daemon",
	Long: `Start the sitekit daemon in foreground mode.

For background operation, use:
  nohup sitekit daemon start > /tmp/sitekit-daemon.log 2>&1 &`,
	RunE: startDaemon,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the sitekit daemon",
	Long:  "Stop the running sitekit daemon gracefully.",
	RunE:  stopDaemon,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	Long:  "Check if the sitekit daemon is running and display its status.",
	RunE:  statusDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
}

func daemonConfig() *daemon.Config {
	return &daemon.Config{
		SocketPath:   cfg.Daemon.Socket,
		PIDFile:      cfg.Daemon.PIDFile,
		RegistryPath: cfg.Registry,
		Store:        cfg.StoreOptions(),
	}
}

func startDaemon(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(daemonConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize daemon: %w", err)
	}
	return d.Start()
}

func stopDaemon(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(daemonConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize daemon: %w", err)
	}
	return d.Stop()
}

func statusDaemon(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(daemonConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize daemon: %w", err)
	}

	status, err := d.GetStatus()
	if err != nil {
		return err
	}

	if !status.Running {
		if status.PID > 0 {
			if status.ErrorMessage != "" {
				fmt.Printf("sitekit daemon process exists (PID: %d) but not responding\n", status.PID)
				fmt.Printf("  Socket: %s\n", status.SocketPath)
				fmt.Printf("  Error: %v\n", status.ErrorMessage)
			} else {
				fmt.Printf("sitekit daemon is not running (stale pidfile)\n")
				fmt.Printf("  Socket: %s\n", status.SocketPath)
			}
		} else {
			fmt.Printf("sitekit daemon is not running\n")
			fmt.Printf("  Socket: %s\n", status.SocketPath)
		}
	} else {
		fmt.Printf("sitekit daemon running (PID: %d)\n", status.PID)
		fmt.Printf("  Socket: %s\n", status.SocketPath)
		fmt.Printf("  Uptime: %s\n", status.Uptime.Round(time.Second))
	}

	return nil
}
