package cmd

import (
	"syscall"

	"github.com/spf13/cobra"
)

var shutdownPidfilePath string

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Signal a running daemon to close all tunnels and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalRunningDaemon(shutdownPidfilePath, syscall.SIGTERM)
	},
}

func init() {
	RootCmd.AddCommand(shutdownCmd)
	shutdownCmd.Flags().StringVar(&shutdownPidfilePath, "pidfile", "/var/run/gandalf.pid", "path to the daemon pidfile")
}
