// Package cmd holds the gandalf CLI's cobra command tree: gandalf run/reload/shutdown/status.
package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var jsonLogs bool

// RootCmd is the gandalf CLI root. CLI argument syntax itself is deliberately thin: it parses
// flags and calls straight into the relay/pidfile packages.
var RootCmd = &cobra.Command{
	Use:   "gandalf",
	Short: "Local relay daemon tunneling TCP connections to usbmuxd-attached iOS devices",
	Long: `
gandalf multiplexes TCP connections from this host to services running on USB-attached iOS
devices via usbmuxd. Point it at a mapping file of UDID:LOCAL_PORT[:DEVICE_PORT] entries and it
starts one loopback listener per mapping entry whose device is attached at boot or at a reload.
Devices attached or detached in between do not start or stop listeners until the next reload.
	`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if jsonLogs {
			log.SetFormatter(&log.JSONFormatter{})
		}
	},
}

func init() {
	RootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit structured JSON logs instead of text")
}

// Execute runs the command tree; it is the sole entry point main calls.
func Execute() error {
	return RootCmd.Execute()
}
