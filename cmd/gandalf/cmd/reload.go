package cmd

import (
	"errors"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"gandalf/pidfile"
)

var reloadPidfilePath string

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Signal a running daemon to re-read its mapping file and restart tunnels",
	RunE: func(cmd *cobra.Command, args []string) error {
		return signalRunningDaemon(reloadPidfilePath, syscall.SIGUSR1)
	},
}

// signalRunningDaemon reads the pidfile and signals the daemon, translating pidfile.Error into
// the corresponding process exit code.
func signalRunningDaemon(pidfilePath string, sig syscall.Signal) error {
	pid, err := pidfile.Read(pidfilePath)
	if err != nil {
		return err
	}
	if err := pidfile.Signal(pid, sig); err != nil {
		var pidfileErr *pidfile.Error
		if errors.As(err, &pidfileErr) {
			os.Exit(int(pidfileErr.Code))
		}
		return err
	}
	return nil
}

func init() {
	RootCmd.AddCommand(reloadCmd)
	reloadCmd.Flags().StringVar(&reloadPidfilePath, "pidfile", "/var/run/gandalf.pid", "path to the daemon pidfile")
}
