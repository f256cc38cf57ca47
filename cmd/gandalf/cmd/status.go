package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gandalf/pidfile"
)

var statusPidfilePath string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the pidfile names a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := pidfile.Read(statusPidfilePath)
		if err != nil {
			return err
		}
		running, err := pidfile.IsRunning(pid)
		if err != nil {
			var pidfileErr *pidfile.Error
			if errors.As(err, &pidfileErr) {
				os.Exit(int(pidfileErr.Code))
			}
			return err
		}
		if !running {
			fmt.Printf("pidfile %s names pid %d, which is not running\n", statusPidfilePath, pid)
			os.Exit(int(pidfile.ExitNoSuchProcess))
		}
		fmt.Printf("gandalf is running with pid %d\n", pid)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusPidfilePath, "pidfile", "/var/run/gandalf.pid", "path to the daemon pidfile")
}
