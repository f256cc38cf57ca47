package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gandalf/internal/platform"
	"gandalf/pidfile"
	"gandalf/relay"
	"gandalf/status"
)

var (
	runMappingPath    string
	runDaemonize      bool
	runStatusAddr     string
	runDebugAddr      string
	runPidfilePath    string
	runIdleTimeout    time.Duration
	runSocketAddr     string
	runMaxRetries     int
	runRetryBackoff   time.Duration
	runMaxConnsPerTun int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the relay daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runDaemonize {
			if err := pidfile.Daemonize("/var/log/gandalf.log"); err != nil {
				return err
			}
		}

		if err := pidfile.Write(runPidfilePath, os.Getpid()); err != nil {
			var pidfileErr *pidfile.Error
			if errors.As(err, &pidfileErr) {
				os.Exit(int(pidfileErr.Code))
			}
			return err
		}
		defer pidfile.Remove(runPidfilePath)

		supervisor := relay.NewSupervisor(relay.Config{
			SocketAddr:            runSocketAddr,
			MappingPath:           runMappingPath,
			IdleTimeout:           runIdleTimeout,
			FirstBurstDeadline:    time.Second,
			Retry:                 relay.RetryPolicy{MaxRetries: runMaxRetries, WaitBetweenFailure: runRetryBackoff},
			MaxConnectionsPerPort: runMaxConnsPerTun,
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if runStatusAddr != "" {
			srv := status.NewServer(runStatusAddr, snapshotAdapter(supervisor))
			stop := make(chan struct{})
			go func() {
				<-ctx.Done()
				close(stop)
			}()
			go func() {
				if err := srv.ListenAndServe(stop); err != nil {
					log.WithError(err).Warn("status server exited")
				}
			}()
		}

		if runDebugAddr != "" {
			debugSrv := status.NewDebugServer(runDebugAddr, snapshotAdapter(supervisor))
			go func() {
				if err := debugSrv.ListenAndServe(); err != nil {
					log.WithError(err).Warn("debug http server exited")
				}
			}()
			go func() {
				<-ctx.Done()
				debugSrv.Shutdown()
			}()
		}

		return supervisor.Run(ctx)
	},
}

func snapshotAdapter(s *relay.Supervisor) status.SnapshotFunc {
	return func() []status.TunnelView {
		specs := s.Snapshot()
		views := make([]status.TunnelView, len(specs))
		for i, spec := range specs {
			views[i] = status.TunnelView{Port: spec.LocalPort, DeviceID: spec.DeviceID, UDID: spec.UDID}
		}
		return views
	}
}

func init() {
	RootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runMappingPath, "mapping", "", "path to the UDID:LOCAL_PORT[:DEVICE_PORT] mapping file")
	runCmd.Flags().BoolVar(&runDaemonize, "daemonize", false, "detach from the controlling terminal")
	runCmd.Flags().StringVar(&runStatusAddr, "status-addr", "127.0.0.1:5000", "loopback address for the raw-line status protocol, empty to disable")
	runCmd.Flags().StringVar(&runDebugAddr, "debug-addr", "", "loopback address for the debug HTTP surface, empty to disable")
	runCmd.Flags().StringVar(&runPidfilePath, "pidfile", "/var/run/gandalf.pid", "path to the daemon pidfile")
	runCmd.Flags().DurationVar(&runIdleTimeout, "idle-timeout", 5*time.Minute, "close a tunnel connection idle longer than this")
	runCmd.Flags().StringVar(&runSocketAddr, "usbmuxd-socket", platform.DefaultUsbmuxdSocket(), "usbmuxd socket address")
	runCmd.Flags().IntVar(&runMaxRetries, "max-retries", 5, "consecutive bootstrap failures before giving up")
	runCmd.Flags().DurationVar(&runRetryBackoff, "retry-backoff", 2*time.Second, "sleep between bootstrap retry attempts")
	runCmd.Flags().IntVar(&runMaxConnsPerTun, "max-connections-per-tunnel", 0, "cap simultaneous connections per tunnel listener, 0 for unlimited")
	runCmd.MarkFlagRequired("mapping")

	signal.Ignore(syscall.SIGPIPE)
}
