package relay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"gandalf/internal/platform"
)

// Config bundles everything the Supervisor's boot sequence needs, captured once at Run and
// reused for every reload: the mapping path, socket address and timeouts all live on this value
// rather than as mutable package state.
type Config struct {
	SocketAddr            string
	MappingPath           string
	IdleTimeout           time.Duration
	FirstBurstDeadline    time.Duration
	Retry                 RetryPolicy
	MaxConnectionsPerPort int // 0 = unlimited
}

type tunnelKey struct {
	LocalPort  uint16
	DeviceID   int
	DevicePort uint16
}

// Supervisor owns the boot sequence, the running tunnel set, and the signal-driven
// reload/shutdown lifecycle, driven by a single explicit command loop rather than
// mutually-recursive signal handlers.
type Supervisor struct {
	cfg Config

	mu      sync.Mutex
	tunnels map[tunnelKey]*Tunnel

	invMu     sync.Mutex
	inventory *Inventory
	invCancel context.CancelFunc
}

// NewSupervisor builds a Supervisor for cfg. cfg.SocketAddr and cfg.MappingPath must be set;
// zero-valued timeouts/retry policy fall back to sane defaults.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.FirstBurstDeadline <= 0 {
		cfg.FirstBurstDeadline = time.Second
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	return &Supervisor{cfg: cfg, tunnels: make(map[tunnelKey]*Tunnel)}
}

// Snapshot returns the current joined tunnel specs from the live Inventory, or nil before boot
// has completed at least once. Safe for concurrent use by the status server and debug HTTP
// surface, which both read from this one Inventory.
func (s *Supervisor) Snapshot() []TunnelSpec {
	s.invMu.Lock()
	inv := s.inventory
	s.invMu.Unlock()
	if inv == nil {
		return nil
	}
	return inv.Snapshot()
}

// Run executes the boot sequence and then blocks, driving reload/shutdown from SIGUSR1,
// SIGUSR2 and SIGTERM, until ctx is canceled or a shutdown signal arrives. It returns nil on a
// clean shutdown.
func (s *Supervisor) Run(ctx context.Context) error {
	log.Infof("relay: starting on %s", platform.Label())

	absPath, err := filepath.Abs(s.cfg.MappingPath)
	if err != nil {
		return fmt.Errorf("resolve mapping path: %w", err)
	}
	s.cfg.MappingPath = absPath

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM)
	signal.Ignore(syscall.SIGPIPE)
	defer signal.Stop(sigCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.cfg.Retry.Retry(runCtx, "bootstrap", s.bootOnce); err != nil {
		return err
	}

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				log.Info("relay: received SIGUSR1, reloading")
				s.reload(runCtx)
			case syscall.SIGUSR2, syscall.SIGTERM:
				log.Info("relay: received shutdown signal")
				s.Shutdown()
				return nil
			}
		case <-runCtx.Done():
			s.Shutdown()
			return nil
		}
	}
}

// bootOnce loads the mapping, runs the Inventory's first-burst bootstrap, and spawns one Tunnel
// per resulting snapshot tuple. It is the unit the retry wrapper supervises both at initial
// boot and on every reload.
func (s *Supervisor) bootOnce(ctx context.Context) error {
	mapping, err := LoadMapping(s.cfg.MappingPath)
	if err != nil {
		return fmt.Errorf("load mapping: %w", err)
	}

	// Each boot gets its own cancelable child of ctx, so a reload can tear down exactly this
	// boot's inventory subscription without waiting for the process-wide context to cancel.
	invCtx, invCancel := context.WithCancel(ctx)
	inv := NewInventory(s.cfg.MappingPath, mapping)
	if err := inv.Run(invCtx, s.cfg.SocketAddr, s.cfg.FirstBurstDeadline); err != nil {
		invCancel()
		return fmt.Errorf("start inventory subscription: %w", err)
	}

	s.invMu.Lock()
	s.inventory = inv
	s.invCancel = invCancel
	s.invMu.Unlock()

	for _, spec := range inv.Snapshot() {
		s.startTunnel(ctx, spec)
	}
	return nil
}

// addrInUseRetries and addrInUseRetryWait bound how long startTunnel waits for a port to be
// released before treating EADDRINUSE as another relay already running. A same-port reload
// closes the old listener just before rebinding it, and the two can race.
const (
	addrInUseRetries   = 5
	addrInUseRetryWait = 200 * time.Millisecond
)

// startTunnel binds and serves one tunnel, guarded by the running-tunnel-list mutex so a
// reload in progress cannot race with tunnel registration.
func (s *Supervisor) startTunnel(ctx context.Context, spec TunnelSpec) {
	key := tunnelKey{LocalPort: spec.LocalPort, DeviceID: spec.DeviceID, DevicePort: spec.DevicePort}

	s.mu.Lock()
	if _, exists := s.tunnels[key]; exists {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	var t *Tunnel
	var err error
	for attempt := 1; attempt <= addrInUseRetries; attempt++ {
		t, err = NewTunnel(s.cfg.SocketAddr, spec, s.cfg.IdleTimeout, s.cfg.MaxConnectionsPerPort)
		if err == nil || !isAddrInUse(err) {
			break
		}
		select {
		case <-time.After(addrInUseRetryWait):
		case <-ctx.Done():
			return
		}
	}
	if err != nil {
		if isAddrInUse(err) {
			log.WithError(err).Error("relay: listener address still in use after retrying, another relay is likely running")
			os.Exit(6)
		}
		log.WithError(err).Warn("relay: failed to start tunnel")
		return
	}

	s.mu.Lock()
	s.tunnels[key] = t
	s.mu.Unlock()

	go t.Serve(ctx)
}

// Shutdown closes every running tunnel listener, clears the running-tunnel list, and cancels
// the current inventory subscription so its usbmuxd session and Listen goroutine stop. Safe to
// call more than once; bootOnce rebuilds both from scratch afterward.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	n := len(s.tunnels)
	for _, t := range s.tunnels {
		t.Close()
	}
	s.tunnels = make(map[tunnelKey]*Tunnel)
	s.mu.Unlock()

	s.invMu.Lock()
	if s.invCancel != nil {
		s.invCancel()
		s.invCancel = nil
	}
	s.inventory = nil
	s.invMu.Unlock()

	log.Infof("relay: shutdown closed %d tunnels", n)
}

// reload tears down all listeners without exiting and restarts the boot sequence, as long as
// the mapping file still exists; otherwise it logs and leaves the current tunnels running.
func (s *Supervisor) reload(ctx context.Context) {
	if _, err := os.Stat(s.cfg.MappingPath); errors.Is(err, os.ErrNotExist) {
		log.Warn("relay: mapping file no longer exists, skipping reload")
		return
	}
	s.Shutdown()
	if err := s.cfg.Retry.Retry(ctx, "reload-bootstrap", s.bootOnce); err != nil {
		log.WithError(err).Error("relay: reload failed")
	}
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
