// Package pidfile implements the daemon's pidfile lifecycle: writing it at boot, reading it
// back for control invocations, and signaling the running process for reload/shutdown/status.
// Process signaling uses golang.org/x/sys/unix so the errno comparisons (unix.ESRCH/unix.EPERM)
// are portable constants rather than the platform-specific aliases package syscall re-exports.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ExitCode classifies a pidfile/control-surface failure into the process exit code the CLI
// should return.
type ExitCode int

const (
	ExitPidfilePermission ExitCode = 2
	ExitSignalPermission  ExitCode = 3
	ExitNoSuchProcess     ExitCode = 5
)

// Error wraps a pidfile/control failure with the exit code the CLI should use.
type Error struct {
	Code ExitCode
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Write creates the pidfile at path, or truncates an existing one, and stores the given pid. An
// EACCES failure is wrapped
// with ExitPidfilePermission so the caller can exit with that code.
func Write(path string, pid int) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return &Error{Code: ExitPidfilePermission, Err: fmt.Errorf("write pidfile %s: %w", path, err)}
		}
		return fmt.Errorf("write pidfile %s: %w", path, err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%d", pid)
	return err
}

// Read parses the decimal pid stored at path.
func Read(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pidfile %s: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil {
		return 0, fmt.Errorf("parse pidfile %s: %w", path, err)
	}
	return pid, nil
}

// Remove deletes the pidfile, ignoring a not-exist error.
func Remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Signal sends sig to pid. ESRCH (no such process) is wrapped with ExitNoSuchProcess; EPERM is
// wrapped with ExitSignalPermission.
func Signal(pid int, sig syscall.Signal) error {
	err := unix.Kill(pid, sig)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.ESRCH) {
		return &Error{Code: ExitNoSuchProcess, Err: fmt.Errorf("signal pid %d: %w", pid, err)}
	}
	if errors.Is(err, unix.EPERM) {
		return &Error{Code: ExitSignalPermission, Err: fmt.Errorf("signal pid %d: %w", pid, err)}
	}
	return fmt.Errorf("signal pid %d: %w", pid, err)
}

// IsRunning reports whether pid names a live process, using signal 0 which performs the
// permission and existence checks without actually delivering a signal.
func IsRunning(pid int) (bool, error) {
	err := Signal(pid, 0)
	if err == nil {
		return true, nil
	}
	var pidfileErr *Error
	if errors.As(err, &pidfileErr) && pidfileErr.Code == ExitNoSuchProcess {
		return false, nil
	}
	return false, err
}
