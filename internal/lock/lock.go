// Package lock implements the singleton process guard: a lockfile holding
// the owner's PID at a well-known path. A lock whose recorded PID is no
// longer alive is always reclaimable.
package lock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"git.home.luguber.info/inful/confsync/internal/logfields"
)

// ErrAlreadyRunning is returned when another live process owns the lockfile.
var ErrAlreadyRunning = errors.New("another confsync instance is already running")

// Lock is a PID-file based mutual-exclusion guard for one lockfile path.
type Lock struct {
	path     string
	pid      int
	acquired bool
}

// New creates a Lock for the given lockfile path. Nothing is acquired yet.
func New(path string) *Lock {
	return &Lock{path: path, pid: os.Getpid()}
}

// Path returns the lockfile path.
func (l *Lock) Path() string { return l.path }

// Acquire takes ownership of the lockfile. If the file exists and its
// recorded PID is alive the call fails with ErrAlreadyRunning; a dead PID is
// treated as a stale lock and reclaimed.
func (l *Lock) Acquire() error {
	if pid, err := ReadPID(l.path); err == nil {
		if ProcessAlive(pid) {
			return fmt.Errorf("%w (pid %d, lockfile %s)", ErrAlreadyRunning, pid, l.path)
		}
		slog.Warn("reclaiming stale lockfile", logfields.Path(l.path), slog.Int("pid", pid))
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale lockfile: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("create lockfile directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			// Lost the race to another starting process.
			return fmt.Errorf("%w (lockfile %s)", ErrAlreadyRunning, l.path)
		}
		return fmt.Errorf("create lockfile: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", l.pid); err != nil {
		_ = f.Close()
		_ = os.Remove(l.path)
		return fmt.Errorf("write pid: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(l.path)
		return fmt.Errorf("close lockfile: %w", err)
	}

	l.acquired = true
	slog.Info("acquired process lock", logfields.Path(l.path), slog.Int("pid", l.pid))
	return nil
}

// Release removes the lockfile if this process acquired it. Safe to call on
// every exit path, acquired or not.
func (l *Lock) Release() error {
	if !l.acquired {
		return nil
	}
	l.acquired = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lockfile: %w", err)
	}
	slog.Info("released process lock", logfields.Path(l.path))
	return nil
}

// ReadPID parses the PID recorded in the lockfile at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid from %s: %w", path, err)
	}
	return pid, nil
}

// ProcessAlive reports whether a process with the given PID exists, using
// signal 0 so nothing is actually delivered.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM means the process exists but is owned by someone else.
	return errors.Is(err, syscall.EPERM)
}
