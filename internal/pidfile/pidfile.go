// Package pidfile is the per-worktree single-instance guard: a PID file
// validated for liveness on every read, plus an advisory lock held for the
// supervisor's lifetime.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/jaakkos/takopi-smithers/internal/domain"
)

// Record is a PID file and the PID it names.
type Record struct {
	Path string `json:"path" yaml:"path"`
	PID  int    `json:"pid" yaml:"pid"`
}

// Write records pid at path, creating parent directories.
func Write(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0644)
}

// Read returns the recorded PID when that process is alive. A file naming
// a dead process, or holding garbage, is deleted and reported as absent.
func Read(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 || !Alive(pid) {
		_ = os.Remove(path)
		return 0, false
	}
	return pid, true
}

// Delete removes the PID file. A missing file is not an error.
func Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// Alive probes pid without signalling it.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// Uptime returns how long pid has been running.
func Uptime(pid int) (time.Duration, bool) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, false
	}
	ms, err := p.CreateTime()
	if err != nil {
		return 0, false
	}
	return time.Since(time.UnixMilli(ms)), true
}

// Lock is the advisory lock on <pidfile>.lock.
type Lock struct {
	fl *flock.Flock
}

// LockPath returns the lock file guarding pidPath.
func LockPath(pidPath string) string {
	return pidPath + ".lock"
}

// Acquire takes the worktree lock without blocking. It fails with
// domain.ErrAlreadyRunning when another process holds it.
func Acquire(pidPath string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(pidPath), 0755); err != nil {
		return nil, fmt.Errorf("create pid dir: %w", err)
	}
	fl := flock.New(LockPath(pidPath))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock %s held by another process)", domain.ErrAlreadyRunning, fl.Path())
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. Safe to call on nil.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
