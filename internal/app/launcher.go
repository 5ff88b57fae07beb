package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExitStatus describes how a child ended. Code is nil when it was killed by
// a signal.
type ExitStatus struct {
	Code   *int
	Signal string
	Err    error
}

func (e ExitStatus) String() string {
	var parts []string
	if e.Code != nil {
		parts = append(parts, fmt.Sprintf("code %d", *e.Code))
	}
	if e.Signal != "" {
		parts = append(parts, "signal "+e.Signal)
	}
	if len(parts) == 0 && e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, ", ")
}

// ProcessInfo tracks a running child's output activity.
type ProcessInfo struct {
	PID          int       `json:"pid" yaml:"pid"`
	RunID        string    `json:"run_id" yaml:"run_id"`
	StartedAt    time.Time `json:"started_at" yaml:"started_at"`
	LastOutputAt time.Time `json:"last_output_at" yaml:"last_output_at"`
	OutputBytes  int64     `json:"output_bytes" yaml:"output_bytes"`
}

// Child is one launched process.
type Child interface {
	PID() int
	// Kill sends SIGTERM to the child's process group.
	Kill() error
	// ForceKill sends SIGKILL to the child's process group.
	ForceKill() error
	// Done is closed once the process has exited and Exit is valid.
	Done() <-chan struct{}
	Exit() ExitStatus
	Info() ProcessInfo
}

// Launcher starts children.
type Launcher interface {
	Launch(ctx context.Context) (Child, error)
}

// ExecLauncher runs a command in its own process group with stdout and
// stderr appended to a log file.
type ExecLauncher struct {
	// Name labels the log header ("workflow", "companion").
	Name string
	Argv []string
	Dir  string
	// Env is set on top of the inherited environment; values may reference
	// the supervisor's variables as ${VAR}.
	Env map[string]string
	// InheritEnv limits which supervisor variables the child sees (glob
	// patterns, or "none"). Empty inherits everything.
	InheritEnv []string
	// LogPath receives the child's output. Empty discards it.
	LogPath string
	Logger  *zap.SugaredLogger
}

// Launch implements Launcher.
func (l *ExecLauncher) Launch(ctx context.Context) (Child, error) {
	if len(l.Argv) == 0 {
		return nil, errors.New("empty command")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	runID := uuid.NewString()
	cmd := exec.Command(l.Argv[0], l.Argv[1:]...)
	cmd.Dir = l.Dir
	cmd.Env = childEnv(l.InheritEnv, l.Env, runID)
	// Own process group: signals aimed at the supervisor never cascade to
	// the child, and Kill reaches the child's own descendants.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = 2 * time.Second

	c := &execChild{
		cmd:  cmd,
		done: make(chan struct{}),
		info: ProcessInfo{RunID: runID, StartedAt: time.Now(), LastOutputAt: time.Now()},
	}

	var logFile *os.File
	var out io.Writer = io.Discard
	if l.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(l.LogPath), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(l.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open child log: %w", err)
		}
		logFile = f
		out = f
		name := l.Name
		if name == "" {
			name = "child"
		}
		fmt.Fprintf(f, "\n=== %s run %s at %s (dir=%s) ===\n", name, runID, time.Now().Format(time.RFC3339), l.Dir)
		fmt.Fprintf(f, "Command: %v\n", l.Argv)
	}
	aw := &activityWriter{inner: out, mu: &c.mu, info: &c.info}
	cmd.Stdout = aw
	cmd.Stderr = aw

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			fmt.Fprintf(logFile, "spawn failed: %v\n", err)
			logFile.Close()
		}
		return nil, fmt.Errorf("start %s: %w", l.Argv[0], err)
	}
	pid := cmd.Process.Pid
	c.mu.Lock()
	c.info.PID = pid
	c.mu.Unlock()
	logger.Debugf("Launcher: started %s pid=%d run=%s", l.Argv[0], pid, runID)

	go func() {
		err := cmd.Wait()
		status := exitStatusOf(cmd.ProcessState, err)
		if logFile != nil {
			fmt.Fprintf(logFile, "=== run %s exited: %s ===\n", runID, status)
			logFile.Close()
		}
		c.mu.Lock()
		c.exit = status
		c.mu.Unlock()
		close(c.done)
	}()
	return c, nil
}

func exitStatusOf(ps *os.ProcessState, err error) ExitStatus {
	st := ExitStatus{}
	if ps == nil {
		st.Err = err
		return st
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		st.Signal = signalName(ws.Signal())
		return st
	}
	code := ps.ExitCode()
	st.Code = &code
	if code != 0 {
		st.Err = err
	}
	return st
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGSEGV:
		return "SIGSEGV"
	case syscall.SIGABRT:
		return "SIGABRT"
	case syscall.SIGHUP:
		return "SIGHUP"
	default:
		return sig.String()
	}
}

type execChild struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu   sync.Mutex
	exit ExitStatus
	info ProcessInfo
}

func (c *execChild) PID() int { return c.cmd.Process.Pid }

func (c *execChild) Kill() error { return c.signal(syscall.SIGTERM) }

func (c *execChild) ForceKill() error { return c.signal(syscall.SIGKILL) }

func (c *execChild) signal(sig syscall.Signal) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	pid := c.cmd.Process.Pid
	if err := syscall.Kill(-pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return c.cmd.Process.Signal(sig)
		}
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	return nil
}

func (c *execChild) Done() <-chan struct{} { return c.done }

func (c *execChild) Exit() ExitStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exit
}

func (c *execChild) Info() ProcessInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// activityWriter wraps an io.Writer and records when writes happen.
type activityWriter struct {
	inner io.Writer
	mu    *sync.Mutex
	info  *ProcessInfo
}

func (w *activityWriter) Write(p []byte) (int, error) {
	n, err := w.inner.Write(p)
	if n > 0 {
		w.mu.Lock()
		w.info.LastOutputAt = time.Now()
		w.info.OutputBytes += int64(n)
		w.mu.Unlock()
	}
	return n, err
}

// terminate asks child to exit, escalating to SIGKILL after grace.
func terminate(child Child, grace time.Duration) error {
	if child == nil {
		return nil
	}
	select {
	case <-child.Done():
		return nil
	default:
	}
	if err := child.Kill(); err != nil {
		return err
	}
	select {
	case <-child.Done():
		return nil
	case <-time.After(grace):
	}
	if err := child.ForceKill(); err != nil {
		return err
	}
	select {
	case <-child.Done():
		return nil
	case <-time.After(grace):
		return fmt.Errorf("pid %d did not exit after SIGKILL", child.PID())
	}
}
