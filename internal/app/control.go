package app

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/jaakkos/takopi-smithers/internal/domain"
	"github.com/jaakkos/takopi-smithers/internal/pidfile"
)

// Controller drives a running supervisor from another process: stop and
// restart are plain signals, pause and resume write the store first and
// then ask the supervisor to re-read it.
type Controller struct {
	pidPath string
	store   StateStore
	clock   Clock
	signal  func(pid int, sig syscall.Signal) error
	poll    time.Duration
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithSignaler replaces syscall.Kill.
func WithSignaler(fn func(pid int, sig syscall.Signal) error) ControllerOption {
	return func(c *Controller) { c.signal = fn }
}

// WithControllerClock sets the clock used for pause timestamps.
func WithControllerClock(clock Clock) ControllerOption {
	return func(c *Controller) { c.clock = clock }
}

// NewController returns a controller for the supervisor owning pidPath.
// store may be nil when only Stop and Restart are used.
func NewController(pidPath string, store StateStore, opts ...ControllerOption) *Controller {
	c := &Controller{
		pidPath: pidPath,
		store:   store,
		clock:   RealClock,
		signal:  syscall.Kill,
		poll:    200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PID returns the live supervisor's PID or domain.ErrNotRunning.
func (c *Controller) PID() (int, error) {
	pid, ok := pidfile.Read(c.pidPath)
	if !ok {
		return 0, domain.ErrNotRunning
	}
	return pid, nil
}

// Stop asks the supervisor to shut down. With keepCompanion the chat bridge
// is left running.
func (c *Controller) Stop(keepCompanion bool) (int, error) {
	pid, err := c.PID()
	if err != nil {
		return 0, err
	}
	if keepCompanion {
		if err := TouchSignal(KeepCompanionPath(c.pidPath)); err != nil {
			return pid, fmt.Errorf("write keep-companion marker: %w", err)
		}
	}
	if err := c.signal(pid, syscall.SIGTERM); err != nil {
		return pid, fmt.Errorf("signal supervisor %d: %w", pid, err)
	}
	return pid, nil
}

// Restart asks the supervisor for a manual restart.
func (c *Controller) Restart() (int, error) {
	pid, err := c.PID()
	if err != nil {
		return 0, err
	}
	if err := c.signal(pid, syscall.SIGUSR1); err != nil {
		return pid, fmt.Errorf("signal supervisor %d: %w", pid, err)
	}
	return pid, nil
}

// Pause records the pause in the store and tells the supervisor. Pausing
// an already paused workflow keeps the original timestamp.
func (c *Controller) Pause(ctx context.Context) (int, error) {
	pid, err := c.PID()
	if err != nil {
		return 0, err
	}
	ps, err := c.pauseState(ctx)
	if err != nil {
		return pid, err
	}
	if !ps.Paused {
		now := c.clock.Now()
		if err := c.store.SetPause(ctx, domain.PauseState{Paused: true, PausedAt: &now}); err != nil {
			return pid, fmt.Errorf("write pause state: %w", err)
		}
	}
	if err := c.signal(pid, syscall.SIGUSR2); err != nil {
		return pid, fmt.Errorf("signal supervisor %d: %w", pid, err)
	}
	return pid, nil
}

// Resume clears the pause and zeroes the restart counter, then tells the
// supervisor, which relaunches the child once. It returns
// domain.ErrNotPaused when there is nothing to resume.
func (c *Controller) Resume(ctx context.Context) (int, error) {
	pid, err := c.PID()
	if err != nil {
		return 0, err
	}
	ps, err := c.pauseState(ctx)
	if err != nil {
		return pid, err
	}
	if !ps.Paused {
		return pid, domain.ErrNotPaused
	}
	if err := c.store.Resume(ctx); err != nil {
		return pid, fmt.Errorf("write pause state: %w", err)
	}
	if err := c.signal(pid, syscall.SIGUSR2); err != nil {
		return pid, fmt.Errorf("signal supervisor %d: %w", pid, err)
	}
	return pid, nil
}

// pauseState reads the pause record. A database that does not exist yet is
// not paused.
func (c *Controller) pauseState(ctx context.Context) (domain.PauseState, error) {
	ps, err := c.store.Pause(ctx)
	if errors.Is(err, domain.ErrStateUnavailable) {
		return domain.PauseState{}, nil
	}
	if err != nil {
		return ps, fmt.Errorf("read pause state: %w", err)
	}
	return ps, nil
}

// WaitStopped polls until pid has exited or ctx is done.
func (c *Controller) WaitStopped(ctx context.Context, pid int) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for pidfile.Alive(pid) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("supervisor %d still running: %w", pid, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
