package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/jaakkos/takopi-smithers/internal/domain"
	"github.com/jaakkos/takopi-smithers/internal/pidfile"
)

type sentSignal struct {
	pid int
	sig syscall.Signal
}

type signalRecorder struct {
	mu   sync.Mutex
	sent []sentSignal
	err  error
}

func (r *signalRecorder) Kill(pid int, sig syscall.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentSignal{pid, sig})
	return r.err
}

func (r *signalRecorder) Signals() []syscall.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []syscall.Signal
	for _, s := range r.sent {
		out = append(out, s.sig)
	}
	return out
}

// liveController points at a PID file naming the test process itself.
func liveController(t *testing.T, store StateStore) (*Controller, *signalRecorder, string) {
	t.Helper()
	pidPath := filepath.Join(t.TempDir(), "supervisor.pid")
	if err := pidfile.Write(pidPath, os.Getpid()); err != nil {
		t.Fatal(err)
	}
	rec := &signalRecorder{}
	clock := newFakeClock()
	return NewController(pidPath, store, WithSignaler(rec.Kill), WithControllerClock(clock)), rec, pidPath
}

func TestController_NotRunning(t *testing.T) {
	rec := &signalRecorder{}
	c := NewController(filepath.Join(t.TempDir(), "none.pid"), &memStore{}, WithSignaler(rec.Kill))
	ctx := context.Background()

	if _, err := c.Stop(false); !errors.Is(err, domain.ErrNotRunning) {
		t.Errorf("Stop: %v", err)
	}
	if _, err := c.Restart(); !errors.Is(err, domain.ErrNotRunning) {
		t.Errorf("Restart: %v", err)
	}
	if _, err := c.Pause(ctx); !errors.Is(err, domain.ErrNotRunning) {
		t.Errorf("Pause: %v", err)
	}
	if _, err := c.Resume(ctx); !errors.Is(err, domain.ErrNotRunning) {
		t.Errorf("Resume: %v", err)
	}
	if len(rec.Signals()) != 0 {
		t.Errorf("no signals expected, got %v", rec.Signals())
	}
}

func TestController_StopAndRestart(t *testing.T) {
	c, rec, pidPath := liveController(t, nil)

	pid, err := c.Restart()
	if err != nil || pid != os.Getpid() {
		t.Fatalf("Restart = %d, %v", pid, err)
	}
	if _, err := c.Stop(false); err != nil {
		t.Fatal(err)
	}
	got := rec.Signals()
	if len(got) != 2 || got[0] != syscall.SIGUSR1 || got[1] != syscall.SIGTERM {
		t.Errorf("signals = %v", got)
	}
	if ConsumeSignal(KeepCompanionPath(pidPath)) {
		t.Error("plain stop should not leave the keep-companion marker")
	}
}

func TestController_StopKeepCompanion(t *testing.T) {
	c, _, pidPath := liveController(t, nil)
	if _, err := c.Stop(true); err != nil {
		t.Fatal(err)
	}
	if !ConsumeSignal(KeepCompanionPath(pidPath)) {
		t.Error("expected keep-companion marker")
	}
}

func TestController_SignalError(t *testing.T) {
	c, rec, _ := liveController(t, nil)
	rec.err = syscall.EPERM
	if _, err := c.Restart(); !errors.Is(err, syscall.EPERM) {
		t.Errorf("Restart error = %v, want EPERM", err)
	}
}

func TestController_PauseResume(t *testing.T) {
	store := &memStore{progress: domain.Progress{Restarts: 4}}
	c, rec, _ := liveController(t, store)
	ctx := context.Background()

	if _, err := c.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	ps, _ := store.snapshot()
	if !ps.Paused || ps.PausedAt == nil {
		t.Fatalf("pause not recorded: %+v", ps)
	}
	first := *ps.PausedAt

	// Pausing again keeps the original timestamp.
	c.clock.(*fakeClock).Advance(time.Minute)
	if _, err := c.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	ps, _ = store.snapshot()
	if !ps.PausedAt.Equal(first) {
		t.Errorf("paused_at moved from %v to %v", first, ps.PausedAt)
	}

	if _, err := c.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	ps, progress := store.snapshot()
	if ps.Paused || ps.PausedAt != nil {
		t.Errorf("resume left pause state %+v", ps)
	}
	if progress.Restarts != 0 {
		t.Errorf("resume should zero restarts, got %d", progress.Restarts)
	}

	got := rec.Signals()
	if len(got) != 3 {
		t.Fatalf("signals = %v", got)
	}
	for _, s := range got {
		if s != syscall.SIGUSR2 {
			t.Errorf("pause/resume sent %v, want SIGUSR2", s)
		}
	}
}

func TestController_ResumeNotPaused(t *testing.T) {
	store := &memStore{}
	c, rec, _ := liveController(t, store)
	if _, err := c.Resume(context.Background()); !errors.Is(err, domain.ErrNotPaused) {
		t.Errorf("Resume = %v, want ErrNotPaused", err)
	}
	if len(rec.Signals()) != 0 {
		t.Error("no signal expected when not paused")
	}
}

func TestController_WaitStopped(t *testing.T) {
	c, _, _ := liveController(t, nil)
	c.poll = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.WaitStopped(ctx, os.Getpid()); err == nil {
		t.Error("the test process is alive; expected timeout")
	}
	if err := c.WaitStopped(context.Background(), 0); err != nil {
		t.Errorf("PID 0 is never alive: %v", err)
	}
}
