package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jaakkos/takopi-smithers/internal/autoheal"
	"github.com/jaakkos/takopi-smithers/internal/domain"
	"github.com/jaakkos/takopi-smithers/internal/notify"
)

// fakeClock fires AfterFunc callbacks synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		var next *fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				next = t
				break
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.at
		next.fired = true
		c.mu.Unlock()
		next.f()
	}
}

// Waiting counts timers that have neither fired nor been stopped.
func (c *fakeClock) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeChild is a Child controlled by the test.
type fakeChild struct {
	pid     int
	mu      sync.Mutex
	done    chan struct{}
	exit    ExitStatus
	kills   int
	killErr error
	closed  bool
}

func newFakeChild(pid int) *fakeChild {
	return &fakeChild{pid: pid, done: make(chan struct{})}
}

func (c *fakeChild) PID() int { return c.pid }

func (c *fakeChild) Kill() error {
	c.mu.Lock()
	c.kills++
	err := c.killErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.finish(ExitStatus{Signal: "SIGTERM"})
	return nil
}

func (c *fakeChild) ForceKill() error {
	c.finish(ExitStatus{Signal: "SIGKILL"})
	return nil
}

func (c *fakeChild) Done() <-chan struct{} { return c.done }

func (c *fakeChild) Exit() ExitStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exit
}

func (c *fakeChild) Info() ProcessInfo { return ProcessInfo{PID: c.pid} }

func (c *fakeChild) Kills() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kills
}

// Crash makes the child exit with code.
func (c *fakeChild) Crash(code int) {
	c.finish(ExitStatus{Code: &code, Err: errors.New("exit status")})
}

func (c *fakeChild) finish(st ExitStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.exit = st
	close(c.done)
}

// fakeLauncher records launches and hands out fakeChildren.
type fakeLauncher struct {
	mu       sync.Mutex
	children []*fakeChild
	err      error
	launched chan *fakeChild
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{launched: make(chan *fakeChild, 64)}
}

func (l *fakeLauncher) Launch(ctx context.Context) (Child, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	c := newFakeChild(1000 + len(l.children))
	l.children = append(l.children, c)
	l.launched <- c
	return c, nil
}

func (l *fakeLauncher) setErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *fakeLauncher) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.children)
}

func (l *fakeLauncher) Last() *fakeChild {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.children) == 0 {
		return nil
	}
	return l.children[len(l.children)-1]
}

// memStore is an in-memory StateStore.
type memStore struct {
	mu          sync.Mutex
	state       domain.WorkflowState
	pause       domain.PauseState
	progress    domain.Progress
	unavailable bool
}

func (m *memStore) WorkflowState(ctx context.Context, heartbeatKey string) (domain.WorkflowState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return domain.WorkflowState{Status: domain.StatusUnknown}, domain.ErrStateUnavailable
	}
	return m.state, nil
}

func (m *memStore) setHeartbeat(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Status = domain.StatusRunning
	m.state.Heartbeat = &t
	m.state.HeartbeatRaw = domain.FormatTimestamp(t)
}

func (m *memStore) Pause(ctx context.Context) (domain.PauseState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pause, nil
}

func (m *memStore) SetPause(ctx context.Context, ps domain.PauseState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !ps.Paused {
		ps.PausedAt = nil
	}
	m.pause = ps
	return nil
}

func (m *memStore) Progress(ctx context.Context) (domain.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress, nil
}

func (m *memStore) SetProgress(ctx context.Context, p domain.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = p
	return nil
}

func (m *memStore) Resume(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pause = domain.PauseState{}
	m.progress.Restarts = 0
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) snapshot() (domain.PauseState, domain.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pause, m.progress
}

// recordSink collects notifications.
type recordSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *recordSink) Notify(_ context.Context, ev notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordSink) Kinds() []notify.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Kind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

func (s *recordSink) Count(k notify.Kind) int {
	n := 0
	for _, got := range s.Kinds() {
		if got == k {
			n++
		}
	}
	return n
}

// stubHealer is an autoheal.Adapter with a scripted outcome.
type stubHealer struct {
	mu      sync.Mutex
	success bool
	calls   int
	block   chan struct{}
}

func (h *stubHealer) Engine() autoheal.Engine { return autoheal.EngineClaude }

func (h *stubHealer) Invoke(ctx context.Context, prompt, programPath string, hc autoheal.Context) autoheal.Result {
	h.mu.Lock()
	h.calls++
	ok := h.success
	block := h.block
	h.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return autoheal.Result{Err: ctx.Err()}
		}
	}
	if !ok {
		return autoheal.Result{Err: errors.New("agent failed")}
	}
	return autoheal.Result{Success: true, PatchedProgram: "patched"}
}

func (h *stubHealer) setSuccess(ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.success = ok
}

func (h *stubHealer) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// editingHealer rewrites the program file like a repair agent, reports the
// edit once seen returns true, then holds the repair open until released.
type editingHealer struct {
	seen    func() bool
	edited  chan struct{}
	release chan struct{}

	mu        sync.Mutex
	calls     int
	cancelled int
}

func newEditingHealer() *editingHealer {
	return &editingHealer{edited: make(chan struct{}, 8), release: make(chan struct{}, 8)}
}

func (h *editingHealer) Engine() autoheal.Engine { return autoheal.EngineClaude }

func (h *editingHealer) Invoke(ctx context.Context, prompt, programPath string, hc autoheal.Context) autoheal.Result {
	h.mu.Lock()
	h.calls++
	n := h.calls
	h.mu.Unlock()
	if err := os.WriteFile(programPath, []byte(fmt.Sprintf("patch %d\n", n)), 0o644); err != nil {
		return autoheal.Result{Err: err}
	}
	deadline := time.Now().Add(2 * time.Second)
	for !h.seen() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	// Let trailing events from the same write arrive.
	time.Sleep(50 * time.Millisecond)
	h.edited <- struct{}{}
	select {
	case <-h.release:
		return autoheal.Result{Err: errors.New("agent gave up")}
	case <-ctx.Done():
		h.mu.Lock()
		h.cancelled++
		h.mu.Unlock()
		return autoheal.Result{Err: ctx.Err()}
	}
}

func (h *editingHealer) counts() (calls, cancelled int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls, h.cancelled
}
