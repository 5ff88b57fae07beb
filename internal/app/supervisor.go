package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/takopi-smithers/internal/autoheal"
	"github.com/jaakkos/takopi-smithers/internal/domain"
	"github.com/jaakkos/takopi-smithers/internal/notify"
	"github.com/jaakkos/takopi-smithers/internal/pidfile"
)

const (
	// defaultStopGrace is how long a child gets after SIGTERM before SIGKILL.
	defaultStopGrace = 10 * time.Second

	// notifyTimeout bounds one notification delivery, retries included.
	notifyTimeout = 30 * time.Second

	notifyQueueSize = 32

	// healEditSlack extends the repair window for watcher events that land
	// just after the agent exits.
	healEditSlack = time.Second
)

// ErrStopped is returned by control operations after Stop.
var ErrStopped = errors.New("supervisor stopped")

// Options describe one worktree's supervisor.
type Options struct {
	Where notify.Where
	// ProgramPath is the workflow file watched for edits and handed to the
	// repair agent.
	ProgramPath string
	DBPath      string
	// LogPath is the supervisor log whose tail goes into repair prompts.
	LogPath string
	// PIDFile is written once started and removed on stop. Empty skips it.
	PIDFile string

	HeartbeatKey    string
	HangThreshold   time.Duration
	CheckInterval   time.Duration
	StartupGrace    time.Duration
	UpdatesInterval time.Duration
	ReloadDebounce  time.Duration
	StopGrace       time.Duration
	Policy          RecoveryPolicy
}

// Option configures a Supervisor's collaborators.
type Option func(*Supervisor)

// WithLauncher sets how the workflow child is started.
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) { s.launcher = l }
}

// WithCompanion sets the chat-bridge launcher. Nil skips the companion.
func WithCompanion(l Launcher) Option {
	return func(s *Supervisor) { s.companion = l }
}

// WithHealer sets the repair agent. Nil disables autoheal.
func WithHealer(a autoheal.Adapter) Option {
	return func(s *Supervisor) { s.healer = a }
}

// WithSink sets the notification sink.
func WithSink(n notify.Sink) Option {
	return func(s *Supervisor) { s.sink = n }
}

// WithClock sets the time source for backoff waits and health checks.
func WithClock(c Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

// WithoutFileWatch disables the program file watcher.
func WithoutFileWatch() Option {
	return func(s *Supervisor) { s.watchFiles = false }
}

// Snapshot is a point-in-time view of the supervisor.
type Snapshot struct {
	Phase      string        `json:"phase" yaml:"phase"`
	Paused     bool          `json:"paused" yaml:"paused"`
	PausedAt   *time.Time    `json:"paused_at,omitempty" yaml:"paused_at,omitempty"`
	Recovery   RecoveryState `json:"recovery" yaml:"recovery"`
	Child      *ProcessInfo  `json:"child,omitempty" yaml:"child,omitempty"`
	LaunchedAt time.Time     `json:"launched_at" yaml:"launched_at"`
}

// Supervisor keeps one workflow child alive: it relaunches crashes through
// autoheal and backoff, kills hangs, restarts on program edits, and serves
// restart/pause/resume/stop.
type Supervisor struct {
	opts       Options
	store      StateStore
	launcher   Launcher
	companion  Launcher
	healer     autoheal.Adapter
	sink       notify.Sink
	clock      Clock
	logger     *zap.SugaredLogger
	metrics    *Metrics
	watchFiles bool

	lifecycle *Lifecycle
	health    *HealthMonitor
	reloader  *Reloader

	// controlMu serialises Restart, Reload, Pause, Resume and Stop.
	controlMu sync.Mutex

	mu         sync.Mutex
	child      Child
	gen        uint64
	launchedAt time.Time
	rec        RecoveryState
	paused     bool
	pausedAt   *time.Time
	started    bool
	stopping   bool
	cancelWait context.CancelFunc
	companionC Child
	// healing is set while the repair agent runs; healEnded is when the last
	// repair returned. Program edits inside that window belong to the agent.
	healing   bool
	healEnded time.Time

	ctx        context.Context
	cancel     context.CancelFunc
	events     chan notify.Event
	notifyStop chan struct{}
	notifyDone chan struct{}
	wg         sync.WaitGroup
	stopOnce   sync.Once
	done       chan struct{}
}

// NewSupervisor creates a supervisor for one worktree. It does nothing until
// Start.
func NewSupervisor(opts Options, store StateStore, options ...Option) *Supervisor {
	if opts.StopGrace <= 0 {
		opts.StopGrace = defaultStopGrace
	}
	if opts.HeartbeatKey == "" {
		opts.HeartbeatKey = domain.KeyHeartbeat
	}
	if opts.HangThreshold <= 0 {
		opts.HangThreshold = defaultHangThreshold
	}
	s := &Supervisor{
		opts:       opts,
		store:      store,
		sink:       notify.Nop{},
		clock:      RealClock,
		logger:     zap.NewNop().Sugar(),
		watchFiles: true,
		events:     make(chan notify.Event, notifyQueueSize),
		notifyStop: make(chan struct{}),
		notifyDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, o := range options {
		o(s)
	}
	s.lifecycle = NewLifecycle(s.logger, func(phase string) {
		s.metrics.setPhase(opts.Where.Branch, phase)
	})
	return s
}

// Start launches the companion and the child (unless the worktree is
// paused), then starts the file watcher, status broadcast and health
// monitor, and finally writes the PID file.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.launcher == nil {
		return errors.New("supervisor: no launcher configured")
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("supervisor: already started")
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Infof("Supervisor: starting (repo=%s branch=%s program=%s)", s.opts.Where.Repo, s.opts.Where.Branch, s.opts.ProgramPath)
	go s.notifyLoop()

	ps, err := s.store.Pause(s.ctx)
	if err != nil && !errors.Is(err, domain.ErrStateUnavailable) {
		s.logger.Warnf("Supervisor: failed to read pause state: %v", err)
	}

	if s.companion != nil {
		s.startCompanion()
	} else {
		s.logger.Info("Supervisor: companion disabled, skipping startup")
	}

	s.mu.Lock()
	if ps.Paused {
		s.paused = true
		s.pausedAt = ps.PausedAt
		s.logger.Info("Supervisor: workflow is paused, not launching until resume")
		s.fireLocked(EventPause)
	} else if err := s.launchLocked(""); err != nil {
		s.mu.Unlock()
		s.shutdownAfterFailedStart()
		return fmt.Errorf("launch workflow: %w", err)
	}
	s.mu.Unlock()

	if s.watchFiles && s.opts.ProgramPath != "" {
		s.reloader = NewReloader(s.opts.ProgramPath, s.onProgramChanged, s.logger,
			WithReloadClock(s.clock), WithReloadDebounce(s.opts.ReloadDebounce))
		if err := s.reloader.Start(s.ctx); err != nil {
			s.logger.Errorf("Supervisor: failed to start file watcher: %v", err)
			s.reloader = nil
		}
	}

	if s.opts.UpdatesInterval > 0 {
		s.wg.Add(1)
		go s.broadcastLoop(s.opts.UpdatesInterval)
	}

	s.health = NewHealthMonitor(s, s.store, s.logger,
		WithHealthInterval(s.opts.CheckInterval),
		WithHangThreshold(s.opts.HangThreshold),
		WithStartupGrace(s.opts.StartupGrace),
		WithHealthHeartbeatKey(s.opts.HeartbeatKey),
		WithHealthClock(s.clock),
	)
	go s.health.Start(s.ctx)

	if s.opts.PIDFile != "" {
		if err := pidfile.Write(s.opts.PIDFile, os.Getpid()); err != nil {
			s.logger.Errorf("Supervisor: failed to write PID file: %v", err)
		}
	}
	s.logger.Info("Supervisor: started successfully")
	return nil
}

func (s *Supervisor) shutdownAfterFailedStart() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.stopCompanion(false)
	close(s.notifyStop)
	<-s.notifyDone
	s.cancel()
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Supervisor) startCompanion() {
	s.logger.Info("Supervisor: starting companion...")
	c, err := s.companion.Launch(s.ctx)
	if err != nil {
		s.logger.Errorf("Supervisor: failed to start companion: %v", err)
		return
	}
	s.mu.Lock()
	s.companionC = c
	s.mu.Unlock()
	s.logger.Infof("Supervisor: companion started with PID %d", c.PID())
	go func() {
		<-c.Done()
		s.logger.Warnf("Supervisor: companion exited (%s)", c.Exit())
	}()
}

func (s *Supervisor) stopCompanion(keep bool) {
	s.mu.Lock()
	c := s.companionC
	s.companionC = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	if keep {
		s.logger.Info("Supervisor: keeping companion running")
		return
	}
	s.logger.Info("Supervisor: stopping companion...")
	if err := terminate(c, s.opts.StopGrace); err != nil {
		s.logger.Warnf("Supervisor: failed to stop companion: %v", err)
	}
}

// launchLocked starts a child. cause labels the restart metric; empty means
// the first launch. Caller holds mu.
func (s *Supervisor) launchLocked(cause string) error {
	s.logger.Info("Supervisor: starting workflow...")
	child, err := s.launcher.Launch(s.ctx)
	if err != nil {
		s.logger.Errorf("Supervisor: failed to start workflow: %v", err)
		return err
	}
	s.gen++
	s.child = child
	s.launchedAt = s.clock.Now()
	s.rec.HandlingHang = false
	if cause != "" {
		s.metrics.restart(s.opts.Where.Branch, cause)
	}
	s.metrics.setChildUp(s.opts.Where.Branch, true)
	s.fireLocked(EventLaunched)
	if s.paused {
		// A manual restart while paused runs the child but keeps the overlay.
		s.fireLocked(EventPause)
	}
	s.logger.Infof("Supervisor: workflow started with PID %d", child.PID())

	s.wg.Add(1)
	go s.watchExit(s.gen, child)
	return nil
}

// fireLocked moves the lifecycle and mirrors progress into the store.
// Caller holds mu.
func (s *Supervisor) fireLocked(event string) {
	_ = s.lifecycle.Fire(context.Background(), event)
	s.persistLocked()
}

func (s *Supervisor) persistLocked() {
	p := domain.Progress{
		Restarts:  s.rec.RestartAttempts,
		AutoHeals: s.rec.AutoHealAttempts,
		Phase:     s.lifecycle.Phase(),
	}
	if s.child != nil {
		p.ChildPID = s.child.PID()
	}
	if err := s.store.SetProgress(context.Background(), p); err != nil {
		s.logger.Warnf("Supervisor: failed to record progress: %v", err)
	}
}

// currentLocked reports whether a recovery started for gen may still act.
func (s *Supervisor) currentLocked(gen uint64) bool {
	return gen == s.gen && !s.stopping && !s.paused && s.child == nil
}

func (s *Supervisor) watchExit(gen uint64, child Child) {
	defer s.wg.Done()
	defer recoverPanic(s.logger, "Supervisor")
	<-child.Done()
	exit := child.Exit()

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.child != child {
		return
	}
	s.child = nil
	s.metrics.setChildUp(s.opts.Where.Branch, false)
	if s.stopping {
		return
	}
	s.logger.Errorf("Supervisor: workflow exited (%s)", exit)

	rec, wasHang := BeginRecovery(s.rec)
	s.rec = rec
	if wasHang {
		s.logger.Info("Supervisor: exit was triggered by hang detection")
	}
	if s.paused {
		s.logger.Info("Supervisor: workflow paused, not restarting")
		s.persistLocked()
		return
	}
	s.startRecoveryLocked(gen, exit, false)
}

// startRecoveryLocked runs the crash transition in its own goroutine so
// control operations can preempt the heal and backoff waits. Caller holds mu.
func (s *Supervisor) startRecoveryLocked(gen uint64, exit ExitStatus, launchFailed bool) {
	if s.cancelWait != nil {
		s.cancelWait()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelWait = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer recoverPanic(s.logger, "Recovery")
		s.recover(ctx, gen, exit, launchFailed)
	}()
}

func (s *Supervisor) recover(ctx context.Context, gen uint64, exit ExitStatus, launchFailed bool) {
	p := s.opts.Policy
	branch := s.opts.Where.Branch
	for {
		s.mu.Lock()
		if !s.currentLocked(gen) {
			s.mu.Unlock()
			return
		}

		if !launchFailed && s.healer != nil && ShouldAutoHeal(s.rec, p) {
			rec := s.rec
			s.logger.Infof("Recovery: attempting auto-heal (%d/%d)...", rec.AutoHealAttempts+1, p.MaxAutoHealAttempts)
			s.fireLocked(EventAutoHeal)
			s.healing = true
			s.mu.Unlock()

			ok, reason := s.runAutoHeal(ctx, exit, rec)
			s.metrics.autoheal(branch, ok)

			s.mu.Lock()
			s.healing = false
			s.healEnded = s.clock.Now()
			if !s.currentLocked(gen) {
				s.mu.Unlock()
				return
			}
			next, d, done := AfterAutoHeal(s.rec, ok)
			s.rec = next
			if done {
				s.logger.Infof("Recovery: auto-heal successful, resetting restart counter (%s)", d)
				s.enqueue(notify.AutoHealSucceeded(string(s.healer.Engine())))
				if err := s.launchLocked("autoheal"); err == nil {
					s.mu.Unlock()
					return
				}
				launchFailed = true
				s.mu.Unlock()
				continue
			}
			s.logger.Warn("Recovery: auto-heal failed, falling back to normal restart logic")
			s.enqueue(notify.AutoHealFailed(reason))
		} else if !launchFailed && s.healer != nil && p.AutoHeal {
			s.logger.Warnf("Recovery: auto-heal max attempts (%d) exceeded, reverting to restart-only", p.MaxAutoHealAttempts)
		}

		d := PlanRestart(s.rec, p)
		if d.Action == ActionTerminal {
			s.logger.Errorf("Recovery: max restart attempts (%d) exceeded, stopping automatic recovery", p.MaxRestartAttempts)
			s.fireLocked(EventExhausted)
			s.enqueue(notify.RecoveryExhausted(s.opts.Where, p.MaxRestartAttempts))
			s.mu.Unlock()
			return
		}
		s.fireLocked(EventBackoff)
		s.mu.Unlock()

		s.logger.Infof("Recovery: restarting workflow in %s (attempt %d/%d)...", d.Delay, d.Attempt, p.MaxRestartAttempts)
		s.metrics.observeBackoff(branch, d.Delay.Seconds())
		if !s.sleep(ctx, d.Delay) {
			s.logger.Debug("Recovery: backoff wait cancelled")
			return
		}

		s.mu.Lock()
		if !s.currentLocked(gen) {
			s.mu.Unlock()
			return
		}
		s.rec = RecordRestart(s.rec)
		err := s.launchLocked("backoff")
		s.mu.Unlock()
		if err == nil {
			return
		}
		exit = ExitStatus{Err: err}
		launchFailed = true
	}
}

func (s *Supervisor) runAutoHeal(ctx context.Context, exit ExitStatus, rec RecoveryState) (bool, string) {
	st, err := s.store.WorkflowState(ctx, s.opts.HeartbeatKey)
	if err != nil {
		s.logger.Warnf("Recovery: could not read workflow state for repair context: %v", err)
	}
	hc := autoheal.CaptureContext(autoheal.Crash{
		ExitCode:        exit.Code,
		Signal:          exit.Signal,
		RestartAttempts: rec.RestartAttempts,
	}, s.opts.ProgramPath, s.opts.DBPath, s.opts.LogPath, st)
	res := autoheal.Heal(ctx, s.healer, hc, s.logger)
	if res.Success {
		return true, ""
	}
	reason := ""
	if res.Err != nil {
		reason = Truncate(res.Err.Error(), 300)
	}
	return false, reason
}

// sleep waits d on the supervisor clock. It returns false if ctx ends first.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	fired := make(chan struct{})
	t := s.clock.AfterFunc(d, func() { close(fired) })
	select {
	case <-fired:
		return ctx.Err() == nil
	case <-ctx.Done():
		t.Stop()
		return false
	}
}

func (s *Supervisor) cancelWaitLocked() {
	if s.cancelWait != nil {
		s.cancelWait()
		s.cancelWait = nil
	}
}

// relaunch kills the current child and starts a new one. prep runs under mu
// before the kill. Caller holds controlMu.
func (s *Supervisor) relaunch(cause string, prep func()) error {
	s.mu.Lock()
	if s.stopping || !s.started {
		s.mu.Unlock()
		return ErrStopped
	}
	s.cancelWaitLocked()
	if prep != nil {
		prep()
	}
	old := s.child
	s.child = nil
	s.gen++
	s.mu.Unlock()

	if old != nil {
		s.logger.Infof("Supervisor: stopping workflow PID %d...", old.PID())
		if err := terminate(old, s.opts.StopGrace); err != nil {
			s.logger.Warnf("Supervisor: failed to stop workflow: %v", err)
		}
		s.metrics.setChildUp(s.opts.Where.Branch, false)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return ErrStopped
	}
	if err := s.launchLocked(cause); err != nil {
		s.startRecoveryLocked(s.gen, ExitStatus{Err: err}, true)
		return fmt.Errorf("relaunch workflow: %w", err)
	}
	return nil
}

// Restart kills the child and relaunches it immediately with both recovery
// counters reset. It preempts any backoff or autoheal in progress and
// launches even when paused.
func (s *Supervisor) Restart() error {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	s.logger.Info("Supervisor: restarting workflow...")
	err := s.relaunch("manual", func() {
		s.rec = RecoveryState{}
	})
	if err == nil {
		s.logger.Info("Supervisor: workflow restarted successfully")
	}
	return err
}

// Reload restarts the child after a program file change. It is a no-op
// while the repair agent is running: a successful repair relaunches the
// patched program itself.
func (s *Supervisor) Reload() error {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()

	s.mu.Lock()
	if s.stopping || !s.started {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.healing {
		s.mu.Unlock()
		s.logger.Info("Supervisor: workflow file changed during auto-heal, ignoring")
		return nil
	}
	s.metrics.reload(s.opts.Where.Branch)
	if s.paused {
		s.cancelWaitLocked()
		s.rec = RecoveryState{}
		s.persistLocked()
		s.mu.Unlock()
		s.logger.Info("Supervisor: workflow file changed while paused, restart deferred until resume")
		return nil
	}
	s.mu.Unlock()

	s.logger.Info("Supervisor: restarting workflow due to file change...")
	if err := s.relaunch("reload", func() { s.rec = RecoveryState{} }); err != nil {
		return err
	}
	s.logger.Info("Supervisor: workflow restarted successfully after file change")
	s.enqueue(notify.Reloaded(s.opts.ProgramPath))
	return nil
}

// onProgramChanged receives the time of the last edit in a debounced burst.
func (s *Supervisor) onProgramChanged(last time.Time) {
	defer recoverPanic(s.logger, "Reloader")
	s.mu.Lock()
	byHealer := s.healing || (!s.healEnded.IsZero() && !last.After(s.healEnded.Add(healEditSlack)))
	s.mu.Unlock()
	if byHealer {
		s.logger.Info("Reloader: program edited by the repair agent, not reloading")
		return
	}
	if err := s.Reload(); err != nil && !errors.Is(err, ErrStopped) {
		s.logger.Errorf("Reloader: restart after file change failed: %v", err)
	}
}

// Pause records the pause in the store and suppresses automatic relaunches
// and hang kills. The running child is left alone.
func (s *Supervisor) Pause(ctx context.Context) error {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	now := s.clock.Now()
	if err := s.store.SetPause(ctx, domain.PauseState{Paused: true, PausedAt: &now}); err != nil {
		return fmt.Errorf("record pause: %w", err)
	}
	return s.applyPause(&now)
}

// Resume clears the pause, resets the restart counter and relaunches the
// child exactly once. It returns domain.ErrNotPaused if not paused.
func (s *Supervisor) Resume(ctx context.Context) error {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()
	if !paused {
		return domain.ErrNotPaused
	}
	if err := s.store.Resume(ctx); err != nil {
		return fmt.Errorf("record resume: %w", err)
	}
	return s.applyResume()
}

// SyncPause applies the pause state a control command wrote to the store.
func (s *Supervisor) SyncPause(ctx context.Context) error {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	ps, err := s.store.Pause(ctx)
	if err != nil {
		return fmt.Errorf("read pause state: %w", err)
	}
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()
	switch {
	case ps.Paused && !paused:
		return s.applyPause(ps.PausedAt)
	case !ps.Paused && paused:
		return s.applyResume()
	}
	return nil
}

func (s *Supervisor) applyPause(at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return ErrStopped
	}
	if s.paused {
		return nil
	}
	s.paused = true
	s.pausedAt = at
	s.cancelWaitLocked()
	s.fireLocked(EventPause)
	s.logger.Info("Supervisor: workflow paused")
	ts := s.clock.Now()
	if at != nil {
		ts = *at
	}
	s.enqueue(notify.Paused(s.opts.Where, ts))
	return nil
}

func (s *Supervisor) applyResume() error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return ErrStopped
	}
	pausedAt := s.pausedAt
	s.paused = false
	s.pausedAt = nil
	s.mu.Unlock()

	s.logger.Info("Supervisor: resuming workflow...")
	err := s.relaunch("resume", func() { s.rec.RestartAttempts = 0 })

	now := s.clock.Now()
	pausedFor := ""
	if pausedAt != nil {
		pausedFor = notify.PauseDuration(now.Sub(*pausedAt))
	}
	s.enqueue(notify.Resumed(s.opts.Where, now, pausedFor))
	return err
}

// HealthSnapshot implements HealthTarget.
func (s *Supervisor) HealthSnapshot() HealthSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return HealthSnapshot{
		Running:      s.child != nil,
		Paused:       s.paused,
		HandlingHang: s.rec.HandlingHang,
		LaunchedAt:   s.launchedAt,
	}
}

// KillHung implements HealthTarget.
func (s *Supervisor) KillHung(ctx context.Context, st domain.WorkflowState) error {
	s.mu.Lock()
	child := s.child
	if child == nil || s.rec.HandlingHang || s.paused || s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.rec.HandlingHang = true
	s.metrics.hang(s.opts.Where.Branch)
	s.enqueue(notify.HangDetected(st, s.opts.HangThreshold))
	s.mu.Unlock()

	if err := child.Kill(); err != nil {
		return fmt.Errorf("kill hung workflow pid %d: %w", child.PID(), err)
	}
	s.logger.Info("Supervisor: hung workflow process killed")
	return nil
}

// Snapshot returns the supervisor's current state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Phase:      s.lifecycle.Phase(),
		Paused:     s.paused,
		PausedAt:   s.pausedAt,
		Recovery:   s.rec,
		LaunchedAt: s.launchedAt,
	}
	if s.child != nil {
		info := s.child.Info()
		snap.Child = &info
	}
	return snap
}

// Stop shuts everything down. The companion is left running when
// keepCompanion is set or a keep-companion marker sits next to the PID file.
func (s *Supervisor) Stop(keepCompanion bool) {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()

	s.mu.Lock()
	if s.stopping || !s.started {
		s.mu.Unlock()
		return
	}
	s.logger.Info("Supervisor: stopping...")
	s.stopping = true
	s.cancelWaitLocked()
	child := s.child
	s.mu.Unlock()

	if s.reloader != nil {
		s.reloader.Stop()
		s.logger.Info("Supervisor: file watcher stopped")
	}
	if s.health != nil {
		s.health.Stop()
	}
	if child != nil {
		s.logger.Info("Supervisor: stopping workflow...")
		if err := terminate(child, s.opts.StopGrace); err != nil {
			s.logger.Warnf("Supervisor: failed to stop workflow: %v", err)
		}
	}

	if s.opts.PIDFile != "" && ConsumeSignal(KeepCompanionPath(s.opts.PIDFile)) {
		keepCompanion = true
	}
	s.stopCompanion(keepCompanion)

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.child = nil
	s.metrics.setChildUp(s.opts.Where.Branch, false)
	s.fireLocked(EventStop)
	s.mu.Unlock()

	if s.opts.PIDFile != "" {
		if err := pidfile.Delete(s.opts.PIDFile); err != nil {
			s.logger.Warnf("Supervisor: failed to remove PID file: %v", err)
		}
	}
	close(s.notifyStop)
	<-s.notifyDone
	s.logger.Info("Supervisor: stopped")
	s.stopOnce.Do(func() { close(s.done) })
}

// Done is closed once Stop has finished.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Run serves process signals until ctx ends or a stop signal arrives:
// SIGTERM and SIGINT stop, SIGUSR1 restarts, SIGUSR2 re-reads the pause
// state. Call after Start.
func (s *Supervisor) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			s.Stop(false)
			return nil
		case <-s.done:
			return nil
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				s.logger.Info("Supervisor: received SIGUSR1, restarting workflow")
				go func() {
					if err := s.Restart(); err != nil && !errors.Is(err, ErrStopped) {
						s.logger.Errorf("Supervisor: restart failed: %v", err)
					}
				}()
			case syscall.SIGUSR2:
				s.logger.Info("Supervisor: received SIGUSR2, syncing pause state")
				go func() {
					if err := s.SyncPause(ctx); err != nil && !errors.Is(err, ErrStopped) {
						s.logger.Errorf("Supervisor: pause sync failed: %v", err)
					}
				}()
			default:
				s.logger.Infof("Supervisor: received %s, shutting down", sig)
				s.Stop(false)
				return nil
			}
		}
	}
}

// BroadcastOnce sends one status update.
func (s *Supervisor) BroadcastOnce(ctx context.Context) {
	s.logger.Debug("Supervisor: sending status update...")
	st, err := s.store.WorkflowState(ctx, s.opts.HeartbeatKey)
	if err != nil {
		s.logger.Warnf("Supervisor: status update without state: %v", err)
	}
	s.enqueue(notify.StatusUpdate(s.opts.Where, st, s.clock.Now()))
}

func (s *Supervisor) broadcastLoop(interval time.Duration) {
	defer s.wg.Done()
	defer recoverPanic(s.logger, "Supervisor")
	s.logger.Infof("Supervisor: sending status updates every %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.BroadcastOnce(s.ctx)
		}
	}
}

// enqueue hands ev to the notification goroutine without blocking.
func (s *Supervisor) enqueue(ev notify.Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warnf("Supervisor: notification queue full, dropping %s", ev.Kind)
	}
}

func (s *Supervisor) notifyLoop() {
	defer close(s.notifyDone)
	for {
		select {
		case ev := <-s.events:
			s.deliver(ev)
		case <-s.notifyStop:
			for {
				select {
				case ev := <-s.events:
					s.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Supervisor) deliver(ev notify.Event) {
	defer recoverPanic(s.logger, "Supervisor")
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := s.sink.Notify(ctx, ev); err != nil {
		s.logger.Warnf("Supervisor: failed to send %s notification: %v", ev.Kind, err)
	}
}
