package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/takopi-smithers/internal/domain"
)

const (
	// defaultHealthCheckInterval is how often the monitor reads the heartbeat.
	defaultHealthCheckInterval = 10 * time.Second

	// defaultHangThreshold is how old a heartbeat may get before the child
	// is considered hung.
	defaultHangThreshold = 300 * time.Second
)

// Verdict is the outcome of one health check.
type Verdict string

const (
	VerdictNoChild     Verdict = "no_child"
	VerdictPaused      Verdict = "paused"
	VerdictGrace       Verdict = "startup_grace"
	VerdictUnavailable Verdict = "state_unavailable"
	VerdictHandling    Verdict = "handling_hang"
	VerdictHealthy     Verdict = "healthy"
	VerdictHung        Verdict = "hung"
)

// HealthSnapshot is what the monitor needs to know about the child.
type HealthSnapshot struct {
	Running      bool
	Paused       bool
	HandlingHang bool
	LaunchedAt   time.Time
}

// HealthTarget is the supervised side of the monitor.
type HealthTarget interface {
	HealthSnapshot() HealthSnapshot
	// KillHung marks the hang as handled, reports it and sends one kill
	// signal. It is a no-op if a hang is already being handled.
	KillHung(ctx context.Context, st domain.WorkflowState) error
}

// HealthMonitor kills the child when its heartbeat goes stale.
type HealthMonitor struct {
	target       HealthTarget
	store        StateStore
	logger       *zap.SugaredLogger
	clock        Clock
	interval     time.Duration
	threshold    time.Duration
	grace        time.Duration
	heartbeatKey string
	stopCh       chan struct{}
	doneCh       chan struct{}
	stopOnce     sync.Once
}

// HealthOption configures the monitor.
type HealthOption func(*HealthMonitor)

// WithHealthInterval sets the check interval.
func WithHealthInterval(d time.Duration) HealthOption {
	return func(m *HealthMonitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithHangThreshold sets the maximum heartbeat age.
func WithHangThreshold(d time.Duration) HealthOption {
	return func(m *HealthMonitor) {
		if d > 0 {
			m.threshold = d
		}
	}
}

// WithStartupGrace skips checks for d after each launch.
func WithStartupGrace(d time.Duration) HealthOption {
	return func(m *HealthMonitor) { m.grace = d }
}

// WithHealthHeartbeatKey sets the state key the heartbeat is read from.
func WithHealthHeartbeatKey(key string) HealthOption {
	return func(m *HealthMonitor) {
		if key != "" {
			m.heartbeatKey = key
		}
	}
}

// WithHealthClock sets the time source.
func WithHealthClock(c Clock) HealthOption {
	return func(m *HealthMonitor) { m.clock = c }
}

// NewHealthMonitor creates a monitor for target reading heartbeats from store.
func NewHealthMonitor(target HealthTarget, store StateStore, logger *zap.SugaredLogger, opts ...HealthOption) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	m := &HealthMonitor{
		target:       target,
		store:        store,
		logger:       logger,
		clock:        RealClock,
		interval:     defaultHealthCheckInterval,
		threshold:    defaultHangThreshold,
		heartbeatKey: domain.KeyHeartbeat,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start runs the check loop. Returns when ctx is cancelled or Stop is called.
func (m *HealthMonitor) Start(ctx context.Context) {
	defer close(m.doneCh)
	m.logger.Infof("HealthMonitor: started (interval=%s, hang_threshold=%s, startup_grace=%s)",
		m.interval, m.threshold, m.grace)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("HealthMonitor: stopped (context cancelled)")
			return
		case <-m.stopCh:
			m.logger.Debug("HealthMonitor: stopped")
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// Stop signals the loop to stop and waits for it. Safe to call more than once.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

// CheckOnce runs one check cycle.
func (m *HealthMonitor) CheckOnce(ctx context.Context) Verdict {
	return m.check(ctx)
}

func (m *HealthMonitor) check(ctx context.Context) (v Verdict) {
	defer recoverPanic(m.logger, "HealthMonitor")

	snap := m.target.HealthSnapshot()
	if !snap.Running {
		m.logger.Debug("HealthMonitor: no child process running, skipping check")
		return VerdictNoChild
	}
	if snap.Paused {
		m.logger.Debug("HealthMonitor: workflow paused, skipping check")
		return VerdictPaused
	}
	now := m.clock.Now()
	sinceLaunch := now.Sub(snap.LaunchedAt)
	if m.grace > 0 && sinceLaunch < m.grace {
		return VerdictGrace
	}
	if snap.HandlingHang {
		return VerdictHandling
	}

	st, err := m.store.WorkflowState(ctx, m.heartbeatKey)
	if err != nil {
		if !errors.Is(err, domain.ErrStateUnavailable) {
			m.logger.Warnf("HealthMonitor: failed to read workflow state: %v", err)
			return VerdictUnavailable
		}
		// A child that never created its database is only given one
		// threshold's worth of time.
		if sinceLaunch <= m.threshold {
			m.logger.Debugf("HealthMonitor: state unavailable (%v), skipping check", err)
			return VerdictUnavailable
		}
		st = domain.WorkflowState{Status: domain.StatusUnknown}
	}

	if !st.IsHeartbeatStale(now, m.threshold) {
		return VerdictHealthy
	}

	m.logger.Warnf("HealthMonitor: heartbeat stale (last=%q, threshold=%s), killing child", st.HeartbeatRaw, m.threshold)
	if err := m.target.KillHung(ctx, st); err != nil {
		m.logger.Errorf("HealthMonitor: failed to kill hung process: %v", err)
	}
	return VerdictHung
}
