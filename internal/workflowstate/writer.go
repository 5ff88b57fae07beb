// Package workflowstate is the child side of the state contract: an owned
// writer for status, summary, last error and a periodic heartbeat.
// Workflow programs (or the `takopi-smithers state` helper) use it instead
// of writing the keys ad hoc.
package workflowstate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/takopi-smithers/internal/domain"
)

const defaultHeartbeatInterval = 30 * time.Second

// Setter is the storage the writer needs. *sqlite.Store implements it.
type Setter interface {
	Set(ctx context.Context, kv map[string]string) error
}

// Writer owns the child's state keys and its heartbeat timer.
type Writer struct {
	store        Setter
	heartbeatKey string
	interval     time.Duration
	now          func() time.Time
	logger       *zap.SugaredLogger
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// Option configures a Writer.
type Option func(*Writer)

// WithHeartbeatKey overrides the heartbeat key (health.heartbeat_key).
func WithHeartbeatKey(key string) Option {
	return func(w *Writer) {
		if key != "" {
			w.heartbeatKey = key
		}
	}
}

// WithInterval sets how often Start writes a heartbeat.
func WithInterval(d time.Duration) Option {
	return func(w *Writer) { w.interval = d }
}

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(w *Writer) { w.logger = l }
}

// New creates a Writer over store.
func New(store Setter, opts ...Option) *Writer {
	w := &Writer{
		store:        store,
		heartbeatKey: domain.KeyHeartbeat,
		interval:     defaultHeartbeatInterval,
		now:          time.Now,
		logger:       zap.NewNop().Sugar(),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Heartbeat writes the current time.
func (w *Writer) Heartbeat(ctx context.Context) error {
	return w.store.Set(ctx, map[string]string{w.heartbeatKey: domain.FormatTimestamp(w.now())})
}

// SetStatus writes status and summary together with a fresh heartbeat.
func (w *Writer) SetStatus(ctx context.Context, status domain.WorkflowStatus, summary string) error {
	return w.store.Set(ctx, map[string]string{
		domain.KeyStatus:  string(status),
		domain.KeySummary: summary,
		w.heartbeatKey:    domain.FormatTimestamp(w.now()),
	})
}

// SetError marks the workflow as errored with msg.
func (w *Writer) SetError(ctx context.Context, msg string) error {
	return w.store.Set(ctx, map[string]string{
		domain.KeyStatus:    string(domain.StatusError),
		domain.KeyLastError: msg,
		w.heartbeatKey:      domain.FormatTimestamp(w.now()),
	})
}

// Start writes a heartbeat immediately and then every interval until ctx
// is cancelled or Stop is called. Write errors are logged, not fatal.
func (w *Writer) Start(ctx context.Context) {
	defer close(w.doneCh)
	beat := func() {
		if err := w.Heartbeat(ctx); err != nil {
			w.logger.Warnf("StateWriter: heartbeat failed: %v", err)
		}
	}
	beat()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			beat()
		}
	}
}

// Stop ends the heartbeat loop started by Start.
func (w *Writer) Stop() {
	close(w.stopCh)
	<-w.doneCh
}
