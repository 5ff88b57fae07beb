// Package notify delivers operator notifications: hang alerts, autoheal
// outcomes, reloads, pause/resume and periodic status updates.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Kind classifies an event.
type Kind string

const (
	KindStatus          Kind = "status"
	KindHang            Kind = "hang"
	KindAutoHealSuccess Kind = "autoheal_success"
	KindAutoHealFailure Kind = "autoheal_failure"
	KindReload          Kind = "reload"
	KindPause           Kind = "pause"
	KindResume          Kind = "resume"
	KindTerminal        Kind = "terminal"
)

// Event is one rendered notification.
type Event struct {
	Kind Kind
	Text string
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

// Notify implements Sink.
func (Nop) Notify(context.Context, Event) error { return nil }

// LogSink writes events to a logger instead of sending them (dry-run).
type LogSink struct {
	Logger *zap.SugaredLogger
	// ChatID is only used in the log line.
	ChatID int64
}

// Notify implements Sink.
func (s LogSink) Notify(_ context.Context, ev Event) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger.Infof("[DRY RUN] Would send Telegram message to chat %d:\n%s", s.ChatID, ev.Text)
	return nil
}

// Multi fans an event out to several sinks. Every sink is tried; the
// errors are joined.
type Multi []Sink

// Notify implements Sink.
func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
