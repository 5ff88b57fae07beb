package app

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Lifecycle phases of one supervised child.
const (
	PhaseIdle               = "idle"
	PhaseRunning            = "running"
	PhaseRecoveringAutoHeal = "recovering_autoheal"
	PhaseRecoveringBackoff  = "recovering_backoff"
	PhaseTerminal           = "stopped_terminal"
	PhasePaused             = "paused"
	PhaseStopped            = "stopped"
)

// Lifecycle events.
const (
	EventLaunched  = "launched"
	EventAutoHeal  = "autoheal"
	EventBackoff   = "backoff"
	EventExhausted = "exhausted"
	EventPause     = "pause"
	EventStop      = "stop"
)

var allPhases = []string{
	PhaseIdle, PhaseRunning, PhaseRecoveringAutoHeal, PhaseRecoveringBackoff,
	PhaseTerminal, PhasePaused,
}

// Lifecycle tracks the supervisor's phase. It only records and validates
// transitions; the supervisor decides when to fire them.
type Lifecycle struct {
	fsm    *fsm.FSM
	logger *zap.SugaredLogger
}

// NewLifecycle returns a lifecycle in PhaseIdle. onEnter, if set, is called
// after every transition with the new phase.
func NewLifecycle(logger *zap.SugaredLogger, onEnter func(phase string)) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	l := &Lifecycle{logger: logger}
	l.fsm = fsm.NewFSM(
		PhaseIdle,
		fsm.Events{
			{Name: EventLaunched, Src: []string{PhaseIdle, PhaseRunning, PhaseRecoveringAutoHeal, PhaseRecoveringBackoff, PhaseTerminal, PhasePaused}, Dst: PhaseRunning},
			{Name: EventAutoHeal, Src: []string{PhaseRunning}, Dst: PhaseRecoveringAutoHeal},
			// A failed relaunch loops back into backoff from wherever it started.
			{Name: EventBackoff, Src: []string{PhaseRunning, PhaseRecoveringAutoHeal, PhaseRecoveringBackoff, PhaseTerminal, PhasePaused}, Dst: PhaseRecoveringBackoff},
			{Name: EventExhausted, Src: []string{PhaseRunning, PhaseRecoveringAutoHeal, PhaseRecoveringBackoff}, Dst: PhaseTerminal},
			{Name: EventPause, Src: []string{PhaseIdle, PhaseRunning, PhaseRecoveringAutoHeal, PhaseRecoveringBackoff, PhaseTerminal}, Dst: PhasePaused},
			{Name: EventStop, Src: allPhases, Dst: PhaseStopped},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				l.logger.Debugf("Supervisor: lifecycle %s -> %s (%s)", e.Src, e.Dst, e.Event)
				if onEnter != nil {
					onEnter(e.Dst)
				}
			},
		},
	)
	return l
}

// Fire applies event. Re-entering the current phase is not an error.
func (l *Lifecycle) Fire(ctx context.Context, event string) error {
	err := l.fsm.Event(ctx, event)
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	if err != nil {
		l.logger.Debugf("Supervisor: lifecycle event %s rejected in %s: %v", event, l.fsm.Current(), err)
	}
	return err
}

// Phase returns the current phase.
func (l *Lifecycle) Phase() string {
	return l.fsm.Current()
}

// Can reports whether event is allowed now.
func (l *Lifecycle) Can(event string) bool {
	return l.fsm.Can(event)
}
