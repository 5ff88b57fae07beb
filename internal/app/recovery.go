package app

import (
	"fmt"
	"time"
)

// RecoveryState is the supervisor's in-memory crash bookkeeping. Values are
// passed through the transition functions below and never mutated in place.
type RecoveryState struct {
	RestartAttempts  int  `json:"restart_attempts" yaml:"restart_attempts"`
	AutoHealAttempts int  `json:"autoheal_attempts" yaml:"autoheal_attempts"`
	HandlingHang     bool `json:"handling_hang" yaml:"handling_hang"`
}

// RecoveryPolicy holds the configured ceilings and backoff schedule.
type RecoveryPolicy struct {
	AutoHeal            bool
	MaxAutoHealAttempts int
	MaxRestartAttempts  int
	Backoff             []time.Duration
}

// Action is what the supervisor should do after a crash.
type Action string

const (
	ActionRelaunch Action = "relaunch"
	ActionTerminal Action = "terminal"
)

// Decision is the outcome of one recovery step.
type Decision struct {
	Action Action
	// Delay is how long to wait before relaunching.
	Delay time.Duration
	// Attempt is the 1-based restart attempt this relaunch counts as; 0
	// when the relaunch follows a successful autoheal.
	Attempt int
	// Healed is set when the relaunch follows a successful autoheal.
	Healed bool
}

func (d Decision) String() string {
	switch {
	case d.Action == ActionTerminal:
		return "terminal"
	case d.Healed:
		return "relaunch (healed)"
	default:
		return fmt.Sprintf("relaunch in %s (attempt %d)", d.Delay, d.Attempt)
	}
}

// BackoffDelay returns schedule[min(i, len-1)]. An empty schedule yields 0.
func BackoffDelay(schedule []time.Duration, i int) time.Duration {
	if len(schedule) == 0 {
		return 0
	}
	if i < 0 {
		i = 0
	}
	if i > len(schedule)-1 {
		i = len(schedule) - 1
	}
	return schedule[i]
}

// BeginRecovery is the first step after any child exit. It clears the hang
// flag and reports whether the exit followed a hang kill.
func BeginRecovery(s RecoveryState) (RecoveryState, bool) {
	wasHang := s.HandlingHang
	s.HandlingHang = false
	return s, wasHang
}

// ShouldAutoHeal reports whether a repair attempt is allowed.
func ShouldAutoHeal(s RecoveryState, p RecoveryPolicy) bool {
	return p.AutoHeal && s.AutoHealAttempts < p.MaxAutoHealAttempts
}

// AfterAutoHeal records one repair attempt. On success both counters reset
// and the returned decision relaunches immediately (done is true). On
// failure AutoHealAttempts grows by one and the caller continues with
// PlanRestart.
func AfterAutoHeal(s RecoveryState, ok bool) (next RecoveryState, d Decision, done bool) {
	if ok {
		return RecoveryState{}, Decision{Action: ActionRelaunch, Healed: true}, true
	}
	s.AutoHealAttempts++
	return s, Decision{}, false
}

// PlanRestart decides the plain backoff path. The counter is left alone:
// the caller records the attempt with RecordRestart once the wait is over
// and the relaunch actually happens.
func PlanRestart(s RecoveryState, p RecoveryPolicy) Decision {
	if s.RestartAttempts >= p.MaxRestartAttempts {
		return Decision{Action: ActionTerminal}
	}
	return Decision{
		Action:  ActionRelaunch,
		Delay:   BackoffDelay(p.Backoff, s.RestartAttempts),
		Attempt: s.RestartAttempts + 1,
	}
}

// RecordRestart counts one backoff relaunch.
func RecordRestart(s RecoveryState) RecoveryState {
	s.RestartAttempts++
	return s
}
