// Package domain holds the workflow and supervisor state records shared by
// the supervisor, the state store and the control commands.
// It has no dependencies on other packages.
package domain

import (
	"strconv"
	"strings"
	"time"
)

// State keys in the per-worktree state table.
const (
	KeyStatus        = "supervisor.status"
	KeySummary       = "supervisor.summary"
	KeyHeartbeat     = "supervisor.heartbeat"
	KeyLastError     = "supervisor.last_error"
	KeyPaused        = "supervisor.paused"
	KeyPausedAt      = "supervisor.paused_at"
	KeyRestartCount  = "supervisor.restart_count"
	KeyAutoHealCount = "supervisor.autoheal_count"
	KeyPhase         = "supervisor.phase"
	KeyChildPID      = "supervisor.child_pid"
)

// WorkflowStatus is the status the child reports about itself.
type WorkflowStatus string

const (
	StatusUnknown WorkflowStatus = "unknown"
	StatusRunning WorkflowStatus = "running"
	StatusIdle    WorkflowStatus = "idle"
	StatusError   WorkflowStatus = "error"
	StatusDone    WorkflowStatus = "done"
)

// WorkflowState is the child-owned record. The supervisor only reads it.
type WorkflowState struct {
	Status    WorkflowStatus `json:"status" yaml:"status"`
	Summary   string         `json:"summary,omitempty" yaml:"summary,omitempty"`
	Heartbeat *time.Time     `json:"heartbeat,omitempty" yaml:"heartbeat,omitempty"`
	// HeartbeatRaw is the stored value, kept so an unparseable heartbeat can be shown as-is.
	HeartbeatRaw string `json:"-" yaml:"-"`
	LastError    string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// HeartbeatAge returns how old the heartbeat is at now. ok is false when there is
// no parseable heartbeat.
func (s WorkflowState) HeartbeatAge(now time.Time) (time.Duration, bool) {
	if s.Heartbeat == nil {
		return 0, false
	}
	return now.Sub(*s.Heartbeat), true
}

// IsHeartbeatStale reports whether the heartbeat is older than threshold.
// A missing or unparseable heartbeat is always stale.
func (s WorkflowState) IsHeartbeatStale(now time.Time, threshold time.Duration) bool {
	age, ok := s.HeartbeatAge(now)
	if !ok {
		return true
	}
	return age > threshold
}

// PauseState is the supervisor-owned pause record.
type PauseState struct {
	Paused   bool       `json:"paused" yaml:"paused"`
	PausedAt *time.Time `json:"paused_at,omitempty" yaml:"paused_at,omitempty"`
}

// Progress holds the recovery counters mirrored into the store for status,
// plus the supervisor's lifecycle phase and the running child's PID (0 when
// no child is up).
type Progress struct {
	Restarts  int    `json:"restarts" yaml:"restarts"`
	AutoHeals int    `json:"autoheals" yaml:"autoheals"`
	Phase     string `json:"phase,omitempty" yaml:"phase,omitempty"`
	ChildPID  int    `json:"child_pid,omitempty" yaml:"child_pid,omitempty"`
}

// ParseTimestamp parses a heartbeat or pause timestamp. The child writes
// ISO-8601 (JavaScript toISOString) which RFC3339Nano accepts.
func ParseTimestamp(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	// Unix seconds or milliseconds.
	if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
		if n > 1e12 {
			return time.UnixMilli(n), true
		}
		return time.Unix(n, 0), true
	}
	return time.Time{}, false
}

// FormatTimestamp renders t the way the child and the pause command store it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// StateFromValues builds a WorkflowState from raw key/value rows.
// heartbeatKey is the configured heartbeat key (usually KeyHeartbeat).
func StateFromValues(values map[string]string, heartbeatKey string) WorkflowState {
	if heartbeatKey == "" {
		heartbeatKey = KeyHeartbeat
	}
	st := WorkflowState{Status: StatusUnknown}
	if v := values[KeyStatus]; v != "" {
		st.Status = WorkflowStatus(v)
	}
	st.Summary = values[KeySummary]
	st.LastError = values[KeyLastError]
	st.HeartbeatRaw = values[heartbeatKey]
	if t, ok := ParseTimestamp(st.HeartbeatRaw); ok {
		st.Heartbeat = &t
	}
	return st
}

// PauseFromValues builds a PauseState from raw key/value rows.
func PauseFromValues(values map[string]string) PauseState {
	ps := PauseState{Paused: values[KeyPaused] == "true"}
	if t, ok := ParseTimestamp(values[KeyPausedAt]); ok {
		ps.PausedAt = &t
	}
	return ps
}

// ProgressFromValues reads the restart and autoheal counters. Missing or
// malformed values count as zero.
func ProgressFromValues(values map[string]string) Progress {
	var p Progress
	p.Restarts, _ = strconv.Atoi(values[KeyRestartCount])
	p.AutoHeals, _ = strconv.Atoi(values[KeyAutoHealCount])
	p.Phase = values[KeyPhase]
	p.ChildPID, _ = strconv.Atoi(values[KeyChildPID])
	return p
}
