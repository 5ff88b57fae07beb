package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jaakkos/takopi-smithers/internal/domain"
	"github.com/jaakkos/takopi-smithers/internal/pidfile"
)

// StatusReport is one worktree's status as shown by `status`, the MCP
// fleet_status tool and the dashboard API.
type StatusReport struct {
	Branch              string  `json:"branch,omitempty" yaml:"branch,omitempty"`
	PID                 *int    `json:"pid" yaml:"pid"`
	Status              string  `json:"status" yaml:"status"`
	Summary             string  `json:"summary" yaml:"summary"`
	Heartbeat           *string `json:"heartbeat" yaml:"heartbeat"`
	HeartbeatOK         bool    `json:"heartbeatOk" yaml:"heartbeatOk"`
	HeartbeatAgeSeconds *int    `json:"heartbeatAgeSeconds" yaml:"heartbeatAgeSeconds"`
	SupervisorRunning   bool    `json:"supervisorRunning" yaml:"supervisorRunning"`
	Restarts            int     `json:"restarts" yaml:"restarts"`
	AutoHeals           int     `json:"autoheals" yaml:"autoheals"`
	UptimeSeconds       *int    `json:"uptimeSeconds" yaml:"uptimeSeconds"`
	Paused              bool    `json:"paused" yaml:"paused"`
	PausedAt            *string `json:"pausedAt,omitempty" yaml:"pausedAt,omitempty"`
	Phase               string  `json:"phase,omitempty" yaml:"phase,omitempty"`
	ChildPID            int     `json:"childPid,omitempty" yaml:"childPid,omitempty"`
	NextAction          string  `json:"nextAction,omitempty" yaml:"nextAction,omitempty"`
}

// StatusQuery says where one worktree's status lives.
type StatusQuery struct {
	Branch string
	// Main is true for the main worktree; hints for other worktrees carry
	// --worktree.
	Main          bool
	PIDFile       string
	LogDir        string
	HeartbeatKey  string
	HangThreshold time.Duration
	// Now defaults to the wall clock.
	Now time.Time
}

// CollectStatus reads a worktree's state, pause record and counters from
// store (which may be nil when the database could not be opened) and probes
// its PID file. Missing data is reported as empty, never as an error.
func CollectStatus(ctx context.Context, store StateStore, q StatusQuery) StatusReport {
	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}
	threshold := q.HangThreshold
	if threshold <= 0 {
		threshold = defaultHangThreshold
	}

	r := StatusReport{Branch: q.Branch, Status: string(domain.StatusUnknown)}

	if pid, ok := pidfile.Read(q.PIDFile); ok {
		r.PID = &pid
		r.SupervisorRunning = true
		if up, ok := pidfile.Uptime(pid); ok {
			secs := int(up / time.Second)
			r.UptimeSeconds = &secs
		}
	}

	if store != nil {
		st, err := store.WorkflowState(ctx, q.HeartbeatKey)
		if err == nil {
			r.applyState(st, now, threshold)
		} else if !errors.Is(err, domain.ErrStateUnavailable) {
			r.Summary = fmt.Sprintf("state unreadable: %v", err)
		}
		if ps, err := store.Pause(ctx); err == nil {
			r.Paused = ps.Paused
			if ps.PausedAt != nil {
				at := domain.FormatTimestamp(*ps.PausedAt)
				r.PausedAt = &at
			}
		}
		if p, err := store.Progress(ctx); err == nil {
			r.Restarts = p.Restarts
			r.AutoHeals = p.AutoHeals
			if r.SupervisorRunning {
				r.Phase = p.Phase
				r.ChildPID = p.ChildPID
			}
		}
	}

	r.NextAction = nextAction(r, q)
	return r
}

func (r *StatusReport) applyState(st domain.WorkflowState, now time.Time, threshold time.Duration) {
	if st.Status != "" {
		r.Status = string(st.Status)
	}
	r.Summary = st.Summary
	if st.HeartbeatRaw != "" {
		raw := st.HeartbeatRaw
		r.Heartbeat = &raw
	}
	if age, ok := st.HeartbeatAge(now); ok {
		secs := int(age / time.Second)
		r.HeartbeatAgeSeconds = &secs
	}
	r.HeartbeatOK = !st.IsHeartbeatStale(now, threshold)
}

// nextAction suggests what the user should do, or "" when all is well.
func nextAction(r StatusReport, q StatusQuery) string {
	flag := ""
	if !q.Main && q.Branch != "" {
		flag = " --worktree " + q.Branch
	}
	logs := "the workflow log"
	if q.LogDir != "" {
		logs = q.LogDir + "/workflow.log"
	}
	switch {
	case !r.SupervisorRunning:
		return fmt.Sprintf("Run 'takopi-smithers start%s' to start the supervisor", flag)
	case r.Paused:
		return fmt.Sprintf("Workflow is paused. Run 'takopi-smithers resume%s' to continue", flag)
	case r.Phase == PhaseTerminal:
		return fmt.Sprintf("Automatic recovery gave up. Fix the workflow, then run 'takopi-smithers restart%s'", flag)
	case !r.HeartbeatOK:
		return fmt.Sprintf("Heartbeat is stale - workflow may be hung. Check %s", logs)
	case r.Status == string(domain.StatusError):
		return fmt.Sprintf("Workflow failed - check %s", logs)
	}
	return ""
}
