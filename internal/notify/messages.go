package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/jaakkos/takopi-smithers/internal/domain"
)

// StatusEmoji is the marker shown next to a workflow status.
func StatusEmoji(status domain.WorkflowStatus) string {
	switch status {
	case domain.StatusRunning:
		return "🟢"
	case domain.StatusIdle:
		return "🟡"
	case domain.StatusError:
		return "🔴"
	case domain.StatusDone:
		return "✅"
	default:
		return "❓"
	}
}

// HeartbeatAge renders an age as "Ns ago", "Nm ago" or "Nh ago".
func HeartbeatAge(age time.Duration) string {
	s := int(age / time.Second)
	if s < 0 {
		s = 0
	}
	switch {
	case s < 60:
		return fmt.Sprintf("%ds ago", s)
	case s < 3600:
		return fmt.Sprintf("%dm ago", s/60)
	default:
		return fmt.Sprintf("%dh ago", s/3600)
	}
}

// PauseDuration renders how long a workflow was paused, in the largest
// whole unit ("1 minute", "3 hours").
func PauseDuration(d time.Duration) string {
	s := int(d / time.Second)
	if s < 0 {
		s = 0
	}
	unit := func(n int, name string) string {
		if n == 1 {
			return fmt.Sprintf("%d %s", n, name)
		}
		return fmt.Sprintf("%d %ss", n, name)
	}
	switch {
	case s < 60:
		return unit(s, "second")
	case s < 3600:
		return unit(s/60, "minute")
	case s < 86400:
		return unit(s/3600, "hour")
	default:
		return unit(s/86400, "day")
	}
}

// Where identifies the worktree an event is about.
type Where struct {
	Repo   string
	Branch string
}

// StatusUpdate is the periodic status broadcast.
func StatusUpdate(w Where, st domain.WorkflowState, now time.Time) Event {
	status := string(st.Status)
	if status == "" {
		status = string(domain.StatusUnknown)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s** (%s)\n\n_%s_\n\n**Status:** %s",
		StatusEmoji(st.Status), w.Repo, w.Branch, domain.FormatTimestamp(now), status)
	if st.Summary != "" {
		fmt.Fprintf(&b, "\n\n%s", st.Summary)
	}
	if age, ok := st.HeartbeatAge(now); ok {
		fmt.Fprintf(&b, "\n\n💓 Last heartbeat: %s", HeartbeatAge(age))
	}
	return Event{Kind: KindStatus, Text: b.String()}
}

// HangDetected reports a stale heartbeat before the child is killed.
func HangDetected(st domain.WorkflowState, threshold time.Duration) Event {
	hb := st.HeartbeatRaw
	if hb == "" {
		hb = "never"
	}
	text := fmt.Sprintf("⚠️ **Workflow Hang Detected**\n\nThe workflow heartbeat is stale.\n\nLast heartbeat: `%s`\nThreshold: %ds\n\nKilling hung process and restarting...",
		hb, int(threshold/time.Second))
	return Event{Kind: KindHang, Text: text}
}

// AutoHealSucceeded reports a successful repair.
func AutoHealSucceeded(engine string) Event {
	text := fmt.Sprintf("✅ **Auto-Heal Successful**\n\nThe workflow crashed but was automatically repaired by %s. The process has been restarted with the patched workflow.", engine)
	return Event{Kind: KindAutoHealSuccess, Text: text}
}

// AutoHealFailed reports a failed repair.
func AutoHealFailed(reason string) Event {
	text := "❌ **Auto-Heal Failed**\n\nThe workflow crashed and auto-heal was unable to fix it. Falling back to normal restart logic."
	if reason != "" {
		text += fmt.Sprintf("\n\nReason: %s", reason)
	}
	return Event{Kind: KindAutoHealFailure, Text: text}
}

// Reloaded reports a restart caused by a program file change.
func Reloaded(script string) Event {
	text := fmt.Sprintf("🔄 **Workflow Reloaded**\n\nThe workflow file `%s` was modified and the Smithers process has been restarted.", script)
	return Event{Kind: KindReload, Text: text}
}

// RecoveryExhausted reports that automatic restarts stopped.
func RecoveryExhausted(w Where, attempts int) Event {
	text := fmt.Sprintf("🛑 **Workflow Stopped**\n\nRepo: `%s` (%s)\n\nMax restart attempts (%d) exceeded. Automatic recovery has stopped; use `takopi-smithers restart` once the workflow is fixed.",
		w.Repo, w.Branch, attempts)
	return Event{Kind: KindTerminal, Text: text}
}

// Paused reports a pause.
func Paused(w Where, at time.Time) Event {
	text := fmt.Sprintf("⏸️ **Workflow Paused**\n\nRepo: `%s` (%s)\nTimestamp: %s\n\nThe Smithers workflow has been paused. Supervisor remains active.\n\nUse `takopi-smithers resume` to continue.",
		w.Repo, w.Branch, domain.FormatTimestamp(at))
	return Event{Kind: KindPause, Text: text}
}

// Resumed reports a resume. pausedFor is empty when the pause time is unknown.
func Resumed(w Where, at time.Time, pausedFor string) Event {
	var b strings.Builder
	fmt.Fprintf(&b, "▶️ **Workflow Resumed**\n\nRepo: `%s` (%s)\nTimestamp: %s\n", w.Repo, w.Branch, domain.FormatTimestamp(at))
	if pausedFor != "" {
		fmt.Fprintf(&b, "\nPaused for: %s\n", pausedFor)
	}
	b.WriteString("\nThe Smithers workflow has been resumed.")
	return Event{Kind: KindResume, Text: b.String()}
}
