package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/jaakkos/takopi-smithers/internal/domain"
)

// Status output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var (
	statusTitle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	statusSection = lipgloss.NewStyle().Bold(true)
	statusHint    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	statusBox     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// RenderStatus writes reports in format. JSON and YAML write a single object
// for one report and a list otherwise.
func RenderStatus(w io.Writer, format string, reports []StatusReport) error {
	var v any = reports
	if len(reports) == 1 {
		v = reports[0]
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		for i, r := range reports {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintln(w, RenderStatusText(r))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

// RenderStatusText renders one report as a bordered box.
func RenderStatusText(r StatusReport) string {
	var b strings.Builder
	title := "🔹 Workflow Status"
	if r.Branch != "" {
		title += " (" + r.Branch + ")"
	}
	b.WriteString(statusTitle.Render(title) + "\n")
	fmt.Fprintf(&b, "  Status:     %s %s\n", r.Status, statusIndicator(r))
	summary := r.Summary
	if summary == "" {
		summary = "No summary available"
	}
	fmt.Fprintf(&b, "  Summary:    %s\n", Truncate(summary, 200))
	switch {
	case r.Heartbeat == nil:
		b.WriteString("  Heartbeat:  No heartbeat ❌\n")
	case r.HeartbeatAgeSeconds == nil:
		fmt.Fprintf(&b, "  Heartbeat:  %s (unparseable) ❌\n", *r.Heartbeat)
	default:
		mark := "✅"
		if !r.HeartbeatOK {
			mark = "❌"
		}
		fmt.Fprintf(&b, "  Heartbeat:  %s (%ds ago) %s\n", *r.Heartbeat, *r.HeartbeatAgeSeconds, mark)
	}

	b.WriteString("\n" + statusSection.Render("🔹 Process Health") + "\n")
	if r.SupervisorRunning && r.PID != nil {
		fmt.Fprintf(&b, "  Supervisor: running (PID %d)\n", *r.PID)
	} else {
		b.WriteString("  Supervisor: not running\n")
	}
	if r.ChildPID > 0 {
		fmt.Fprintf(&b, "  Workflow:   PID %d\n", r.ChildPID)
	}
	if r.Phase != "" {
		fmt.Fprintf(&b, "  Phase:      %s\n", r.Phase)
	}
	if r.Paused {
		since := "unknown"
		if r.PausedAt != nil {
			since = *r.PausedAt
		}
		fmt.Fprintf(&b, "  Paused:     since %s ⏸️\n", since)
	}

	b.WriteString("\n" + statusSection.Render("🔹 Supervisor Stats") + "\n")
	fmt.Fprintf(&b, "  Restarts:   %d\n", r.Restarts)
	fmt.Fprintf(&b, "  Auto-heals: %d\n", r.AutoHeals)
	uptime := "-"
	if r.UptimeSeconds != nil {
		uptime = FormatUptime(*r.UptimeSeconds)
	}
	fmt.Fprintf(&b, "  Uptime:     %s", uptime)

	if r.NextAction != "" {
		b.WriteString("\n\n" + statusSection.Render("💡 Next Action") + "\n")
		b.WriteString("  " + statusHint.Render(r.NextAction))
	}
	return statusBox.Render(b.String())
}

// statusIndicator marks a status: running with a fresh heartbeat or done is
// good, error or nothing reported is bad, the rest need a look.
func statusIndicator(r StatusReport) string {
	switch domain.WorkflowStatus(r.Status) {
	case domain.StatusRunning:
		if r.HeartbeatOK {
			return "✅"
		}
		return "⚠️"
	case domain.StatusDone:
		return "✅"
	case domain.StatusError, domain.StatusUnknown, "":
		return "❌"
	default:
		return "⚠️"
	}
}

// FormatUptime renders seconds as "Xh Ym", "Ym" or "Xs".
func FormatUptime(seconds int) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
