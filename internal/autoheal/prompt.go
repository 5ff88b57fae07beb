package autoheal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jaakkos/takopi-smithers/internal/domain"
)

func orNA(s, na string) string {
	if s == "" {
		return na
	}
	return s
}

// BuildPrompt renders the repair instructions handed to the agent.
func BuildPrompt(hc Context) string {
	exit := "null"
	if hc.ExitCode != nil {
		exit = strconv.Itoa(*hc.ExitCode)
	}
	program := hc.ProgramText
	if hc.ProgramReadErr != nil {
		program = fmt.Sprintf("Failed to read workflow: %v", hc.ProgramReadErr)
	}
	status := string(hc.State.Status)
	if status == "" {
		status = string(domain.StatusUnknown)
	}

	var b strings.Builder
	b.WriteString("# Auto-heal: Smithers Workflow Crash Recovery\n\n")
	b.WriteString("The Smithers workflow process crashed. Your job is to diagnose and fix the issue.\n\n")

	b.WriteString("## Crash Information\n")
	fmt.Fprintf(&b, "- Exit code: %s\n", exit)
	fmt.Fprintf(&b, "- Signal: %s\n", orNA(hc.Signal, "null"))
	fmt.Fprintf(&b, "- Restart attempts: %d\n\n", hc.RestartAttempts)

	b.WriteString("## Database State (from SQLite)\n")
	fmt.Fprintf(&b, "- Status: %s\n", status)
	fmt.Fprintf(&b, "- Summary: %s\n", orNA(hc.State.Summary, "N/A"))
	fmt.Fprintf(&b, "- Last error: %s\n", orNA(hc.State.LastError, "N/A"))
	fmt.Fprintf(&b, "- Heartbeat: %s\n\n", orNA(hc.State.HeartbeatRaw, "N/A"))

	fmt.Fprintf(&b, "## Recent Logs (last %d lines)\n", LogTailLines)
	fmt.Fprintf(&b, "```\n%s\n```\n\n", hc.RecentLogs)

	fmt.Fprintf(&b, "## Current Workflow File (%s)\n", hc.ProgramPath)
	fmt.Fprintf(&b, "```tsx\n%s\n```\n\n", program)

	b.WriteString(`## Your Task
1. Analyze the crash: look at logs, exit code, DB state, and workflow code
2. Identify the root cause (syntax error, runtime error, missing import, infinite loop, etc.)
3. Patch the workflow file to fix the issue
   - Add error handling, timeouts, retries as needed
   - Fix syntax/type errors
   - Add graceful fallbacks
4. Ensure the workflow remains **resumable** (use Smithers SQLite persistence patterns)
5. Keep the plan simple and observable

`)
	b.WriteString("## Constraints\n")
	fmt.Fprintf(&b, "- Only edit %s\n", hc.ProgramPath)
	fmt.Fprintf(&b, "- Do NOT change the supervisor state key contract (%s, %s, %s, %s)\n",
		domain.KeyHeartbeat, domain.KeyStatus, domain.KeySummary, domain.KeyLastError)
	b.WriteString("- Do NOT break resumability\n")
	b.WriteString("- Prefer robust, restart-friendly designs\n\n")

	b.WriteString("## Output\n")
	b.WriteString("Edit the workflow file to fix the crash. The supervisor will automatically restart after you're done.\n")
	return b.String()
}
