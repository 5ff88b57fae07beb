package autoheal

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/jaakkos/takopi-smithers/internal/domain"
)

// LogTailLines is how much of the supervisor log goes into the prompt.
const LogTailLines = 100

// Crash describes one child exit.
type Crash struct {
	ExitCode        *int
	Signal          string
	RestartAttempts int
}

// CaptureContext gathers the crash context from disk. Read failures are
// embedded in the context, never returned.
func CaptureContext(crash Crash, programPath, dbPath, logPath string, state domain.WorkflowState) Context {
	hc := Context{
		ExitCode:        crash.ExitCode,
		Signal:          crash.Signal,
		RestartAttempts: crash.RestartAttempts,
		ProgramPath:     programPath,
		DBPath:          dbPath,
		State:           state,
	}
	if data, err := os.ReadFile(logPath); err != nil {
		hc.RecentLogs = fmt.Sprintf("Failed to read logs: %v", err)
	} else {
		hc.RecentLogs = Tail(string(data), LogTailLines)
	}
	if data, err := os.ReadFile(programPath); err != nil {
		hc.ProgramReadErr = err
	} else {
		hc.ProgramText = string(data)
	}
	return hc
}

// Tail returns the last n lines of s.
func Tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Heal builds the prompt for hc and runs it through adapter. It never
// panics or returns an error; failures are in the Result.
func Heal(ctx context.Context, adapter Adapter, hc Context, logger *zap.SugaredLogger) Result {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger.Infof("AutoHeal: === starting attempt (engine=%s) ===", adapter.Engine())
	prompt := BuildPrompt(hc)
	logger.Infof("AutoHeal: repair prompt length: %d chars", len(prompt))

	res := adapter.Invoke(ctx, prompt, hc.ProgramPath, hc)
	if res.Success {
		logger.Infof("AutoHeal: succeeded, workflow patched (%d chars)", len(res.PatchedProgram))
		return res
	}
	if res.Err == nil {
		res.Err = fmt.Errorf("%s reported failure", adapter.Engine())
	}
	logger.Errorf("AutoHeal: failed: %v", res.Err)
	if res.AgentOutput != "" {
		logger.Errorf("AutoHeal: agent output: %s", truncate(res.AgentOutput, 1000))
	}
	return res
}
