package autoheal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// cliAdapter runs `<bin> <args...>` and treats exit code 0 as success.
type cliAdapter struct {
	engine     Engine
	label      string
	promptFile string
	args       func(prompt, programPath string) []string
	env        []string
	opts       Options
}

func newClaude(opts Options) Adapter {
	return &cliAdapter{
		engine:     EngineClaude,
		label:      "Claude Code",
		promptFile: "autoheal-prompt.txt",
		args: func(prompt, programPath string) []string {
			return []string{"-p", prompt, programPath}
		},
		// An empty key makes the CLI use subscription auth instead of prompting.
		env:  []string{"ANTHROPIC_API_KEY="},
		opts: opts,
	}
}

func newOpenCode(opts Options) Adapter {
	return &cliAdapter{
		engine:     EngineOpenCode,
		label:      "OpenCode",
		promptFile: "autoheal-prompt-opencode.txt",
		args: func(prompt, _ string) []string {
			return []string{"-p", prompt, "-q"}
		},
		opts: opts,
	}
}

func newPi(opts Options) Adapter {
	return &cliAdapter{
		engine:     EnginePi,
		label:      "Pi",
		promptFile: "autoheal-prompt-pi.txt",
		args: func(prompt, _ string) []string {
			return []string{"-p", prompt}
		},
		opts: opts,
	}
}

func (a *cliAdapter) Engine() Engine { return a.engine }

func (a *cliAdapter) Invoke(ctx context.Context, prompt, programPath string, hc Context) Result {
	log := a.opts.Logger
	log.Infof("AutoHeal: invoking %s", a.label)
	savePrompt(a.opts, a.promptFile, prompt)

	run, err := runAgent(ctx, a.opts, string(a.engine), a.args(prompt, programPath), a.env)
	if err != nil {
		return Result{Err: fmt.Errorf("%s invocation failed: %w", a.label, err)}
	}
	log.Infof("AutoHeal: %s exited with code %d", a.label, run.exitCode)
	log.Infof("AutoHeal: %s stdout: %s", a.label, truncate(run.stdout, 500))
	if run.stderr != "" {
		log.Warnf("AutoHeal: %s stderr: %s", a.label, truncate(run.stderr, 500))
	}
	if run.timedOut {
		return Result{Err: fmt.Errorf("%s timed out after %s", a.label, a.opts.Timeout), AgentOutput: run.stdout + "\n" + run.stderr}
	}
	if run.exitCode != 0 {
		return Result{
			Err:         fmt.Errorf("%s failed with exit code %d", a.label, run.exitCode),
			AgentOutput: run.stdout + "\n" + run.stderr,
		}
	}
	return readPatched(programPath, hc, run.stdout)
}

type agentRun struct {
	exitCode int
	stdout   string
	stderr   string
	timedOut bool
}

// runAgent executes the agent binary. A non-zero exit is reported in
// agentRun, not as an error; err is only for spawn failures.
func runAgent(ctx context.Context, opts Options, defaultBin string, args, extraEnv []string) (agentRun, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	bin := defaultBin
	if opts.Binary != "" {
		bin = opts.Binary
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(), extraEnv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	run := agentRun{stdout: stdout.String(), stderr: stderr.String()}
	if ctx.Err() == context.DeadlineExceeded {
		run.timedOut = true
		run.exitCode = -1
		return run, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			run.exitCode = exitErr.ExitCode()
			return run, nil
		}
		return run, err
	}
	return run, nil
}

// readPatched re-reads the program from disk. The agent's own account of
// what it did is not trusted.
func readPatched(programPath string, hc Context, agentOutput string) Result {
	data, err := os.ReadFile(programPath)
	if err != nil {
		return Result{Err: fmt.Errorf("read patched program: %w", err), AgentOutput: agentOutput}
	}
	patched := string(data)
	if hc.ProgramReadErr == nil && hc.ProgramText != "" && patched == hc.ProgramText {
		return Result{Err: fmt.Errorf("agent exited cleanly but %s is unchanged", programPath), AgentOutput: agentOutput}
	}
	return Result{Success: true, PatchedProgram: patched, AgentOutput: agentOutput}
}

func savePrompt(opts Options, name, prompt string) {
	if opts.StateDir == "" {
		return
	}
	path := filepath.Join(opts.StateDir, name)
	if err := os.MkdirAll(opts.StateDir, 0o755); err == nil {
		err = os.WriteFile(path, []byte(prompt), 0o644)
		if err == nil {
			return
		}
	}
	opts.Logger.Warnf("AutoHeal: could not save prompt to %s", path)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
