package autoheal

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

type codexAdapter struct {
	opts Options
}

func newCodex(opts Options) Adapter {
	return &codexAdapter{opts: opts}
}

func (a *codexAdapter) Engine() Engine { return EngineCodex }

// Invoke runs `codex exec --json <prompt>` and decides success from the
// JSONL event stream rather than the exit code.
func (a *codexAdapter) Invoke(ctx context.Context, prompt, programPath string, hc Context) Result {
	log := a.opts.Logger
	log.Info("AutoHeal: invoking Codex")
	savePrompt(a.opts, "autoheal-prompt-codex.txt", prompt)

	run, err := runAgent(ctx, a.opts, string(EngineCodex), []string{"exec", "--json", prompt}, nil)
	if err != nil {
		return Result{Err: fmt.Errorf("codex invocation failed: %w", err)}
	}
	log.Infof("AutoHeal: Codex exited with code %d", run.exitCode)
	if run.timedOut {
		return Result{Err: fmt.Errorf("codex timed out after %s", a.opts.Timeout), AgentOutput: run.stdout}
	}

	ev := parseCodexEvents(run.stdout, func(line string) {
		log.Warnf("AutoHeal: skipping unparseable codex line: %s", truncate(line, 100))
	})
	log.Infof("AutoHeal: parsed %d codex events", ev.count)

	if ev.failed {
		msg := ev.failMessage
		if msg == "" {
			msg = "unknown error"
		}
		return Result{Err: fmt.Errorf("codex turn failed: %s", msg), AgentOutput: run.stdout}
	}
	if !ev.completed {
		return Result{Err: fmt.Errorf("codex did not complete (no turn.completed event)"), AgentOutput: run.stdout}
	}
	log.Infof("AutoHeal: codex made %d file changes", ev.fileChanges)
	return readPatched(programPath, hc, run.stdout)
}

type codexEvents struct {
	count       int
	completed   bool
	failed      bool
	failMessage string
	fileChanges int
}

// parseCodexEvents scans JSONL output. Lines that are not JSON objects are
// passed to skip and otherwise ignored.
func parseCodexEvents(stdout string, skip func(line string)) codexEvents {
	var ev codexEvents
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !gjson.Valid(line) || !gjson.Parse(line).IsObject() {
			if skip != nil {
				skip(line)
			}
			continue
		}
		ev.count++
		obj := gjson.Parse(line)
		switch obj.Get("type").String() {
		case "turn.completed":
			ev.completed = true
		case "turn.failed":
			if !ev.failed {
				ev.failMessage = obj.Get("turn.error.message").String()
				if ev.failMessage == "" {
					ev.failMessage = obj.Get("error.message").String()
				}
			}
			ev.failed = true
		}
		if obj.Get("item.type").String() == "file_change" && obj.Get("item.status").String() == "completed" {
			ev.fileChanges++
		}
	}
	return ev
}
