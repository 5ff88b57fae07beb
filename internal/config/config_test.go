package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jaakkos/takopi-smithers/internal/worktree"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Health.HangThresholdSeconds != 300 {
		t.Errorf("hang threshold = %d, want 300", cfg.Health.HangThresholdSeconds)
	}
	if !reflect.DeepEqual(cfg.Health.RestartBackoffSeconds, []int{5, 30, 120, 600}) {
		t.Errorf("backoff = %v", cfg.Health.RestartBackoffSeconds)
	}
	if cfg.Health.MaxRestartAttempts != 10 {
		t.Errorf("max restarts = %d, want 10", cfg.Health.MaxRestartAttempts)
	}
	if cfg.Health.CheckIntervalSeconds != 10 {
		t.Errorf("check interval = %d, want 10", cfg.Health.CheckIntervalSeconds)
	}
	if !cfg.AutoHeal.Enabled || cfg.AutoHeal.Engine != "claude" || cfg.AutoHeal.MaxAttempts != 3 {
		t.Errorf("autoheal = %+v", cfg.AutoHeal)
	}
	if got := cfg.ReloadDebounce(); got != 2*time.Second {
		t.Errorf("reload debounce = %s, want 2s", got)
	}
	if cfg.Health.StartupGraceSeconds != 0 || cfg.AutoHeal.TimeoutSeconds != 0 {
		t.Error("grace and autoheal timeout should default to 0")
	}
}

func TestLoad_MainWorktree(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".takopi-smithers", "config.toml")
	writeFile(t, path, `
version = 1

[workflow]
script = ".smithers/workflow.tsx"
db = ".smithers/workflow.db"

[workflow.input]
goal = "ship it"

[health]
hang_threshold_seconds = 120
restart_backoff_seconds = [1, 2]
max_restart_attempts = 4

[autoheal]
enabled = false
engine = "codex"
max_attempts = 1

[telegram]
bot_token = "tok"
chat_id = -100123
`)

	cfg, err := Load(path, root, worktree.MainLayout())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HangThreshold() != 120*time.Second {
		t.Errorf("HangThreshold = %s", cfg.HangThreshold())
	}
	if got := cfg.BackoffSchedule(); !reflect.DeepEqual(got, []time.Duration{time.Second, 2 * time.Second}) {
		t.Errorf("BackoffSchedule = %v", got)
	}
	// Unset fields keep their defaults.
	if cfg.Health.CheckIntervalSeconds != 10 {
		t.Errorf("check interval = %d, want default 10", cfg.Health.CheckIntervalSeconds)
	}
	if cfg.Engine() != "codex" {
		t.Errorf("Engine = %q", cfg.Engine())
	}
	if cfg.Paths.Script != filepath.Join(root, ".smithers", "workflow.tsx") {
		t.Errorf("Script = %q", cfg.Paths.Script)
	}
	if cfg.Paths.PIDFile != filepath.Join(root, ".takopi-smithers", "supervisor.pid") {
		t.Errorf("PIDFile = %q", cfg.Paths.PIDFile)
	}
	if cfg.Telegram.ChatID != -100123 {
		t.Errorf("ChatID = %d", cfg.Telegram.ChatID)
	}

	argv, err := cfg.ChildArgv()
	if err != nil {
		t.Fatalf("ChildArgv: %v", err)
	}
	want := []string{"bunx", "smithers", "run", cfg.Paths.Script, "--input", `{"goal":"ship it"}`}
	if !reflect.DeepEqual(argv, want) {
		t.Errorf("ChildArgv = %v, want %v", argv, want)
	}
}

func TestLoad_WorktreeDefaultsFromLayout(t *testing.T) {
	root := t.TempDir()
	layout := worktree.LayoutFor(worktree.Worktree{Branch: "feature/x"})
	path := layout.Abs(root).ConfigPath
	writeFile(t, path, `
version = 1

[worktree]
name = "x"
branch = "feature/x"
`)

	cfg, err := Load(path, root, layout)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Branch() != "feature/x" {
		t.Errorf("Branch = %q", cfg.Branch())
	}
	if cfg.Paths.DB != filepath.Join(root, ".smithers", "worktrees", "feature_x", "workflow.db") {
		t.Errorf("DB = %q", cfg.Paths.DB)
	}
	if cfg.Paths.PIDFile != filepath.Join(root, ".takopi-smithers", "worktrees", "feature_x", "supervisor.pid") {
		t.Errorf("PIDFile = %q", cfg.Paths.PIDFile)
	}
	argv, _ := cfg.ChildArgv()
	if len(argv) != 4 {
		t.Errorf("argv without input = %v", argv)
	}
}

func TestLoad_Errors(t *testing.T) {
	root := t.TempDir()

	if _, err := Load(filepath.Join(root, "missing.toml"), root, worktree.MainLayout()); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(root, "bad.toml")
	writeFile(t, bad, "version = [")
	if _, err := Load(bad, root, worktree.MainLayout()); err == nil {
		t.Error("expected parse error")
	}

	invalid := filepath.Join(root, "invalid.toml")
	writeFile(t, invalid, `
[workflow]
reload_debounce_ms = 0

[health]
hang_threshold_seconds = 0
restart_backoff_seconds = []

[autoheal]
engine = "gpt"
`)
	_, err := Load(invalid, root, worktree.MainLayout())
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"reload_debounce_ms", "hang_threshold_seconds", "restart_backoff_seconds", "autoheal.engine"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestChildArgv_CustomCommand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workflow.Command = []string{"node", "run.js"}
	cfg.Paths.Script = "/p/wf.tsx"
	argv, err := cfg.ChildArgv()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(argv, []string{"node", "run.js", "/p/wf.tsx"}) {
		t.Errorf("argv = %v", argv)
	}
	if !reflect.DeepEqual(DefaultChildCommand, []string{"bunx", "smithers", "run"}) {
		t.Error("ChildArgv must not mutate DefaultChildCommand")
	}
}

func TestCompanionCommand(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Paths.Root = root

	if got := cfg.CompanionCommand(); got != "takopi" {
		t.Errorf("CompanionCommand = %q, want takopi", got)
	}

	venv := filepath.Join(root, ".venv", "bin", "takopi")
	writeFile(t, venv, "#!/bin/sh\n")
	if got := cfg.CompanionCommand(); got != venv {
		t.Errorf("CompanionCommand = %q, want %q", got, venv)
	}

	cfg.Companion.Command = "/opt/takopi"
	if got := cfg.CompanionCommand(); got != "/opt/takopi" {
		t.Errorf("CompanionCommand = %q", got)
	}
}
