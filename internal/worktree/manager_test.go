package worktree

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestSafeName(t *testing.T) {
	tests := []struct {
		branch string
		want   string
	}{
		{"main", "main"},
		{"feature/login", "feature_login"},
		{"fix-123_b", "fix-123_b"},
		{"a.b c@d", "a_b_c_d"},
		{"detached@abcdef0", "detached_abcdef0"},
	}
	for _, tt := range tests {
		if got := SafeName(tt.branch); got != tt.want {
			t.Errorf("SafeName(%q) = %q, want %q", tt.branch, got, tt.want)
		}
	}
}

func TestLayoutFor(t *testing.T) {
	main := LayoutFor(Worktree{IsMain: true, Branch: "main"})
	if main.ConfigPath != ".takopi-smithers/config.toml" {
		t.Errorf("main config = %q", main.ConfigPath)
	}
	if main.DBPath != ".smithers/workflow.db" || main.ScriptPath != ".smithers/workflow.tsx" {
		t.Errorf("main db/script = %q %q", main.DBPath, main.ScriptPath)
	}
	if main.PIDFile != ".takopi-smithers/supervisor.pid" {
		t.Errorf("main pid = %q", main.PIDFile)
	}

	feat := LayoutFor(Worktree{Branch: "feature/login"})
	if feat.ConfigPath != ".takopi-smithers/worktrees/feature_login/config.toml" {
		t.Errorf("feature config = %q", feat.ConfigPath)
	}
	if feat.DBPath != ".smithers/worktrees/feature_login/workflow.db" {
		t.Errorf("feature db = %q", feat.DBPath)
	}
	if feat.LogDir != ".takopi-smithers/worktrees/feature_login/logs" {
		t.Errorf("feature logs = %q", feat.LogDir)
	}
	if feat.PIDFile == main.PIDFile {
		t.Error("worktree PID file must not collide with main")
	}

	abs := feat.Abs("/repo")
	if abs.ConfigPath != "/repo/.takopi-smithers/worktrees/feature_login/config.toml" {
		t.Errorf("abs config = %q", abs.ConfigPath)
	}
}

func TestManager_ConfiguredAndFind(t *testing.T) {
	repo := initTestRepo(t)
	addWorktree(t, repo, filepath.Join(repo, ".worktrees", "a"), "feature/a")
	addWorktree(t, repo, filepath.Join(repo, ".worktrees", "b"), "feature/b")

	// Configure main and feature/a only.
	for _, rel := range []string{
		".takopi-smithers/config.toml",
		".takopi-smithers/worktrees/feature_a/config.toml",
	} {
		p := filepath.Join(repo, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("version = 1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	m := NewManager(repo, zaptest.NewLogger(t).Sugar())
	configured, err := m.Configured()
	if err != nil {
		t.Fatalf("Configured: %v", err)
	}
	if len(configured) != 2 {
		t.Fatalf("configured = %d, want 2: %+v", len(configured), configured)
	}
	if !configured[0].IsMain || configured[1].Branch != "feature/a" {
		t.Errorf("configured = %+v", configured)
	}

	wt, err := m.Find("feature/b")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if wt.IsMain {
		t.Error("feature/b should not be main")
	}

	if _, err := m.Find("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Find(nope) err = %v, want ErrNotFound", err)
	}
}

func TestManager_Current(t *testing.T) {
	repo := initTestRepo(t)
	wtPath := filepath.Join(repo, ".worktrees", "a")
	addWorktree(t, repo, wtPath, "feature/a")

	cur, err := NewManager(wtPath, nil).Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur.Branch != "feature/a" {
		t.Errorf("Current().Branch = %q, want feature/a (nested worktree must win over main)", cur.Branch)
	}

	cur, err = NewManager(repo, nil).Current()
	if err != nil {
		t.Fatalf("Current(main): %v", err)
	}
	if !cur.IsMain {
		t.Errorf("Current() in repo root should be main, got %+v", cur)
	}
}

func TestManager_RootOutsideRepo(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)
	if m.IsRepo() {
		t.Fatal("temp dir should not be a repo")
	}
	if got := m.Root(); got != dir {
		t.Errorf("Root() = %q, want %q", got, dir)
	}
}
