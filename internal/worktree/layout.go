package worktree

import (
	"path/filepath"
	"regexp"
)

const (
	// StateDir holds supervisor files (config, logs, PID file) under the project root.
	StateDir = ".takopi-smithers"
	// WorkflowDir holds the workflow program and its database under the project root.
	WorkflowDir = ".smithers"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)

// SafeName turns a branch name into a single path component.
func SafeName(branch string) string {
	return unsafeChars.ReplaceAllString(branch, "_")
}

// Layout is the set of per-worktree files, relative to the project root
// (the directory holding .takopi-smithers, normally the main worktree).
type Layout struct {
	ConfigPath string
	DBPath     string
	ScriptPath string
	LogDir     string
	PIDFile    string
}

// LayoutFor returns the default file layout for wt. The main worktree uses
// the fixed, unnamespaced paths.
func LayoutFor(wt Worktree) Layout {
	if wt.IsMain {
		return Layout{
			ConfigPath: filepath.Join(StateDir, "config.toml"),
			DBPath:     filepath.Join(WorkflowDir, "workflow.db"),
			ScriptPath: filepath.Join(WorkflowDir, "workflow.tsx"),
			LogDir:     filepath.Join(StateDir, "logs"),
			PIDFile:    filepath.Join(StateDir, "supervisor.pid"),
		}
	}
	safe := SafeName(wt.Branch)
	return Layout{
		ConfigPath: filepath.Join(StateDir, "worktrees", safe, "config.toml"),
		DBPath:     filepath.Join(WorkflowDir, "worktrees", safe, "workflow.db"),
		ScriptPath: filepath.Join(WorkflowDir, "worktrees", safe, "workflow.tsx"),
		LogDir:     filepath.Join(StateDir, "worktrees", safe, "logs"),
		PIDFile:    filepath.Join(StateDir, "worktrees", safe, "supervisor.pid"),
	}
}

// MainLayout is the layout of the main worktree.
func MainLayout() Layout {
	return LayoutFor(Worktree{IsMain: true})
}

// Abs resolves every path of l against root.
func (l Layout) Abs(root string) Layout {
	join := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}
	return Layout{
		ConfigPath: join(l.ConfigPath),
		DBPath:     join(l.DBPath),
		ScriptPath: join(l.ScriptPath),
		LogDir:     join(l.LogDir),
		PIDFile:    join(l.PIDFile),
	}
}
