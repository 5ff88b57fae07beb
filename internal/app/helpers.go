package app

import (
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/jaakkos/takopi-smithers/internal/notify"
)

// Truncate truncates s to max runes (Unicode-safe).
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// recoverPanic logs a panic in a supervisor goroutine instead of letting it
// take the process (and the watched child's supervision) down. Use as
// `defer recoverPanic(logger, "Component")`.
func recoverPanic(logger *zap.SugaredLogger, component string) {
	if r := recover(); r != nil {
		logger.Errorf("%s: recovered from panic: %v\n%s", component, r, debug.Stack())
	}
}

// DetectWhere names the repository and branch for notifications. The repo
// name comes from the origin remote when there is one, else from the
// directory name. An empty branch is looked up from git.
func DetectWhere(dir, branch string) notify.Where {
	w := notify.Where{Repo: filepath.Base(dir), Branch: branch}
	if remote, err := runGitCommand(dir, "config", "--get", "remote.origin.url"); err == nil {
		if name := repoNameFromRemote(strings.TrimSpace(remote)); name != "" {
			w.Repo = name
		}
	}
	if w.Branch == "" {
		if b, err := runGitCommand(dir, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
			w.Branch = strings.TrimSpace(b)
		}
	}
	if w.Branch == "" {
		w.Branch = "unknown"
	}
	return w
}

func repoNameFromRemote(remote string) string {
	remote = strings.TrimSuffix(strings.TrimRight(remote, "/"), ".git")
	if i := strings.LastIndexAny(remote, "/:"); i >= 0 {
		remote = remote[i+1:]
	}
	return remote
}

// runGitCommand runs a git command in the given directory and returns the output.
func runGitCommand(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}
