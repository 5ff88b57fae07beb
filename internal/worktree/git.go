// Package worktree discovers the git worktrees of a repository and maps each
// one to its own supervisor files (config, database, program, logs, PID file).
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Worktree identifies one git working copy.
type Worktree struct {
	Path       string `json:"path" yaml:"path"`
	Branch     string `json:"branch" yaml:"branch"`
	IsMain     bool   `json:"is_main" yaml:"is_main"`
	CommitHash string `json:"commit_hash" yaml:"commit_hash"`
}

// worktreeList runs `git worktree list --porcelain` in repoDir.
func worktreeList(repoDir string) ([]Worktree, error) {
	cmd := exec.Command("git", "worktree", "list", "--porcelain")
	cmd.Dir = repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("git worktree list: %w\noutput: %s", err, strings.TrimSpace(string(out)))
	}
	return ParsePorcelain(string(out)), nil
}

// ParsePorcelain parses `git worktree list --porcelain` output. The first entry
// is the main worktree. Bare entries are skipped and a detached HEAD is named
// detached@<short hash>.
func ParsePorcelain(output string) []Worktree {
	var (
		out []Worktree
		cur *Worktree
		ok  bool
	)
	flush := func() {
		if cur != nil && ok && cur.Path != "" && cur.Branch != "" {
			out = append(out, *cur)
		}
		cur, ok = nil, false
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.TrimSpace(line) == "":
			continue
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case cur == nil:
			continue
		case strings.HasPrefix(line, "HEAD "):
			cur.CommitHash = strings.TrimPrefix(line, "HEAD ")
			ok = true
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "bare":
			cur = nil
		case line == "detached":
			short := "unknown"
			if cur.CommitHash != "" {
				short = cur.CommitHash
				if len(short) > 7 {
					short = short[:7]
				}
			}
			cur.Branch = "detached@" + short
		}
	}
	flush()

	if len(out) > 0 {
		out[0].IsMain = true
	}
	return out
}

// isGitRepo checks whether the given directory is inside a git repository.
func isGitRepo(dir string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "true"
}

// currentBranch returns the current branch name (or HEAD if detached).
func currentBranch(repoDir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git current branch: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentBranch returns the branch checked out in dir, or "unknown".
func CurrentBranch(dir string) string {
	b, err := currentBranch(dir)
	if err != nil || b == "" {
		return "unknown"
	}
	return b
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
