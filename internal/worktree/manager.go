package worktree

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrNotFound is returned when no worktree matches a branch name.
var ErrNotFound = errors.New("worktree not found")

// Manager discovers the worktrees of the repository containing dir and maps
// them to their supervisor layouts.
type Manager struct {
	dir    string
	logger *zap.SugaredLogger
	mu     sync.Mutex
	cached []Worktree
}

// NewManager creates a Manager rooted at dir (any directory inside the repository).
func NewManager(dir string, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{dir: dir, logger: logger}
}

// IsRepo reports whether the manager's directory is inside a git repository.
func (m *Manager) IsRepo() bool {
	return isGitRepo(m.dir)
}

// List returns all worktrees, main first. Results are cached for the lifetime
// of the Manager; call Refresh to re-run git.
func (m *Manager) List() ([]Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached != nil {
		return m.cached, nil
	}
	wts, err := worktreeList(m.dir)
	if err != nil {
		return nil, err
	}
	m.cached = wts
	return wts, nil
}

// Refresh drops the cached worktree list.
func (m *Manager) Refresh() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

// Root returns the project root: the main worktree's path. Outside a git
// repository the manager's directory is the root.
func (m *Manager) Root() string {
	wts, err := m.List()
	if err != nil || len(wts) == 0 {
		return m.dir
	}
	return wts[0].Path
}

// Current returns the worktree that contains the manager's directory.
func (m *Manager) Current() (*Worktree, error) {
	wts, err := m.List()
	if err != nil {
		return nil, err
	}
	dir, err := filepath.Abs(m.dir)
	if err != nil {
		return nil, fmt.Errorf("resolve dir: %w", err)
	}
	dir = evalSymlinks(dir)

	var best *Worktree
	for i := range wts {
		p := evalSymlinks(strings.TrimSuffix(wts[i].Path, "/"))
		if dir == p || strings.HasPrefix(dir, p+string(filepath.Separator)) {
			if best == nil || len(p) > len(evalSymlinks(best.Path)) {
				best = &wts[i]
			}
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	wt := *best
	return &wt, nil
}

// Find returns the worktree checked out on branch.
func (m *Manager) Find(branch string) (*Worktree, error) {
	wts, err := m.List()
	if err != nil {
		return nil, err
	}
	for _, wt := range wts {
		if wt.Branch == branch {
			found := wt
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, branch)
}

// ConfigPath returns the absolute config path for wt.
func (m *Manager) ConfigPath(wt Worktree) string {
	return LayoutFor(wt).Abs(m.Root()).ConfigPath
}

// Configured returns the worktrees that have a supervisor config file.
func (m *Manager) Configured() ([]Worktree, error) {
	wts, err := m.List()
	if err != nil {
		return nil, err
	}
	var out []Worktree
	for _, wt := range wts {
		if fileExists(m.ConfigPath(wt)) {
			out = append(out, wt)
		} else {
			m.logger.Debugf("WorktreeManager: skipping %s (no config at %s)", wt.Branch, m.ConfigPath(wt))
		}
	}
	return out, nil
}

func evalSymlinks(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	return p
}
