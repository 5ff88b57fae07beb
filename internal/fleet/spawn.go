package fleet

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Spawner starts a detached supervisor for a target.
type Spawner interface {
	Spawn(ctx context.Context, t Target, dryRun bool) error
}

// ExecSpawner runs `<Exe> start --detach --worktree <branch>` inside the
// target's worktree and waits for the detaching parent to return.
type ExecSpawner struct {
	Exe string
}

// Args returns the start command line for t, without the executable.
func (s ExecSpawner) Args(t Target, dryRun bool) []string {
	args := []string{"start", "--detach"}
	if b := t.Branch(); b != "" {
		args = append(args, "--worktree", b)
	}
	if dryRun {
		args = append(args, "--dry-run")
	}
	return args
}

// Spawn implements Spawner.
func (s ExecSpawner) Spawn(ctx context.Context, t Target, dryRun bool) error {
	cmd := exec.CommandContext(ctx, s.Exe, s.Args(t, dryRun)...)
	cmd.Dir = t.Worktree.Path
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("start supervisor for %s: %w", t.Branch(), err)
		}
		return fmt.Errorf("start supervisor for %s: %w: %s", t.Branch(), err, msg)
	}
	return nil
}
