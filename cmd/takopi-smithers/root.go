package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jaakkos/takopi-smithers/internal/fleet"
	"github.com/jaakkos/takopi-smithers/internal/logging"
	"github.com/jaakkos/takopi-smithers/internal/worktree"
)

var (
	worktreeFlag     string
	allWorktreesFlag bool
	configFlag       string
)

var rootCmd = &cobra.Command{
	Use:   "takopi-smithers",
	Short: "Supervise Smithers workflows across git worktrees",
	Long: `takopi-smithers runs one supervisor per git worktree. Each supervisor keeps
its workflow child alive: crashes are repaired by a coding agent or relaunched
with backoff, hangs are detected from the workflow heartbeat, and edits to the
workflow program trigger a restart.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&worktreeFlag, "worktree", "w", "", "target worktree branch (default: current worktree, else main)")
	rootCmd.PersistentFlags().BoolVarP(&allWorktreesFlag, "all-worktrees", "a", false, "apply to every configured worktree")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "explicit config.toml path")
}

// newFleet returns a fleet over the repository containing the working
// directory. Supervisors it starts are re-executions of this binary.
func newFleet(logger *zap.SugaredLogger) (*fleet.Fleet, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	mgr := worktree.NewManager(cwd, logger)
	return fleet.New(mgr,
		fleet.WithSpawner(fleet.ExecSpawner{Exe: exe}),
		fleet.WithLogger(logger),
	), nil
}

// resolveTarget picks the worktree a single-target command acts on:
// --config, then --worktree, then the current worktree, then main.
func resolveTarget(f *fleet.Fleet) (fleet.Target, error) {
	if configFlag != "" {
		return f.LoadFile(configFlag)
	}
	return f.Resolve(worktreeFlag)
}

// worktreeSuffix renders " for worktree 'x'" for messages about a non-main target.
func worktreeSuffix(t fleet.Target) string {
	if t.Worktree.IsMain || t.Branch() == "" {
		return ""
	}
	return fmt.Sprintf(" for worktree '%s'", t.Branch())
}

// worktreeArg renders " --worktree x" for suggested commands.
func worktreeArg(t fleet.Target) string {
	if t.Worktree.IsMain || t.Branch() == "" {
		return ""
	}
	return " --worktree " + t.Branch()
}

// printResults prints one line per fleet result and a tally, and returns
// the joined failures.
func printResults(cmd *cobra.Command, verb string, results []fleet.Result) error {
	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintln(out, "No configured worktrees found. Create .takopi-smithers/worktrees/<branch>/config.toml first.")
		return nil
	}
	ok := 0
	for _, r := range results {
		switch {
		case r.Skipped:
			fmt.Fprintf(out, "⏭️  %s: %s\n", r.Branch, r.Message)
			ok++
		case r.OK:
			if r.PID > 0 {
				fmt.Fprintf(out, "✅ %s: %s (PID %d)\n", r.Branch, verb, r.PID)
			} else {
				fmt.Fprintf(out, "✅ %s: %s\n", r.Branch, verb)
			}
			ok++
		default:
			fmt.Fprintf(out, "❌ %s: %s\n", r.Branch, r.Message)
		}
	}
	fmt.Fprintf(out, "\n%d/%d worktree(s) %s\n", ok, len(results), verb)
	return fleet.Failed(results)
}
