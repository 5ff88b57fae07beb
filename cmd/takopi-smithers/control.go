package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaakkos/takopi-smithers/internal/app"
	"github.com/jaakkos/takopi-smithers/internal/domain"
	"github.com/jaakkos/takopi-smithers/internal/fleet"
	"github.com/jaakkos/takopi-smithers/internal/notify"
	"github.com/jaakkos/takopi-smithers/internal/repository"
)

// stopTimeout covers the child's SIGTERM grace plus supervisor teardown.
const stopTimeout = 30 * time.Second

var stopKeepTakopi bool

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the supervisor and its workflow",
	RunE:  runStop,
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the workflow now",
	Long: `Ask the running supervisor to restart its workflow. Crash and autoheal
counters are reset and any pending backoff wait is cancelled.`,
	RunE: runRestart,
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause automatic recovery for a workflow",
	Long: `Pause a workflow. The running child is left alone, but it is not
relaunched when it exits and is not killed when its heartbeat goes stale.`,
	RunE: runPause,
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused workflow",
	RunE:  runResume,
}

func init() {
	stopCmd.Flags().BoolVar(&stopKeepTakopi, "keep-takopi", false, "leave the takopi companion bridge running")
	rootCmd.AddCommand(stopCmd, restartCmd, pauseCmd, resumeCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	f, err := newFleet(nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if allWorktreesFlag {
		results, err := f.Apply(cmd.Context(), fleet.ActionStop, fleet.ActionOptions{KeepCompanion: stopKeepTakopi})
		if err != nil {
			return err
		}
		return printResults(cmd, "stopped", results)
	}

	t, err := resolveTarget(f)
	if err != nil {
		return err
	}
	c := app.NewController(t.Config.Paths.PIDFile, nil)
	pid, err := c.Stop(stopKeepTakopi)
	if errors.Is(err, domain.ErrNotRunning) {
		fmt.Fprintf(out, "⚠️  No running supervisor found%s\n", worktreeSuffix(t))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stop supervisor: %w", err)
	}
	fmt.Fprintf(out, "🛑 Stopping supervisor (PID %d)...\n", pid)

	ctx, cancel := context.WithTimeout(cmd.Context(), stopTimeout)
	defer cancel()
	if err := c.WaitStopped(ctx, pid); err != nil {
		return err
	}
	fmt.Fprintln(out, "✅ Supervisor stopped")
	if stopKeepTakopi {
		fmt.Fprintln(out, "   Takopi bridge left running")
	}
	return nil
}

func runRestart(cmd *cobra.Command, args []string) error {
	f, err := newFleet(nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if allWorktreesFlag {
		results, err := f.Apply(cmd.Context(), fleet.ActionRestart, fleet.ActionOptions{})
		if err != nil {
			return err
		}
		return printResults(cmd, "restarted", results)
	}

	t, err := resolveTarget(f)
	if err != nil {
		return err
	}
	pid, err := app.NewController(t.Config.Paths.PIDFile, nil).Restart()
	if errors.Is(err, domain.ErrNotRunning) {
		fmt.Fprintf(out, "⚠️  No running supervisor found%s\n", worktreeSuffix(t))
		fmt.Fprintf(out, "Start the supervisor first: takopi-smithers start%s\n", worktreeArg(t))
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to restart: %w", err)
	}
	fmt.Fprintf(out, "🔄 Restart signal sent to supervisor (PID %d)\n", pid)
	return nil
}

func runPause(cmd *cobra.Command, args []string) error {
	f, err := newFleet(nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if allWorktreesFlag {
		results, err := f.Apply(cmd.Context(), fleet.ActionPause, fleet.ActionOptions{})
		if err != nil {
			return err
		}
		return printResults(cmd, "paused", results)
	}

	t, err := resolveTarget(f)
	if err != nil {
		return err
	}
	store, err := repository.NewStateStore(t.Config.Paths.DB)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	_, err = app.NewController(t.Config.Paths.PIDFile, store).Pause(cmd.Context())
	if errors.Is(err, domain.ErrNotRunning) {
		fmt.Fprintf(out, "⚠️  No running supervisor found%s\n", worktreeSuffix(t))
		fmt.Fprintf(out, "Start the supervisor first: takopi-smithers start%s\n", worktreeArg(t))
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to pause workflow: %w", err)
	}
	fmt.Fprintln(out, "⏸️  Workflow paused successfully")
	fmt.Fprintf(out, "   Resume with: takopi-smithers resume%s\n", worktreeArg(t))
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	f, err := newFleet(nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if allWorktreesFlag {
		results, err := f.Apply(cmd.Context(), fleet.ActionResume, fleet.ActionOptions{})
		if err != nil {
			return err
		}
		return printResults(cmd, "resumed", results)
	}

	t, err := resolveTarget(f)
	if err != nil {
		return err
	}
	store, err := repository.NewStateStore(t.Config.Paths.DB)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	var pausedAt *time.Time
	if ps, err := store.Pause(cmd.Context()); err == nil {
		pausedAt = ps.PausedAt
	}

	_, err = app.NewController(t.Config.Paths.PIDFile, store).Resume(cmd.Context())
	switch {
	case errors.Is(err, domain.ErrNotRunning):
		fmt.Fprintf(out, "⚠️  No running supervisor found%s\n", worktreeSuffix(t))
		fmt.Fprintf(out, "Start the supervisor first: takopi-smithers start%s\n", worktreeArg(t))
		return err
	case errors.Is(err, domain.ErrNotPaused):
		fmt.Fprintf(out, "⚠️  Workflow is not paused%s\n", worktreeSuffix(t))
		fmt.Fprintln(out, "Use 'takopi-smithers status' to check current state")
		return nil
	case err != nil:
		return fmt.Errorf("failed to resume workflow: %w", err)
	}
	fmt.Fprintln(out, "✅ Workflow resumed successfully")
	if pausedAt != nil {
		fmt.Fprintf(out, "   Paused for: %s\n", notify.PauseDuration(time.Since(*pausedAt)))
	}
	return nil
}
