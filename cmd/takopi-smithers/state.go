package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaakkos/takopi-smithers/internal/domain"
	"github.com/jaakkos/takopi-smithers/internal/logging"
	"github.com/jaakkos/takopi-smithers/internal/repository/sqlite"
	"github.com/jaakkos/takopi-smithers/internal/workflowstate"
)

var (
	stateStatus  string
	stateSummary string
	stateEvery   time.Duration
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Write workflow state from a workflow program",
	Long: `Helpers for workflow programs that cannot open the state database
themselves. They write the keys the supervisor reads: status, summary,
last_error and the heartbeat.`,
}

var stateSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the workflow status and summary",
	RunE:  runStateSet,
}

var stateErrorCmd = &cobra.Command{
	Use:   "error <message>",
	Short: "Mark the workflow failed with a message",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStateError,
}

var stateHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Write a heartbeat now, or repeatedly with --every",
	RunE:  runStateHeartbeat,
}

func init() {
	stateSetCmd.Flags().StringVar(&stateStatus, "status", string(domain.StatusRunning), "running, idle, error or done")
	stateSetCmd.Flags().StringVar(&stateSummary, "summary", "", "one-line progress summary")
	stateHeartbeatCmd.Flags().DurationVar(&stateEvery, "every", 0, "keep writing a heartbeat at this interval until interrupted")
	stateCmd.AddCommand(stateSetCmd, stateErrorCmd, stateHeartbeatCmd)
	rootCmd.AddCommand(stateCmd)
}

// stateWriter opens the target worktree's database for writing.
func stateWriter(opts ...workflowstate.Option) (*workflowstate.Writer, func(), error) {
	f, err := newFleet(nil)
	if err != nil {
		return nil, nil, err
	}
	t, err := resolveTarget(f)
	if err != nil {
		return nil, nil, err
	}
	store, err := sqlite.New(t.Config.Paths.DB)
	if err != nil {
		return nil, nil, err
	}
	opts = append([]workflowstate.Option{workflowstate.WithHeartbeatKey(t.Config.Health.HeartbeatKey)}, opts...)
	return workflowstate.New(store, opts...), func() { store.Close() }, nil
}

func parseStatus(s string) (domain.WorkflowStatus, error) {
	switch st := domain.WorkflowStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case domain.StatusRunning, domain.StatusIdle, domain.StatusError, domain.StatusDone:
		return st, nil
	}
	return "", fmt.Errorf("invalid status %q (want running, idle, error or done)", s)
}

func runStateSet(cmd *cobra.Command, args []string) error {
	status, err := parseStatus(stateStatus)
	if err != nil {
		return err
	}
	w, closeFn, err := stateWriter()
	if err != nil {
		return err
	}
	defer closeFn()
	return w.SetStatus(cmd.Context(), status, stateSummary)
}

func runStateError(cmd *cobra.Command, args []string) error {
	w, closeFn, err := stateWriter()
	if err != nil {
		return err
	}
	defer closeFn()
	return w.SetError(cmd.Context(), strings.Join(args, " "))
}

func runStateHeartbeat(cmd *cobra.Command, args []string) error {
	if stateEvery <= 0 {
		w, closeFn, err := stateWriter()
		if err != nil {
			return err
		}
		defer closeFn()
		return w.Heartbeat(cmd.Context())
	}

	w, closeFn, err := stateWriter(
		workflowstate.WithInterval(stateEvery),
		workflowstate.WithLogger(logging.Nop()),
	)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	w.Start(ctx)
	return nil
}
