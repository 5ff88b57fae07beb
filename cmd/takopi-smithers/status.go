package main

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jaakkos/takopi-smithers/internal/app"
	"github.com/jaakkos/takopi-smithers/internal/fleet"
)

var (
	statusJSON   bool
	statusOutput string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workflow and supervisor status",
	Long: `Show the workflow state (status, summary, heartbeat), supervisor health
and recovery counters for a worktree, or for every configured worktree with
--all-worktrees.`,
	RunE: runStatus,
}

var worktreesCmd = &cobra.Command{
	Use:   "worktrees",
	Short: "List git worktrees and their supervisors",
	RunE:  runWorktrees,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON (same as --output json)")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", app.FormatText, "output format: text, json or yaml")
	worktreesCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON (same as --output json)")
	worktreesCmd.Flags().StringVarP(&statusOutput, "output", "o", app.FormatText, "output format: text, json or yaml")
	rootCmd.AddCommand(statusCmd, worktreesCmd)
}

func outputFormat() string {
	if statusJSON {
		return app.FormatJSON
	}
	return statusOutput
}

func runStatus(cmd *cobra.Command, args []string) error {
	f, err := newFleet(nil)
	if err != nil {
		return err
	}
	var reports []app.StatusReport
	if allWorktreesFlag {
		reports, err = f.Status(cmd.Context())
		if err != nil {
			return err
		}
		if len(reports) == 0 && outputFormat() == app.FormatText {
			fmt.Fprintln(cmd.OutOrStdout(), "No configured worktrees found.")
			return nil
		}
	} else {
		t, err := resolveTarget(f)
		if err != nil {
			return err
		}
		reports = []app.StatusReport{f.StatusOf(cmd.Context(), t)}
	}
	if err := app.RenderStatus(cmd.OutOrStdout(), outputFormat(), reports); err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	return nil
}

func runWorktrees(cmd *cobra.Command, args []string) error {
	f, err := newFleet(nil)
	if err != nil {
		return err
	}
	if !f.Manager().IsRepo() {
		return fmt.Errorf("not a git repository")
	}
	entries, err := f.List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch outputFormat() {
	case app.FormatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case app.FormatYAML:
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(entries)
	case app.FormatText, "":
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", outputFormat())
	}

	fmt.Fprintln(out, worktreeTable(entries))
	return nil
}

var tableHeader = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var tableCell = lipgloss.NewStyle().Padding(0, 1)

// worktreeTable renders entries in the same rounded border as status.
func worktreeTable(entries []fleet.Entry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		branch := e.Branch
		if e.Main {
			branch += " (main)"
		}
		configured := "no"
		if e.Configured {
			configured = "yes"
		}
		supervisor := "-"
		if e.Running {
			supervisor = fmt.Sprintf("running (PID %d)", e.PID)
		} else if e.Configured {
			supervisor = "stopped"
		}
		rows = append(rows, []string{branch, configured, supervisor, e.Path})
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))).
		Headers("BRANCH", "CONFIGURED", "SUPERVISOR", "PATH").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeader
			}
			return tableCell
		}).
		Render()
}
