package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/jaakkos/takopi-smithers/internal/logging"
)

var (
	logsLines  int
	logsFollow bool
	logsLevel  string
	logsSince  string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the supervisor log for a worktree",
	Long: `Print the last lines of the current worktree's supervisor log (or
--worktree's). --follow keeps printing lines as they are written.`,
	RunE: runLogs,
}

var (
	logErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	logWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

func init() {
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "number of lines to show")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep printing new lines until interrupted")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "only show lines at this level: debug, info, warn or error")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "only show lines newer than this, e.g. 30s, 10m, 2h, 1d")
	rootCmd.AddCommand(logsCmd)
}

var sinceRe = regexp.MustCompile(`^(\d+)([smhd])$`)

// parseSince accepts 5s, 10m, 2h and 1d, plus any Go duration.
func parseSince(s string) (time.Duration, error) {
	if m := sinceRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		unit := map[string]time.Duration{"s": time.Second, "m": time.Minute, "h": time.Hour, "d": 24 * time.Hour}[m[2]]
		return time.Duration(n) * unit, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid --since %q: use a form like 5s, 10m, 2h or 1d", s)
	}
	return d, nil
}

func logFilter(level, since string, now time.Time) (logging.Filter, error) {
	var f logging.Filter
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return f, fmt.Errorf("invalid --level %q (want debug, info, warn or error)", level)
		}
		f.Level = &lvl
	}
	if since != "" {
		d, err := parseSince(since)
		if err != nil {
			return f, err
		}
		f.Since = now.Add(-d)
	}
	return f, nil
}

func colorizeLog(e logging.Entry) string {
	switch {
	case !e.HasLevel:
		return e.Raw
	case e.Level >= zapcore.ErrorLevel:
		return logErrorStyle.Render(e.Raw)
	case e.Level == zapcore.WarnLevel:
		return logWarnStyle.Render(e.Raw)
	}
	return e.Raw
}

// printLogTail writes the last n matching lines of the log at path and
// returns the offset following starts from.
func printLogTail(w io.Writer, path string, f logging.Filter, n int) (int64, error) {
	fh, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer fh.Close()
	entries, err := logging.ReadEntries(fh, f)
	if err != nil {
		return 0, err
	}
	offset, err := fh.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	for _, e := range entries {
		fmt.Fprintln(w, colorizeLog(e))
	}
	return offset, nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	filter, err := logFilter(logsLevel, logsSince, time.Now())
	if err != nil {
		return err
	}
	f, err := newFleet(nil)
	if err != nil {
		return err
	}
	t, err := resolveTarget(f)
	if err != nil {
		return err
	}
	path := logging.Path(t.Config.Paths.LogDir)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Hint: Have you run \"takopi-smithers start%s\" yet?\n", worktreeArg(t))
		return fmt.Errorf("log file not found at %s", path)
	}

	out := cmd.OutOrStdout()
	offset, err := printLogTail(out, path, filter, logsLines)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if !logsFollow {
		return nil
	}

	fmt.Fprint(out, "\n--- Following logs (Ctrl+C to stop) ---\n\n")
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return logging.Follow(ctx, path, offset, func(line string) {
		if e := logging.ParseEntry(line); line != "" && filter.Match(e) {
			fmt.Fprintln(out, colorizeLog(e))
		}
	})
}
