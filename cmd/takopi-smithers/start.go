package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jaakkos/takopi-smithers/internal/app"
	"github.com/jaakkos/takopi-smithers/internal/autoheal"
	"github.com/jaakkos/takopi-smithers/internal/config"
	"github.com/jaakkos/takopi-smithers/internal/domain"
	"github.com/jaakkos/takopi-smithers/internal/fleet"
	"github.com/jaakkos/takopi-smithers/internal/logging"
	"github.com/jaakkos/takopi-smithers/internal/notify"
	"github.com/jaakkos/takopi-smithers/internal/pidfile"
	"github.com/jaakkos/takopi-smithers/internal/repository"
	"github.com/jaakkos/takopi-smithers/internal/worktree"
)

var (
	startDetach      bool
	startDryRun      bool
	startMetricsAddr string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the supervisor for a worktree",
	Long: `Start the supervisor for the current worktree (or --worktree, or every
configured worktree with --all-worktrees). The supervisor runs in the
foreground unless --detach is given.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&startDetach, "detach", "d", false, "run the supervisor in the background")
	startCmd.Flags().BoolVar(&startDryRun, "dry-run", false, "skip the companion bridge and log notifications instead of sending them")
	startCmd.Flags().StringVar(&startMetricsAddr, "metrics-addr", "", "serve Prometheus metrics for this supervisor on addr (e.g. 127.0.0.1:9464)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	f, err := newFleet(nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if allWorktreesFlag {
		results, err := f.Apply(cmd.Context(), fleet.ActionStart, fleet.ActionOptions{DryRun: startDryRun})
		if err != nil {
			return err
		}
		return printResults(cmd, "started", results)
	}

	t, err := resolveTarget(f)
	if err != nil {
		return err
	}
	if !t.Worktree.IsMain {
		fmt.Fprintf(out, "📍 Detected worktree: %s\n", t.Branch())
	}
	if pid, ok := pidfile.Read(t.Config.Paths.PIDFile); ok {
		fmt.Fprintf(out, "⚠️  Supervisor already running%s (PID %d)\n", worktreeSuffix(t), pid)
		return nil
	}

	if startDetach {
		pid, err := startDetached(t)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "✅ Supervisor started%s (PID %d)\n", worktreeSuffix(t), pid)
		fmt.Fprintf(out, "   Logs: %s\n", t.Config.Paths.LogDir)
		return nil
	}
	return runSupervisor(cmd.Context(), t)
}

// runSupervisor runs one worktree's supervisor in this process until a
// stop signal arrives.
func runSupervisor(ctx context.Context, t fleet.Target) error {
	cfg := t.Config

	lock, err := pidfile.Acquire(cfg.Paths.PIDFile)
	if err != nil {
		return err
	}
	defer lock.Release()

	logger, closeLog, err := logging.New(logging.Options{Level: cfg.Log.Level, LogDir: cfg.Paths.LogDir})
	if err != nil {
		return err
	}
	defer closeLog()
	logger.Infof("Starting takopi-smithers %s supervisor (branch=%s, dry-run=%v)", Version, t.Branch(), startDryRun)
	logger.Infof("Config: %s", cfg.Paths.ConfigPath)

	store, err := repository.NewStateStore(cfg.Paths.DB)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	argv, err := cfg.ChildArgv()
	if err != nil {
		return err
	}
	launcher := &app.ExecLauncher{
		Name:       "workflow",
		Argv:       argv,
		Dir:        cfg.Paths.Root,
		Env:        cfg.Workflow.Env,
		InheritEnv: cfg.Workflow.InheritEnv,
		LogPath:    filepath.Join(cfg.Paths.LogDir, "workflow.log"),
		Logger:     logger,
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []app.Option{
		app.WithLauncher(launcher),
		app.WithSink(buildSink(cfg, logger)),
		app.WithLogger(logger),
		app.WithMetrics(app.NewMetrics(reg)),
	}
	if cfg.Companion.Enabled && !startDryRun {
		opts = append(opts, app.WithCompanion(&app.ExecLauncher{
			Name:    "companion",
			Argv:    []string{cfg.CompanionCommand()},
			Dir:     cfg.Paths.Root,
			LogPath: filepath.Join(cfg.Paths.LogDir, "takopi.log"),
			Logger:  logger,
		}))
	}
	if cfg.AutoHeal.Enabled {
		healer, err := autoheal.New(cfg.Engine(), autoheal.Options{
			StateDir: filepath.Join(cfg.Paths.Root, worktree.StateDir),
			WorkDir:  cfg.Paths.Root,
			Binary:   cfg.AutoHeal.Command,
			Timeout:  cfg.AutoHealTimeout(),
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		opts = append(opts, app.WithHealer(healer))
	}

	supOpts := app.Options{
		Where:          app.DetectWhere(cfg.Paths.Root, t.Branch()),
		ProgramPath:    cfg.Paths.Script,
		DBPath:         cfg.Paths.DB,
		LogPath:        logging.Path(cfg.Paths.LogDir),
		PIDFile:        cfg.Paths.PIDFile,
		HeartbeatKey:   cfg.Health.HeartbeatKey,
		HangThreshold:  cfg.HangThreshold(),
		CheckInterval:  cfg.HealthCheckInterval(),
		StartupGrace:   cfg.StartupGrace(),
		ReloadDebounce: cfg.ReloadDebounce(),
		Policy: app.RecoveryPolicy{
			AutoHeal:            cfg.AutoHeal.Enabled,
			MaxAutoHealAttempts: cfg.AutoHeal.MaxAttempts,
			MaxRestartAttempts:  cfg.Health.MaxRestartAttempts,
			Backoff:             cfg.BackoffSchedule(),
		},
	}
	if cfg.Updates.Enabled {
		supOpts.UpdatesInterval = cfg.UpdatesInterval()
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGHUP)
	defer stop()

	sup := app.NewSupervisor(supOpts, store, opts...)
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}

	if startMetricsAddr != "" {
		srv := &http.Server{Addr: startMetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			logger.Infof("Supervisor: metrics at http://%s/metrics", startMetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warnf("Supervisor: metrics server: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	return sup.Run(ctx)
}

// buildSink posts to Telegram when credentials resolve, and logs otherwise.
// Dry runs always log.
func buildSink(cfg *config.Config, logger *zap.SugaredLogger) notify.Sink {
	creds, ok := cfg.TelegramCredentials(config.CompanionConfigPath())
	if !ok {
		logger.Warn("Supervisor: no Telegram credentials; notifications go to the log")
		return notify.LogSink{Logger: logger}
	}
	if startDryRun {
		return notify.LogSink{Logger: logger, ChatID: creds.ChatID}
	}
	return notify.NewTelegram(creds.BotToken, creds.ChatID,
		notify.WithMessageThread(creds.MessageThreadID),
		notify.WithTelegramLogger(logger),
	)
}

// startDetached re-executes `start` without --detach in a new session and
// waits for the child to write its PID file.
func startDetached(t fleet.Target) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolve executable: %w", err)
	}
	args := []string{"start"}
	switch {
	case configFlag != "":
		args = append(args, "--config", configFlag)
	case !t.Worktree.IsMain && t.Branch() != "":
		args = append(args, "--worktree", t.Branch())
	}
	if startDryRun {
		args = append(args, "--dry-run")
	}
	if startMetricsAddr != "" {
		args = append(args, "--metrics-addr", startMetricsAddr)
	}

	logDir := t.Config.Paths.LogDir
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return 0, fmt.Errorf("create log dir %s: %w", logDir, err)
	}
	// Early failures (bad config, lock held) land in the supervisor log.
	logFile, err := os.OpenFile(logging.Path(logDir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, args...)
	cmd.Env = os.Environ()
	cmd.Dir, _ = os.Getwd()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start supervisor: %w", err)
	}
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	return waitForPIDFile(t.Config.Paths.PIDFile, exited, 15*time.Second, logging.Path(logDir))
}

// waitForPIDFile polls until the detached supervisor has written its PID
// file, or has exited trying.
func waitForPIDFile(pidPath string, exited <-chan error, timeout time.Duration, logPath string) (int, error) {
	deadline := time.Now().Add(timeout)
	interval := 50 * time.Millisecond
	for time.Now().Before(deadline) {
		if pid, ok := pidfile.Read(pidPath); ok {
			return pid, nil
		}
		select {
		case err := <-exited:
			return 0, fmt.Errorf("%w: supervisor exited during startup (%v); see %s", domain.ErrNotRunning, err, logPath)
		default:
		}
		time.Sleep(interval)
		if interval < 500*time.Millisecond {
			interval *= 2
		}
	}
	return 0, fmt.Errorf("supervisor did not write %s within %s; see %s", pidPath, timeout, logPath)
}
