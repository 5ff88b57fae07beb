package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jaakkos/takopi-smithers/internal/dashboard"
	"github.com/jaakkos/takopi-smithers/internal/fleet"
	"github.com/jaakkos/takopi-smithers/internal/logging"
	"github.com/jaakkos/takopi-smithers/internal/tools/control"
)

const mcpInstructions = `takopi-smithers supervises one Smithers workflow per git worktree.
Use fleet_status to see every worktree's workflow status, heartbeat and
recovery counters. restart_workflow, pause_workflow and resume_workflow act
on one worktree (branch), defaulting to the main worktree.`

var (
	serveAddr     string
	serveLogLevel string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web dashboard, JSON API, MCP endpoint and metrics",
	RunE:  runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run an MCP server on stdio exposing fleet status and control tools",
	RunE:  runMCP,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "takopi-smithers "+Version)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8943", "listen address")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "debug, info, warn or error")
	mcpCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.AddCommand(serveCmd, mcpCmd, versionCmd)
}

func newMCPServer(f *fleet.Fleet, logger *zap.SugaredLogger) *server.MCPServer {
	s := server.NewMCPServer(
		"takopi-smithers",
		Version,
		server.WithInstructions(mcpInstructions),
		server.WithToolCapabilities(false),
	)
	control.Register(s, f, logger)
	return s
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := logging.New(logging.Options{Level: serveLogLevel})
	if err != nil {
		return err
	}
	defer closeLog()

	f, err := newFleet(logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		dashboard.NewFleetCollector(f),
	)

	mux := http.NewServeMux()
	dashboard.NewHandler(f,
		dashboard.WithLogger(logger),
		dashboard.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
	).RegisterRoutes(mux)
	mux.Handle("/mcp", server.NewStreamableHTTPServer(newMCPServer(f, logger)))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/dashboard", http.StatusFound)
	})

	ln, err := net.Listen("tcp", serveAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", serveAddr, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Infof("Dashboard: http://%s/dashboard", ln.Addr())
	fmt.Fprintf(cmd.OutOrStdout(), "🌐 Dashboard at http://%s/dashboard\n", ln.Addr())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Dashboard: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Dashboard: shutdown error: %v", err)
	}
	return nil
}

func runMCP(cmd *cobra.Command, args []string) error {
	// stdout carries the protocol; logs go to stderr only.
	console := true
	logger, closeLog, err := logging.New(logging.Options{Level: serveLogLevel, Console: &console})
	if err != nil {
		return err
	}
	defer closeLog()

	f, err := newFleet(logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("MCP: stdio ready")
	if err := server.NewStdioServer(newMCPServer(f, logger)).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stdio server: %w", err)
	}
	return nil
}
