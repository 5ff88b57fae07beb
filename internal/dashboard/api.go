// Package dashboard provides a web dashboard and JSON API for monitoring
// and controlling the supervised worktrees.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/takopi-smithers/internal/app"
	"github.com/jaakkos/takopi-smithers/internal/fleet"
	"github.com/jaakkos/takopi-smithers/internal/worktree"
)

// Fleet is the part of fleet.Fleet the dashboard uses.
type Fleet interface {
	Status(ctx context.Context) ([]app.StatusReport, error)
	Resolve(branch string) (fleet.Target, error)
	Do(ctx context.Context, t fleet.Target, action fleet.Action, opts fleet.ActionOptions) fleet.Result
}

// StatusSnapshot is the JSON response from /api/status.
type StatusSnapshot struct {
	Timestamp string             `json:"timestamp"`
	Worktrees []app.StatusReport `json:"worktrees"`
	Summary   FleetSummary       `json:"summary"`
}

// FleetSummary counts worktrees by state.
type FleetSummary struct {
	Total   int `json:"total"`
	Running int `json:"running"`
	Paused  int `json:"paused"`
	Stale   int `json:"stale"`
}

// Handler holds dependencies for dashboard HTTP handlers.
type Handler struct {
	fleet   Fleet
	logger  *zap.SugaredLogger
	metrics http.Handler
	now     func() time.Time
}

// HandlerOption configures optional dependencies for the dashboard handler.
type HandlerOption func(*Handler)

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) HandlerOption {
	return func(d *Handler) { d.metrics = h }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) HandlerOption {
	return func(d *Handler) { d.logger = l }
}

// NewHandler creates a dashboard handler.
func NewHandler(f Fleet, opts ...HandlerOption) *Handler {
	h := &Handler{fleet: f, logger: zap.NewNop().Sugar(), now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes adds dashboard routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/api/status", h.handleAPIStatus)
	mux.HandleFunc("/api/worktrees/", h.handleAPIAction)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics)
	}
	mux.HandleFunc("/dashboard", h.handleDashboard)
	mux.HandleFunc("/dashboard/", h.handleDashboard)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache")

	reports, err := h.fleet.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reports == nil {
		reports = []app.StatusReport{}
	}
	snap := StatusSnapshot{
		Timestamp: h.now().Format(time.RFC3339),
		Worktrees: reports,
		Summary:   summarize(reports),
	}
	writeJSON(w, snap)
}

// handleAPIAction serves POST /api/worktrees/{branch}/{action}. Branch
// names may contain slashes; the action is the last path segment.
func (h *Handler) handleAPIAction(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/worktrees/"), "/")
	i := strings.LastIndex(rest, "/")
	if i <= 0 {
		writeError(w, http.StatusNotFound, "expected /api/worktrees/{branch}/{action}")
		return
	}
	branch, name := rest[:i], rest[i+1:]
	action, err := fleet.ParseAction(name)
	if err != nil || action == fleet.ActionStart || action == fleet.ActionStop {
		writeError(w, http.StatusBadRequest, "action must be restart, pause or resume")
		return
	}

	t, err := h.fleet.Resolve(branch)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, worktree.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}

	res := h.fleet.Do(r.Context(), t, action, fleet.ActionOptions{})
	h.logger.Infof("Dashboard: %s %s ok=%v %s", action, res.Branch, res.OK, res.Message)
	if !res.OK {
		w.WriteHeader(http.StatusConflict)
	}
	writeJSON(w, res)
}

func summarize(reports []app.StatusReport) FleetSummary {
	s := FleetSummary{Total: len(reports)}
	for _, r := range reports {
		if r.SupervisorRunning {
			s.Running++
			if !r.HeartbeatOK && !r.Paused {
				s.Stale++
			}
		}
		if r.Paused {
			s.Paused++
		}
	}
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": msg})
}
