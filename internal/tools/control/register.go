// Package control exposes the fleet's status and control commands as MCP
// tools, so an agent can inspect and steer the supervised workflows.
package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jaakkos/takopi-smithers/internal/app"
	"github.com/jaakkos/takopi-smithers/internal/fleet"
)

// Fleet is the part of fleet.Fleet the tools use.
type Fleet interface {
	Status(ctx context.Context) ([]app.StatusReport, error)
	StatusOf(ctx context.Context, t fleet.Target) app.StatusReport
	Resolve(branch string) (fleet.Target, error)
	Do(ctx context.Context, t fleet.Target, action fleet.Action, opts fleet.ActionOptions) fleet.Result
}

// Register adds fleet_status, restart_workflow, pause_workflow and
// resume_workflow to s.
func Register(s *server.MCPServer, f Fleet, logger *zap.SugaredLogger) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	registerFleetStatus(s, f, logger)
	registerAction(s, f, logger, "restart_workflow", fleet.ActionRestart,
		"Restart a worktree's workflow now. Resets crash and autoheal counters and cancels any pending backoff. Works while paused.")
	registerAction(s, f, logger, "pause_workflow", fleet.ActionPause,
		"Pause a worktree's workflow. The running child is left alone but is not relaunched after it exits and is not killed as hung.")
	registerAction(s, f, logger, "resume_workflow", fleet.ActionResume,
		"Resume a paused workflow. The child is relaunched exactly once with the restart counter reset.")
}

func registerFleetStatus(s *server.MCPServer, f Fleet, logger *zap.SugaredLogger) {
	s.AddTool(
		mcp.NewTool("fleet_status",
			mcp.WithDescription(
				"Show supervisor and workflow status for every configured worktree, or one worktree when branch is set. "+
					"Includes heartbeat freshness, restart and autoheal counters, pause state and a suggested next action."),
			mcp.WithString("branch", mcp.Description("Worktree branch (optional; default all configured worktrees)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			branch := optionalString(req.GetArguments(), "branch")
			var reports []app.StatusReport
			if branch != "" {
				t, err := f.Resolve(branch)
				if err != nil {
					return nil, err
				}
				reports = []app.StatusReport{f.StatusOf(ctx, t)}
			} else {
				var err error
				reports, err = f.Status(ctx)
				if err != nil {
					return nil, err
				}
			}
			if reports == nil {
				reports = []app.StatusReport{}
			}
			logger.Debugf("MCP: fleet_status returned %d worktree(s)", len(reports))
			return jsonResult(reports)
		},
	)
}

func registerAction(s *server.MCPServer, f Fleet, logger *zap.SugaredLogger, name string, action fleet.Action, desc string) {
	s.AddTool(
		mcp.NewTool(name,
			mcp.WithDescription(desc),
			mcp.WithString("branch", mcp.Description("Worktree branch (optional; default the main worktree)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			branch := optionalString(req.GetArguments(), "branch")
			t, err := f.Resolve(branch)
			if err != nil {
				return nil, err
			}
			res := f.Do(ctx, t, action, fleet.ActionOptions{})
			logger.Infof("MCP: %s %s ok=%v %s", action, res.Branch, res.OK, res.Message)
			if !res.OK {
				return mcp.NewToolResultError(fmt.Sprintf("%s %s failed: %s", action, res.Branch, res.Message)), nil
			}
			return jsonResult(res)
		},
	)
}

func optionalString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}
