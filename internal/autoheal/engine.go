// Package autoheal repairs a crashed workflow program by handing it to an
// external coding agent. Each supported agent CLI is one Engine with its
// own Adapter; Registry maps engines to adapter constructors.
package autoheal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/takopi-smithers/internal/domain"
)

// ErrUnknownEngine is returned for an engine name with no adapter.
var ErrUnknownEngine = errors.New("unknown autoheal engine")

// Engine names a repair-agent CLI.
type Engine string

const (
	EngineClaude   Engine = "claude"
	EngineCodex    Engine = "codex"
	EngineOpenCode Engine = "opencode"
	EnginePi       Engine = "pi"
)

// Engines lists every supported engine.
func Engines() []Engine {
	return []Engine{EngineClaude, EngineCodex, EngineOpenCode, EnginePi}
}

// ParseEngine validates an engine name.
func ParseEngine(s string) (Engine, error) {
	e := Engine(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := Registry[e]; !ok {
		return "", fmt.Errorf("%w: %q (want one of claude, codex, opencode, pi)", ErrUnknownEngine, s)
	}
	return e, nil
}

// Context is what the agent is told about the crash.
type Context struct {
	ExitCode        *int
	Signal          string
	RestartAttempts int
	ProgramPath     string
	ProgramText     string
	// ProgramReadErr is set when the program could not be read before the repair.
	ProgramReadErr error
	DBPath         string
	State          domain.WorkflowState
	RecentLogs     string
}

// Result is the outcome of one repair attempt.
type Result struct {
	Success        bool
	PatchedProgram string
	Err            error
	AgentOutput    string
}

// Adapter invokes one repair agent.
type Adapter interface {
	Engine() Engine
	Invoke(ctx context.Context, prompt, programPath string, hc Context) Result
}

// Options configure an adapter.
type Options struct {
	// StateDir receives the prompt debug file (normally <root>/.takopi-smithers).
	StateDir string
	// WorkDir is the agent's working directory.
	WorkDir string
	// Binary overrides the engine's executable.
	Binary string
	// Timeout bounds the agent run. 0 means no timeout.
	Timeout time.Duration
	Logger  *zap.SugaredLogger
}

// Registry maps each engine to its adapter constructor.
var Registry = map[Engine]func(Options) Adapter{
	EngineClaude:   newClaude,
	EngineCodex:    newCodex,
	EngineOpenCode: newOpenCode,
	EnginePi:       newPi,
}

// New returns the adapter for engine.
func New(engine Engine, opts Options) (Adapter, error) {
	ctor, ok := Registry[engine]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engine)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return ctor(opts), nil
}
