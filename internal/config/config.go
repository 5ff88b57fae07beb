// Package config loads the per-worktree supervisor configuration
// (.takopi-smithers/config.toml) and resolves it against the project root.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/jaakkos/takopi-smithers/internal/autoheal"
	"github.com/jaakkos/takopi-smithers/internal/domain"
	"github.com/jaakkos/takopi-smithers/internal/worktree"
)

// DefaultChildCommand runs the workflow program. The script path and
// optional --input flag are appended.
var DefaultChildCommand = []string{"bunx", "smithers", "run"}

// WorkflowConfig locates the workflow program and its state database.
type WorkflowConfig struct {
	Script string         `toml:"script"`
	DB     string         `toml:"db"`
	Input  map[string]any `toml:"input"`
	// Command replaces DefaultChildCommand (e.g. ["node", "run.js"]).
	Command []string `toml:"command"`
	// Env is added to the child's environment (${VAR} expands from the supervisor's).
	Env map[string]string `toml:"env"`
	// InheritEnv restricts inherited variables to these glob patterns; ["none"] inherits nothing.
	InheritEnv []string `toml:"inherit_env"`
	// ReloadDebounceMS is the quiet period after the last script edit before a restart.
	ReloadDebounceMS int `toml:"reload_debounce_ms"`
}

// UpdatesConfig controls the periodic status broadcast.
type UpdatesConfig struct {
	Enabled         bool `toml:"enabled"`
	IntervalSeconds int  `toml:"interval_seconds"`
}

// HealthConfig controls hang detection and crash recovery.
type HealthConfig struct {
	HeartbeatKey                  string `toml:"heartbeat_key"`
	HeartbeatWriteIntervalSeconds int    `toml:"heartbeat_write_interval_seconds"`
	HangThresholdSeconds          int    `toml:"hang_threshold_seconds"`
	RestartBackoffSeconds         []int  `toml:"restart_backoff_seconds"`
	MaxRestartAttempts            int    `toml:"max_restart_attempts"`
	CheckIntervalSeconds          int    `toml:"check_interval_seconds"`
	// StartupGraceSeconds suppresses hang checks right after each launch. 0 disables.
	StartupGraceSeconds int `toml:"startup_grace_seconds"`
}

// TelegramConfig holds optional notification credentials.
type TelegramConfig struct {
	BotToken        string `toml:"bot_token"`
	ChatID          int64  `toml:"chat_id"`
	MessageThreadID int64  `toml:"message_thread_id"`
}

// AutoHealConfig selects and bounds the repair agent.
type AutoHealConfig struct {
	Enabled     bool   `toml:"enabled"`
	Engine      string `toml:"engine"`
	MaxAttempts int    `toml:"max_attempts"`
	// TimeoutSeconds bounds one repair-agent run. 0 means no timeout.
	TimeoutSeconds int `toml:"timeout_seconds"`
	// Command overrides the engine binary (default: the engine name on PATH).
	Command string `toml:"command"`
}

// WorktreeConfig names the worktree this config belongs to.
type WorktreeConfig struct {
	Name   string `toml:"name"`
	Branch string `toml:"branch"`
}

// CompanionConfig controls the takopi chat bridge started next to the child.
type CompanionConfig struct {
	Enabled bool `toml:"enabled"`
	// Command is the bridge binary. Empty means ./.venv/bin/takopi, then takopi on PATH.
	Command string `toml:"command"`
}

// LogConfig controls supervisor logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// Paths are the resolved absolute locations for one worktree.
type Paths struct {
	Root       string
	ConfigPath string
	Script     string
	DB         string
	LogDir     string
	PIDFile    string
}

// Config is the supervisor configuration for one worktree. It is not
// modified after Load returns.
type Config struct {
	Version   int             `toml:"version"`
	Workflow  WorkflowConfig  `toml:"workflow"`
	Updates   UpdatesConfig   `toml:"updates"`
	Health    HealthConfig    `toml:"health"`
	Telegram  TelegramConfig  `toml:"telegram"`
	AutoHeal  AutoHealConfig  `toml:"autoheal"`
	Worktree  *WorktreeConfig `toml:"worktree"`
	Companion CompanionConfig `toml:"companion"`
	Log       LogConfig       `toml:"log"`

	Paths Paths `toml:"-"`
}

// DefaultConfig returns the defaults every loaded file is layered on.
func DefaultConfig() *Config {
	return &Config{
		Version:  1,
		Workflow: WorkflowConfig{ReloadDebounceMS: 2000},
		Updates: UpdatesConfig{
			Enabled:         true,
			IntervalSeconds: 600,
		},
		Health: HealthConfig{
			HeartbeatKey:                  domain.KeyHeartbeat,
			HeartbeatWriteIntervalSeconds: 30,
			HangThresholdSeconds:          300,
			RestartBackoffSeconds:         []int{5, 30, 120, 600},
			MaxRestartAttempts:            10,
			CheckIntervalSeconds:          10,
		},
		AutoHeal: AutoHealConfig{
			Enabled:     true,
			Engine:      string(autoheal.EngineClaude),
			MaxAttempts: 3,
		},
		Companion: CompanionConfig{Enabled: true},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads the TOML file at path, layers it on DefaultConfig, resolves
// relative paths against root using layout for anything left unset, and
// validates the result.
func Load(path, root string, layout worktree.Layout) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Resolve(path, root, layout)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML on top of DefaultConfig without resolving paths.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Resolve fills in Paths. Relative script and db paths are relative to root.
func (c *Config) Resolve(configPath, root string, layout worktree.Layout) {
	abs := layout.Abs(root)
	join := func(p, fallback string) string {
		if p == "" {
			return fallback
		}
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}
	c.Paths = Paths{
		Root:       root,
		ConfigPath: configPath,
		Script:     join(c.Workflow.Script, abs.ScriptPath),
		DB:         join(c.Workflow.DB, abs.DBPath),
		LogDir:     abs.LogDir,
		PIDFile:    abs.PIDFile,
	}
}

// Validate checks value ranges. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	if c.Version < 1 {
		errs = append(errs, fmt.Errorf("version must be >= 1, got %d", c.Version))
	}
	if c.Paths.Script == "" {
		errs = append(errs, errors.New("workflow.script is required"))
	}
	if c.Paths.DB == "" {
		errs = append(errs, errors.New("workflow.db is required"))
	}
	if c.Health.HeartbeatKey == "" {
		errs = append(errs, errors.New("health.heartbeat_key must not be empty"))
	}
	if c.Health.HangThresholdSeconds <= 0 {
		errs = append(errs, fmt.Errorf("health.hang_threshold_seconds must be > 0, got %d", c.Health.HangThresholdSeconds))
	}
	if c.Health.CheckIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("health.check_interval_seconds must be > 0, got %d", c.Health.CheckIntervalSeconds))
	}
	if len(c.Health.RestartBackoffSeconds) == 0 {
		errs = append(errs, errors.New("health.restart_backoff_seconds must not be empty"))
	}
	for i, s := range c.Health.RestartBackoffSeconds {
		if s < 0 {
			errs = append(errs, fmt.Errorf("health.restart_backoff_seconds[%d] must be >= 0, got %d", i, s))
		}
	}
	if c.Health.MaxRestartAttempts < 0 {
		errs = append(errs, fmt.Errorf("health.max_restart_attempts must be >= 0, got %d", c.Health.MaxRestartAttempts))
	}
	if c.Workflow.ReloadDebounceMS <= 0 {
		errs = append(errs, fmt.Errorf("workflow.reload_debounce_ms must be > 0, got %d", c.Workflow.ReloadDebounceMS))
	}
	if c.Health.StartupGraceSeconds < 0 {
		errs = append(errs, fmt.Errorf("health.startup_grace_seconds must be >= 0, got %d", c.Health.StartupGraceSeconds))
	}
	if c.Updates.Enabled && c.Updates.IntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("updates.interval_seconds must be > 0, got %d", c.Updates.IntervalSeconds))
	}
	if _, err := autoheal.ParseEngine(c.AutoHeal.Engine); err != nil {
		errs = append(errs, fmt.Errorf("autoheal.engine: %w", err))
	}
	if c.AutoHeal.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("autoheal.max_attempts must be >= 0, got %d", c.AutoHeal.MaxAttempts))
	}
	if c.AutoHeal.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("autoheal.timeout_seconds must be >= 0, got %d", c.AutoHeal.TimeoutSeconds))
	}
	return errors.Join(errs...)
}

// Engine returns the validated autoheal engine.
func (c *Config) Engine() autoheal.Engine {
	e, _ := autoheal.ParseEngine(c.AutoHeal.Engine)
	return e
}

// HangThreshold returns health.hang_threshold_seconds as a duration.
func (c *Config) HangThreshold() time.Duration {
	return time.Duration(c.Health.HangThresholdSeconds) * time.Second
}

// HealthCheckInterval returns how often the heartbeat is polled.
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.Health.CheckIntervalSeconds) * time.Second
}

// StartupGrace returns the post-launch hang check grace period.
func (c *Config) StartupGrace() time.Duration {
	return time.Duration(c.Health.StartupGraceSeconds) * time.Second
}

// ReloadDebounce returns workflow.reload_debounce_ms as a duration.
func (c *Config) ReloadDebounce() time.Duration {
	return time.Duration(c.Workflow.ReloadDebounceMS) * time.Millisecond
}

// UpdatesInterval returns the status broadcast period.
func (c *Config) UpdatesInterval() time.Duration {
	return time.Duration(c.Updates.IntervalSeconds) * time.Second
}

// AutoHealTimeout returns the repair-agent timeout, 0 for none.
func (c *Config) AutoHealTimeout() time.Duration {
	return time.Duration(c.AutoHeal.TimeoutSeconds) * time.Second
}

// BackoffSchedule returns the restart delays in order.
func (c *Config) BackoffSchedule() []time.Duration {
	out := make([]time.Duration, len(c.Health.RestartBackoffSeconds))
	for i, s := range c.Health.RestartBackoffSeconds {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

// InputJSON encodes workflow.input for the child's --input flag. Empty
// when no input is configured.
func (c *Config) InputJSON() (string, error) {
	if len(c.Workflow.Input) == 0 {
		return "", nil
	}
	b, err := json.Marshal(c.Workflow.Input)
	if err != nil {
		return "", fmt.Errorf("encode workflow.input: %w", err)
	}
	return string(b), nil
}

// ChildArgv returns the full child command line.
func (c *Config) ChildArgv() ([]string, error) {
	base := DefaultChildCommand
	if len(c.Workflow.Command) > 0 {
		base = c.Workflow.Command
	}
	argv := append(append([]string(nil), base...), c.Paths.Script)
	input, err := c.InputJSON()
	if err != nil {
		return nil, err
	}
	if input != "" {
		argv = append(argv, "--input", input)
	}
	return argv, nil
}

// Branch returns the configured worktree branch, or "" for the main worktree.
func (c *Config) Branch() string {
	if c.Worktree == nil {
		return ""
	}
	return c.Worktree.Branch
}

// CompanionCommand resolves the companion bridge binary: an explicit
// command, then <root>/.venv/bin/takopi, then takopi on PATH.
func (c *Config) CompanionCommand() string {
	if c.Companion.Command != "" {
		return c.Companion.Command
	}
	venv := filepath.Join(c.Paths.Root, ".venv", "bin", "takopi")
	if info, err := os.Stat(venv); err == nil && !info.IsDir() {
		return venv
	}
	return "takopi"
}
