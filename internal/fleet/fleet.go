// Package fleet runs supervisor commands across every configured worktree
// of a repository. Each worktree has its own supervisor process; the fleet
// only finds them, fans commands out, and collects per-worktree results.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jaakkos/takopi-smithers/internal/app"
	"github.com/jaakkos/takopi-smithers/internal/config"
	"github.com/jaakkos/takopi-smithers/internal/domain"
	"github.com/jaakkos/takopi-smithers/internal/pidfile"
	"github.com/jaakkos/takopi-smithers/internal/repository"
	"github.com/jaakkos/takopi-smithers/internal/worktree"
)

// maxParallel bounds concurrent per-worktree commands.
const maxParallel = 8

// Action is a fleet command.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionPause   Action = "pause"
	ActionResume  Action = "resume"
)

// ParseAction validates a command name.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionStart, ActionStop, ActionRestart, ActionPause, ActionResume:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q (want start, stop, restart, pause or resume)", s)
}

// Target is one worktree and its loaded config.
type Target struct {
	Worktree worktree.Worktree
	Config   *config.Config
}

// Branch names the target in output.
func (t Target) Branch() string {
	if t.Worktree.Branch != "" {
		return t.Worktree.Branch
	}
	return t.Config.Branch()
}

// StatusQuery describes where the target's status lives.
func (t Target) StatusQuery() app.StatusQuery {
	return app.StatusQuery{
		Branch:        t.Branch(),
		Main:          t.Worktree.IsMain,
		PIDFile:       t.Config.Paths.PIDFile,
		LogDir:        t.Config.Paths.LogDir,
		HeartbeatKey:  t.Config.Health.HeartbeatKey,
		HangThreshold: t.Config.HangThreshold(),
	}
}

// Result is the outcome of one command on one worktree. Skipped results
// (stop of a stopped supervisor, resume of a running workflow) are not
// failures.
type Result struct {
	Branch  string `json:"branch" yaml:"branch"`
	Action  Action `json:"action" yaml:"action"`
	PID     int    `json:"pid,omitempty" yaml:"pid,omitempty"`
	OK      bool   `json:"ok" yaml:"ok"`
	Skipped bool   `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	Err     error  `json:"-" yaml:"-"`
}

// ActionOptions tune a single command.
type ActionOptions struct {
	DryRun        bool
	KeepCompanion bool
}

// StoreOpener opens a worktree's state database.
type StoreOpener func(path string) (app.StateStore, error)

// Fleet fans supervisor commands out across worktrees.
type Fleet struct {
	mgr       *worktree.Manager
	logger    *zap.SugaredLogger
	spawner   Spawner
	openStore StoreOpener
	signal    func(pid int, sig syscall.Signal) error
}

// Option configures a Fleet.
type Option func(*Fleet)

// WithSpawner sets how supervisors are started.
func WithSpawner(s Spawner) Option {
	return func(f *Fleet) { f.spawner = s }
}

// WithStoreOpener replaces the SQLite store.
func WithStoreOpener(o StoreOpener) Option {
	return func(f *Fleet) { f.openStore = o }
}

// WithSignaler replaces syscall.Kill for control signals.
func WithSignaler(fn func(pid int, sig syscall.Signal) error) Option {
	return func(f *Fleet) { f.signal = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(f *Fleet) { f.logger = l }
}

// New returns a Fleet over the worktrees mgr discovers.
func New(mgr *worktree.Manager, opts ...Option) *Fleet {
	f := &Fleet{
		mgr:       mgr,
		logger:    zap.NewNop().Sugar(),
		openStore: repository.NewStateStore,
		signal:    syscall.Kill,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Manager returns the worktree manager.
func (f *Fleet) Manager() *worktree.Manager { return f.mgr }

// Load reads wt's config.
func (f *Fleet) Load(wt worktree.Worktree) (Target, error) {
	cfg, err := config.Load(f.mgr.ConfigPath(wt), f.mgr.Root(), worktree.LayoutFor(wt))
	if err != nil {
		return Target{}, err
	}
	return Target{Worktree: wt, Config: cfg}, nil
}

// LoadFile reads an explicit config file for the main worktree layout.
func (f *Fleet) LoadFile(path string) (Target, error) {
	wt := f.mainWorktree()
	cfg, err := config.Load(path, f.mgr.Root(), worktree.LayoutFor(wt))
	if err != nil {
		return Target{}, err
	}
	return Target{Worktree: wt, Config: cfg}, nil
}

// Resolve picks the target for a single-worktree command. An explicit
// branch must exist. Without one, the current worktree is used when it has
// its own config, else the main worktree.
func (f *Fleet) Resolve(branch string) (Target, error) {
	if branch != "" {
		wt, err := f.mgr.Find(branch)
		if err != nil {
			return Target{}, err
		}
		return f.Load(*wt)
	}
	if f.mgr.IsRepo() {
		if cur, err := f.mgr.Current(); err == nil && !cur.IsMain {
			t, err := f.Load(*cur)
			if err == nil {
				return t, nil
			}
			f.logger.Debugf("Fleet: no usable config for current worktree %s: %v", cur.Branch, err)
		}
	}
	return f.Load(f.mainWorktree())
}

func (f *Fleet) mainWorktree() worktree.Worktree {
	if wts, err := f.mgr.List(); err == nil && len(wts) > 0 {
		return wts[0]
	}
	return worktree.Worktree{Path: f.mgr.Root(), Branch: worktree.CurrentBranch(f.mgr.Root()), IsMain: true}
}

// Targets loads every configured worktree. Worktrees whose config fails to
// load are reported as failed results.
func (f *Fleet) Targets() ([]Target, []Result, error) {
	wts, err := f.mgr.Configured()
	if err != nil {
		return nil, nil, fmt.Errorf("list worktrees: %w", err)
	}
	var targets []Target
	var failed []Result
	for _, wt := range wts {
		t, err := f.Load(wt)
		if err != nil {
			failed = append(failed, Result{Branch: wt.Branch, Err: err, Message: err.Error()})
			continue
		}
		targets = append(targets, t)
	}
	return targets, failed, nil
}

// Entry is one worktree as listed by `worktrees`.
type Entry struct {
	Branch     string `json:"branch" yaml:"branch"`
	Path       string `json:"path" yaml:"path"`
	Main       bool   `json:"main" yaml:"main"`
	Configured bool   `json:"configured" yaml:"configured"`
	Running    bool   `json:"running" yaml:"running"`
	PID        int    `json:"pid,omitempty" yaml:"pid,omitempty"`
	ConfigPath string `json:"config" yaml:"config"`
}

// List returns every worktree with whether it is configured and supervised.
func (f *Fleet) List() ([]Entry, error) {
	wts, err := f.mgr.List()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	root := f.mgr.Root()
	var out []Entry
	for _, wt := range wts {
		layout := worktree.LayoutFor(wt).Abs(root)
		e := Entry{Branch: wt.Branch, Path: wt.Path, Main: wt.IsMain, ConfigPath: layout.ConfigPath}
		if t, err := f.Load(wt); err == nil {
			e.Configured = true
			layout.PIDFile = t.Config.Paths.PIDFile
		}
		if pid, ok := pidfile.Read(layout.PIDFile); ok {
			e.Running, e.PID = true, pid
		}
		out = append(out, e)
	}
	return out, nil
}

// Status collects every configured worktree's status.
func (f *Fleet) Status(ctx context.Context) ([]app.StatusReport, error) {
	targets, failed, err := f.Targets()
	if err != nil {
		return nil, err
	}
	reports := make([]app.StatusReport, len(targets))
	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i, t := range targets {
		g.Go(func() error {
			reports[i] = f.StatusOf(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	for _, r := range failed {
		reports = append(reports, app.StatusReport{Branch: r.Branch, Status: string(domain.StatusUnknown), Summary: r.Message})
	}
	return reports, nil
}

// StatusOf collects one worktree's status.
func (f *Fleet) StatusOf(ctx context.Context, t Target) app.StatusReport {
	store, err := f.openStore(t.Config.Paths.DB)
	if err != nil {
		f.logger.Warnf("Fleet: open state for %s: %v", t.Branch(), err)
		return app.CollectStatus(ctx, nil, t.StatusQuery())
	}
	defer store.Close()
	return app.CollectStatus(ctx, store, t.StatusQuery())
}

// Apply runs one command on every configured worktree in parallel. Every
// worktree is attempted regardless of the others. Stop keeps the companion
// bridge running for all but the last worktree.
func (f *Fleet) Apply(ctx context.Context, action Action, opts ActionOptions) ([]Result, error) {
	targets, failed, err := f.Targets()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Worktree.IsMain && !targets[j].Worktree.IsMain
	})
	results := make([]Result, len(targets))
	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i, t := range targets {
		o := opts
		if action == ActionStop {
			o.KeepCompanion = opts.KeepCompanion || i < len(targets)-1
		}
		g.Go(func() error {
			results[i] = f.Do(ctx, t, action, o)
			return nil
		})
	}
	_ = g.Wait()
	for i := range failed {
		failed[i].Action = action
	}
	return append(results, failed...), nil
}

// Do runs one command on one worktree.
func (f *Fleet) Do(ctx context.Context, t Target, action Action, opts ActionOptions) Result {
	res := Result{Branch: t.Branch(), Action: action}
	pidPath := t.Config.Paths.PIDFile

	var pid int
	var err error
	switch action {
	case ActionStart:
		if running, ok := pidfile.Read(pidPath); ok {
			res.PID, res.OK, res.Skipped = running, true, true
			res.Message = fmt.Sprintf("already running (PID %d)", running)
			return res
		}
		if f.spawner == nil {
			err = errors.New("no spawner configured")
			break
		}
		err = f.spawner.Spawn(ctx, t, opts.DryRun)
		pid, _ = pidfile.Read(pidPath)
	case ActionStop:
		pid, err = app.NewController(pidPath, nil, app.WithSignaler(f.signal)).Stop(opts.KeepCompanion)
		if errors.Is(err, domain.ErrNotRunning) {
			res.OK, res.Skipped, res.Message = true, true, "not running"
			return res
		}
	case ActionRestart:
		pid, err = app.NewController(pidPath, nil, app.WithSignaler(f.signal)).Restart()
	case ActionPause, ActionResume:
		pid, err = f.pauseResume(ctx, t, action)
		if errors.Is(err, domain.ErrNotPaused) {
			res.PID, res.OK, res.Skipped, res.Message = pid, true, true, "not paused"
			return res
		}
	default:
		err = fmt.Errorf("unknown action %q", action)
	}

	res.PID = pid
	if err != nil {
		res.Err = err
		res.Message = err.Error()
		f.logger.Warnf("Fleet: %s %s: %v", action, res.Branch, err)
		return res
	}
	res.OK = true
	return res
}

func (f *Fleet) pauseResume(ctx context.Context, t Target, action Action) (int, error) {
	store, err := f.openStore(t.Config.Paths.DB)
	if err != nil {
		return 0, fmt.Errorf("open state: %w", err)
	}
	defer store.Close()
	c := app.NewController(t.Config.Paths.PIDFile, store, app.WithSignaler(f.signal))
	if action == ActionPause {
		return c.Pause(ctx)
	}
	return c.Resume(ctx)
}

// Failed joins the errors of failed results, or returns nil.
func Failed(results []Result) error {
	var errs []error
	for _, r := range results {
		if r.OK {
			continue
		}
		err := r.Err
		if err == nil {
			err = errors.New(r.Message)
		}
		errs = append(errs, fmt.Errorf("%s: %w", r.Branch, err))
	}
	return errors.Join(errs...)
}
