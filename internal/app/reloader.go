package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// defaultReloadDebounce is the quiet period after the last program edit
// before the child is restarted.
const defaultReloadDebounce = 2 * time.Second

// FireAt is when a debounce window that last saw an event at last fires.
func FireAt(last time.Time, window time.Duration) time.Time {
	return last.Add(window)
}

// Debouncer collapses bursts of Trigger calls into one call of fn, run
// window after the last trigger. It owns a single cancellable timer.
type Debouncer struct {
	clock  Clock
	window time.Duration
	fn     func()

	mu    sync.Mutex
	timer Timer
	last  time.Time
	// seq invalidates a timer that already fired but lost the race for mu.
	seq uint64
}

// NewDebouncer creates a Debouncer. A nil clock means RealClock.
func NewDebouncer(clock Clock, window time.Duration, fn func()) *Debouncer {
	if clock == nil {
		clock = RealClock
	}
	return &Debouncer{clock: clock, window: window, fn: fn}
}

// Trigger records an event and (re)arms the timer.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()
	d.last = now
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.timer = d.clock.AfterFunc(FireAt(now, d.window).Sub(now), func() { d.fire(seq) })
}

func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	if seq != d.seq {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}

// LastEvent returns the time of the most recent Trigger.
func (d *Debouncer) LastEvent() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Pending reports whether a fire is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop cancels a pending fire.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Reloader watches the workflow program and calls onChange once per burst
// of edits, passing the time of the burst's last edit. It watches the parent directory because editors usually
// replace the file rather than write it in place.
type Reloader struct {
	path      string
	logger    *zap.SugaredLogger
	debouncer *Debouncer
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
}

// ReloaderOption configures a Reloader.
type ReloaderOption func(*reloaderConfig)

type reloaderConfig struct {
	clock    Clock
	debounce time.Duration
}

// WithReloadClock sets the debounce clock (tests).
func WithReloadClock(c Clock) ReloaderOption {
	return func(r *reloaderConfig) { r.clock = c }
}

// WithReloadDebounce sets the debounce window.
func WithReloadDebounce(d time.Duration) ReloaderOption {
	return func(r *reloaderConfig) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// NewReloader creates a Reloader for the program at path.
func NewReloader(path string, onChange func(last time.Time), logger *zap.SugaredLogger, opts ...ReloaderOption) *Reloader {
	cfg := reloaderConfig{clock: RealClock, debounce: defaultReloadDebounce}
	for _, o := range opts {
		o(&cfg)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	r := &Reloader{
		path:   path,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	r.debouncer = NewDebouncer(cfg.clock, cfg.debounce, func() {
		r.logger.Info("Reloader: debounce completed, restarting workflow due to file change")
		onChange(r.debouncer.LastEvent())
	})
	return r
}

// Start begins watching. The watch loop runs until ctx is cancelled or
// Stop is called.
func (r *Reloader) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}
	r.watcher = w
	r.logger.Infof("Reloader: watching %s", r.path)
	go r.watchLoop(ctx)
	return nil
}

// Stop cancels any pending reload and closes the watcher.
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.debouncer.Stop()
		if r.watcher != nil {
			r.watcher.Close()
			<-r.doneCh
		}
		r.logger.Info("Reloader: file watcher stopped")
	})
}

// Notify feeds one change event into the debouncer.
func (r *Reloader) Notify() {
	r.debouncer.Trigger()
}

func (r *Reloader) watchLoop(ctx context.Context) {
	defer close(r.doneCh)
	name := filepath.Base(r.path)
	for {
		select {
		case <-ctx.Done():
			r.debouncer.Stop()
			return
		case <-r.stopCh:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			r.logger.Debugf("Reloader: file change detected: %s on %s", event.Op, event.Name)
			r.Notify()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warnf("Reloader: watcher error: %v", err)
		}
	}
}
