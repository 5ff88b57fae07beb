package app

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestFireAt(t *testing.T) {
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := FireAt(last, 2*time.Second); !got.Equal(last.Add(2 * time.Second)) {
		t.Errorf("FireAt = %s", got)
	}
}

// Three edits 300ms apart with a 2s window fire once, 2s after the last.
func TestDebouncer_CollapsesBurst(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	var fired int32
	var firedAt time.Time
	d := NewDebouncer(clock, 2*time.Second, func() {
		atomic.AddInt32(&fired, 1)
		firedAt = clock.Now()
	})

	d.Trigger()
	clock.Advance(300 * time.Millisecond)
	d.Trigger()
	clock.Advance(300 * time.Millisecond)
	d.Trigger()
	lastEdit := clock.Now()

	clock.Advance(1999 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 0 {
		t.Fatalf("fired %d times before the window closed", n)
	}
	clock.Advance(time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 1 {
		t.Fatalf("fired %d times, want 1", n)
	}
	if !firedAt.Equal(FireAt(lastEdit, 2*time.Second)) {
		t.Errorf("fired at %s, want %s", firedAt.Sub(start), FireAt(lastEdit, 2*time.Second).Sub(start))
	}
	if d.Pending() {
		t.Error("nothing should be pending after firing")
	}

	clock.Advance(10 * time.Second)
	if n := atomic.LoadInt32(&fired); n != 1 {
		t.Errorf("fired again without new events: %d", n)
	}
}

func TestDebouncer_Stop(t *testing.T) {
	clock := newFakeClock()
	var fired int32
	d := NewDebouncer(clock, time.Second, func() { atomic.AddInt32(&fired, 1) })
	d.Trigger()
	d.Stop()
	clock.Advance(5 * time.Second)
	if fired != 0 {
		t.Error("stopped debouncer fired")
	}
}

func TestReloader_WatchesProgramFile(t *testing.T) {
	dir := t.TempDir()
	program := filepath.Join(dir, "workflow.tsx")
	if err := os.WriteFile(program, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	changed := make(chan struct{}, 4)
	r := NewReloader(program, func(time.Time) { changed <- struct{}{} }, zaptest.NewLogger(t).Sugar(),
		WithReloadDebounce(100*time.Millisecond))
	if err := r.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	// Unrelated files in the same directory are ignored.
	if err := os.WriteFile(filepath.Join(dir, "workflow.db"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(program, []byte{byte('a' + i)}, 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after edits")
	}
	select {
	case <-changed:
		t.Fatal("burst produced more than one reload")
	case <-time.After(400 * time.Millisecond):
	}
}
