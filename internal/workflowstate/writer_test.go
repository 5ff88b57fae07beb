package workflowstate

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jaakkos/takopi-smithers/internal/domain"
	"github.com/jaakkos/takopi-smithers/internal/repository/sqlite"
)

type memSetter struct {
	mu     sync.Mutex
	values map[string]string
	writes int
	err    error
}

func (m *memSetter) Set(_ context.Context, kv map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.values == nil {
		m.values = map[string]string{}
	}
	for k, v := range kv {
		m.values[k] = v
	}
	m.writes++
	return nil
}

func (m *memSetter) snapshot() (map[string]string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, m.writes
}

func TestWriter_SetStatusAndError(t *testing.T) {
	fixed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	store := &memSetter{}
	w := New(store, WithClock(func() time.Time { return fixed }))

	if err := w.SetStatus(context.Background(), domain.StatusRunning, "step 1"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	v, _ := store.snapshot()
	if v[domain.KeyStatus] != "running" || v[domain.KeySummary] != "step 1" {
		t.Errorf("values = %v", v)
	}
	if v[domain.KeyHeartbeat] != "2026-05-01T08:00:00.000Z" {
		t.Errorf("heartbeat = %q", v[domain.KeyHeartbeat])
	}

	if err := w.SetError(context.Background(), "boom"); err != nil {
		t.Fatalf("SetError: %v", err)
	}
	v, _ = store.snapshot()
	if v[domain.KeyStatus] != "error" || v[domain.KeyLastError] != "boom" {
		t.Errorf("values = %v", v)
	}
}

func TestWriter_CustomHeartbeatKey(t *testing.T) {
	store := &memSetter{}
	w := New(store, WithHeartbeatKey("custom.hb"))
	if err := w.Heartbeat(context.Background()); err != nil {
		t.Fatal(err)
	}
	v, _ := store.snapshot()
	if _, ok := v["custom.hb"]; !ok {
		t.Errorf("custom key not written: %v", v)
	}
	if _, ok := v[domain.KeyHeartbeat]; ok {
		t.Error("default key should not be written")
	}
}

func TestWriter_StartStop(t *testing.T) {
	store := &memSetter{}
	w := New(store, WithInterval(10*time.Millisecond))
	go w.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, n := store.snapshot(); n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("heartbeat loop did not tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	w.Stop()
	_, n := store.snapshot()
	time.Sleep(30 * time.Millisecond)
	if _, after := store.snapshot(); after != n {
		t.Errorf("writes continued after Stop: %d -> %d", n, after)
	}
}

func TestWriter_StartSurvivesErrors(t *testing.T) {
	store := &memSetter{err: errors.New("locked")}
	w := New(store, WithInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestWriter_WithSQLiteStore(t *testing.T) {
	store, err := sqlite.New(filepath.Join(t.TempDir(), "workflow.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	w := New(store)
	if err := w.SetStatus(context.Background(), domain.StatusIdle, "waiting"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	st, err := store.WorkflowState(context.Background(), "")
	if err != nil {
		t.Fatalf("WorkflowState: %v", err)
	}
	if st.Status != domain.StatusIdle || st.Summary != "waiting" {
		t.Errorf("state = %+v", st)
	}
	if st.IsHeartbeatStale(time.Now(), time.Minute) {
		t.Error("fresh heartbeat reported stale")
	}
}
