package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/jaakkos/takopi-smithers/internal/domain"
)

type fakeTarget struct {
	mu    sync.Mutex
	snap  HealthSnapshot
	kills int
	err   error
}

func (f *fakeTarget) HealthSnapshot() HealthSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeTarget) KillHung(ctx context.Context, st domain.WorkflowState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap.HandlingHang {
		return nil
	}
	f.snap.HandlingHang = true
	f.kills++
	return f.err
}

func newTestMonitor(t *testing.T, target HealthTarget, store StateStore, clock Clock, opts ...HealthOption) *HealthMonitor {
	t.Helper()
	opts = append([]HealthOption{
		WithHangThreshold(300 * time.Second),
		WithHealthClock(clock),
	}, opts...)
	return NewHealthMonitor(target, store, zaptest.NewLogger(t).Sugar(), opts...)
}

// A heartbeat 400s old with a 300s threshold is killed once; later checks
// while the hang is being handled do nothing.
func TestHealthMonitor_KillsStaleHeartbeatOnce(t *testing.T) {
	clock := newFakeClock()
	store := &memStore{}
	store.setHeartbeat(clock.Now().Add(-400 * time.Second))
	target := &fakeTarget{snap: HealthSnapshot{Running: true, LaunchedAt: clock.Now().Add(-time.Hour)}}
	m := newTestMonitor(t, target, store, clock)

	if v := m.CheckOnce(context.Background()); v != VerdictHung {
		t.Fatalf("verdict = %s, want hung", v)
	}
	for i := 0; i < 3; i++ {
		if v := m.CheckOnce(context.Background()); v != VerdictHandling {
			t.Fatalf("verdict = %s, want handling_hang", v)
		}
	}
	if target.kills != 1 {
		t.Errorf("kills = %d, want 1", target.kills)
	}
}

// A fresh heartbeat is never killed.
func TestHealthMonitor_FreshHeartbeat(t *testing.T) {
	clock := newFakeClock()
	store := &memStore{}
	store.setHeartbeat(clock.Now().Add(-5 * time.Second))
	target := &fakeTarget{snap: HealthSnapshot{Running: true, LaunchedAt: clock.Now().Add(-time.Hour)}}
	m := newTestMonitor(t, target, store, clock)

	if v := m.CheckOnce(context.Background()); v != VerdictHealthy {
		t.Fatalf("verdict = %s, want healthy", v)
	}
	if target.kills != 0 {
		t.Errorf("kills = %d, want 0", target.kills)
	}
}

// A missing heartbeat counts as stale.
func TestHealthMonitor_NullHeartbeatIsStale(t *testing.T) {
	clock := newFakeClock()
	store := &memStore{state: domain.WorkflowState{Status: domain.StatusRunning}}
	target := &fakeTarget{snap: HealthSnapshot{Running: true, LaunchedAt: clock.Now().Add(-time.Hour)}}
	m := newTestMonitor(t, target, store, clock)

	if v := m.CheckOnce(context.Background()); v != VerdictHung {
		t.Fatalf("verdict = %s, want hung", v)
	}
}

func TestHealthMonitor_SkipCases(t *testing.T) {
	clock := newFakeClock()
	stale := clock.Now().Add(-time.Hour)
	tests := []struct {
		name  string
		snap  HealthSnapshot
		grace time.Duration
		want  Verdict
	}{
		{"no child", HealthSnapshot{}, 0, VerdictNoChild},
		{"paused", HealthSnapshot{Running: true, Paused: true, LaunchedAt: stale}, 0, VerdictPaused},
		{"startup grace", HealthSnapshot{Running: true, LaunchedAt: clock.Now().Add(-10 * time.Second)}, time.Minute, VerdictGrace},
		{"grace elapsed", HealthSnapshot{Running: true, LaunchedAt: stale}, time.Minute, VerdictHung},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &memStore{}
			store.setHeartbeat(stale)
			target := &fakeTarget{snap: tc.snap}
			m := newTestMonitor(t, target, store, clock, WithStartupGrace(tc.grace))
			if v := m.CheckOnce(context.Background()); v != tc.want {
				t.Errorf("verdict = %s, want %s", v, tc.want)
			}
			wantKills := 0
			if tc.want == VerdictHung {
				wantKills = 1
			}
			if target.kills != wantKills {
				t.Errorf("kills = %d, want %d", target.kills, wantKills)
			}
		})
	}
}

// An unavailable database is skipped until a full threshold has passed since
// launch; after that the child is treated as hung.
func TestHealthMonitor_UnavailableState(t *testing.T) {
	clock := newFakeClock()
	store := &memStore{unavailable: true}
	target := &fakeTarget{snap: HealthSnapshot{Running: true, LaunchedAt: clock.Now()}}
	m := newTestMonitor(t, target, store, clock)

	clock.Advance(100 * time.Second)
	if v := m.CheckOnce(context.Background()); v != VerdictUnavailable {
		t.Fatalf("verdict = %s, want state_unavailable", v)
	}
	clock.Advance(250 * time.Second)
	if v := m.CheckOnce(context.Background()); v != VerdictHung {
		t.Fatalf("verdict = %s, want hung", v)
	}
}

func TestHealthMonitor_KillErrorIsLogged(t *testing.T) {
	clock := newFakeClock()
	store := &memStore{}
	store.setHeartbeat(clock.Now().Add(-time.Hour))
	target := &fakeTarget{
		snap: HealthSnapshot{Running: true, LaunchedAt: clock.Now().Add(-time.Hour)},
		err:  errors.New("operation not permitted"),
	}
	m := newTestMonitor(t, target, store, clock)
	if v := m.CheckOnce(context.Background()); v != VerdictHung {
		t.Fatalf("verdict = %s, want hung", v)
	}
	if v := m.CheckOnce(context.Background()); v != VerdictHandling {
		t.Errorf("kill failure must not be retried, verdict = %s", v)
	}
}

func TestHealthMonitor_StartStop(t *testing.T) {
	target := &fakeTarget{}
	m := NewHealthMonitor(target, &memStore{}, zaptest.NewLogger(t).Sugar(), WithHealthInterval(10*time.Millisecond))

	done := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(done)
	}()
	time.Sleep(25 * time.Millisecond)
	m.Stop()
	m.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
