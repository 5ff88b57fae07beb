package domain

import (
	"testing"
	"time"
)

func TestIsHeartbeatStale(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	threshold := 300 * time.Second
	at := func(d time.Duration) *time.Time {
		v := now.Add(-d)
		return &v
	}

	tests := []struct {
		name      string
		heartbeat *time.Time
		want      bool
	}{
		{"older than threshold", at(400 * time.Second), true},
		{"within threshold", at(100 * time.Second), false},
		{"exactly at threshold", at(300 * time.Second), false},
		{"missing", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := WorkflowState{Heartbeat: tt.heartbeat}
			if got := st.IsHeartbeatStale(now, threshold); got != tt.want {
				t.Errorf("IsHeartbeatStale = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStateFromValues_UnparseableHeartbeatIsStale(t *testing.T) {
	st := StateFromValues(map[string]string{
		KeyStatus:    "running",
		KeyHeartbeat: "not-a-date",
	}, "")
	if st.Heartbeat != nil {
		t.Fatalf("Heartbeat = %v, want nil", st.Heartbeat)
	}
	if st.HeartbeatRaw != "not-a-date" {
		t.Errorf("HeartbeatRaw = %q, want %q", st.HeartbeatRaw, "not-a-date")
	}
	if !st.IsHeartbeatStale(time.Now(), time.Hour) {
		t.Error("unparseable heartbeat should be stale")
	}
}

func TestStateFromValues(t *testing.T) {
	st := StateFromValues(map[string]string{
		KeyStatus:    "running",
		KeySummary:   "step 3/5",
		KeyLastError: "boom",
		KeyHeartbeat: "2025-06-01T11:59:30.123Z",
	}, KeyHeartbeat)
	if st.Status != StatusRunning {
		t.Errorf("Status = %q, want %q", st.Status, StatusRunning)
	}
	if st.Summary != "step 3/5" || st.LastError != "boom" {
		t.Errorf("Summary=%q LastError=%q", st.Summary, st.LastError)
	}
	if st.Heartbeat == nil {
		t.Fatal("Heartbeat should parse")
	}
	if got := st.Heartbeat.UTC().Format(time.RFC3339); got != "2025-06-01T11:59:30Z" {
		t.Errorf("Heartbeat = %s", got)
	}
}

func TestStateFromValues_Empty(t *testing.T) {
	st := StateFromValues(nil, "")
	if st.Status != StatusUnknown {
		t.Errorf("Status = %q, want unknown", st.Status)
	}
	if st.Heartbeat != nil {
		t.Error("Heartbeat should be nil")
	}
}

func TestStateFromValues_CustomHeartbeatKey(t *testing.T) {
	st := StateFromValues(map[string]string{
		"custom.hb":  "2025-06-01T12:00:00Z",
		KeyHeartbeat: "garbage",
	}, "custom.hb")
	if st.Heartbeat == nil {
		t.Fatal("expected heartbeat from custom key")
	}
}

func TestPauseFromValues(t *testing.T) {
	ps := PauseFromValues(map[string]string{
		KeyPaused:   "true",
		KeyPausedAt: "2025-06-01T10:00:00Z",
	})
	if !ps.Paused || ps.PausedAt == nil {
		t.Fatalf("PauseState = %+v, want paused with timestamp", ps)
	}

	ps = PauseFromValues(map[string]string{KeyPaused: "false"})
	if ps.Paused || ps.PausedAt != nil {
		t.Errorf("PauseState = %+v, want not paused", ps)
	}
}

func TestProgressFromValues(t *testing.T) {
	p := ProgressFromValues(map[string]string{KeyRestartCount: "5", KeyAutoHealCount: "2", KeyPhase: "running", KeyChildPID: "42"})
	if p.Restarts != 5 || p.AutoHeals != 2 || p.Phase != "running" || p.ChildPID != 42 {
		t.Errorf("Progress = %+v, want {5 2 running 42}", p)
	}
	p = ProgressFromValues(map[string]string{KeyRestartCount: "x"})
	if p.Restarts != 0 || p.AutoHeals != 0 {
		t.Errorf("Progress = %+v, want zeros", p)
	}
}

func TestParseTimestamp(t *testing.T) {
	for _, v := range []string{"2025-06-01T12:00:00Z", "2025-06-01T12:00:00.5+02:00", "1748779200", "1748779200000"} {
		if _, ok := ParseTimestamp(v); !ok {
			t.Errorf("ParseTimestamp(%q) failed", v)
		}
	}
	for _, v := range []string{"", "yesterday", "-5"} {
		if _, ok := ParseTimestamp(v); ok {
			t.Errorf("ParseTimestamp(%q) should fail", v)
		}
	}
}
