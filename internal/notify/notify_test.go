package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/h2non/gock"
	"go.uber.org/zap/zaptest"

	"github.com/jaakkos/takopi-smithers/internal/domain"
)

func newTestTelegram(t *testing.T, opts ...TelegramOption) *Telegram {
	t.Helper()
	client := &http.Client{}
	gock.InterceptClient(client)
	t.Cleanup(func() {
		gock.RestoreClient(client)
		gock.Off()
	})
	opts = append([]TelegramOption{
		WithHTTPClient(client),
		WithRetries(2, time.Millisecond),
		WithTelegramLogger(zaptest.NewLogger(t).Sugar()),
	}, opts...)
	return NewTelegram("TOKEN", 42, opts...)
}

func TestTelegram_Send(t *testing.T) {
	tg := newTestTelegram(t, WithMessageThread(7))
	gock.New(DefaultTelegramURL).
		Post("/botTOKEN/sendMessage").
		MatchType("json").
		JSON(map[string]any{"chat_id": 42, "text": "hello", "parse_mode": "Markdown", "message_thread_id": 7}).
		Reply(200).
		JSON(map[string]any{"ok": true})

	if err := tg.Notify(context.Background(), Event{Kind: KindStatus, Text: "hello"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if !gock.IsDone() {
		t.Error("expected the sendMessage call to be made")
	}
}

func TestTelegram_APIErrorIsNotRetried(t *testing.T) {
	tg := newTestTelegram(t)
	gock.New(DefaultTelegramURL).
		Post("/botTOKEN/sendMessage").
		Times(1).
		Reply(400).
		JSON(map[string]any{"ok": false, "description": "Bad Request: chat not found"})

	err := tg.Notify(context.Background(), Event{Text: "x"})
	if err == nil || err.Error() != "Telegram API error: Bad Request: chat not found" {
		t.Fatalf("err = %v", err)
	}
	if gock.HasUnmatchedRequest() {
		t.Error("a rejected message must not be retried")
	}
}

func TestTelegram_MissingDescription(t *testing.T) {
	tg := newTestTelegram(t)
	gock.New(DefaultTelegramURL).
		Post("/botTOKEN/sendMessage").
		Reply(400).
		JSON(map[string]any{"ok": false})

	err := tg.Notify(context.Background(), Event{Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "Unknown error") {
		t.Fatalf("err = %v, want Unknown error", err)
	}
}

func TestTelegram_RetriesServerErrors(t *testing.T) {
	tg := newTestTelegram(t)
	gock.New(DefaultTelegramURL).
		Post("/botTOKEN/sendMessage").
		Times(2).
		Reply(502).
		BodyString("bad gateway")
	gock.New(DefaultTelegramURL).
		Post("/botTOKEN/sendMessage").
		Reply(200).
		JSON(map[string]any{"ok": true})

	if err := tg.Notify(context.Background(), Event{Text: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if !gock.IsDone() {
		t.Error("expected two failed tries and one success")
	}
}

func TestTelegram_GivesUp(t *testing.T) {
	tg := newTestTelegram(t)
	gock.New(DefaultTelegramURL).
		Post("/botTOKEN/sendMessage").
		Times(3).
		Reply(500).
		JSON(map[string]any{"ok": false, "description": "Internal"})

	err := tg.Notify(context.Background(), Event{Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "Internal") {
		t.Fatalf("err = %v", err)
	}
}

type recordSink struct {
	events []Event
	err    error
}

func (r *recordSink) Notify(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestMulti(t *testing.T) {
	a := &recordSink{}
	b := &recordSink{err: errors.New("boom")}
	err := Multi{a, b, LogSink{Logger: zaptest.NewLogger(t).Sugar(), ChatID: 1}}.Notify(context.Background(), Event{Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("every sink should see the event: %d %d", len(a.events), len(b.events))
	}
}

func TestStatusEmoji(t *testing.T) {
	tests := map[domain.WorkflowStatus]string{
		domain.StatusRunning: "🟢",
		domain.StatusIdle:    "🟡",
		domain.StatusError:   "🔴",
		domain.StatusDone:    "✅",
		domain.StatusUnknown: "❓",
		"weird":              "❓",
	}
	for status, want := range tests {
		if got := StatusEmoji(status); got != want {
			t.Errorf("StatusEmoji(%q) = %q, want %q", status, got, want)
		}
	}
}

func TestHeartbeatAge(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want string
	}{
		{0, "0s ago"},
		{59 * time.Second, "59s ago"},
		{60 * time.Second, "1m ago"},
		{3599 * time.Second, "59m ago"},
		{3600 * time.Second, "1h ago"},
		{50 * time.Hour, "50h ago"},
	}
	for _, tt := range tests {
		if got := HeartbeatAge(tt.age); got != tt.want {
			t.Errorf("HeartbeatAge(%s) = %q, want %q", tt.age, got, tt.want)
		}
	}
}

func TestPauseDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{1 * time.Second, "1 second"},
		{30 * time.Second, "30 seconds"},
		{61 * time.Second, "1 minute"},
		{2 * time.Hour, "2 hours"},
		{49 * time.Hour, "2 days"},
	}
	for _, tt := range tests {
		if got := PauseDuration(tt.d); got != tt.want {
			t.Errorf("PauseDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestStatusUpdate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	hb := now.Add(-90 * time.Second)
	ev := StatusUpdate(Where{Repo: "proj", Branch: "main"}, domain.WorkflowState{
		Status:    domain.StatusRunning,
		Summary:   "3/5 tasks",
		Heartbeat: &hb,
	}, now)

	want := "🟢 **proj** (main)\n\n_2026-01-02T03:04:05.000Z_\n\n**Status:** running\n\n3/5 tasks\n\n💓 Last heartbeat: 1m ago"
	if ev.Text != want {
		t.Errorf("text =\n%q\nwant\n%q", ev.Text, want)
	}
	if ev.Kind != KindStatus {
		t.Errorf("kind = %q", ev.Kind)
	}

	bare := StatusUpdate(Where{Repo: "proj", Branch: "main"}, domain.WorkflowState{}, now)
	if !strings.Contains(bare.Text, "❓") || !strings.Contains(bare.Text, "**Status:** unknown") {
		t.Errorf("empty state text = %q", bare.Text)
	}
	if strings.Contains(bare.Text, "heartbeat") {
		t.Errorf("no heartbeat line expected: %q", bare.Text)
	}
}

func TestHangDetected(t *testing.T) {
	ev := HangDetected(domain.WorkflowState{}, 300*time.Second)
	if !strings.Contains(ev.Text, "Last heartbeat: `never`") || !strings.Contains(ev.Text, "Threshold: 300s") {
		t.Errorf("text = %q", ev.Text)
	}
	ev = HangDetected(domain.WorkflowState{HeartbeatRaw: "2026-01-01T00:00:00.000Z"}, time.Minute)
	if !strings.Contains(ev.Text, "`2026-01-01T00:00:00.000Z`") {
		t.Errorf("text = %q", ev.Text)
	}
}

func TestResumed(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := Resumed(Where{Repo: "r", Branch: "b"}, at, "5 minutes")
	if !strings.Contains(ev.Text, "Paused for: 5 minutes") || !strings.HasSuffix(ev.Text, "has been resumed.") {
		t.Errorf("text = %q", ev.Text)
	}
	if strings.Contains(Resumed(Where{}, at, "").Text, "Paused for") {
		t.Error("unknown pause duration should be omitted")
	}
}
