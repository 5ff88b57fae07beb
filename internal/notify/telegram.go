package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	// DefaultTelegramURL is the Bot API endpoint.
	DefaultTelegramURL = "https://api.telegram.org"

	defaultTelegramRetries  = 3
	defaultTelegramInterval = 500 * time.Millisecond
	defaultTelegramTimeout  = 10 * time.Second
)

// Telegram posts events to a chat through the Bot API.
type Telegram struct {
	token    string
	chatID   int64
	threadID int64
	baseURL  string
	client   *http.Client
	retries  uint64
	interval time.Duration
	logger   *zap.SugaredLogger
}

// TelegramOption configures a Telegram sink.
type TelegramOption func(*Telegram)

// WithBaseURL points the sink at another Bot API server.
func WithBaseURL(u string) TelegramOption {
	return func(t *Telegram) { t.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) TelegramOption {
	return func(t *Telegram) { t.client = c }
}

// WithRetries sets how many times a transient failure is retried and the
// initial wait between tries.
func WithRetries(n uint64, initial time.Duration) TelegramOption {
	return func(t *Telegram) {
		t.retries = n
		t.interval = initial
	}
}

// WithMessageThread posts into a forum topic.
func WithMessageThread(id int64) TelegramOption {
	return func(t *Telegram) { t.threadID = id }
}

// WithTelegramLogger sets the logger.
func WithTelegramLogger(l *zap.SugaredLogger) TelegramOption {
	return func(t *Telegram) { t.logger = l }
}

// NewTelegram creates a sink for chatID using the bot token.
func NewTelegram(token string, chatID int64, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		token:    token,
		chatID:   chatID,
		baseURL:  DefaultTelegramURL,
		client:   &http.Client{Timeout: defaultTelegramTimeout},
		retries:  defaultTelegramRetries,
		interval: defaultTelegramInterval,
		logger:   zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

type sendMessageRequest struct {
	ChatID          int64  `json:"chat_id"`
	Text            string `json:"text"`
	ParseMode       string `json:"parse_mode"`
	MessageThreadID int64  `json:"message_thread_id,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify implements Sink. Network errors, 429 and 5xx responses are
// retried with exponential backoff; an API rejection is returned at once.
func (t *Telegram) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:          t.chatID,
		Text:            ev.Text,
		ParseMode:       "Markdown",
		MessageThreadID: t.threadID,
	})
	if err != nil {
		return fmt.Errorf("encode telegram message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	attempt := 0
	op := func() error {
		attempt++
		return t.post(ctx, url, body)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.interval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, t.retries), ctx)
	notifyRetry := func(err error, wait time.Duration) {
		t.logger.Warnf("Telegram: send attempt %d failed: %v (retrying in %s)", attempt, err, wait)
	}
	if err := backoff.RetryNotify(op, policy, notifyRetry); err != nil {
		return err
	}
	t.logger.Debugf("Telegram: sent %s message to chat %d", ev.Kind, t.chatID)
	return nil
}

func (t *Telegram) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build telegram request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read telegram response: %w", err)
	}
	transient := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

	var out apiResponse
	if err := json.Unmarshal(data, &out); err != nil {
		err = fmt.Errorf("decode telegram response (HTTP %d): %w", resp.StatusCode, err)
		if transient {
			return err
		}
		return backoff.Permanent(err)
	}
	if out.OK {
		return nil
	}
	desc := out.Description
	if desc == "" {
		desc = "Unknown error"
	}
	apiErr := fmt.Errorf("Telegram API error: %s", desc)
	if transient {
		return apiErr
	}
	return backoff.Permanent(apiErr)
}
