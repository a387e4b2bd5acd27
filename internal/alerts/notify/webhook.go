package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Channel delivers rendered content.
type Channel interface {
	Send(ctx context.Context, content string) error
}

// Payload formats accepted by WebhookChannel.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Signature headers set when a signing secret is configured.
const (
	HeaderTimestamp = "X-TTMS-Timestamp"
	HeaderSignature = "X-TTMS-Signature"
)

// webhookPayload is the chat-robot text message body.
type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

type jsonPayload struct {
	Source  string    `json:"source"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
}

// WebhookChannel posts alert notifications to an HTTP endpoint, either as a
// chat-robot text message or as a plain JSON document.
type WebhookChannel struct {
	url     string
	format  string
	secret  []byte
	retries int
	backoff time.Duration
	client  *http.Client
	now     func() time.Time
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithFormat selects FormatText or FormatJSON.
func WithFormat(format string) WebhookOption {
	return func(ch *WebhookChannel) {
		if format == FormatText || format == FormatJSON {
			ch.format = format
		}
	}
}

// WithSigningSecret signs each body with HMAC-SHA256 over "timestamp.body".
func WithSigningSecret(secret string) WebhookOption {
	return func(ch *WebhookChannel) {
		if secret != "" {
			ch.secret = []byte(secret)
		}
	}
}

// WithRetries retries 5xx responses and transport errors.
func WithRetries(retries int, backoff time.Duration) WebhookOption {
	return func(ch *WebhookChannel) {
		if retries >= 0 {
			ch.retries = retries
		}
		if backoff > 0 {
			ch.backoff = backoff
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	channel := &WebhookChannel{
		url:     url,
		format:  FormatText,
		backoff: 500 * time.Millisecond,
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Send posts content, retrying server failures.
func (w *WebhookChannel) Send(ctx context.Context, content string) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	body, err := w.encode(content)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.backoff * time.Duration(attempt)):
			}
		}
		retry, err := w.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return lastErr
}

func (w *WebhookChannel) encode(content string) ([]byte, error) {
	if w.format == FormatJSON {
		return json.Marshal(jsonPayload{Source: "yard-ttms", Content: content, SentAt: w.now().UTC()})
	}
	return json.Marshal(webhookPayload{MsgType: "text", Text: webhookText{Content: content}})
}

func (w *WebhookChannel) post(ctx context.Context, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(w.secret) > 0 {
		timestamp := strconv.FormatInt(w.now().Unix(), 10)
		req.Header.Set(HeaderTimestamp, timestamp)
		req.Header.Set(HeaderSignature, Sign(w.secret, timestamp, body))
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resp.StatusCode >= 500, fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	return false, nil
}

// Sign returns the hex HMAC-SHA256 of "timestamp.body" under secret.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
