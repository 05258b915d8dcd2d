package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/modelgate/internal/domain"
)

type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("webhook rejected event (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("webhook rejected event (status=%d): %s", e.StatusCode, body)
}

// WebhookPublisher POSTs the envelope as JSON. Any non-2xx status is an error.
type WebhookPublisher struct {
	url  string
	http *http.Client
}

func NewWebhookPublisher(rawURL string, timeout time.Duration) (*WebhookPublisher, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("webhook url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", rawURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookPublisher{url: rawURL, http: &http.Client{Timeout: timeout}}, nil
}

func (p *WebhookPublisher) Publish(ctx context.Context, signal domain.ApprovalSignal) error {
	body, err := json.Marshal(NewEnvelope(signal))
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", TypeApproved)

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(msg)}
}
