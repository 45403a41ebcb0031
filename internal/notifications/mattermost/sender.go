// Package mattermost provides Mattermost notification sending via Incoming Webhooks.
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/respondr-uk/respondr/internal/domain"
	"github.com/respondr-uk/respondr/internal/notifications"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultUsername = "Respondr"
	maxErrorBody    = 512
)

// Config holds Mattermost sender configuration. The webhook URL is the
// channel target, so there is no Enabled flag.
type Config struct {
	DefaultUsername string        // username for display, default "Respondr"
	DefaultIconURL  string        // icon URL (optional)
	Timeout         time.Duration // request timeout
}

// Sender implements Mattermost notification sender via Incoming Webhooks.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a new Mattermost sender.
func NewSender(config Config) *Sender {
	if config.DefaultUsername == "" {
		config.DefaultUsername = defaultUsername
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	return &Sender{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Type returns the channel type.
func (s *Sender) Type() domain.ChannelType {
	return domain.ChannelTypeMattermost
}

type webhookPayload struct {
	Text     string `json:"text"`
	Channel  string `json:"channel,omitempty"`
	Username string `json:"username,omitempty"`
	IconURL  string `json:"icon_url,omitempty"`
}

// Send posts a notification to the webhook in notification.To. A URL
// fragment names a channel override: https://mm/hooks/abc#incidents.
func (s *Sender) Send(ctx context.Context, notification notifications.Notification) error {
	webhookURL, channel := splitTarget(notification.To)
	if webhookURL == "" {
		return &PermanentError{Message: "webhook URL is empty"}
	}

	payload := webhookPayload{
		Channel:  channel,
		Username: s.config.DefaultUsername,
		IconURL:  s.config.DefaultIconURL,
		Text:     notification.Body,
	}
	if notification.Subject != "" {
		payload.Text = fmt.Sprintf("### %s\n\n%s", notification.Subject, notification.Body)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, webhookURL)
}

func splitTarget(target string) (webhookURL, channel string) {
	webhookURL, channel, _ = strings.Cut(strings.TrimSpace(target), "#")
	return webhookURL, channel
}

func (s *Sender) handleResponse(resp *http.Response, webhookURL string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	switch {
	case resp.StatusCode == http.StatusOK:
		slog.Debug("mattermost message sent", "webhook", maskWebhookURL(webhookURL))
		return nil

	case resp.StatusCode == http.StatusBadRequest:
		return &PermanentError{Code: resp.StatusCode, Message: fmt.Sprintf("bad request: %s", body)}

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &PermanentError{Code: resp.StatusCode, Message: "invalid or expired webhook"}

	case resp.StatusCode == http.StatusNotFound:
		return &PermanentError{Code: resp.StatusCode, Message: "webhook not found"}

	case resp.StatusCode == http.StatusTooManyRequests:
		return &RetryableError{
			Code:       resp.StatusCode,
			Message:    "rate limited",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	case resp.StatusCode >= 500:
		return &RetryableError{Code: resp.StatusCode, Message: fmt.Sprintf("server error: %s", body)}

	default:
		return &PermanentError{Code: resp.StatusCode, Message: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, body)}
	}
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// maskWebhookURL hides the webhook secret for logging.
func maskWebhookURL(url string) string {
	if len(url) > 40 {
		return url[:20] + "..." + url[len(url)-10:]
	}
	return url
}

// PermanentError indicates a permanent error that should not be retried.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("mattermost error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("mattermost error: %s", e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary error that can be retried.
type RetryableError struct {
	Code       int
	Message    string
	RetryAfter time.Duration
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("mattermost error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("mattermost error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }

// RetryDelay returns the delay the server asked for, or zero.
func (e *RetryableError) RetryDelay() time.Duration { return e.RetryAfter }
