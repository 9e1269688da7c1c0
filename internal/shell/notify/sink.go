package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/artpar/shipwright/internal/core/domain"
)

// =============================================================================
// Sink Interface
// =============================================================================

// Sink delivers one notification to one channel. Implementations must be
// safe for concurrent use and should honor the context deadline.
type Sink interface {
	// Name identifies the sink in logs and delivery errors.
	Name() string

	// Send delivers the notification. A nil return means the message
	// reached the channel.
	Send(ctx context.Context, notification *domain.Notification) error
}

// =============================================================================
// Log Sink
// =============================================================================

// LogSink writes notifications to the structured log. It is always
// configured; the log line is the delivery channel of last resort.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{
		logger: logger.With("component", "notify.log"),
	}
}

// Name returns "log".
func (s *LogSink) Name() string { return "log" }

// Send writes the notification message as a single log record. The
// [NOTIFICATION] marker keeps operator messages greppable among the
// telemetry.
func (s *LogSink) Send(_ context.Context, notification *domain.Notification) error {
	attrs := []any{"notification_id", notification.ID}
	if notification.RunID != "" {
		attrs = append(attrs, "run_id", notification.RunID)
	}
	if notification.MonitorID != "" {
		attrs = append(attrs, "monitor_id", notification.MonitorID)
	}
	s.logger.Info("[NOTIFICATION] "+notification.Message, attrs...)
	return nil
}

// =============================================================================
// Webhook Sink
// =============================================================================

// WebhookConfig holds configuration for the webhook sink.
type WebhookConfig struct {
	// URL receives a JSON POST per delivery attempt.
	URL string

	// AuthToken, when set, is sent as a bearer token.
	AuthToken string

	// Timeout bounds one POST end to end.
	Timeout time.Duration
}

// WebhookSink posts notifications to a configured HTTP endpoint.
type WebhookSink struct {
	url        string
	authToken  string
	httpClient *http.Client
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	if cfg.Timeout == 0 {
		cfg.Timeout = domain.PolicyFor(domain.StepNotify).Timeout
	}

	return &WebhookSink{
		url:       cfg.URL,
		authToken: cfg.AuthToken,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name returns "webhook".
func (s *WebhookSink) Name() string { return "webhook" }

// webhookPayload is the JSON body posted per delivery attempt.
type webhookPayload struct {
	NotificationID string `json:"notification_id"`
	RunID          string `json:"run_id,omitempty"`
	MonitorID      string `json:"monitor_id,omitempty"`
	Message        string `json:"message"`
	CreatedAt      string `json:"created_at"`
}

// Send posts the notification as JSON. Any HTTP status of 400 or above is
// a delivery failure.
func (s *WebhookSink) Send(ctx context.Context, notification *domain.Notification) error {
	payload := webhookPayload{
		NotificationID: notification.ID,
		RunID:          notification.RunID,
		MonitorID:      notification.MonitorID,
		Message:        notification.Message,
		CreatedAt:      notification.CreatedAt.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned error %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
