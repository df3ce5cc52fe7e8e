package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oszuidwest/voicetutor/internal/types"
	"github.com/oszuidwest/voicetutor/internal/util"
)

// AppName is the application name used in notifications.
const AppName = "Voice Tutor"

const webhookTimeout = 10 * time.Second

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event     string `json:"event"`
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message,omitempty"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// SendNoticeWebhook forwards a user notice to the webhook.
func SendNoticeWebhook(webhookURL string, notice types.Notice) error {
	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "notice",
		Kind:      string(notice.Kind),
		Message:   notice.Message,
		Source:    AppName,
		Timestamp: notice.Timestamp.UTC().Format(time.RFC3339),
	})
}

// SendTestWebhook sends a test webhook notification.
func SendTestWebhook(webhookURL string) error {
	if webhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	return sendWebhook(webhookURL, &WebhookPayload{
		Event:     "test",
		Message:   "This is a test notification from " + AppName,
		Source:    AppName,
		Timestamp: timestampUTC(),
	})
}

// sendWebhook delivers a notification to the configured webhook endpoint.
func sendWebhook(webhookURL string, payload *WebhookPayload) error {
	if !util.IsConfigured(webhookURL) {
		return nil // Silently skip if not configured
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	client := &http.Client{Timeout: webhookTimeout}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer util.SafeCloseFunc(resp.Body.Close, "webhook response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// timestampUTC returns the current UTC time in RFC3339 format.
func timestampUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
