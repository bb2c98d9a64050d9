package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WebhookNotifier posts alerts as JSON to an HTTP endpoint. Refresh alerts
// carry the run summary, including every failed unit, under "run".
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
	log    zerolog.Logger
}

type webhookPayload struct {
	Level   AlertLevel        `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Run     *RunSummary       `json:"run,omitempty"`
	SentAt  time.Time         `json:"sent_at"`
}

func NewWebhookNotifier(url string, log zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
		log:    log.With().Str("component", "webhook").Logger(),
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	err := postJSON(ctx, w.client, w.url, webhookPayload{
		Level:   alert.Level,
		Title:   alert.Title,
		Message: alert.Message,
		Fields:  alert.Fields,
		Run:     alert.Run,
		SentAt:  w.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	w.log.Debug().Str("title", alert.Title).Msg("sent alert")
	return nil
}

// postJSON posts v and treats any non-2xx answer as an error.
func postJSON(ctx context.Context, client *http.Client, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
