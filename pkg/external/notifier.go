package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookNotifier is the concrete Notifier (spec §6.G): a one-shot JSON POST
// to a Slack-style incoming-webhook URL. Best-effort — callers log a
// non-nil error and move on, never treat it as fatal (spec §7).
type WebhookNotifier struct {
	url  string
	http *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, http: &http.Client{Timeout: 5 * time.Second}}
}

type webhookPayload struct {
	Text   string            `json:"text"`
	Kind   NotificationKind  `json:"kind"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	if n.url == "" {
		return nil
	}
	body, err := json.Marshal(webhookPayload{Text: note.Message, Kind: note.Kind, Fields: note.Fields})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("external: webhook status %d", resp.StatusCode)
	}
	return nil
}
