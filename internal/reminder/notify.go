package reminder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	appLog "github.com/wlkla/iPredict/internal/log"
)

// Notifier delivers a fired reminder somewhere.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, r Reminder) error
}

// LogNotifier writes reminders to the application log.
type LogNotifier struct{}

func (LogNotifier) Name() string { return "log" }

func (LogNotifier) Notify(_ context.Context, r Reminder) error {
	appLog.Info("reminder", "category", r.CategoryName, "kind", string(r.Kind),
		"target", r.Target.Format("2006-01-02"), "message", r.Message())
	return nil
}

// WebhookNotifier POSTs each reminder as JSON.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// NewWebhookNotifier returns a notifier with a bounded client timeout.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

type webhookPayload struct {
	Reminder
	Key     string `json:"key"`
	Message string `json:"message"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, r Reminder) error {
	if w.URL == "" {
		return errors.New("webhook URL is empty")
	}
	body, err := json.Marshal(webhookPayload{Reminder: r, Key: r.Key(), Message: r.Message()})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
