package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/miradorstack/mirador-sentinel/internal/hub"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, alert models.Alert) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("alert",
		slog.String("title", alert.Title),
		slog.String("priority", string(alert.Priority)),
		slog.String("category", alert.Category),
		slog.String("source_id", alert.SourceID),
		slog.String("message", alert.Message),
	)
	return nil
}

// WebhookNotifier POSTs alerts as JSON to a fixed URL.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func (n WebhookNotifier) Notify(ctx context.Context, alert models.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// HubNotifier publishes alerts to websocket subscribers.
type HubNotifier struct {
	Hub *hub.Hub
}

func (n HubNotifier) Notify(_ context.Context, alert models.Alert) error {
	n.Hub.Publish(hub.Event{Type: hub.EventAlert, SourceID: alert.SourceID, Payload: alert, At: alert.CreatedAt})
	return nil
}
