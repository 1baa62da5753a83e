// Package notify delivers trade and alert events to operators. Delivery is
// best effort: a failed notification is logged and never propagated back
// into the money path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notifier receives structured events. Event is informational, Alert marks
// anomalies that need operator attention.
type Notifier interface {
	Event(ctx context.Context, title string, fields map[string]any)
	Alert(ctx context.Context, title string, fields map[string]any)
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Event(_ context.Context, title string, fields map[string]any) {
	n.logger.Info(title, zap.Any("fields", fields))
}

func (n *LogNotifier) Alert(_ context.Context, title string, fields map[string]any) {
	n.logger.Warn(title, zap.String("level", "alert"), zap.Any("fields", fields))
}

// WebhookNotifier POSTs events as JSON to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		now:    time.Now,
	}
}

func (n *WebhookNotifier) Event(ctx context.Context, title string, fields map[string]any) {
	n.post(ctx, "event", title, fields)
}

func (n *WebhookNotifier) Alert(ctx context.Context, title string, fields map[string]any) {
	n.post(ctx, "alert", title, fields)
}

func (n *WebhookNotifier) post(ctx context.Context, level, title string, fields map[string]any) {
	payload := map[string]any{
		"level":  level,
		"title":  title,
		"time":   n.now().UTC().Format(time.RFC3339),
		"fields": fields,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("marshal notification", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("build notification request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Error("send notification", zap.Error(err), zap.String("title", title))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Error("notification rejected",
			zap.Int("status", resp.StatusCode), zap.String("title", title))
	}
}

// Multi fans out to several notifiers.
type Multi struct {
	targets []Notifier
}

func NewMulti(targets ...Notifier) *Multi {
	return &Multi{targets: targets}
}

func (m *Multi) Event(ctx context.Context, title string, fields map[string]any) {
	for _, t := range m.targets {
		t.Event(ctx, title, fields)
	}
}

func (m *Multi) Alert(ctx context.Context, title string, fields map[string]any) {
	for _, t := range m.targets {
		t.Alert(ctx, title, fields)
	}
}
