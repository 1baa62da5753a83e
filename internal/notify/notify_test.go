package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var (
		gotBody        []byte
		gotContentType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, zap.NewNop())
	n.now = func() time.Time {
		return time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	}

	n.Alert(context.Background(), "Realized PnL exceeded threshold", map[string]any{
		"exchange": "binance",
		"pnl":      "61000",
	})

	require.Equal(t, "application/json", gotContentType)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	require.Equal(t, "alert", payload["level"])
	require.Equal(t, "Realized PnL exceeded threshold", payload["title"])
	require.Equal(t, "2026-08-24T09:00:00Z", payload["time"])

	fields, ok := payload["fields"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "binance", fields["exchange"])
}

func TestWebhookNotifierSwallowsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, zap.NewNop())
	// Must not panic or propagate.
	n.Event(context.Background(), "Weekly DCA buy executed", nil)
}

type countingNotifier struct {
	events int
	alerts int
}

func (c *countingNotifier) Event(context.Context, string, map[string]any) { c.events++ }
func (c *countingNotifier) Alert(context.Context, string, map[string]any) { c.alerts++ }

func TestMultiFansOut(t *testing.T) {
	a, b := &countingNotifier{}, &countingNotifier{}
	m := NewMulti(a, b)

	m.Event(context.Background(), "e", nil)
	m.Alert(context.Background(), "a", nil)

	require.Equal(t, 1, a.events)
	require.Equal(t, 1, b.events)
	require.Equal(t, 1, a.alerts)
	require.Equal(t, 1, b.alerts)
}
