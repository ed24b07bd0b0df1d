package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/models"
	"github.com/slyt3/GetItDone/internal/pool"
)

// LogSink writes each event as an info log line.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, ev models.Event) error {
	logging.Info("event_published", logging.Fields{
		Component: "notify",
		TaskID:    ev.TaskID,
		Method:    string(ev.Type),
		RequestID: ev.ID,
	})
	return nil
}

// WebhookSink POSTs each event as JSON to URL. Any non-2xx response fails
// the delivery.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSink) Deliver(ctx context.Context, ev models.Event) error {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if err := json.NewEncoder(buf).Encode(ev); err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, buf)
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", string(ev.Type))
	req.Header.Set("X-Event-ID", ev.ID)

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("posting event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// MultiSink delivers to every sink and returns the first error.
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, ev models.Event) error {
	var first error
	for _, s := range m {
		if err := s.Deliver(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
