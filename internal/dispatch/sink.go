package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"sos-guardian/internal/model"
)

// Sink delivers an alert to the external notification provider (push/SMS).
// Calls may be slow and may fail; the engine applies timeouts and retries.
type Sink interface {
	Notify(ctx context.Context, ev model.SosEvent) error
}

type SinkFunc func(ctx context.Context, ev model.SosEvent) error

func (f SinkFunc) Notify(ctx context.Context, ev model.SosEvent) error {
	return f(ctx, ev)
}

// LogSink acknowledges every alert after logging it. Default when no
// provider endpoint is configured.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, ev model.SosEvent) error {
	log.Printf("notify: session=%s device=%s status=%s", ev.SessionID, ev.CreatorDeviceID, ev.Status)
	return nil
}

// HTTPSink posts the event to a provider webhook. Any non-2xx response is a
// delivery failure.
type HTTPSink struct {
	URL    string
	Client *http.Client
}

func NewHTTPSink(url string) *HTTPSink {
	return &HTTPSink{URL: url, Client: http.DefaultClient}
}

func (s *HTTPSink) Notify(ctx context.Context, ev model.SosEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sink request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sink request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}
