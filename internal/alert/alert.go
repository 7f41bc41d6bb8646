// Package alert delivers abnormal-temperature notifications raised by a
// pipeline run.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Alert describes one location-day whose rounded max temperature crossed
// the abnormal threshold.
type Alert struct {
	Location string    `json:"location"`
	Date     time.Time `json:"date"`
	MaxTemp  float64   `json:"max_temp"`
}

// Notifier receives alerts after a run publishes its summaries. Delivery
// failures are reported but never fail the run.
type Notifier interface {
	Notify(ctx context.Context, alerts []Alert) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, alerts []Alert) error {
	for _, a := range alerts {
		n.Logger.Warn("abnormal temperature detected",
			"location", a.Location,
			"date", a.Date.Format(time.DateOnly),
			"max_temp", a.MaxTemp,
		)
	}
	return nil
}

// WebhookNotifier POSTs the alert batch as JSON to a configured URL.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
	Logger *slog.Logger
}

// NewWebhookNotifier creates a webhook notifier with a bounded request
// timeout.
func NewWebhookNotifier(url string, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
		Logger: logger,
	}
}

type webhookPayload struct {
	GeneratedAt time.Time `json:"generated_at"`
	Alerts      []Alert   `json:"alerts"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, alerts []Alert) error {
	body, err := json.Marshal(webhookPayload{
		GeneratedAt: time.Now().UTC(),
		Alerts:      alerts,
	})
	if err != nil {
		return fmt.Errorf("marshaling alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.Logger.Info("delivered alert webhook", "url", n.URL, "alerts", len(alerts))
	return nil
}

// Fanout dispatches to every registered notifier, logging failures and
// continuing; one broken sink must not silence the rest.
type Fanout struct {
	Notifiers []Notifier
	Logger    *slog.Logger
}

func (f *Fanout) Notify(ctx context.Context, alerts []Alert) error {
	for _, n := range f.Notifiers {
		if err := n.Notify(ctx, alerts); err != nil {
			f.Logger.Error("alert delivery failed", "error", err)
		}
	}
	return nil
}

// Broadcaster fans alerts out to live subscribers, one buffered channel
// per watcher. Slow subscribers drop alerts rather than block a run.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Alert]struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Alert]struct{})}
}

// Subscribe registers a new watcher. The returned cancel func must be
// called when the watcher goes away.
func (b *Broadcaster) Subscribe() (<-chan Alert, func()) {
	ch := make(chan Alert, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Notify implements Notifier.
func (b *Broadcaster) Notify(_ context.Context, alerts []Alert) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		for _, a := range alerts {
			select {
			case ch <- a:
			default:
			}
		}
	}
	return nil
}

// Subscribers reports the current watcher count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
