package alert

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAlerts() []Alert {
	return []Alert{
		{Location: "Office-A", Date: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), MaxTemp: 26.3},
		{Location: "Office-B", Date: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), MaxTemp: 25.1},
	}
}

func TestWebhookNotifier_Notify(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, testLogger())
	if err := n.Notify(context.Background(), testAlerts()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(got.Alerts) != 2 {
		t.Fatalf("expected 2 alerts in payload, got %d", len(got.Alerts))
	}
	if got.Alerts[0].Location != "Office-A" || got.Alerts[0].MaxTemp != 26.3 {
		t.Errorf("alert[0] = %+v", got.Alerts[0])
	}
}

func TestWebhookNotifier_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, testLogger())
	if err := n.Notify(context.Background(), testAlerts()); err == nil {
		t.Error("expected error for 502 response")
	}
}

func TestFanout_ContinuesPastFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	defer cancel()

	f := &Fanout{
		Notifiers: []Notifier{
			NewWebhookNotifier(srv.URL, testLogger()), // fails
			b, // must still receive
		},
		Logger: testLogger(),
	}
	if err := f.Notify(context.Background(), testAlerts()); err != nil {
		t.Fatalf("Fanout.Notify: %v", err)
	}

	select {
	case a := <-ch:
		if a.Location != "Office-A" {
			t.Errorf("alert = %+v", a)
		}
	default:
		t.Error("broadcaster did not receive alert after webhook failure")
	}
}

func TestBroadcaster_SubscribeAndCancel(t *testing.T) {
	b := NewBroadcaster()
	ch1, cancel1 := b.Subscribe()
	_, cancel2 := b.Subscribe()
	if b.Subscribers() != 2 {
		t.Fatalf("subscribers = %d, want 2", b.Subscribers())
	}

	if err := b.Notify(context.Background(), testAlerts()); err != nil {
		t.Fatal(err)
	}
	if len(ch1) != 2 {
		t.Errorf("channel holds %d alerts, want 2", len(ch1))
	}

	cancel2()
	if b.Subscribers() != 1 {
		t.Errorf("subscribers after cancel = %d, want 1", b.Subscribers())
	}
	// Double cancel is safe.
	cancel2()
	cancel1()
	if b.Subscribers() != 0 {
		t.Errorf("subscribers = %d, want 0", b.Subscribers())
	}
}

func TestBroadcaster_SlowSubscriberDrops(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	defer cancel()

	// Fill past the buffer; Notify must not block.
	many := make([]Alert, 40)
	for i := range many {
		many[i] = Alert{Location: "Office-A", MaxTemp: 26.0}
	}
	done := make(chan struct{})
	go func() {
		_ = b.Notify(context.Background(), many)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on slow subscriber")
	}
	if len(ch) != 16 {
		t.Errorf("buffered alerts = %d, want 16", len(ch))
	}
}
