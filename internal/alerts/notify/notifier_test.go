package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	alertapp "aire-cloud/internal/alerts/application"
	alerts "aire-cloud/internal/alerts/domain"
	measurements "aire-cloud/internal/measurements/domain"
	stations "aire-cloud/internal/stations/domain"
)

type stubRuleReader struct {
	rule *alerts.AlertRule
}

func (s stubRuleReader) Get(_ context.Context, _ int64) (*alerts.AlertRule, error) {
	return s.rule, nil
}

type stubStationReader struct {
	station *stations.Station
}

func (s stubStationReader) Get(_ context.Context, _ int64) (*stations.Station, error) {
	return s.station, nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testNotification() alertapp.EventNotification {
	return alertapp.EventNotification{
		Type: "created",
		Event: alerts.AlertEvent{
			RuleID:    1,
			StationID: 7,
			TS:        time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			Pollutant: measurements.PollutantPM25,
			Value:     80,
			Operator:  alerts.OperatorGreater,
			Threshold: 35,
		},
	}
}

func TestWebhookNotifierPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookChannel: %v", err)
	}
	notifier, err := NewNotifier(
		stubRuleReader{rule: &alerts.AlertRule{ID: 1, Name: "pm25 high"}},
		stubStationReader{station: &stations.Station{ID: 7, Name: "miraflores"}},
		channel,
		nil,
	)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}

	notifier.Notify(context.Background(), testNotification())

	select {
	case payload := <-payloadCh:
		content := payload.Text.Content
		for _, want := range []string{"miraflores", "pm25 high", "pm25", "80.00", "gt 35.00", "Triggered"} {
			if !strings.Contains(content, want) {
				t.Errorf("content missing %q:\n%s", want, content)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("no webhook delivery")
	}
}

func TestNotifierCooldownSuppressesRepeats(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookChannel: %v", err)
	}
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	notifier, err := NewNotifier(nil, nil, channel, nil,
		WithCooldown(time.Minute),
		WithClock(clock),
	)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}

	notifier.Notify(context.Background(), testNotification())
	notifier.Notify(context.Background(), testNotification())

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 1 {
		t.Fatalf("calls within cooldown = %d, want 1", got)
	}

	clock.Advance(2 * time.Minute)
	notifier.Notify(context.Background(), testNotification())

	mu.Lock()
	got = calls
	mu.Unlock()
	if got != 2 {
		t.Fatalf("calls after cooldown = %d, want 2", got)
	}
}

func TestNotifierFailedSendDoesNotMarkCooldown(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookChannel: %v", err)
	}
	notifier, err := NewNotifier(nil, nil, channel, nil, WithCooldown(time.Hour))
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}

	notifier.Notify(context.Background(), testNotification())
	notifier.Notify(context.Background(), testNotification())

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 2 {
		t.Fatalf("calls = %d, want 2 (failed send should not start cooldown)", got)
	}
}
