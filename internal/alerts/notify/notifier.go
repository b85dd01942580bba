package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	alertapp "aire-cloud/internal/alerts/application"
	alerts "aire-cloud/internal/alerts/domain"
	stations "aire-cloud/internal/stations/domain"
)

// RuleReader loads alert rules.
type RuleReader interface {
	Get(ctx context.Context, id int64) (*alerts.AlertRule, error)
}

// StationReader loads station metadata.
type StationReader interface {
	Get(ctx context.Context, id int64) (*stations.Station, error)
}

// Clock provides time for cooldown tracking.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders committed alert events and delivers them via a
// channel, suppressing repeats per rule and station.
type Notifier struct {
	rules    RuleReader
	stations StationReader
	channel  Channel
	template *Template
	clock    Clock

	mu           sync.Mutex
	sent         map[string]sendRecord
	cooldown     time.Duration
	dedupeWindow time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the
// same rule and station.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(rules RuleReader, stationReader StationReader, channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		rules:    rules,
		stations: stationReader,
		channel:  channel,
		template: template,
		clock:    systemClock{},
		sent:     make(map[string]sendRecord),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements the evaluator's notifier contract.
func (n *Notifier) Notify(ctx context.Context, event alertapp.EventNotification) {
	if n == nil || n.channel == nil {
		return
	}
	data := n.buildTemplateData(ctx, event)
	content, err := n.template.Render(data)
	if err != nil {
		return
	}
	if !n.shouldSend(event.Event.RuleID, event.Event.StationID, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		return
	}
	n.markSent(event.Event.RuleID, event.Event.StationID, content)
}

func (n *Notifier) buildTemplateData(ctx context.Context, event alertapp.EventNotification) TemplateData {
	ev := event.Event

	ruleName := fmt.Sprintf("rule-%d", ev.RuleID)
	if n.rules != nil {
		if rule, err := n.rules.Get(ctx, ev.RuleID); err == nil && rule != nil && rule.Name != "" {
			ruleName = rule.Name
		}
	}
	stationName := fmt.Sprintf("station-%d", ev.StationID)
	if n.stations != nil {
		if station, err := n.stations.Get(ctx, ev.StationID); err == nil && station != nil && station.Name != "" {
			stationName = station.Name
		}
	}

	return TemplateData{
		Station:    stationName,
		StationID:  ev.StationID,
		Rule:       ruleName,
		RuleID:     ev.RuleID,
		Pollutant:  string(ev.Pollutant),
		Value:      formatFloat(ev.Value),
		Threshold:  fmt.Sprintf("%s %s", ev.Operator, formatFloat(ev.Threshold)),
		MeasuredAt: ev.TS.Format(time.RFC3339),
		Event:      event.Type,
		EventLabel: eventLabel(event.Type),
	}
}

func eventLabel(event string) string {
	switch event {
	case "created":
		return "Triggered"
	case "refreshed":
		return "Refreshed"
	default:
		return event
	}
}

func formatFloat(value float64) string {
	return fmt.Sprintf("%.2f", value)
}

func (n *Notifier) shouldSend(ruleID, stationID int64, content string) bool {
	if n == nil {
		return false
	}
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(ruleID, stationID)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(ruleID, stationID int64, content string) {
	if n == nil {
		return
	}
	key := notificationKey(ruleID, stationID)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(ruleID, stationID int64) string {
	return fmt.Sprintf("%d|%d", ruleID, stationID)
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
