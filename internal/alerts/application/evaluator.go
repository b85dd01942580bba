package application

import (
	"context"
	"errors"
	"time"

	alerts "aire-cloud/internal/alerts/domain"
	measurements "aire-cloud/internal/measurements/domain"
	"aire-cloud/internal/observability/metrics"
)

// LatestReader reads the latest measurement per station.
type LatestReader interface {
	LatestByStation(ctx context.Context, stationID int64) (*measurements.Measurement, error)
	LatestAll(ctx context.Context) ([]measurements.StationMeasurement, error)
}

// EventNotification describes a committed event to downstream fan-out.
type EventNotification struct {
	Type  string            `json:"type"` // "created" or "refreshed"
	Event alerts.AlertEvent `json:"event"`
}

// Notifier publishes committed alert events. Failures are the
// notifier's problem, never the evaluation's.
type Notifier interface {
	Notify(ctx context.Context, event EventNotification)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Evaluator runs enabled rules against the latest reading per station
// and writes deduplicated alert events. It holds no state of its own;
// every call re-reads current rules and readings.
type Evaluator struct {
	rules    alerts.RuleRepository
	latest   LatestReader
	events   alerts.EventStore
	notifier Notifier
	clock    Clock
}

// EvaluatorOption customizes the evaluator.
type EvaluatorOption func(*Evaluator)

// WithNotifier assigns a notifier.
func WithNotifier(notifier Notifier) EvaluatorOption {
	return func(e *Evaluator) {
		e.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) EvaluatorOption {
	return func(e *Evaluator) {
		e.clock = clock
	}
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(rules alerts.RuleRepository, latest LatestReader, events alerts.EventStore, opts ...EvaluatorOption) (*Evaluator, error) {
	if rules == nil {
		return nil, errors.New("evaluator: nil rule repository")
	}
	if latest == nil {
		return nil, errors.New("evaluator: nil latest reader")
	}
	if events == nil {
		return nil, errors.New("evaluator: nil event store")
	}
	evaluator := &Evaluator{rules: rules, latest: latest, events: events, clock: systemClock{}}
	for _, opt := range opts {
		opt(evaluator)
	}
	return evaluator, nil
}

// Evaluate runs one rule (when ruleID is set) or all enabled rules and
// returns the number of newly created events. All event writes of the
// call commit as one transaction; on any store failure the run aborts
// and reports zero new events.
func (e *Evaluator) Evaluate(ctx context.Context, ruleID *int64) (int, error) {
	if e == nil {
		return 0, errors.New("evaluator: nil evaluator")
	}
	start := e.clock.Now()

	rules, err := e.loadRules(ctx, ruleID)
	if err != nil {
		metrics.ObserveEvaluate(metrics.ResultError, time.Since(start))
		return 0, err
	}
	if len(rules) == 0 {
		metrics.ObserveEvaluate(metrics.ResultSuccess, time.Since(start))
		return 0, nil
	}

	candidates, err := e.collectCandidates(ctx, rules)
	if err != nil {
		metrics.ObserveEvaluate(metrics.ResultError, time.Since(start))
		return 0, err
	}
	if len(candidates) == 0 {
		metrics.ObserveEvaluate(metrics.ResultSuccess, time.Since(start))
		return 0, nil
	}

	created, notifications, err := e.commitCandidates(ctx, candidates)
	if err != nil {
		metrics.ObserveEvaluate(metrics.ResultError, time.Since(start))
		return 0, err
	}

	for _, n := range notifications {
		metrics.IncAlertEvent(n.Type)
		if e.notifier != nil {
			e.notifier.Notify(ctx, n)
		}
	}
	metrics.ObserveEvaluate(metrics.ResultSuccess, time.Since(start))
	return created, nil
}

func (e *Evaluator) loadRules(ctx context.Context, ruleID *int64) ([]alerts.AlertRule, error) {
	if ruleID == nil {
		return e.rules.ListEnabled(ctx)
	}
	rule, err := e.rules.Get(ctx, *ruleID)
	if err != nil {
		if errors.Is(err, alerts.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if rule == nil || !rule.Enabled {
		return nil, nil
	}
	return []alerts.AlertRule{*rule}, nil
}

// collectCandidates is the read phase: for each rule, the latest
// reading of each target station is compared against the threshold.
// Latest readings are fetched once per distinct station and memoized
// across rules within the call.
func (e *Evaluator) collectCandidates(ctx context.Context, rules []alerts.AlertRule) ([]alerts.AlertEvent, error) {
	var (
		candidates []alerts.AlertEvent
		allLatest  []measurements.StationMeasurement
		allLoaded  bool
		byStation  = make(map[int64]*measurements.Measurement)
	)

	loadAll := func() error {
		if allLoaded {
			return nil
		}
		rows, err := e.latest.LatestAll(ctx)
		if err != nil {
			return err
		}
		allLatest = rows
		for i := range rows {
			m := rows[i].Measurement
			byStation[m.StationID] = &m
		}
		allLoaded = true
		return nil
	}

	for _, rule := range rules {
		// Rules written outside the validated path with an unknown
		// pollutant or operator are skipped, not errors.
		if !rule.Pollutant.Valid() || !rule.Operator.Valid() {
			continue
		}

		var targets []*measurements.Measurement
		if rule.StationID != nil {
			m, seen := byStation[*rule.StationID]
			if !seen && !allLoaded {
				fetched, err := e.latest.LatestByStation(ctx, *rule.StationID)
				if err != nil {
					return nil, err
				}
				byStation[*rule.StationID] = fetched
				m = fetched
			}
			if m != nil {
				targets = append(targets, m)
			}
		} else {
			if err := loadAll(); err != nil {
				return nil, err
			}
			for i := range allLatest {
				m := allLatest[i].Measurement
				targets = append(targets, &m)
			}
		}

		for _, m := range targets {
			value, ok := m.Value(rule.Pollutant)
			if !ok {
				continue // absent reading: not satisfied, not an error
			}
			if !rule.Operator.Satisfied(value, rule.Threshold) {
				continue
			}
			candidates = append(candidates, alerts.AlertEvent{
				RuleID:    rule.ID,
				StationID: m.StationID,
				TS:        m.TS,
				Pollutant: rule.Pollutant,
				Value:     value,
				Operator:  rule.Operator,
				Threshold: rule.Threshold,
			})
		}
	}
	return candidates, nil
}

// commitCandidates is the write phase: all upserts of the run share
// one transaction so every rule's events win or fail together.
func (e *Evaluator) commitCandidates(ctx context.Context, candidates []alerts.AlertEvent) (int, []EventNotification, error) {
	tx, err := e.events.Begin(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	created := 0
	notifications := make([]EventNotification, 0, len(candidates))
	for i := range candidates {
		outcome, err := tx.Upsert(ctx, &candidates[i])
		if err != nil {
			return 0, nil, err
		}
		kind := "refreshed"
		if outcome == alerts.OutcomeInserted {
			created++
			kind = "created"
		}
		notifications = append(notifications, EventNotification{Type: kind, Event: candidates[i]})
	}
	if err := tx.Commit(); err != nil {
		return 0, nil, err
	}
	return created, notifications, nil
}
