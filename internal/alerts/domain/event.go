package alerts

import (
	"context"
	"time"

	measurements "aire-cloud/internal/measurements/domain"
)

// AlertEvent records one rule hit against a station's reading. Events
// are deduplicated on (rule_id, station_id, ts): repeated evaluation
// of the same latest reading refreshes value/operator/threshold in
// place instead of inserting a second row.
type AlertEvent struct {
	ID        int64                  `json:"id"`
	RuleID    int64                  `json:"rule_id"`
	StationID int64                  `json:"station_id"`
	TS        time.Time              `json:"ts"`
	Pollutant measurements.Pollutant `json:"pollutant"`
	Value     float64                `json:"value"`
	Operator  Operator               `json:"operator"`
	Threshold float64                `json:"threshold"`
	CreatedAt time.Time              `json:"created_at"`
}

// EnrichedEvent carries display names joined in for read APIs.
type EnrichedEvent struct {
	AlertEvent
	RuleName    string `json:"rule_name"`
	StationName string `json:"station_name"`
}

// UpsertOutcome reports which branch a conditional event write took.
type UpsertOutcome int

const (
	OutcomeInserted UpsertOutcome = iota
	OutcomeUpdated
)

// String renders the outcome for logs and metrics labels.
func (o UpsertOutcome) String() string {
	if o == OutcomeInserted {
		return "inserted"
	}
	return "updated"
}

// EventQuery filters event reads.
type EventQuery struct {
	RuleID    *int64
	StationID *int64
	Start     *time.Time
	End       *time.Time
	Limit     int
	Offset    int
}

// EventTx groups the event writes of one evaluation run into a single
// atomic unit.
type EventTx interface {
	// Upsert performs the atomic insert-if-absent-else-update keyed
	// by (rule_id, station_id, ts).
	Upsert(ctx context.Context, event *AlertEvent) (UpsertOutcome, error)
	Commit() error
	Rollback() error
}

// EventStore persists alert events.
type EventStore interface {
	Begin(ctx context.Context) (EventTx, error)
	List(ctx context.Context, q EventQuery) ([]EnrichedEvent, error)
}
