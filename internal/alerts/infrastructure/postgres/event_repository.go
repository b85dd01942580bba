package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	alerts "aire-cloud/internal/alerts/domain"
	measurements "aire-cloud/internal/measurements/domain"
)

// EventRepository is a Postgres store for alert events.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository constructs an event store.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Begin opens a transaction for one evaluation run's writes.
func (r *EventRepository) Begin(ctx context.Context) (alerts.EventTx, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert event repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &eventTx{tx: tx}, nil
}

type eventTx struct {
	tx *sql.Tx
}

// Upsert inserts the event or, when (rule_id, station_id, ts) already
// exists, overwrites value, operator and threshold in place. The xmax
// system column distinguishes the two branches: it is zero only for a
// freshly inserted row.
func (t *eventTx) Upsert(ctx context.Context, event *alerts.AlertEvent) (alerts.UpsertOutcome, error) {
	if t == nil || t.tx == nil {
		return alerts.OutcomeUpdated, errors.New("alert event tx: nil tx")
	}
	if event == nil {
		return alerts.OutcomeUpdated, errors.New("alert event tx: nil event")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	var inserted bool
	err := t.tx.QueryRowContext(ctx, `
INSERT INTO alert_events (
	rule_id, station_id, ts, pollutant, value, operator, threshold, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (rule_id, station_id, ts)
DO UPDATE SET
	pollutant = EXCLUDED.pollutant,
	value = EXCLUDED.value,
	operator = EXCLUDED.operator,
	threshold = EXCLUDED.threshold
RETURNING id, (xmax = 0)`,
		event.RuleID, event.StationID, event.TS, string(event.Pollutant),
		event.Value, string(event.Operator), event.Threshold, event.CreatedAt,
	).Scan(&event.ID, &inserted)
	if err != nil {
		return alerts.OutcomeUpdated, err
	}
	if inserted {
		return alerts.OutcomeInserted, nil
	}
	return alerts.OutcomeUpdated, nil
}

func (t *eventTx) Commit() error {
	if t == nil || t.tx == nil {
		return errors.New("alert event tx: nil tx")
	}
	return t.tx.Commit()
}

func (t *eventTx) Rollback() error {
	if t == nil || t.tx == nil {
		return errors.New("alert event tx: nil tx")
	}
	return t.tx.Rollback()
}

// List returns events newest first, joined with rule and station names.
func (r *EventRepository) List(ctx context.Context, q alerts.EventQuery) ([]alerts.EnrichedEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert event repo: nil db")
	}

	var (
		where []string
		args  []any
	)
	if q.RuleID != nil {
		args = append(args, *q.RuleID)
		where = append(where, fmt.Sprintf("e.rule_id = $%d", len(args)))
	}
	if q.StationID != nil {
		args = append(args, *q.StationID)
		where = append(where, fmt.Sprintf("e.station_id = $%d", len(args)))
	}
	if q.Start != nil {
		args = append(args, *q.Start)
		where = append(where, fmt.Sprintf("e.ts >= $%d", len(args)))
	}
	if q.End != nil {
		args = append(args, *q.End)
		where = append(where, fmt.Sprintf("e.ts <= $%d", len(args)))
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
SELECT e.id, e.rule_id, e.station_id, e.ts, e.pollutant, e.value, e.operator,
	e.threshold, e.created_at, r.name, s.name
FROM alert_events e
JOIN alert_rules r ON r.id = e.rule_id
JOIN stations s ON s.id = e.station_id
%s
ORDER BY e.ts DESC, e.id DESC
LIMIT $%d OFFSET $%d`, whereSQL, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.EnrichedEvent
	for rows.Next() {
		var (
			ev        alerts.EnrichedEvent
			pollutant string
			op        string
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.RuleID,
			&ev.StationID,
			&ev.TS,
			&pollutant,
			&ev.Value,
			&op,
			&ev.Threshold,
			&ev.CreatedAt,
			&ev.RuleName,
			&ev.StationName,
		); err != nil {
			return nil, err
		}
		ev.Pollutant = measurements.Pollutant(pollutant)
		ev.Operator = alerts.Operator(op)
		ev.CreatedAt = ev.CreatedAt.UTC()
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
