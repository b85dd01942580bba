package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	alerts "aire-cloud/internal/alerts/domain"
	"aire-cloud/internal/audit"
	"aire-cloud/internal/auth"
	measurements "aire-cloud/internal/measurements/domain"
)

const defaultAlertRulesTable = "alert_rules"

// RuleRepository is a Postgres repository for alert rules.
type RuleRepository struct {
	db    *sql.DB
	table string
}

// NewRuleRepository constructs a repository.
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db, table: defaultAlertRulesTable}
}

// Create inserts a rule and assigns its id.
func (r *RuleRepository) Create(ctx context.Context, rule *alerts.AlertRule) error {
	if r == nil || r.db == nil {
		return errors.New("alert rule repo: nil db")
	}
	if rule == nil {
		return errors.New("alert rule repo: nil rule")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = rule.CreatedAt
	}
	err := r.db.QueryRowContext(ctx, `
INSERT INTO alert_rules (
	name, station_id, pollutant, operator, threshold, time_window, enabled,
	created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9
)
RETURNING id`, rule.Name, rule.StationID, string(rule.Pollutant), string(rule.Operator),
		rule.Threshold, rule.TimeWindow, rule.Enabled, rule.CreatedAt, rule.UpdatedAt).Scan(&rule.ID)
	if err != nil {
		return err
	}
	logRuleAudit(ctx, r.db, "alert_rule.create", rule)
	return nil
}

// Get loads a rule by id.
func (r *RuleRepository) Get(ctx context.Context, id int64) (*alerts.AlertRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert rule repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, station_id, pollutant, operator, threshold, time_window, enabled,
	created_at, updated_at
FROM alert_rules
WHERE id = $1
LIMIT 1`, id)
	rule, err := scanRule(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

// Update rewrites a rule's mutable fields.
func (r *RuleRepository) Update(ctx context.Context, rule *alerts.AlertRule) error {
	if r == nil || r.db == nil {
		return errors.New("alert rule repo: nil db")
	}
	if rule == nil {
		return errors.New("alert rule repo: nil rule")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
UPDATE alert_rules
SET name = $1, station_id = $2, pollutant = $3, operator = $4, threshold = $5,
	time_window = $6, enabled = $7, updated_at = $8
WHERE id = $9`, rule.Name, rule.StationID, string(rule.Pollutant), string(rule.Operator),
		rule.Threshold, rule.TimeWindow, rule.Enabled, rule.UpdatedAt, rule.ID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return alerts.ErrNotFound
	}
	logRuleAudit(ctx, r.db, "alert_rule.update", rule)
	return nil
}

// Delete removes a rule. Its events cascade away with it.
func (r *RuleRepository) Delete(ctx context.Context, id int64) error {
	if r == nil || r.db == nil {
		return errors.New("alert rule repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return alerts.ErrNotFound
	}
	logRuleAudit(ctx, r.db, "alert_rule.delete", &alerts.AlertRule{ID: id})
	return nil
}

// List returns all rules, newest first.
func (r *RuleRepository) List(ctx context.Context) ([]alerts.AlertRule, error) {
	return r.list(ctx, `
SELECT id, name, station_id, pollutant, operator, threshold, time_window, enabled,
	created_at, updated_at
FROM alert_rules
ORDER BY created_at DESC, id DESC`)
}

// ListEnabled returns enabled rules in creation order.
func (r *RuleRepository) ListEnabled(ctx context.Context) ([]alerts.AlertRule, error) {
	return r.list(ctx, `
SELECT id, name, station_id, pollutant, operator, threshold, time_window, enabled,
	created_at, updated_at
FROM alert_rules
WHERE enabled = TRUE
ORDER BY created_at ASC, id ASC`)
}

func (r *RuleRepository) list(ctx context.Context, query string) ([]alerts.AlertRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert rule repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.AlertRule
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanRule(scan func(dest ...any) error) (*alerts.AlertRule, error) {
	var (
		rule      alerts.AlertRule
		pollutant string
		op        string
	)
	if err := scan(
		&rule.ID,
		&rule.Name,
		&rule.StationID,
		&pollutant,
		&op,
		&rule.Threshold,
		&rule.TimeWindow,
		&rule.Enabled,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.Pollutant = measurements.Pollutant(pollutant)
	rule.Operator = alerts.Operator(op)
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}

func logRuleAudit(ctx context.Context, db *sql.DB, action string, rule *alerts.AlertRule) {
	if db == nil || rule == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"name":       rule.Name,
		"station_id": rule.StationID,
		"pollutant":  rule.Pollutant,
		"operator":   rule.Operator,
		"threshold":  rule.Threshold,
		"enabled":    rule.Enabled,
	})
	repo := audit.NewRepository(db)
	if repo == nil {
		return
	}
	_ = repo.Log(ctx, audit.Entry{
		Actor:        auth.SubjectFromContext(ctx),
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       action,
		ResourceType: "alert_rule",
		ResourceID:   strconv.FormatInt(rule.ID, 10),
		Metadata:     meta,
		CreatedAt:    time.Now().UTC(),
	})
}
