package application

import (
	"context"
	"errors"
	"math"

	alerts "aire-cloud/internal/alerts/domain"
	measurements "aire-cloud/internal/measurements/domain"
)

// StationChecker verifies station references on rule create/update.
type StationChecker interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// Registry handles alert rule CRUD. All field validation happens here,
// at create/update time, so evaluation-time failures are limited to
// infrastructure errors.
type Registry struct {
	rules    alerts.RuleRepository
	stations StationChecker
}

// NewRegistry constructs a rule registry.
func NewRegistry(rules alerts.RuleRepository, stations StationChecker) (*Registry, error) {
	if rules == nil {
		return nil, errors.New("registry: nil rule repository")
	}
	if stations == nil {
		return nil, errors.New("registry: nil station checker")
	}
	return &Registry{rules: rules, stations: stations}, nil
}

// CreateRuleParams carries raw rule fields from the boundary. Enabled
// defaults to true when nil.
type CreateRuleParams struct {
	Name       string
	Pollutant  string
	Operator   string
	Threshold  float64
	StationID  *int64
	TimeWindow *string
	Enabled    *bool
}

// CreateRule validates and persists a new rule, returning it with the
// store-assigned id.
func (s *Registry) CreateRule(ctx context.Context, p CreateRuleParams) (*alerts.AlertRule, error) {
	if s == nil {
		return nil, errors.New("registry: nil registry")
	}
	pollutant, ok := measurements.ParsePollutant(p.Pollutant)
	if !ok {
		return nil, &alerts.ValidationError{Field: "pollutant", Message: "must be one of pm25, pm10, so2, no2, o3, co"}
	}
	operator, ok := alerts.ParseOperator(p.Operator)
	if !ok {
		return nil, &alerts.ValidationError{Field: "operator", Message: "must be one of gt, ge, lt, le"}
	}
	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}
	rule := &alerts.AlertRule{
		Name:       p.Name,
		StationID:  p.StationID,
		Pollutant:  pollutant,
		Operator:   operator,
		Threshold:  p.Threshold,
		TimeWindow: p.TimeWindow,
		Enabled:    enabled,
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkStation(ctx, rule.StationID); err != nil {
		return nil, err
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// UpdateRuleParams carries partial rule fields. Pointer fields are
// applied only when set; ClearStation widens the rule back to all
// stations.
type UpdateRuleParams struct {
	Name         *string
	Pollutant    *string
	Operator     *string
	Threshold    *float64
	StationID    *int64
	ClearStation bool
	TimeWindow   *string
	Enabled      *bool
}

func (p UpdateRuleParams) empty() bool {
	return p.Name == nil && p.Pollutant == nil && p.Operator == nil &&
		p.Threshold == nil && p.StationID == nil && !p.ClearStation &&
		p.TimeWindow == nil && p.Enabled == nil
}

// UpdateRule applies the supplied fields under create-time validation
// rules.
func (s *Registry) UpdateRule(ctx context.Context, id int64, p UpdateRuleParams) (*alerts.AlertRule, error) {
	if s == nil {
		return nil, errors.New("registry: nil registry")
	}
	if p.empty() {
		return nil, &alerts.ValidationError{Field: "body", Message: "no fields to update"}
	}
	rule, err := s.rules.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, alerts.ErrNotFound
	}

	if p.Name != nil {
		rule.Name = *p.Name
	}
	if p.Pollutant != nil {
		pollutant, ok := measurements.ParsePollutant(*p.Pollutant)
		if !ok {
			return nil, &alerts.ValidationError{Field: "pollutant", Message: "must be one of pm25, pm10, so2, no2, o3, co"}
		}
		rule.Pollutant = pollutant
	}
	if p.Operator != nil {
		operator, ok := alerts.ParseOperator(*p.Operator)
		if !ok {
			return nil, &alerts.ValidationError{Field: "operator", Message: "must be one of gt, ge, lt, le"}
		}
		rule.Operator = operator
	}
	if p.Threshold != nil {
		if math.IsNaN(*p.Threshold) || math.IsInf(*p.Threshold, 0) {
			return nil, &alerts.ValidationError{Field: "threshold", Message: "must be a finite number"}
		}
		rule.Threshold = *p.Threshold
	}
	if p.ClearStation {
		rule.StationID = nil
	} else if p.StationID != nil {
		rule.StationID = p.StationID
	}
	if p.TimeWindow != nil {
		rule.TimeWindow = p.TimeWindow
	}
	if p.Enabled != nil {
		rule.Enabled = *p.Enabled
	}

	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkStation(ctx, rule.StationID); err != nil {
		return nil, err
	}
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule removes a rule.
func (s *Registry) DeleteRule(ctx context.Context, id int64) error {
	if s == nil {
		return errors.New("registry: nil registry")
	}
	return s.rules.Delete(ctx, id)
}

// GetRule loads a single rule.
func (s *Registry) GetRule(ctx context.Context, id int64) (*alerts.AlertRule, error) {
	if s == nil {
		return nil, errors.New("registry: nil registry")
	}
	rule, err := s.rules.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, alerts.ErrNotFound
	}
	return rule, nil
}

// ListRules returns all rules, most recently created first.
func (s *Registry) ListRules(ctx context.Context) ([]alerts.AlertRule, error) {
	if s == nil {
		return nil, errors.New("registry: nil registry")
	}
	return s.rules.List(ctx)
}

func (s *Registry) checkStation(ctx context.Context, stationID *int64) error {
	if stationID == nil {
		return nil
	}
	exists, err := s.stations.Exists(ctx, *stationID)
	if err != nil {
		return err
	}
	if !exists {
		return &alerts.ValidationError{Field: "station_id", Message: "station does not exist"}
	}
	return nil
}
