package alerts

import (
	"context"
	"math"
	"strings"
	"time"

	measurements "aire-cloud/internal/measurements/domain"
)

// Operator compares a reading against a rule threshold.
type Operator string

const (
	OperatorGreater        Operator = "gt"
	OperatorGreaterOrEqual Operator = "ge"
	OperatorLess           Operator = "lt"
	OperatorLessOrEqual    Operator = "le"
)

// ParseOperator validates an external operator tag.
func ParseOperator(value string) (Operator, bool) {
	switch Operator(value) {
	case OperatorGreater, OperatorGreaterOrEqual, OperatorLess, OperatorLessOrEqual:
		return Operator(value), true
	default:
		return "", false
	}
}

// Valid returns true when the operator is supported.
func (o Operator) Valid() bool {
	_, ok := ParseOperator(string(o))
	return ok
}

// Satisfied evaluates the comparator. Comparisons are strict floating
// point, no epsilon tolerance. Unknown operators never match.
func (o Operator) Satisfied(value, threshold float64) bool {
	switch o {
	case OperatorGreater:
		return value > threshold
	case OperatorGreaterOrEqual:
		return value >= threshold
	case OperatorLess:
		return value < threshold
	case OperatorLessOrEqual:
		return value <= threshold
	default:
		return false
	}
}

// AlertRule defines a threshold rule over the latest reading per
// station. A nil StationID scopes the rule to every known station.
// TimeWindow is stored but not consulted by evaluation; it is reserved
// for windowed aggregation.
type AlertRule struct {
	ID         int64                  `json:"id"`
	Name       string                 `json:"name"`
	StationID  *int64                 `json:"station_id"`
	Pollutant  measurements.Pollutant `json:"pollutant"`
	Operator   Operator               `json:"operator"`
	Threshold  float64                `json:"threshold"`
	TimeWindow *string                `json:"window,omitempty"`
	Enabled    bool                   `json:"enabled"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Validate checks rule invariants.
func (r AlertRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Message: "must not be empty"}
	}
	if !r.Pollutant.Valid() {
		return &ValidationError{Field: "pollutant", Message: "must be one of pm25, pm10, so2, no2, o3, co"}
	}
	if !r.Operator.Valid() {
		return &ValidationError{Field: "operator", Message: "must be one of gt, ge, lt, le"}
	}
	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
		return &ValidationError{Field: "threshold", Message: "must be a finite number"}
	}
	return nil
}

// RuleRepository manages alert rule persistence.
type RuleRepository interface {
	Create(ctx context.Context, rule *AlertRule) error
	Get(ctx context.Context, id int64) (*AlertRule, error)
	Update(ctx context.Context, rule *AlertRule) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]AlertRule, error)
	ListEnabled(ctx context.Context) ([]AlertRule, error)
}
