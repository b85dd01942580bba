package application

import (
	"context"
	"testing"

	alerts "aire-cloud/internal/alerts/domain"
	measurements "aire-cloud/internal/measurements/domain"
)

type memRuleRepo struct {
	nextID int64
	rules  map[int64]alerts.AlertRule
}

func newMemRuleRepo() *memRuleRepo {
	return &memRuleRepo{nextID: 1, rules: make(map[int64]alerts.AlertRule)}
}

func (s *memRuleRepo) Create(_ context.Context, rule *alerts.AlertRule) error {
	rule.ID = s.nextID
	s.nextID++
	s.rules[rule.ID] = *rule
	return nil
}

func (s *memRuleRepo) Get(_ context.Context, id int64) (*alerts.AlertRule, error) {
	rule, ok := s.rules[id]
	if !ok {
		return nil, nil
	}
	return &rule, nil
}

func (s *memRuleRepo) Update(_ context.Context, rule *alerts.AlertRule) error {
	if _, ok := s.rules[rule.ID]; !ok {
		return alerts.ErrNotFound
	}
	s.rules[rule.ID] = *rule
	return nil
}

func (s *memRuleRepo) Delete(_ context.Context, id int64) error {
	if _, ok := s.rules[id]; !ok {
		return alerts.ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *memRuleRepo) List(_ context.Context) ([]alerts.AlertRule, error) {
	var out []alerts.AlertRule
	for _, rule := range s.rules {
		out = append(out, rule)
	}
	return out, nil
}

func (s *memRuleRepo) ListEnabled(_ context.Context) ([]alerts.AlertRule, error) {
	var out []alerts.AlertRule
	for _, rule := range s.rules {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out, nil
}

type stubStationChecker struct {
	known map[int64]bool
}

func (s stubStationChecker) Exists(_ context.Context, id int64) (bool, error) {
	return s.known[id], nil
}

func newTestRegistry(t *testing.T, repo *memRuleRepo, known map[int64]bool) *Registry {
	t.Helper()
	registry, err := NewRegistry(repo, stubStationChecker{known: known})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return registry
}

func TestCreateRuleDefaultsEnabled(t *testing.T) {
	repo := newMemRuleRepo()
	registry := newTestRegistry(t, repo, nil)

	rule, err := registry.CreateRule(context.Background(), CreateRuleParams{
		Name:      "pm25 high",
		Pollutant: "pm25",
		Operator:  "gt",
		Threshold: 35,
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if rule.ID == 0 {
		t.Fatal("rule id not assigned")
	}
	if !rule.Enabled {
		t.Fatal("rule should default to enabled")
	}
	if rule.Pollutant != measurements.PollutantPM25 || rule.Operator != alerts.OperatorGreater {
		t.Fatalf("unexpected rule fields: %+v", rule)
	}
}

func TestCreateRuleRejectsBadInput(t *testing.T) {
	repo := newMemRuleRepo()
	registry := newTestRegistry(t, repo, map[int64]bool{7: true})

	cases := []struct {
		name   string
		params CreateRuleParams
	}{
		{"bad pollutant", CreateRuleParams{Name: "r", Pollutant: "pm1", Operator: "gt", Threshold: 1}},
		{"bad operator", CreateRuleParams{Name: "r", Pollutant: "pm25", Operator: "between", Threshold: 1}},
		{"empty name", CreateRuleParams{Name: " ", Pollutant: "pm25", Operator: "gt", Threshold: 1}},
		{"unknown station", CreateRuleParams{Name: "r", Pollutant: "pm25", Operator: "gt", Threshold: 1, StationID: ptrInt64(99)}},
	}
	for _, tc := range cases {
		_, err := registry.CreateRule(context.Background(), tc.params)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !alerts.IsValidation(err) {
			t.Errorf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}
	if len(repo.rules) != 0 {
		t.Fatalf("rejected rules were stored: %d", len(repo.rules))
	}
}

func TestUpdateRulePartial(t *testing.T) {
	repo := newMemRuleRepo()
	registry := newTestRegistry(t, repo, map[int64]bool{7: true})

	created, err := registry.CreateRule(context.Background(), CreateRuleParams{
		Name:      "pm25 high",
		Pollutant: "pm25",
		Operator:  "gt",
		Threshold: 35,
		StationID: ptrInt64(7),
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	threshold := 50.0
	enabled := false
	updated, err := registry.UpdateRule(context.Background(), created.ID, UpdateRuleParams{
		Threshold: &threshold,
		Enabled:   &enabled,
	})
	if err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	if updated.Threshold != 50.0 || updated.Enabled {
		t.Fatalf("unexpected updated rule: %+v", updated)
	}
	if updated.Name != "pm25 high" || updated.StationID == nil {
		t.Fatalf("untouched fields changed: %+v", updated)
	}
}

func TestUpdateRuleClearStation(t *testing.T) {
	repo := newMemRuleRepo()
	registry := newTestRegistry(t, repo, map[int64]bool{7: true})

	created, err := registry.CreateRule(context.Background(), CreateRuleParams{
		Name:      "scoped",
		Pollutant: "pm25",
		Operator:  "gt",
		Threshold: 35,
		StationID: ptrInt64(7),
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	updated, err := registry.UpdateRule(context.Background(), created.ID, UpdateRuleParams{ClearStation: true})
	if err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	if updated.StationID != nil {
		t.Fatalf("station not cleared: %+v", updated)
	}
}

func TestUpdateRuleEmptyBody(t *testing.T) {
	repo := newMemRuleRepo()
	registry := newTestRegistry(t, repo, nil)

	_, err := registry.UpdateRule(context.Background(), 1, UpdateRuleParams{})
	if err == nil || !alerts.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateRuleNotFound(t *testing.T) {
	repo := newMemRuleRepo()
	registry := newTestRegistry(t, repo, nil)

	name := "x"
	_, err := registry.UpdateRule(context.Background(), 42, UpdateRuleParams{Name: &name})
	if err != alerts.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetRuleNotFound(t *testing.T) {
	repo := newMemRuleRepo()
	registry := newTestRegistry(t, repo, nil)

	_, err := registry.GetRule(context.Background(), 42)
	if err != alerts.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
