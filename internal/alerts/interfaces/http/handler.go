package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	alertapp "aire-cloud/internal/alerts/application"
	alerts "aire-cloud/internal/alerts/domain"
	measurements "aire-cloud/internal/measurements/domain"
)

// Handler provides alert rule and event HTTP endpoints.
type Handler struct {
	registry  *alertapp.Registry
	evaluator *alertapp.Evaluator
	events    alerts.EventStore
	loc       *time.Location
}

// NewHandler constructs a handler. loc is the civil timezone used to
// interpret timestamp query parameters.
func NewHandler(registry *alertapp.Registry, evaluator *alertapp.Evaluator, events alerts.EventStore, loc *time.Location) (*Handler, error) {
	if registry == nil {
		return nil, errors.New("alerts handler: nil registry")
	}
	if evaluator == nil {
		return nil, errors.New("alerts handler: nil evaluator")
	}
	if events == nil {
		return nil, errors.New("alerts handler: nil event store")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{registry: registry, evaluator: evaluator, events: events, loc: loc}, nil
}

// ServeHTTP handles /v1/alerts and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/v1/alerts/rules":
		switch r.Method {
		case http.MethodGet:
			h.handleListRules(w, r)
		case http.MethodPost:
			h.handleCreateRule(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(r.URL.Path, "/v1/alerts/rules/"):
		h.handleRuleByID(w, r)
	case r.URL.Path == "/v1/alerts/evaluate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleEvaluate(w, r)
	case r.URL.Path == "/v1/alerts/events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleListEvents(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type ruleBody struct {
	Name       *string  `json:"name"`
	Pollutant  *string  `json:"pollutant"`
	Operator   *string  `json:"operator"`
	Threshold  *float64 `json:"threshold"`
	StationID  *int64   `json:"station_id"`
	TimeWindow *string  `json:"window"`
	Enabled    *bool    `json:"enabled"`
}

func (h *Handler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var body ruleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	params := alertapp.CreateRuleParams{
		StationID:  body.StationID,
		TimeWindow: body.TimeWindow,
		Enabled:    body.Enabled,
	}
	if body.Name != nil {
		params.Name = *body.Name
	}
	if body.Pollutant != nil {
		params.Pollutant = *body.Pollutant
	}
	if body.Operator != nil {
		params.Operator = *body.Operator
	}
	if body.Threshold != nil {
		params.Threshold = *body.Threshold
	}

	rule, err := h.registry.CreateRule(r.Context(), params)
	if err != nil {
		respondRuleError(w, err)
		return
	}

	response := map[string]any{"rule": rule}
	if r.URL.Query().Get("evaluate_now") == "true" {
		// The rule is already committed, so an evaluation failure is
		// reported alongside the created rule rather than as a 500.
		created, err := h.evaluator.Evaluate(r.Context(), &rule.ID)
		if err != nil {
			response["evaluation_error"] = err.Error()
		} else {
			response["events_created"] = created
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(response)
}

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.registry.ListRules(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rules == nil {
		rules = []alerts.AlertRule{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rules)
}

func (h *Handler) handleRuleByID(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/v1/alerts/rules/")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rule, err := h.registry.GetRule(r.Context(), id)
		if err != nil {
			respondRuleError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rule)
	case http.MethodPatch:
		h.handleUpdateRule(w, r, id)
	case http.MethodDelete:
		if err := h.registry.DeleteRule(r.Context(), id); err != nil {
			respondRuleError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleUpdateRule distinguishes absent fields from explicit nulls:
// "station_id": null widens the rule back to all stations.
func (h *Handler) handleUpdateRule(w http.ResponseWriter, r *http.Request, id int64) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	var params alertapp.UpdateRuleParams
	for key, raw := range fields {
		var err error
		switch key {
		case "name":
			err = json.Unmarshal(raw, &params.Name)
		case "pollutant":
			err = json.Unmarshal(raw, &params.Pollutant)
		case "operator":
			err = json.Unmarshal(raw, &params.Operator)
		case "threshold":
			err = json.Unmarshal(raw, &params.Threshold)
		case "station_id":
			if string(raw) == "null" {
				params.ClearStation = true
			} else {
				err = json.Unmarshal(raw, &params.StationID)
			}
		case "window":
			err = json.Unmarshal(raw, &params.TimeWindow)
		case "enabled":
			err = json.Unmarshal(raw, &params.Enabled)
		default:
			http.Error(w, "unknown field "+key, http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, "invalid value for "+key, http.StatusBadRequest)
			return
		}
	}

	rule, err := h.registry.UpdateRule(r.Context(), id, params)
	if err != nil {
		respondRuleError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rule)
}

// handleEvaluate scopes the run by rule_id from the query string or,
// failing that, from an optional JSON body.
func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var ruleID *int64
	if raw := r.URL.Query().Get("rule_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "rule_id must be an integer", http.StatusBadRequest)
			return
		}
		ruleID = &id
	}
	if ruleID == nil {
		var body struct {
			RuleID *int64 `json:"rule_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		ruleID = body.RuleID
	}

	created, err := h.evaluator.Evaluate(r.Context(), ruleID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"events_created": created})
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	var q alerts.EventQuery
	if raw := r.URL.Query().Get("rule_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "rule_id must be an integer", http.StatusBadRequest)
			return
		}
		q.RuleID = &id
	}
	if raw := r.URL.Query().Get("station_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "station_id must be an integer", http.StatusBadRequest)
			return
		}
		q.StationID = &id
	}
	start, err := parseTimeQuery(r, "from", h.loc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q.Start = start
	end, err := parseTimeQuery(r, "to", h.loc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	q.End = end
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		q.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			http.Error(w, "offset must be a non-negative integer", http.StatusBadRequest)
			return
		}
		q.Offset = offset
	}

	events, err := h.events.List(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []alerts.EnrichedEvent{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(events)
}

func respondRuleError(w http.ResponseWriter, err error) {
	if errors.Is(err, alerts.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if alerts.IsValidation(err) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// parseTimeQuery accepts RFC3339 or a naive civil timestamp and
// normalizes to the service's civil wall clock.
func parseTimeQuery(r *http.Request, key string, loc *time.Location) (*time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil, nil
	}
	civil, err := measurements.ParseCivil(value, loc)
	if err != nil {
		return nil, errors.New(key + " must be RFC3339 or YYYY-MM-DDTHH:MM:SS")
	}
	return &civil, nil
}
