package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	measurements "aire-cloud/internal/measurements/domain"
	stations "aire-cloud/internal/stations/domain"
)

// Handler provides station HTTP endpoints.
type Handler struct {
	stations stations.Repository
	readings measurements.Repository
	loc      *time.Location
}

// NewHandler constructs a handler.
func NewHandler(stationRepo stations.Repository, readings measurements.Repository, loc *time.Location) (*Handler, error) {
	if stationRepo == nil {
		return nil, errors.New("stations handler: nil station repository")
	}
	if readings == nil {
		return nil, errors.New("stations handler: nil measurement repository")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{stations: stationRepo, readings: readings, loc: loc}, nil
}

// ServeHTTP handles /v1/stations and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path == "/v1/stations" {
		h.handleList(w, r)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/stations/")
	parts := strings.Split(rest, "/")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 1:
		h.handleGet(w, r, id)
	case len(parts) == 2 && parts[1] == "latest":
		h.handleLatest(w, r, id)
	case len(parts) == 2 && parts[1] == "measurements":
		h.handleMeasurements(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "offset must be a non-negative integer", http.StatusBadRequest)
			return
		}
		offset = parsed
	}

	list, total, err := h.stations.List(r.Context(), r.URL.Query().Get("q"), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []stations.Station{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"stations": list,
		"total":    total,
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id int64) {
	station, err := h.stations.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if station == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(station)
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request, id int64) {
	station, err := h.stations.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if station == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	latest, err := h.readings.LatestByStation(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"station": station,
		"latest":  latest,
	})
}

func (h *Handler) handleMeasurements(w http.ResponseWriter, r *http.Request, id int64) {
	exists, err := h.stations.Exists(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var q measurements.ListQuery
	if raw := r.URL.Query().Get("from"); raw != "" {
		start, err := measurements.ParseCivil(raw, h.loc)
		if err != nil {
			http.Error(w, "from must be RFC3339 or YYYY-MM-DDTHH:MM:SS", http.StatusBadRequest)
			return
		}
		q.Start = &start
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		end, err := measurements.ParseCivil(raw, h.loc)
		if err != nil {
			http.Error(w, "to must be RFC3339 or YYYY-MM-DDTHH:MM:SS", http.StatusBadRequest)
			return
		}
		q.End = &end
	}
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
	q.Descending = r.URL.Query().Get("order") != "asc"
	fields, ok := measurements.ParseFields(r.URL.Query().Get("fields"))
	if !ok {
		http.Error(w, "fields must be a comma-separated pollutant list", http.StatusBadRequest)
		return
	}

	rows, err := h.readings.ListByStation(r.Context(), id, q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []measurements.Measurement{}
	}
	w.Header().Set("Content-Type", "application/json")
	if len(fields) > 0 {
		projected := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			projected = append(projected, row.Project(fields))
		}
		_ = json.NewEncoder(w).Encode(projected)
		return
	}
	_ = json.NewEncoder(w).Encode(rows)
}
