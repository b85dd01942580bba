package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	measapp "aire-cloud/internal/measurements/application"
	measurements "aire-cloud/internal/measurements/domain"
)

// Handler provides measurement ingest, query and aggregate endpoints.
type Handler struct {
	ingest   *measapp.IngestService
	readings measurements.Repository
	loc      *time.Location
}

// NewHandler constructs a handler.
func NewHandler(ingest *measapp.IngestService, readings measurements.Repository, loc *time.Location) (*Handler, error) {
	if ingest == nil {
		return nil, errors.New("measurements handler: nil ingest service")
	}
	if readings == nil {
		return nil, errors.New("measurements handler: nil repository")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{ingest: ingest, readings: readings, loc: loc}, nil
}

// ServeHTTP handles /v1/measurements and /v1/aggregates routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/v1/measurements":
		switch r.Method {
		case http.MethodPost:
			h.handleIngest(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "/v1/measurements/latest":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleLatest(w, r)
	case "/v1/aggregates/hourly":
		h.handleAggregate(w, r, measurements.GranularityHour)
	case "/v1/aggregates/daily":
		h.handleAggregate(w, r, measurements.GranularityDay)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type readingBody struct {
	Station string   `json:"station"`
	TS      string   `json:"ts"`
	PM25    *float64 `json:"pm25"`
	PM10    *float64 `json:"pm10"`
	SO2     *float64 `json:"so2"`
	NO2     *float64 `json:"no2"`
	O3      *float64 `json:"o3"`
	CO      *float64 `json:"co"`
}

// handleIngest accepts either a bare array of readings or an object
// with a "readings" array.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	var bodies []readingBody
	if err := json.Unmarshal(raw, &bodies); err != nil {
		var wrapped struct {
			Readings []readingBody `json:"readings"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		bodies = wrapped.Readings
	}

	inputs := make([]measapp.ReadingInput, 0, len(bodies))
	for _, body := range bodies {
		if body.TS == "" {
			http.Error(w, "ts is required", http.StatusBadRequest)
			return
		}
		ts, err := measurements.ParseCivil(body.TS, h.loc)
		if err != nil {
			http.Error(w, "ts must be RFC3339 or YYYY-MM-DDTHH:MM:SS", http.StatusBadRequest)
			return
		}
		inputs = append(inputs, measapp.ReadingInput{
			StationName: body.Station,
			TS:          ts,
			PM25:        body.PM25,
			PM10:        body.PM10,
			SO2:         body.SO2,
			NO2:         body.NO2,
			O3:          body.O3,
			CO:          body.CO,
		})
	}

	result, err := h.ingest.Ingest(r.Context(), inputs)
	if err != nil {
		if measurements.IsValidation(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q, ok := parseListQuery(w, r, h.loc)
	if !ok {
		return
	}
	fields, ok := measurements.ParseFields(r.URL.Query().Get("fields"))
	if !ok {
		http.Error(w, "fields must be a comma-separated pollutant list", http.StatusBadRequest)
		return
	}
	rows, err := h.readings.List(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []measurements.StationMeasurement{}
	}
	w.Header().Set("Content-Type", "application/json")
	if len(fields) > 0 {
		projected := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			entry := row.Project(fields)
			entry["station_name"] = row.StationName
			projected = append(projected, entry)
		}
		_ = json.NewEncoder(w).Encode(projected)
		return
	}
	_ = json.NewEncoder(w).Encode(rows)
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	rows, err := h.readings.LatestAll(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []measurements.StationMeasurement{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rows)
}

func (h *Handler) handleAggregate(w http.ResponseWriter, r *http.Request, granularity measurements.Granularity) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ids, ok := parseIDList(w, r, "station_id")
	if !ok {
		return
	}
	if len(ids) == 0 {
		http.Error(w, "station_id is required", http.StatusBadRequest)
		return
	}
	fn, ok := measurements.ParseAggregateFn(r.URL.Query().Get("fn"))
	if !ok {
		http.Error(w, "fn must be one of avg, min, max", http.StatusBadRequest)
		return
	}
	q := measurements.AggregateQuery{StationIDs: ids, Granularity: granularity, Fn: fn}
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

	rows, err := h.readings.Aggregate(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []measurements.AggregateRow{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rows)
}

func parseListQuery(w http.ResponseWriter, r *http.Request, loc *time.Location) (measurements.ListQuery, bool) {
	var q measurements.ListQuery
	ids, ok := parseIDList(w, r, "station_id")
	if !ok {
		return q, false
	}
	q.StationIDs = ids
	if names, present := r.URL.Query()["station"]; present {
		q.StationNames = names
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		start, err := measurements.ParseCivil(raw, loc)
		if err != nil {
			http.Error(w, "from must be RFC3339 or YYYY-MM-DDTHH:MM:SS", http.StatusBadRequest)
			return q, false
		}
		q.Start = &start
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		end, err := measurements.ParseCivil(raw, loc)
		if err != nil {
			http.Error(w, "to must be RFC3339 or YYYY-MM-DDTHH:MM:SS", http.StatusBadRequest)
			return q, false
		}
		q.End = &end
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return q, false
		}
		q.Limit = limit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			http.Error(w, "offset must be a non-negative integer", http.StatusBadRequest)
			return q, false
		}
		q.Offset = offset
	}
	q.Descending = r.URL.Query().Get("order") != "asc"
	return q, true
}

func parseIDList(w http.ResponseWriter, r *http.Request, key string) ([]int64, bool) {
	values := r.URL.Query()[key]
	ids := make([]int64, 0, len(values))
	for _, raw := range values {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, key+" must be an integer", http.StatusBadRequest)
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}
