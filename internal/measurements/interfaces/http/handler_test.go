package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	measapp "aire-cloud/internal/measurements/application"
	measurements "aire-cloud/internal/measurements/domain"
	stations "aire-cloud/internal/stations/domain"
)

func floatPtr(v float64) *float64 { return &v }

type fakeResolver struct {
	ids  map[string]int64
	next int64
}

func (f *fakeResolver) GetOrCreateByName(_ context.Context, name string) (*stations.Station, error) {
	if f.ids == nil {
		f.ids = make(map[string]int64)
	}
	id, ok := f.ids[name]
	if !ok {
		f.next++
		id = f.next
		f.ids[name] = id
	}
	return &stations.Station{ID: id, Name: name}, nil
}

type fakeReadings struct {
	rows      []measurements.StationMeasurement
	written   []measurements.Measurement
	listQuery measurements.ListQuery
	aggQuery  measurements.AggregateQuery
}

func (f *fakeReadings) UpsertBatch(_ context.Context, rows []measurements.Measurement) error {
	f.written = append(f.written, rows...)
	return nil
}

func (f *fakeReadings) LatestByStation(_ context.Context, stationID int64) (*measurements.Measurement, error) {
	for i := range f.rows {
		if f.rows[i].StationID == stationID {
			m := f.rows[i].Measurement
			return &m, nil
		}
	}
	return nil, nil
}

func (f *fakeReadings) LatestAll(_ context.Context) ([]measurements.StationMeasurement, error) {
	return f.rows, nil
}

func (f *fakeReadings) ListByStation(_ context.Context, stationID int64, q measurements.ListQuery) ([]measurements.Measurement, error) {
	var out []measurements.Measurement
	for _, row := range f.rows {
		if row.StationID == stationID {
			out = append(out, row.Measurement)
		}
	}
	return out, nil
}

func (f *fakeReadings) List(_ context.Context, q measurements.ListQuery) ([]measurements.StationMeasurement, error) {
	f.listQuery = q
	return f.rows, nil
}

func (f *fakeReadings) Aggregate(_ context.Context, q measurements.AggregateQuery) ([]measurements.AggregateRow, error) {
	f.aggQuery = q
	return nil, nil
}

func newMeasurementsHandler(t *testing.T, readings *fakeReadings) *Handler {
	t.Helper()
	ingest, err := measapp.NewIngestService(&fakeResolver{}, readings)
	if err != nil {
		t.Fatalf("new ingest service: %v", err)
	}
	h, err := NewHandler(ingest, readings, time.UTC)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h
}

func TestIngestEndpointBareArray(t *testing.T) {
	readings := &fakeReadings{}
	h := newMeasurementsHandler(t, readings)

	body := `[{"station": "miraflores", "ts": "2026-03-14T13:00:00", "pm25": 42.5}]`
	req := httptest.NewRequest(http.MethodPost, "/v1/measurements", strings.NewReader(body))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", resp.Code, resp.Body.String())
	}
	if len(readings.written) != 1 {
		t.Fatalf("written rows = %d, want 1", len(readings.written))
	}
	if readings.written[0].PM25 == nil || *readings.written[0].PM25 != 42.5 {
		t.Fatalf("pm25 = %v, want 42.5", readings.written[0].PM25)
	}
}

func TestIngestEndpointWrappedObject(t *testing.T) {
	readings := &fakeReadings{}
	h := newMeasurementsHandler(t, readings)

	body := `{"readings": [{"station": "miraflores", "ts": "2026-03-14 13:00:00", "pm10": 12}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/measurements", strings.NewReader(body))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", resp.Code, resp.Body.String())
	}
	if len(readings.written) != 1 {
		t.Fatalf("written rows = %d, want 1", len(readings.written))
	}
}

func TestIngestEndpointBadTimestamp(t *testing.T) {
	h := newMeasurementsHandler(t, &fakeReadings{})

	body := `[{"station": "miraflores", "ts": "not-a-time"}]`
	req := httptest.NewRequest(http.MethodPost, "/v1/measurements", strings.NewReader(body))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}

func TestIngestEndpointMissingStation(t *testing.T) {
	h := newMeasurementsHandler(t, &fakeReadings{})

	body := `[{"station": "", "ts": "2026-03-14T13:00:00", "pm25": 10}]`
	req := httptest.NewRequest(http.MethodPost, "/v1/measurements", strings.NewReader(body))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}

func TestListEndpointParsesFilters(t *testing.T) {
	readings := &fakeReadings{}
	h := newMeasurementsHandler(t, readings)

	req := httptest.NewRequest(http.MethodGet, "/v1/measurements?station_id=3&from=2026-03-01T00:00:00&to=2026-03-02T00:00:00&limit=50&order=asc", nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	q := readings.listQuery
	if len(q.StationIDs) != 1 || q.StationIDs[0] != 3 {
		t.Fatalf("station ids = %v, want [3]", q.StationIDs)
	}
	if q.Start == nil || q.End == nil {
		t.Fatal("expected both bounds set")
	}
	if q.Limit != 50 {
		t.Fatalf("limit = %d, want 50", q.Limit)
	}
	if q.Descending {
		t.Fatal("order=asc must disable descending")
	}
	if !strings.HasPrefix(resp.Body.String(), "[") {
		t.Fatalf("expected JSON array, got %s", resp.Body.String())
	}
}

func TestListEndpointFieldsProjection(t *testing.T) {
	readings := &fakeReadings{rows: []measurements.StationMeasurement{{
		StationName: "miraflores",
		Measurement: measurements.Measurement{
			StationID: 7,
			TS:        time.Date(2026, 3, 14, 13, 0, 0, 0, time.UTC),
			PM25:      floatPtr(42.5),
			PM10:      floatPtr(12),
		},
	}}}
	h := newMeasurementsHandler(t, readings)

	req := httptest.NewRequest(http.MethodGet, "/v1/measurements?fields=pm25", nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	var rows []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if _, present := rows[0]["pm10"]; present {
		t.Fatal("pm10 must be projected away")
	}
	if rows[0]["pm25"] != 42.5 {
		t.Fatalf("pm25 = %v, want 42.5", rows[0]["pm25"])
	}
	if rows[0]["station_name"] != "miraflores" {
		t.Fatalf("station_name = %v", rows[0]["station_name"])
	}
}

func TestListEndpointRejectsUnknownField(t *testing.T) {
	h := newMeasurementsHandler(t, &fakeReadings{})

	req := httptest.NewRequest(http.MethodGet, "/v1/measurements?fields=pm1", nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}

func TestListEndpointRejectsBadLimit(t *testing.T) {
	h := newMeasurementsHandler(t, &fakeReadings{})

	req := httptest.NewRequest(http.MethodGet, "/v1/measurements?limit=-1", nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}

func TestAggregateEndpointRequiresStation(t *testing.T) {
	h := newMeasurementsHandler(t, &fakeReadings{})

	req := httptest.NewRequest(http.MethodGet, "/v1/aggregates/hourly", nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}

func TestAggregateEndpointDefaultsToAvg(t *testing.T) {
	readings := &fakeReadings{}
	h := newMeasurementsHandler(t, readings)

	req := httptest.NewRequest(http.MethodGet, "/v1/aggregates/daily?station_id=3", nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	if readings.aggQuery.Fn != measurements.AggregateAvg {
		t.Fatalf("fn = %q, want avg", readings.aggQuery.Fn)
	}
	if readings.aggQuery.Granularity != measurements.GranularityDay {
		t.Fatalf("granularity = %q, want daily", readings.aggQuery.Granularity)
	}
}
