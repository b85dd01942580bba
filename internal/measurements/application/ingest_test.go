package application

import (
	"context"
	"errors"
	"testing"
	"time"

	measurements "aire-cloud/internal/measurements/domain"
	stations "aire-cloud/internal/stations/domain"
)

type fakeResolver struct {
	nextID   int64
	byName   map[string]int64
	resolved int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{nextID: 1, byName: make(map[string]int64)}
}

func (f *fakeResolver) GetOrCreateByName(_ context.Context, name string) (*stations.Station, error) {
	f.resolved++
	id, ok := f.byName[name]
	if !ok {
		id = f.nextID
		f.nextID++
		f.byName[name] = id
	}
	return &stations.Station{ID: id, Name: name}, nil
}

type fakeWriter struct {
	batches [][]measurements.Measurement
	err     error
}

func (f *fakeWriter) UpsertBatch(_ context.Context, rows []measurements.Measurement) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, rows)
	return nil
}

func value(v float64) *float64 { return &v }

func ts(value string) time.Time {
	t, err := time.Parse("2006-01-02T15:04:05", value)
	if err != nil {
		panic(err)
	}
	return t
}

func TestIngestRegistersUnknownStations(t *testing.T) {
	resolver := newFakeResolver()
	writer := &fakeWriter{}
	service, err := NewIngestService(resolver, writer)
	if err != nil {
		t.Fatalf("NewIngestService: %v", err)
	}

	result, err := service.Ingest(context.Background(), []ReadingInput{
		{StationName: "miraflores", TS: ts("2026-03-01T10:00:00"), PM25: value(12)},
		{StationName: "callao", TS: ts("2026-03-01T10:00:00"), PM25: value(30)},
		{StationName: "miraflores", TS: ts("2026-03-01T11:00:00"), PM25: value(14)},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Rows != 3 || result.Stations != 2 {
		t.Fatalf("result = %+v, want 3 rows over 2 stations", result)
	}
	// Names are resolved once per batch, not once per row.
	if resolver.resolved != 2 {
		t.Fatalf("resolver calls = %d, want 2", resolver.resolved)
	}
	if len(writer.batches) != 1 || len(writer.batches[0]) != 3 {
		t.Fatalf("unexpected write batches: %+v", writer.batches)
	}
}

func TestIngestSanitizesNegativeReadings(t *testing.T) {
	resolver := newFakeResolver()
	writer := &fakeWriter{}
	service, err := NewIngestService(resolver, writer)
	if err != nil {
		t.Fatalf("NewIngestService: %v", err)
	}

	_, err = service.Ingest(context.Background(), []ReadingInput{
		{StationName: "miraflores", TS: ts("2026-03-01T10:00:00"), PM25: value(-3), NO2: value(18)},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	row := writer.batches[0][0]
	if row.PM25 != nil {
		t.Fatalf("negative pm25 stored as %v, want nil", *row.PM25)
	}
	if row.NO2 == nil || *row.NO2 != 18 {
		t.Fatalf("valid no2 lost: %+v", row)
	}
}

func TestIngestRejectsMissingFields(t *testing.T) {
	resolver := newFakeResolver()
	writer := &fakeWriter{}
	service, err := NewIngestService(resolver, writer)
	if err != nil {
		t.Fatalf("NewIngestService: %v", err)
	}

	cases := []struct {
		name    string
		reading ReadingInput
	}{
		{"empty station", ReadingInput{StationName: " ", TS: ts("2026-03-01T10:00:00")}},
		{"zero ts", ReadingInput{StationName: "miraflores"}},
	}
	for _, tc := range cases {
		_, err := service.Ingest(context.Background(), []ReadingInput{tc.reading})
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !measurements.IsValidation(err) {
			t.Errorf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}
	if len(writer.batches) != 0 {
		t.Fatalf("rejected batches were written: %d", len(writer.batches))
	}
}

func TestIngestWriterErrorPropagates(t *testing.T) {
	resolver := newFakeResolver()
	writer := &fakeWriter{err: errors.New("connection reset")}
	service, err := NewIngestService(resolver, writer)
	if err != nil {
		t.Fatalf("NewIngestService: %v", err)
	}

	_, err = service.Ingest(context.Background(), []ReadingInput{
		{StationName: "miraflores", TS: ts("2026-03-01T10:00:00"), PM25: value(12)},
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestIngestRunsAfterIngestHook(t *testing.T) {
	resolver := newFakeResolver()
	writer := &fakeWriter{}
	hookRuns := 0
	service, err := NewIngestService(resolver, writer, WithAfterIngest(func(_ context.Context) {
		hookRuns++
	}))
	if err != nil {
		t.Fatalf("NewIngestService: %v", err)
	}

	if _, err := service.Ingest(context.Background(), nil); err != nil {
		t.Fatalf("empty ingest: %v", err)
	}
	if hookRuns != 0 {
		t.Fatal("hook ran for empty batch")
	}

	if _, err := service.Ingest(context.Background(), []ReadingInput{
		{StationName: "miraflores", TS: ts("2026-03-01T10:00:00"), PM25: value(12)},
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if hookRuns != 1 {
		t.Fatalf("hook runs = %d, want 1", hookRuns)
	}
}
