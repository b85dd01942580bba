package application

import (
	"context"
	"errors"
	"strings"
	"time"

	measurements "aire-cloud/internal/measurements/domain"
	"aire-cloud/internal/observability/metrics"
	stations "aire-cloud/internal/stations/domain"
)

// StationResolver resolves station names to stored stations.
type StationResolver interface {
	GetOrCreateByName(ctx context.Context, name string) (*stations.Station, error)
}

// Writer persists measurement batches.
type Writer interface {
	UpsertBatch(ctx context.Context, rows []measurements.Measurement) error
}

// ReadingInput is one raw sensor reading addressed by station name.
type ReadingInput struct {
	StationName string    `json:"station"`
	TS          time.Time `json:"-"`
	PM25        *float64  `json:"pm25"`
	PM10        *float64  `json:"pm10"`
	SO2         *float64  `json:"so2"`
	NO2         *float64  `json:"no2"`
	O3          *float64  `json:"o3"`
	CO          *float64  `json:"co"`
}

// IngestResult summarizes one accepted batch.
type IngestResult struct {
	Rows     int `json:"rows"`
	Stations int `json:"stations"`
}

// IngestService turns raw readings into deduplicated measurement rows.
// Unknown station names are registered on first sight.
type IngestService struct {
	stations    StationResolver
	writer      Writer
	afterIngest func(ctx context.Context)
}

// IngestOption customizes the service.
type IngestOption func(*IngestService)

// WithAfterIngest runs a hook once per accepted batch, after the rows
// are committed. Used to trigger rule evaluation on fresh data.
func WithAfterIngest(hook func(ctx context.Context)) IngestOption {
	return func(s *IngestService) {
		s.afterIngest = hook
	}
}

// NewIngestService constructs an ingest service.
func NewIngestService(resolver StationResolver, writer Writer, opts ...IngestOption) (*IngestService, error) {
	if resolver == nil {
		return nil, errors.New("ingest: nil station resolver")
	}
	if writer == nil {
		return nil, errors.New("ingest: nil writer")
	}
	service := &IngestService{stations: resolver, writer: writer}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Ingest validates, sanitizes and stores a batch of readings. The
// whole batch is written in one upsert pass; a bad reading rejects the
// batch before any write happens.
func (s *IngestService) Ingest(ctx context.Context, readings []ReadingInput) (IngestResult, error) {
	if s == nil {
		return IngestResult{}, errors.New("ingest: nil service")
	}
	start := time.Now()
	result, err := s.ingest(ctx, readings)
	if err != nil {
		metrics.ObserveIngest(metrics.ResultError, 0, time.Since(start))
		return IngestResult{}, err
	}
	metrics.ObserveIngest(metrics.ResultSuccess, result.Rows, time.Since(start))
	if s.afterIngest != nil && result.Rows > 0 {
		s.afterIngest(ctx)
	}
	return result, nil
}

func (s *IngestService) ingest(ctx context.Context, readings []ReadingInput) (IngestResult, error) {
	if len(readings) == 0 {
		return IngestResult{}, nil
	}

	stationIDs := make(map[string]int64)
	rows := make([]measurements.Measurement, 0, len(readings))
	for _, reading := range readings {
		name := strings.TrimSpace(reading.StationName)
		if name == "" {
			return IngestResult{}, &measurements.ValidationError{Field: "station", Message: "must not be empty"}
		}
		if reading.TS.IsZero() {
			return IngestResult{}, &measurements.ValidationError{Field: "ts", Message: "must be set"}
		}

		id, seen := stationIDs[name]
		if !seen {
			station, err := s.stations.GetOrCreateByName(ctx, name)
			if err != nil {
				return IngestResult{}, err
			}
			id = station.ID
			stationIDs[name] = id
		}

		m := measurements.Measurement{
			StationID: id,
			TS:        reading.TS,
			PM25:      sanitize(reading.PM25),
			PM10:      sanitize(reading.PM10),
			SO2:       sanitize(reading.SO2),
			NO2:       sanitize(reading.NO2),
			O3:        sanitize(reading.O3),
			CO:        sanitize(reading.CO),
		}
		if err := m.Validate(); err != nil {
			return IngestResult{}, err
		}
		rows = append(rows, m)
	}

	if err := s.writer.UpsertBatch(ctx, rows); err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Rows: len(rows), Stations: len(stationIDs)}, nil
}

// sanitize drops physically impossible readings. Negative
// concentrations come from sensor faults and are treated as missing.
func sanitize(value *float64) *float64 {
	if value == nil {
		return nil
	}
	if *value < 0 {
		return nil
	}
	return value
}
