package measurements

import (
	"context"
	"time"
)

// ListQuery filters multi-station measurement reads.
type ListQuery struct {
	StationIDs   []int64
	StationNames []string
	Start        *time.Time
	End          *time.Time
	Descending   bool
	Limit        int
	Offset       int
}

// Granularity selects the aggregation bucket size.
type Granularity string

const (
	GranularityHour Granularity = "hourly"
	GranularityDay  Granularity = "daily"
)

// AggregateFn selects the aggregation function.
type AggregateFn string

const (
	AggregateAvg AggregateFn = "avg"
	AggregateMin AggregateFn = "min"
	AggregateMax AggregateFn = "max"
)

// ParseAggregateFn validates an external aggregate tag, defaulting to avg.
func ParseAggregateFn(value string) (AggregateFn, bool) {
	switch AggregateFn(value) {
	case AggregateAvg, AggregateMin, AggregateMax:
		return AggregateFn(value), true
	case "":
		return AggregateAvg, true
	default:
		return "", false
	}
}

// AggregateQuery describes a bucketed aggregate read.
type AggregateQuery struct {
	StationIDs  []int64
	Granularity Granularity
	Fn          AggregateFn
	Start       *time.Time
	End         *time.Time
}

// AggregateRow is one bucket of aggregated pollutant values.
type AggregateRow struct {
	StationID int64     `json:"station_id"`
	Bucket    time.Time `json:"ts"`
	PM25      *float64  `json:"pm25"`
	PM10      *float64  `json:"pm10"`
	SO2       *float64  `json:"so2"`
	NO2       *float64  `json:"no2"`
	O3        *float64  `json:"o3"`
	CO        *float64  `json:"co"`
}

// Repository manages measurement persistence and reads.
type Repository interface {
	UpsertBatch(ctx context.Context, rows []Measurement) error
	LatestByStation(ctx context.Context, stationID int64) (*Measurement, error)
	LatestAll(ctx context.Context) ([]StationMeasurement, error)
	ListByStation(ctx context.Context, stationID int64, q ListQuery) ([]Measurement, error)
	List(ctx context.Context, q ListQuery) ([]StationMeasurement, error)
	Aggregate(ctx context.Context, q AggregateQuery) ([]AggregateRow, error)
}
