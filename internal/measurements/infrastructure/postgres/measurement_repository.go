package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	measurements "aire-cloud/internal/measurements/domain"
)

const defaultMeasurementsTable = "measurements"

// MeasurementRepository is a Postgres implementation for measurements.
type MeasurementRepository struct {
	db    *sql.DB
	table string
}

// NewMeasurementRepository constructs a repository with default table name.
func NewMeasurementRepository(db *sql.DB, opts ...RepositoryOption) *MeasurementRepository {
	repo := &MeasurementRepository{db: db, table: defaultMeasurementsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*MeasurementRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *MeasurementRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// UpsertBatch upserts measurements on (station_id, ts) in one
// transaction. Re-ingestion of a known pair overwrites pollutant
// values, never creates a second row.
func (r *MeasurementRepository) UpsertBatch(ctx context.Context, rows []measurements.Measurement) error {
	if r == nil || r.db == nil {
		return errors.New("measurement repo: nil db")
	}
	if len(rows) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	station_id, ts, pm2_5, pm10, so2, no2, o3, co
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (station_id, ts)
DO UPDATE SET
	pm2_5 = EXCLUDED.pm2_5,
	pm10 = EXCLUDED.pm10,
	so2 = EXCLUDED.so2,
	no2 = EXCLUDED.no2,
	o3 = EXCLUDED.o3,
	co = EXCLUDED.co`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, m := range rows {
		if err := m.Validate(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(
			ctx,
			m.StationID,
			m.TS,
			nullFloat(m.PM25),
			nullFloat(m.PM10),
			nullFloat(m.SO2),
			nullFloat(m.NO2),
			nullFloat(m.O3),
			nullFloat(m.CO),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// LatestByStation returns the measurement with the maximum ts for one
// station, or nil when the station has no readings.
func (r *MeasurementRepository) LatestByStation(ctx context.Context, stationID int64) (*measurements.Measurement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("measurement repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT station_id, ts, pm2_5, pm10, so2, no2, o3, co
FROM %s
WHERE station_id = $1
ORDER BY ts DESC
LIMIT 1`, r.table)

	row := r.db.QueryRowContext(ctx, query, stationID)
	m, err := scanMeasurement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// LatestAll returns the latest measurement per station, ordered by
// station name.
func (r *MeasurementRepository) LatestAll(ctx context.Context) ([]measurements.StationMeasurement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("measurement repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT s.name, m.station_id, m.ts, m.pm2_5, m.pm10, m.so2, m.no2, m.o3, m.co
FROM stations s
JOIN (
	SELECT station_id, MAX(ts) AS max_ts
	FROM %s
	GROUP BY station_id
) t ON t.station_id = s.id
JOIN %s m ON m.station_id = t.station_id AND m.ts = t.max_ts
ORDER BY s.name ASC`, r.table, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []measurements.StationMeasurement
	for rows.Next() {
		var (
			sm measurements.StationMeasurement
			vs [6]sql.NullFloat64
		)
		if err := rows.Scan(&sm.StationName, &sm.StationID, &sm.TS,
			&vs[0], &vs[1], &vs[2], &vs[3], &vs[4], &vs[5]); err != nil {
			return nil, err
		}
		assignValues(&sm.Measurement, vs)
		result = append(result, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListByStation returns a station's measurements within an optional
// time range.
func (r *MeasurementRepository) ListByStation(ctx context.Context, stationID int64, q measurements.ListQuery) ([]measurements.Measurement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("measurement repo: nil db")
	}
	where := []string{"station_id = $1"}
	args := []any{stationID}
	if q.Start != nil {
		args = append(args, *q.Start)
		where = append(where, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if q.End != nil {
		args = append(args, *q.End)
		where = append(where, fmt.Sprintf("ts <= $%d", len(args)))
	}

	query := fmt.Sprintf(`
SELECT station_id, ts, pm2_5, pm10, so2, no2, o3, co
FROM %s
WHERE %s
ORDER BY ts %s
LIMIT $%d OFFSET $%d`, r.table, strings.Join(where, " AND "), orderKeyword(q.Descending), len(args)+1, len(args)+2)
	args = append(args, clampLimit(q.Limit), maxInt(q.Offset, 0))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []measurements.Measurement
	for rows.Next() {
		var (
			m  measurements.Measurement
			vs [6]sql.NullFloat64
		)
		if err := rows.Scan(&m.StationID, &m.TS, &vs[0], &vs[1], &vs[2], &vs[3], &vs[4], &vs[5]); err != nil {
			return nil, err
		}
		assignValues(&m, vs)
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// List returns measurements across stations filtered by id, name and
// time range, joined with station names.
func (r *MeasurementRepository) List(ctx context.Context, q measurements.ListQuery) ([]measurements.StationMeasurement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("measurement repo: nil db")
	}
	var (
		where []string
		args  []any
	)
	if len(q.StationIDs) > 0 {
		placeholders := make([]string, 0, len(q.StationIDs))
		for _, id := range q.StationIDs {
			args = append(args, id)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "m.station_id IN ("+strings.Join(placeholders, ", ")+")")
	}
	if len(q.StationNames) > 0 {
		placeholders := make([]string, 0, len(q.StationNames))
		for _, name := range q.StationNames {
			args = append(args, name)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "s.name IN ("+strings.Join(placeholders, ", ")+")")
	}
	if q.Start != nil {
		args = append(args, *q.Start)
		where = append(where, fmt.Sprintf("m.ts >= $%d", len(args)))
	}
	if q.End != nil {
		args = append(args, *q.End)
		where = append(where, fmt.Sprintf("m.ts <= $%d", len(args)))
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	query := fmt.Sprintf(`
SELECT s.name, m.station_id, m.ts, m.pm2_5, m.pm10, m.so2, m.no2, m.o3, m.co
FROM %s m
JOIN stations s ON s.id = m.station_id
%s
ORDER BY m.ts %s
LIMIT $%d OFFSET $%d`, r.table, whereSQL, orderKeyword(q.Descending), len(args)+1, len(args)+2)
	args = append(args, clampLimit(q.Limit), maxInt(q.Offset, 0))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []measurements.StationMeasurement
	for rows.Next() {
		var (
			sm measurements.StationMeasurement
			vs [6]sql.NullFloat64
		)
		if err := rows.Scan(&sm.StationName, &sm.StationID, &sm.TS,
			&vs[0], &vs[1], &vs[2], &vs[3], &vs[4], &vs[5]); err != nil {
			return nil, err
		}
		assignValues(&sm.Measurement, vs)
		result = append(result, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Aggregate buckets pollutant values per station by hour or day.
func (r *MeasurementRepository) Aggregate(ctx context.Context, q measurements.AggregateQuery) ([]measurements.AggregateRow, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("measurement repo: nil db")
	}
	if len(q.StationIDs) == 0 {
		return nil, errors.New("measurement repo: aggregate requires station ids")
	}

	bucket := "date_trunc('hour', ts)"
	if q.Granularity == measurements.GranularityDay {
		bucket = "date_trunc('day', ts)"
	}
	fn := "AVG"
	switch q.Fn {
	case measurements.AggregateMin:
		fn = "MIN"
	case measurements.AggregateMax:
		fn = "MAX"
	}

	var (
		where []string
		args  []any
	)
	placeholders := make([]string, 0, len(q.StationIDs))
	for _, id := range q.StationIDs {
		args = append(args, id)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	where = append(where, "station_id IN ("+strings.Join(placeholders, ", ")+")")
	if q.Start != nil {
		args = append(args, *q.Start)
		where = append(where, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if q.End != nil {
		args = append(args, *q.End)
		where = append(where, fmt.Sprintf("ts <= $%d", len(args)))
	}

	query := fmt.Sprintf(`
SELECT station_id,
	%s AS bucket,
	%s(pm2_5) AS pm2_5,
	%s(pm10) AS pm10,
	%s(so2) AS so2,
	%s(no2) AS no2,
	%s(o3) AS o3,
	%s(co) AS co
FROM %s
WHERE %s
GROUP BY station_id, bucket
ORDER BY bucket ASC`, bucket, fn, fn, fn, fn, fn, fn, r.table, strings.Join(where, " AND "))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []measurements.AggregateRow
	for rows.Next() {
		var (
			row measurements.AggregateRow
			vs  [6]sql.NullFloat64
		)
		if err := rows.Scan(&row.StationID, &row.Bucket, &vs[0], &vs[1], &vs[2], &vs[3], &vs[4], &vs[5]); err != nil {
			return nil, err
		}
		row.PM25 = floatPtr(vs[0])
		row.PM10 = floatPtr(vs[1])
		row.SO2 = floatPtr(vs[2])
		row.NO2 = floatPtr(vs[3])
		row.O3 = floatPtr(vs[4])
		row.CO = floatPtr(vs[5])
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanMeasurement(row *sql.Row) (*measurements.Measurement, error) {
	var (
		m  measurements.Measurement
		vs [6]sql.NullFloat64
	)
	if err := row.Scan(&m.StationID, &m.TS, &vs[0], &vs[1], &vs[2], &vs[3], &vs[4], &vs[5]); err != nil {
		return nil, err
	}
	assignValues(&m, vs)
	return &m, nil
}

func assignValues(m *measurements.Measurement, vs [6]sql.NullFloat64) {
	m.PM25 = floatPtr(vs[0])
	m.PM10 = floatPtr(vs[1])
	m.SO2 = floatPtr(vs[2])
	m.NO2 = floatPtr(vs[3])
	m.O3 = floatPtr(vs[4])
	m.CO = floatPtr(vs[5])
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	value := v.Float64
	return &value
}

func orderKeyword(descending bool) string {
	if descending {
		return "DESC"
	}
	return "ASC"
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
