package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	stations "aire-cloud/internal/stations/domain"
)

const defaultStationsTable = "stations"

// DBTX abstracts a pool or transaction session.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// StationRepository is a Postgres implementation for stations.
type StationRepository struct {
	db    DBTX
	table string
}

// NewStationRepository constructs a repository.
func NewStationRepository(db DBTX, opts ...StationOption) *StationRepository {
	repo := &StationRepository{db: db, table: defaultStationsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// StationOption configures the repository.
type StationOption func(*StationRepository)

// WithStationTable overrides the default table name.
func WithStationTable(table string) StationOption {
	return func(repo *StationRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads a station by id. Missing stations return nil, nil.
func (r *StationRepository) Get(ctx context.Context, id int64) (*stations.Station, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("station repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, name
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var station stations.Station
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&station.ID, &station.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &station, nil
}

// GetOrCreateByName resolves a station by unique name, creating it on
// first observed reading.
func (r *StationRepository) GetOrCreateByName(ctx context.Context, name string) (*stations.Station, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("station repo: nil db")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("station repo: empty name")
	}

	// ON CONFLICT DO UPDATE so the row id comes back on both branches.
	query := fmt.Sprintf(`
INSERT INTO %s (name)
VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, name`, r.table)

	var station stations.Station
	if err := r.db.QueryRowContext(ctx, query, name).Scan(&station.ID, &station.Name); err != nil {
		return nil, err
	}
	return &station, nil
}

// Exists reports whether a station id references a row.
func (r *StationRepository) Exists(ctx context.Context, id int64) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("station repo: nil db")
	}
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE id = $1 LIMIT 1`, r.table)
	var one int
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns stations ordered by name with an optional name filter,
// plus the total count for pagination.
func (r *StationRepository) List(ctx context.Context, nameFilter string, limit, offset int) ([]stations.Station, int, error) {
	if r == nil || r.db == nil {
		return nil, 0, errors.New("station repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	where := ""
	args := []any{}
	if nameFilter != "" {
		where = "WHERE name ILIKE $1"
		args = append(args, "%"+nameFilter+"%")
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, r.table, where)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
SELECT id, name
FROM %s
%s
ORDER BY name ASC
LIMIT $%d OFFSET $%d`, r.table, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []stations.Station
	for rows.Next() {
		var station stations.Station
		if err := rows.Scan(&station.ID, &station.Name); err != nil {
			return nil, 0, err
		}
		result = append(result, station)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}
