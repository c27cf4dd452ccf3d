package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/db"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/model"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/zone"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresStore implements Store using pgxpool. Zone geometries are stored
// as PostGIS polygons.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status     TEXT NOT NULL DEFAULT 'running',
	cities     JSONB NOT NULL,
	years      JSONB NOT NULL,
	summary    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL,
	city       TEXT NOT NULL,
	year       INTEGER NOT NULL DEFAULT 0,
	analysis   TEXT NOT NULL,
	period     TEXT NOT NULL DEFAULT '',
	failed     BOOLEAN NOT NULL DEFAULT false,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS zones (
	run_id   TEXT NOT NULL,
	city     TEXT NOT NULL,
	zone     TEXT NOT NULL,
	inner_m  DOUBLE PRECISION NOT NULL,
	outer_m  DOUBLE PRECISION NOT NULL,
	area_km2 DOUBLE PRECISION NOT NULL,
	geom     geometry(Polygon, 4326) NOT NULL,
	PRIMARY KEY (run_id, city, zone)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_records_run_id ON records(run_id);
CREATE INDEX IF NOT EXISTS idx_records_city_analysis ON records(lower(city), analysis);
CREATE INDEX IF NOT EXISTS idx_zones_geom ON zones USING GIST (geom);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, cities []string, years []int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	citiesJSON, err := json.Marshal(cities)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal cities")
	}
	yearsJSON, err := json.Marshal(years)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal years")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, cities, years, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, string(model.RunStatusRunning), citiesJSON, yearsJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		Cities:    cities,
		Years:     years,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET summary = $1, status = $2, updated_at = $3 WHERE id = $4`,
		summaryJSON, string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var citiesJSON, yearsJSON []byte
	var summaryNull *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, status, cities, years, summary, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Status, &citiesJSON, &yearsJSON, &summaryNull, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	var summaryJSON []byte
	if summaryNull != nil {
		summaryJSON = *summaryNull
	}
	if err := decodeRun(&r, citiesJSON, yearsJSON, summaryJSON); err != nil {
		return nil, eris.Wrap(err, "postgres: decode run")
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, cities, years, summary, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var citiesJSON, yearsJSON []byte
		var summaryNull *[]byte

		if err := rows.Scan(&r.ID, &r.Status, &citiesJSON, &yearsJSON, &summaryNull, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		var summaryJSON []byte
		if summaryNull != nil {
			summaryJSON = *summaryNull
		}
		if err := decodeRun(&r, citiesJSON, yearsJSON, summaryJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: decode run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

var recordColumns = []string{"id", "run_id", "city", "year", "analysis", "period", "failed", "payload", "created_at"}

// SaveRecords writes records in one COPY, so either all of them land or none.
func (s *PostgresStore) SaveRecords(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(records))
	for i := range records {
		rec := &records[i]
		prepareRecord(rec)
		payload, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal record %s/%d/%s", rec.City, rec.Year, rec.Analysis)
		}
		rows = append(rows, []any{
			rec.ID, rec.RunID, rec.City, rec.Year, string(rec.Analysis), rec.Period, rec.Failed(), payload, rec.CreatedAt,
		})
	}
	if _, err := db.CopyFrom(ctx, s.pool, "records", recordColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: save records")
	}
	return nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error) {
	query := `SELECT payload FROM records WHERE true`
	args := []any{}
	argIdx := 1

	add := func(clause string, v any) {
		query += fmt.Sprintf(clause, argIdx)
		args = append(args, v)
		argIdx++
	}
	if filter.RunID != "" {
		add(` AND run_id = $%d`, filter.RunID)
	}
	if filter.City != "" {
		add(` AND lower(city) = lower($%d)`, filter.City)
	}
	if filter.Analysis != "" {
		add(` AND analysis = $%d`, string(filter.Analysis))
	}
	if filter.Period != "" {
		add(` AND period = $%d`, filter.Period)
	}
	if filter.Year != 0 {
		add(` AND year = $%d`, filter.Year)
	}
	query += ` ORDER BY city, year, analysis, period, created_at`
	add(` LIMIT $%d`, limitOrDefault(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		var rec model.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) SaveZones(ctx context.Context, runID, city string, z *zone.AnalysisZone) error {
	rows, err := zoneRows(z)
	if err != nil {
		return eris.Wrapf(err, "postgres: encode zones for %s", city)
	}
	for _, r := range rows {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO zones (run_id, city, zone, inner_m, outer_m, area_km2, geom)
			 VALUES ($1, $2, $3, $4, $5, $6, ST_GeomFromEWKB($7))
			 ON CONFLICT (run_id, city, zone) DO UPDATE SET
			   inner_m = EXCLUDED.inner_m, outer_m = EXCLUDED.outer_m,
			   area_km2 = EXCLUDED.area_km2, geom = EXCLUDED.geom`,
			runID, city, r.name, r.innerM, r.outerM, r.areaKm2, r.geom,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert zone %s/%s", city, r.name)
		}
	}
	return nil
}
