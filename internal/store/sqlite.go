package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/model"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/zone"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	cities     TEXT NOT NULL,
	years      TEXT NOT NULL,
	summary    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	city       TEXT NOT NULL,
	year       INTEGER NOT NULL DEFAULT 0,
	analysis   TEXT NOT NULL,
	period     TEXT NOT NULL DEFAULT '',
	failed     INTEGER NOT NULL DEFAULT 0,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS zones (
	run_id   TEXT NOT NULL,
	city     TEXT NOT NULL,
	zone     TEXT NOT NULL,
	inner_m  REAL NOT NULL,
	outer_m  REAL NOT NULL,
	area_km2 REAL NOT NULL,
	geom     BLOB NOT NULL,
	PRIMARY KEY (run_id, city, zone)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_records_run_id ON records(run_id);
CREATE INDEX IF NOT EXISTS idx_records_city_analysis ON records(city, analysis);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, cities []string, years []int) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	citiesJSON, err := json.Marshal(cities)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal cities")
	}
	yearsJSON, err := json.Marshal(years)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal years")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, cities, years, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(model.RunStatusRunning), string(citiesJSON), string(yearsJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET summary = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(summaryJSON), string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, cities, years, summary, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, cities, years, summary, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveRecords(ctx context.Context, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save records")
	}
	defer tx.Rollback() //nolint:errcheck

	for i := range records {
		rec := &records[i]
		prepareRecord(rec)
		payload, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal record %s/%d/%s", rec.City, rec.Year, rec.Analysis)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO records (id, run_id, city, year, analysis, period, failed, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.RunID, rec.City, rec.Year, string(rec.Analysis), rec.Period, rec.Failed(), string(payload), rec.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert record %s", rec.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit records")
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error) {
	query := `SELECT payload FROM records WHERE 1=1`
	var args []any

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.City != "" {
		query += ` AND city = ? COLLATE NOCASE`
		args = append(args, filter.City)
	}
	if filter.Analysis != "" {
		query += ` AND analysis = ?`
		args = append(args, string(filter.Analysis))
	}
	if filter.Period != "" {
		query += ` AND period = ?`
		args = append(args, filter.Period)
	}
	if filter.Year != 0 {
		query += ` AND year = ?`
		args = append(args, filter.Year)
	}
	query += ` ORDER BY city, year, analysis, period, created_at LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		var rec model.Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) SaveZones(ctx context.Context, runID, city string, z *zone.AnalysisZone) error {
	rows, err := zoneRows(z)
	if err != nil {
		return eris.Wrapf(err, "sqlite: encode zones for %s", city)
	}
	for _, r := range rows {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO zones (run_id, city, zone, inner_m, outer_m, area_km2, geom) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, city, r.name, r.innerM, r.outerM, r.areaKm2, r.geom,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert zone %s/%s", city, r.name)
		}
	}
	return nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var citiesJSON, yearsJSON string
	var summaryJSON sql.NullString

	err := row.Scan(&r.ID, &r.Status, &citiesJSON, &yearsJSON, &summaryJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if err := decodeRun(&r, []byte(citiesJSON), []byte(yearsJSON), nullBytes(summaryJSON)); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode run")
	}
	return &r, nil
}

func nullBytes(s sql.NullString) []byte {
	if !s.Valid {
		return nil
	}
	return []byte(s.String)
}
