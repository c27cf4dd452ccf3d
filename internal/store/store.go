// Package store persists runs, analysis records and zone geometries.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/model"
	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/zone"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// RecordFilter specifies criteria for listing records. Zero fields match anything.
type RecordFilter struct {
	RunID    string         `json:"run_id,omitempty"`
	City     string         `json:"city,omitempty"`
	Analysis model.Analysis `json:"analysis,omitempty"`
	Period   string         `json:"period,omitempty"`
	Year     int            `json:"year,omitempty"`
	Limit    int            `json:"limit,omitempty"`
}

// Store defines the persistence interface for analysis runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, cities []string, years []int) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Records
	SaveRecords(ctx context.Context, records []model.Record) error
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error)

	// Zones
	SaveZones(ctx context.Context, runID, city string, z *zone.AnalysisZone) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultLimit = 100

func limitOrDefault(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return n
}
