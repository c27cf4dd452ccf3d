package model

import "time"

// RunStatus is the lifecycle state of a batch run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one invocation of the batch analysis.
type Run struct {
	ID        string      `json:"id"`
	Status    RunStatus   `json:"status"`
	Cities    []string    `json:"cities"`
	Years     []int       `json:"years"`
	Summary   *RunSummary `json:"summary,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// RunSummary aggregates unit outcomes for a run.
type RunSummary struct {
	Units         int           `json:"units"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	LowConfidence int           `json:"lowConfidence"`
	Duration      time.Duration `json:"durationNs"`
}
