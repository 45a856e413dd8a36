// Package store persists run history.
package store

import (
	"context"
	"errors"
	"time"

	"bytemomo/armada/internal/domain"
)

// ErrNotFound is returned when a run is not found.
var ErrNotFound = errors.New("run not found")

// Run statuses. A run is running until its outcome is sealed.
const (
	RunRunning = "running"
	RunPassed  = "passed"
	RunFailed  = "failed"
	RunEmpty   = "empty"
)

// Run is one row of run history.
type Run struct {
	ID         string        `json:"id"`
	Status     string        `json:"status"`
	Devices    int           `json:"devices"`
	Counts     domain.Counts `json:"counts"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// Store defines the persistence operations for runs and device results.
// It is also a result sink that tracks whole runs.
type Store interface {
	domain.ResultSink
	domain.RunListener

	CreateRun(ctx context.Context, runID string, devices int) error
	FinishRun(ctx context.Context, outcome *domain.AggregateOutcome) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, int, error)
	ListResults(ctx context.Context, runID string) ([]domain.ExecutionResult, error)
	Close() error
}
