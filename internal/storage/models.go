package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Harvest run statuses.
const (
	RunCompleted = "completed"
	RunCanceled  = "canceled"
	RunFailed    = "failed"
)

// HarvestRun is the persisted summary of one harvester run.
type HarvestRun struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	Status         string
	PagesRequested int
	PagesOK        int
	PagesSkipped   int
	Items          int
	ItemsEnriched  int
	ItemsSkipped   int
	SkipReasons    map[string]int
	DuplicateIDs   []int64
	OutputPath     string
	Error          string
}

// Duration returns how long the run took.
func (r HarvestRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
