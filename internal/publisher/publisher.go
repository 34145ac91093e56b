// Package publisher emits run-completion notifications to interested
// subscribers.
package publisher

import (
	"context"
	"time"
)

// EventRunCompleted tags run-completion messages for subscribers that
// filter on an event attribute.
const EventRunCompleted = "run.completed"

// RunCompleted is the notification emitted once per finished dispatch run.
type RunCompleted struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	Cells       int       `json:"cells"`
	ErrorCells  int       `json:"error_cells"`
	SnapshotURI string    `json:"snapshot_uri,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Publisher delivers run-completion events and returns a backend-assigned
// message ID.
type Publisher interface {
	PublishRunCompleted(ctx context.Context, event RunCompleted) (string, error)
}
