// Package blob archives completed dispatch runs. Each run's flattened
// results are written as one JSON document for audit and replay.
package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/google/uuid"
)

// Snapshot is the archived form of one completed run.
type Snapshot struct {
	RunID      uuid.UUID `json:"run_id"`
	Status     string    `json:"status"`
	Cells      int       `json:"cells"`
	ErrorCells int       `json:"error_cells"`
	Results    any       `json:"results"`
}

// Archive persists run snapshots. Implementations own object naming and
// content type; callers only hand over the snapshot.
type Archive interface {
	// ArchiveRun writes the snapshot document and returns a URI for it.
	ArchiveRun(ctx context.Context, snap Snapshot) (string, error)
}

// Encode renders the snapshot document written by every archive backend.
func Encode(snap Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal run snapshot: %w", err)
	}
	return data, nil
}

// ObjectPath names the snapshot object under the configured prefix.
func ObjectPath(prefix string, runID uuid.UUID) string {
	return path.Join(prefix, runID.String()+".json")
}
