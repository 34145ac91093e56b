package local

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/quantline/riskpipe/internal/blob"
)

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "snapshots")
	_, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestArchiveRunWritesSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := New(Config{BaseDir: dir, Prefix: "runs"})
	require.NoError(t, err)

	runID := uuid.New()
	uri, err := a.ArchiveRun(context.Background(), blob.Snapshot{
		RunID:      runID,
		Status:     "success",
		Cells:      4,
		ErrorCells: 0,
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "file://"))

	data, err := os.ReadFile(filepath.Join(dir, "runs", runID.String()+".json"))
	require.NoError(t, err)

	var got blob.Snapshot
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, runID, got.RunID)
	require.Equal(t, "success", got.Status)
	require.Equal(t, 4, got.Cells)
}

func TestArchiveRunRejectsEscapingPrefix(t *testing.T) {
	t.Parallel()

	a, err := New(Config{BaseDir: t.TempDir(), Prefix: "../outside"})
	require.NoError(t, err)

	_, err = a.ArchiveRun(context.Background(), blob.Snapshot{RunID: uuid.New()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "escapes base directory")
}
