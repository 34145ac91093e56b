// Package local archives run snapshots on the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quantline/riskpipe/internal/blob"
)

// Config captures the parameters for the filesystem archive.
type Config struct {
	// BaseDir is the root directory where snapshots are stored.
	BaseDir string
	// Prefix is the subdirectory snapshots are named under.
	Prefix string
}

// Archive writes run snapshots below a base directory and returns file://
// URIs.
type Archive struct {
	baseDir string
	prefix  string
}

// New creates a filesystem-backed snapshot archive, creating the base
// directory if needed.
func New(cfg Config) (*Archive, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	return &Archive{baseDir: cfg.BaseDir, prefix: cfg.Prefix}, nil
}

// ArchiveRun implements blob.Archive.
func (a *Archive) ArchiveRun(_ context.Context, snap blob.Snapshot) (string, error) {
	data, err := blob.Encode(snap)
	if err != nil {
		return "", err
	}

	objectPath := blob.ObjectPath(a.prefix, snap.RunID)
	fullPath := filepath.Join(a.baseDir, filepath.FromSlash(objectPath))

	// Reject anything that escapes the base directory.
	cleanBase := filepath.Clean(a.baseDir)
	cleanFull := filepath.Clean(fullPath)
	if !strings.HasPrefix(cleanFull, cleanBase+string(os.PathSeparator)) {
		return "", fmt.Errorf("snapshot path %q escapes base directory", objectPath)
	}

	if err := os.MkdirAll(filepath.Dir(cleanFull), 0o750); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := os.WriteFile(cleanFull, data, 0o640); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return "file://" + cleanFull, nil
}
