// Package store provides Postgres-backed persistence for dispatch runs.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run record not found")

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RunStatus mirrors the runs status column.
type RunStatus string

// Run statuses persisted in the status column.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunError   RunStatus = "error"
)

// RunRecord models one dispatch run row.
type RunRecord struct {
	// ID is the run identifier assigned at submission.
	ID uuid.UUID
	// Backend labels the calculation provider used.
	Backend string
	// Requests is the number of calculation requests in the run.
	Requests int
	// CellsExpected is the total cell count over all requests.
	CellsExpected int
	// CellsOK / CellsError are filled in on completion.
	CellsOK    int
	CellsError int
	// StartedAt captures when the run began.
	StartedAt time.Time
	// FinishedAt is nil until the run completes.
	FinishedAt *time.Time
	// Status is running/success/partial/error.
	Status RunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// Config controls the Postgres connection pool used for run rows.
type Config struct {
	DSN      string
	Table    string
	MaxConns int32
}

type runPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunStore writes and reads dispatch run rows.
type RunStore struct {
	pool  runPool
	table string
}

// New creates a Postgres-backed RunStore using the provided config.
func New(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "risk_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing).
func NewWithPool(pool runPool, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "risk_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// InsertRun records a newly submitted run in the running state.
func (s *RunStore) InsertRun(ctx context.Context, rec RunRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	query := fmt.Sprintf(`INSERT INTO %s
		(id, backend, requests, cells_expected, started_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)`, s.table)
	if _, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.Backend,
		rec.Requests,
		rec.CellsExpected,
		rec.StartedAt,
		string(RunRunning),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// CompleteRun marks the run finished with its final status and cell counts.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status RunStatus,
	cellsOK, cellsError int,
	errMsg *string,
) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("run store is not configured")
	}
	query := fmt.Sprintf(`UPDATE %s
		SET finished_at = $2, status = $3, cells_ok = $4, cells_error = $5, error_message = $6
		WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, id, finishedAt, string(status), cellsOK, cellsError, errMsg)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun loads a single run row or returns ErrNotFound.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (RunRecord, error) {
	if s == nil || s.pool == nil {
		return RunRecord{}, fmt.Errorf("run store is not configured")
	}
	query := fmt.Sprintf(`SELECT id, backend, requests, cells_expected,
		COALESCE(cells_ok, 0), COALESCE(cells_error, 0),
		started_at, finished_at, status, error_message
		FROM %s WHERE id = $1`, s.table)

	var rec RunRecord
	var status string
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.Backend,
		&rec.Requests,
		&rec.CellsExpected,
		&rec.CellsOK,
		&rec.CellsError,
		&rec.StartedAt,
		&rec.FinishedAt,
		&status,
		&rec.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RunRecord{}, ErrNotFound
		}
		return RunRecord{}, fmt.Errorf("get run: %w", err)
	}
	rec.Status = RunStatus(status)
	return rec, nil
}
