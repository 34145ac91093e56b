package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	localbackend "github.com/quantline/riskpipe/internal/backend/local"
	"github.com/quantline/riskpipe/internal/store"
)

func TestGetRunReturnsRecord(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := store.NewWithPool(mock, "risk_runs")
	require.NoError(t, err)

	id := uuid.New()
	started := time.Unix(1770000000, 0).UTC()
	finished := time.Unix(1770000100, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "backend", "requests", "cells_expected",
		"cells_ok", "cells_error", "started_at", "finished_at", "status", "error_message",
	}).AddRow(id, "local", 2, 8, 8, 0, started, &finished, "success", (*string)(nil))

	mock.ExpectQuery("SELECT id, backend, requests, cells_expected").
		WithArgs(id).
		WillReturnRows(rows)

	srv := NewServer(localbackend.New(localbackend.Config{}), runs, nil, nil, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+id.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp runStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, id.String(), resp.RunID)
	require.Equal(t, "success", resp.Status)
	require.Equal(t, 8, resp.CellsOK)
	require.NotNil(t, resp.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := store.NewWithPool(mock, "risk_runs")
	require.NoError(t, err)

	id := uuid.New()
	mock.ExpectQuery("SELECT id, backend, requests, cells_expected").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	srv := NewServer(localbackend.New(localbackend.Config{}), runs, nil, nil, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+id.String(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRunRejectsBadID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := store.NewWithPool(mock, "risk_runs")
	require.NoError(t, err)

	srv := NewServer(localbackend.New(localbackend.Config{}), runs, nil, nil, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
