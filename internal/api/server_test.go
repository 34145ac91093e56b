package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	localbackend "github.com/quantline/riskpipe/internal/backend/local"
	localblob "github.com/quantline/riskpipe/internal/blob/local"
	"github.com/quantline/riskpipe/internal/config"
	memorypublisher "github.com/quantline/riskpipe/internal/publisher/memory"
)

func testConfig() config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: 8080},
		Dispatch: config.DispatchConfig{MaxInFlight: 4},
		Backend:  config.BackendConfig{Kind: "local"},
		Storage:  config.StorageConfig{Backend: "none", Prefix: "runs"},
	}
}

func submitBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"requests": []map[string]any{
			{
				"measures": []map[string]any{{"name": "PV"}, {"name": "Delta"}},
				"positions": []map[string]any{
					{"instrument_id": "swap-1", "instrument_type": "IRSwap"},
					{"instrument_id": "swap-2", "instrument_type": "IRSwap"},
				},
				"as_of":    []map[string]any{{"date": "2026-01-05"}, {"date": "2026-01-06"}},
				"currency": "USD",
			},
		},
	})
	require.NoError(t, err)
	return body
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	srv := NewServer(localbackend.New(localbackend.Config{}), nil, nil, nil, testConfig(), zap.NewNop())

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := NewServer(localbackend.New(localbackend.Config{}), nil, nil, nil, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "riskpipe_")
}

func TestSubmitRunReturnsAllCells(t *testing.T) {
	t.Parallel()

	events := memorypublisher.New()
	snapshots, err := localblob.New(localblob.Config{BaseDir: t.TempDir(), Prefix: "runs"})
	require.NoError(t, err)

	srv := NewServer(localbackend.New(localbackend.Config{}), nil, snapshots, events, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewReader(submitBody(t)))
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)
	require.Equal(t, "success", resp.Status)
	// 2 measures x 2 positions x 2 dates.
	require.Equal(t, 8, resp.Cells)
	require.Zero(t, resp.ErrorCells)
	require.Len(t, resp.Results, 8)
	require.NotEmpty(t, resp.SnapshotURI)

	for _, cell := range resp.Results {
		require.Equal(t, "local", cell.Provider)
		require.Empty(t, cell.Error)
		require.NotNil(t, cell.Value)
	}

	published := events.Events()
	require.Len(t, published, 1)
	require.Equal(t, resp.RunID, published[0].RunID)
	require.Equal(t, "success", published[0].Status)
	require.Equal(t, 8, published[0].Cells)
	require.Zero(t, published[0].ErrorCells)
	require.Equal(t, resp.SnapshotURI, published[0].SnapshotURI)
	require.False(t, published[0].FinishedAt.IsZero())
}

func TestSubmitRunValidation(t *testing.T) {
	t.Parallel()

	srv := NewServer(localbackend.New(localbackend.Config{}), nil, nil, nil, testConfig(), zap.NewNop())

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: "{"},
		{name: "no requests", body: `{"requests":[]}`},
		{name: "no measures", body: `{"requests":[{"positions":[{"instrument_id":"x"}],"as_of":[{"date":"2026-01-05"}]}]}`},
		{name: "no positions", body: `{"requests":[{"measures":[{"name":"PV"}],"as_of":[{"date":"2026-01-05"}]}]}`},
		{name: "no dates", body: `{"requests":[{"measures":[{"name":"PV"}],"positions":[{"instrument_id":"x"}]}]}`},
		{name: "bad date", body: `{"requests":[{"measures":[{"name":"PV"}],"positions":[{"instrument_id":"x"}],"as_of":[{"date":"Jan 5"}]}]}`},
		{name: "bad window", body: `{"max_in_flight":0,"requests":[{"measures":[{"name":"PV"}],"positions":[{"instrument_id":"x"}],"as_of":[{"date":"2026-01-05"}]}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewReader([]byte(tc.body)))
			srv.Handler().ServeHTTP(rec, req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetRunWithoutStore(t *testing.T) {
	t.Parallel()

	srv := NewServer(localbackend.New(localbackend.Config{}), nil, nil, nil, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/3e0a1d4e-92f0-4a1b-9f6e-1f2a3b4c5d6e", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	srv := NewServer(localbackend.New(localbackend.Config{}), nil, nil, nil, testConfig(), zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
