// Package api exposes the HTTP interface for the risk dispatch service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantline/riskpipe/internal/blob"
	"github.com/quantline/riskpipe/internal/config"
	"github.com/quantline/riskpipe/internal/metrics"
	"github.com/quantline/riskpipe/internal/progress"
	"github.com/quantline/riskpipe/internal/publisher"
	"github.com/quantline/riskpipe/internal/store"
	"github.com/quantline/riskpipe/pkg/dispatch"
	"github.com/quantline/riskpipe/pkg/risk"
)

// Server wires HTTP handlers to the dispatch runner and stores.
type Server struct {
	router    chi.Router
	backend   risk.Backend
	runs      *store.RunStore
	snapshots blob.Archive
	events    publisher.Publisher
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The run store,
// snapshot archive and publisher may each be nil when not configured.
func NewServer(
	backend risk.Backend,
	runs *store.RunStore,
	snapshots blob.Archive,
	events publisher.Publisher,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		backend:   backend,
		runs:      runs,
		snapshots: snapshots,
		events:    events,
		cfg:       cfg,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger.Named("http")))
	r.Use(recoverMiddleware(logger.Named("http")))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.submitRun)
			r.Get("/{run_id}", s.getRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Requests) == 0 {
		writeError(w, http.StatusBadRequest, "requests must not be empty")
		return
	}

	reqs := make([]*risk.Request, 0, len(req.Requests))
	expectedCells := 0
	for i, payload := range req.Requests {
		rr, err := payload.toRiskRequest()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("request %d: %v", i, err))
			return
		}
		reqs = append(reqs, rr)
		expectedCells += rr.Cells()
	}

	maxInFlight := s.cfg.Dispatch.MaxInFlight
	if req.MaxInFlight != nil {
		maxInFlight = *req.MaxInFlight
	}
	if maxInFlight <= 0 {
		writeError(w, http.StatusBadRequest, "max_in_flight must be > 0")
		return
	}
	timeout := s.cfg.DispatchTimeout()
	if req.TimeoutSeconds != nil {
		if *req.TimeoutSeconds < 0 {
			writeError(w, http.StatusBadRequest, "timeout_seconds must be >= 0")
			return
		}
		timeout = time.Duration(*req.TimeoutSeconds) * time.Second
	}

	runID := uuid.New()
	startedAt := time.Now().UTC()
	logger := s.logger.With(zap.String("run_id", runID.String()))

	if s.runs != nil {
		rec := store.RunRecord{
			ID:            runID,
			Backend:       s.backend.Provider(),
			Requests:      len(reqs),
			CellsExpected: expectedCells,
			StartedAt:     startedAt,
		}
		if err := s.runs.InsertRun(r.Context(), rec); err != nil {
			logger.Error("insert run record", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to record run")
			return
		}
	}

	runner, err := dispatch.NewRunner(s.backend, nil, dispatch.Config{
		MaxInFlight: maxInFlight,
		Timeout:     timeout,
		Progress:    progress.NewLogSink(logger.Named("progress"), expectedCells),
		Logger:      logger.Named("dispatch"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results, runErr := runner.Run(r.Context(), reqs)

	cells := buildCellPayloads(reqs, s.backend.Provider(), results)
	errCells := 0
	for _, c := range cells {
		if c.Error != "" {
			errCells++
		}
	}

	status := store.RunSuccess
	switch {
	case runErr != nil:
		status = store.RunError
	case errCells > 0:
		status = store.RunPartial
	}
	metrics.ObserveRun(string(status))

	// The run already happened; bookkeeping must survive a client that hung
	// up while waiting.
	finishCtx := context.WithoutCancel(r.Context())
	finishedAt := time.Now().UTC()
	if s.runs != nil {
		var errMsg *string
		if runErr != nil {
			msg := runErr.Error()
			errMsg = &msg
		}
		if err := s.runs.CompleteRun(finishCtx, runID, finishedAt, status, len(cells)-errCells, errCells, errMsg); err != nil {
			logger.Error("complete run record", zap.Error(err))
		}
	}

	snapshotURI := s.archiveSnapshot(finishCtx, logger, runID, status, errCells, cells)
	s.publishCompletion(finishCtx, logger, publisher.RunCompleted{
		RunID:       runID.String(),
		Status:      string(status),
		Cells:       len(cells),
		ErrorCells:  errCells,
		SnapshotURI: snapshotURI,
		FinishedAt:  finishedAt,
	})

	if runErr != nil {
		logger.Error("run failed", zap.Error(runErr))
		writeError(w, http.StatusInternalServerError, runErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		RunID:       runID.String(),
		Status:      string(status),
		Cells:       len(cells),
		ErrorCells:  errCells,
		SnapshotURI: snapshotURI,
		Results:     cells,
	})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store is not configured")
		return
	}
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	rec, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run record", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	resp := runStatusResponse{
		RunID:         rec.ID.String(),
		Backend:       rec.Backend,
		Status:        string(rec.Status),
		Requests:      rec.Requests,
		CellsExpected: rec.CellsExpected,
		CellsOK:       rec.CellsOK,
		CellsError:    rec.CellsError,
		StartedAt:     rec.StartedAt.Format(time.RFC3339),
		Error:         rec.ErrorMessage,
	}
	if rec.FinishedAt != nil {
		finished := rec.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &finished
	}
	writeJSON(w, http.StatusOK, resp)
}

// buildCellPayloads walks the request cubes in submission order so output is
// deterministic regardless of result map iteration.
func buildCellPayloads(reqs []*risk.Request, provider string, results risk.ResultMap) []cellPayload {
	var cells []cellPayload
	for _, req := range reqs {
		for _, m := range req.Measures {
			for _, pos := range req.Positions {
				for _, asOf := range req.AsOf {
					ref := risk.CellRef{
						Key: risk.ResultKey{
							Provider: provider,
							Date:     asOf.Date,
							Market:   asOf.Market,
							Params:   req.Params,
							Scenario: req.Scenario,
							Measure:  m,
						},
						Instrument: pos.Instrument,
					}
					value, ok := results[ref]
					if !ok {
						continue
					}
					cell := cellPayload{
						Provider:   ref.Key.Provider,
						Date:       ref.Key.Date,
						Market:     ref.Key.Market,
						Scenario:   ref.Key.Scenario.Name,
						Measure:    ref.Key.Measure.Name,
						Instrument: ref.Instrument.ID,
					}
					if errVal, isErr := value.(risk.ErrorValue); isErr {
						cell.Error = errVal.Message
					} else {
						cell.Value = value
					}
					cells = append(cells, cell)
				}
			}
		}
	}
	return cells
}

func (s *Server) archiveSnapshot(
	ctx context.Context,
	logger *zap.Logger,
	runID uuid.UUID,
	status store.RunStatus,
	errCells int,
	cells []cellPayload,
) string {
	if s.snapshots == nil {
		return ""
	}
	uri, err := s.snapshots.ArchiveRun(ctx, blob.Snapshot{
		RunID:      runID,
		Status:     string(status),
		Cells:      len(cells),
		ErrorCells: errCells,
		Results:    cells,
	})
	if err != nil {
		logger.Error("archive run snapshot", zap.Error(err))
		return ""
	}
	logger.Info("run snapshot archived", zap.String("uri", uri))
	return uri
}

func (s *Server) publishCompletion(ctx context.Context, logger *zap.Logger, event publisher.RunCompleted) {
	if s.events == nil {
		return
	}
	msgID, err := s.events.PublishRunCompleted(ctx, event)
	if err != nil {
		logger.Error("publish run completion", zap.Error(err))
		return
	}
	logger.Debug("run completion published", zap.String("message_id", msgID))
}
