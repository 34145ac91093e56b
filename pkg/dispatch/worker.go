package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quantline/riskpipe/internal/metrics"
	"github.com/quantline/riskpipe/pkg/queue"
	"github.com/quantline/riskpipe/pkg/risk"
)

// dispatchLoop is the blocking worker. It repeatedly drains a chunk of
// pending requests, invokes the backend batch call, and emits either
// per-request replies onto responses or a uniform per-request failure onto
// rawResults. Failures always go to rawResults, even in async mode, so they
// reach the collector without passing through the subscriber.
//
// The session, when present, is held for the whole loop and released on
// exit regardless of outcome.
func (r *Runner) dispatchLoop(
	ctx context.Context,
	pendingRequests *queue.Queue[*risk.Request],
	responses, rawResults *queue.Queue[risk.Outcome],
) {
	logger := r.logger.Named("worker")

	var sessionErr error
	if r.session != nil {
		if sessionErr = r.session.Open(ctx); sessionErr != nil {
			sessionErr = fmt.Errorf("session open: %w", sessionErr)
			logger.Error("session open failed", zap.Error(sessionErr))
		} else {
			defer func() {
				if err := r.session.Close(); err != nil {
					logger.Warn("session close failed", zap.Error(err))
				}
			}()
		}
	}

	shutdown := false
	for !shutdown {
		chunk, sd, err := pendingRequests.Drain(ctx)
		if err != nil {
			return
		}
		shutdown = sd
		if len(chunk) == 0 {
			continue
		}

		if sessionErr != nil {
			// Without a session every batch fails uniformly.
			r.failChunk(ctx, rawResults, chunk, sessionErr)
			continue
		}

		start := time.Now()
		replies, err := r.backend.CalcMulti(ctx, chunk)
		if err != nil {
			metrics.ObserveBatch("error", time.Since(start))
			logger.Warn("batch dispatch failed",
				zap.Int("requests", len(chunk)),
				zap.Error(err),
			)
			r.failChunk(ctx, rawResults, chunk, err)
			continue
		}
		metrics.ObserveBatch("ok", time.Since(start))
		logger.Debug("batch dispatched",
			zap.Int("requests", len(chunk)),
			zap.Duration("dur", time.Since(start)),
		)

		for _, req := range chunk {
			reply, ok := replies[req]
			if !ok {
				// The backend broke its contract for this request only.
				if perr := rawResults.Put(ctx, risk.Outcome{
					Request: req,
					Err:     fmt.Errorf("backend returned no reply for request"),
				}); perr != nil {
					return
				}
				continue
			}
			if perr := responses.Put(ctx, risk.Outcome{Request: req, Reply: reply}); perr != nil {
				return
			}
		}
	}

	if responses != rawResults {
		// Async mode: tell the result subscriber no more work is coming.
		if err := responses.Shutdown(ctx); err != nil {
			logger.Debug("responses shutdown skipped", zap.Error(err))
		}
	}
}

func (r *Runner) failChunk(
	ctx context.Context,
	rawResults *queue.Queue[risk.Outcome],
	chunk []*risk.Request,
	cause error,
) {
	outcomes := make([]risk.Outcome, 0, len(chunk))
	for _, req := range chunk {
		outcomes = append(outcomes, risk.Outcome{Request: req, Err: cause})
	}
	if err := rawResults.Put(ctx, outcomes...); err != nil {
		r.logger.Debug("failure enqueue skipped", zap.Error(err))
	}
}
