// Package dispatch implements the flow-controlled dispatch-and-collect loop:
// a single blocking worker goroutine feeds batches to the calculation
// backend while the collector keeps a bounded number of requests in flight,
// flattening results as they complete.
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

// Progress receives completed-cell counts as batches finish. Implementations
// must tolerate concurrent runs sharing one sink.
type Progress interface {
	Advance(n int)
}

// Config controls Runner behavior.
type Config struct {
	// MaxInFlight bounds requests submitted but not yet completed. Required.
	MaxInFlight int
	// Timeout bounds the asynchronous completion wait per request. Zero
	// means no timeout. Only consulted in async-submission mode.
	Timeout time.Duration
	// Progress optionally receives completed-cell counts.
	Progress Progress
	// Decoders resolves cell types to decoders. Defaults to
	// risk.DefaultRegistry().
	Decoders *risk.Registry
	// Logger is used for worker and flattening diagnostics.
	Logger *zap.Logger
}

// Runner executes batches of calculation requests against a backend with a
// constant-size in-flight window.
type Runner struct {
	backend  risk.Backend
	session  risk.Session
	cfg      Config
	decoders *risk.Registry
	logger   *zap.Logger
}

// NewRunner constructs a Runner. The session may be nil for backends that
// manage their own credentials.
func NewRunner(backend risk.Backend, session risk.Session, cfg Config) (*Runner, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.MaxInFlight <= 0 {
		return nil, fmt.Errorf("max in flight must be > 0")
	}
	decoders := cfg.Decoders
	if decoders == nil {
		decoders = risk.DefaultRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		backend:  backend,
		session:  session,
		cfg:      cfg,
		decoders: decoders,
		logger:   logger,
	}, nil
}

// Run dispatches the requests and blocks until every one has completed, the
// context ends, or the result stream shuts down early. The returned map
// holds one entry per flattened (key, instrument) cell.
//
// An early shutdown of the result stream (only reachable through a
// subscriber failure or timeout) truncates the run: Run returns whatever has
// accumulated so far without an error.
func (r *Runner) Run(ctx context.Context, requests []*risk.Request) (risk.ResultMap, error) {
	results := make(risk.ResultMap)
	if len(requests) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	isAsync := !requests[0].WaitForResults
	// One slot per outcome plus room for the shutdown markers.
	capacity := len(requests) + 2

	rawResults := queue.New[risk.Outcome](capacity)
	responses := rawResults
	if isAsync {
		// Async submissions are acknowledged first; a separate queue feeds
		// the subscriber that resolves acknowledgements into results.
		responses = queue.New[risk.Outcome](capacity)
	}
	pendingRequests := queue.New[*risk.Request](capacity)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		r.dispatchLoop(ctx, pendingRequests, responses, rawResults)
	}()
	defer func() {
		cancel()
		<-workerDone
	}()

	var subscriberErr chan error
	if isAsync {
		subscriberErr = make(chan error, 1)
		go func() {
			err := r.backend.GetResults(ctx, responses, rawResults, r.cfg.Timeout)
			if err != nil {
				// A dying subscriber must shut the result stream down so the
				// collector truncates instead of waiting forever.
				if serr := rawResults.Shutdown(ctx); serr != nil {
					r.logger.Debug("result stream shutdown skipped", zap.Error(serr))
				}
			}
			subscriberErr <- err
		}()
	}

	remaining := make([]*risk.Request, len(requests))
	copy(remaining, requests)

	expected := len(requests)
	received := 0
	submitted := 0
	window := min(r.cfg.MaxInFlight, len(remaining))
	defer func() {
		metrics.AddInFlight(received - submitted)
	}()

	for received < expected {
		if len(remaining) > 0 {
			chunk := remaining[:min(window, len(remaining))]
			remaining = remaining[len(chunk):]
			if err := pendingRequests.Put(ctx, chunk...); err != nil {
				return results, err
			}
			submitted += len(chunk)
			metrics.AddInFlight(len(chunk))
			if len(remaining) == 0 {
				// No more chunks are coming; the worker still finishes
				// everything already queued.
				if err := pendingRequests.Shutdown(ctx); err != nil {
					return results, err
				}
			}
		}

		completed, shutdown, err := rawResults.Drain(ctx)
		if err != nil {
			return results, err
		}
		if shutdown {
			// Only reachable through an error-driven shutdown of the result
			// stream; return what has accumulated so far.
			r.logger.Warn("result stream shut down early",
				zap.Int("received", received),
				zap.Int("expected", expected),
			)
			break
		}

		// Credit-based replenishment: admit exactly as many new requests as
		// just completed, never more than what is left to submit.
		window = min(len(completed), len(remaining))

		for _, outcome := range completed {
			received++
			metrics.AddInFlight(-1)

			cells, err := risk.Flatten(
				outcome.Request,
				r.backend.Provider(),
				outcome.Reply,
				outcome.Err,
				r.decoders,
				r.logger,
			)
			if err != nil {
				return results, fmt.Errorf("flatten result: %w", err)
			}

			errCells := 0
			for ref, value := range cells {
				if _, ok := value.(risk.ErrorValue); ok {
					errCells++
				}
				results[ref] = value
			}
			metrics.ObserveCells(len(cells), errCells)
			if r.cfg.Progress != nil {
				r.cfg.Progress.Advance(len(cells))
			}
		}
	}

	if subscriberErr != nil {
		if err := <-subscriberErr; err != nil {
			r.logger.Error("result subscriber failed", zap.Error(err))
		}
	}

	return results, nil
}
