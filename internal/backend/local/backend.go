// Package local provides a deterministic in-process calculation backend.
// It exists to exercise the dispatch pipeline end to end (service smoke
// runs, integration tests); it is not a pricing engine.
package local

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/quantline/riskpipe/pkg/queue"
	"github.com/quantline/riskpipe/pkg/risk"
)

// Config controls the synthetic backend.
type Config struct {
	// Latency is slept per batch call to mimic a slow backend.
	Latency time.Duration
}

// Backend computes deterministic pseudo-values for every requested cell.
// It is synchronous only: requests must set WaitForResults.
type Backend struct {
	cfg Config
}

// New constructs a local Backend.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg}
}

// Provider implements risk.Backend.
func (b *Backend) Provider() string {
	return "local"
}

// Calc produces the full result cube for one request. Values are derived
// from a hash of (measure, instrument, date) so repeated runs agree.
func (b *Backend) Calc(ctx context.Context, req *risk.Request) (risk.RawResult, error) {
	if b.cfg.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.cfg.Latency):
		}
	}

	cube := make(risk.RawResult, len(req.Measures))
	for mi, measure := range req.Measures {
		cube[mi] = make([][]risk.RawCell, len(req.Positions))
		for pi, position := range req.Positions {
			dates := make([]risk.RawCell, len(req.AsOf))
			for ai, asOf := range req.AsOf {
				dates[ai] = risk.RawCell{
					Type: "Risk",
					Fields: map[string]any{
						"value": syntheticValue(measure.Name, position.Instrument.ID, asOf.Date),
					},
				}
			}
			cube[mi][pi] = dates
		}
	}
	return cube, nil
}

// CalcMulti applies Calc per request.
func (b *Backend) CalcMulti(ctx context.Context, reqs []*risk.Request) (map[*risk.Request]any, error) {
	return risk.SequentialCalc(ctx, b, reqs)
}

// GetResults implements risk.Backend. The local backend completes all work
// synchronously, so asynchronous submission is not supported.
func (b *Backend) GetResults(context.Context, *queue.Queue[risk.Outcome], *queue.Queue[risk.Outcome], time.Duration) error {
	return fmt.Errorf("local backend does not support asynchronous submission")
}

// syntheticValue maps the cell identity onto a stable value in [0, 1000).
func syntheticValue(measure, instrument, date string) float64 {
	h := fnv.New64a()
	h.Write([]byte(measure))
	h.Write([]byte{0})
	h.Write([]byte(instrument))
	h.Write([]byte{0})
	h.Write([]byte(date))
	return float64(h.Sum64()%100000) / 100.0
}
