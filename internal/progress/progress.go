// Package progress implements completed-cell progress sinks for dispatch
// runs.
package progress

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/quantline/riskpipe/pkg/dispatch"
)

// LogSink logs cumulative progress. Useful during development or audits
// where no durable sink is configured.
type LogSink struct {
	logger *zap.Logger
	total  int64
	done   atomic.Int64
}

// NewLogSink wires a zap logger to the sink interface. Total is the expected
// cell count, used to annotate each record; zero disables the annotation.
func NewLogSink(logger *zap.Logger, total int) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger, total: int64(total)}
}

// Advance implements dispatch.Progress.
func (s *LogSink) Advance(n int) {
	done := s.done.Add(int64(n))
	fields := []zap.Field{
		zap.Int("cells", n),
		zap.Int64("cells_done", done),
	}
	if s.total > 0 {
		fields = append(fields, zap.Int64("cells_total", s.total))
	}
	s.logger.Info("run progress", fields...)
}

// Done returns the cumulative cell count seen so far.
func (s *LogSink) Done() int64 {
	return s.done.Load()
}

// PrometheusSink counts completed cells on a dedicated collector.
type PrometheusSink struct {
	cells prometheus.Counter
}

// NewPrometheusSink registers the progress collector against the provided
// registry (the default registerer when nil).
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		cells: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskpipe_progress_cells_total",
			Help: "Completed result cells reported by the dispatch progress sink.",
		}),
	}
	if err := reg.Register(s.cells); err != nil {
		return nil, fmt.Errorf("register progress collector: %w", err)
	}
	return s, nil
}

// Advance implements dispatch.Progress.
func (s *PrometheusSink) Advance(n int) {
	s.cells.Add(float64(n))
}

// Multi fans progress out to several sinks.
type Multi []dispatch.Progress

// Advance implements dispatch.Progress.
func (m Multi) Advance(n int) {
	for _, sink := range m {
		if sink != nil {
			sink.Advance(n)
		}
	}
}
