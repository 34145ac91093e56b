package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantline/riskpipe/pkg/queue"
	"github.com/quantline/riskpipe/pkg/risk"
)

// asyncBackend acknowledges batches immediately and resolves the
// acknowledgements in GetResults. resolveLimit, when positive, fails the
// subscriber after that many resolutions.
type asyncBackend struct {
	stubBackend
	resolveLimit int
}

type ack struct {
	req *risk.Request
}

func (b *asyncBackend) CalcMulti(ctx context.Context, reqs []*risk.Request) (map[*risk.Request]any, error) {
	replies := make(map[*risk.Request]any, len(reqs))
	for _, req := range reqs {
		replies[req] = ack{req: req}
	}
	return replies, nil
}

func (b *asyncBackend) GetResults(
	ctx context.Context,
	responses, results *queue.Queue[risk.Outcome],
	_ time.Duration,
) error {
	resolved := 0
	for {
		outcomes, shutdown, err := responses.Drain(ctx)
		if err != nil {
			return err
		}
		for _, outcome := range outcomes {
			if b.resolveLimit > 0 && resolved >= b.resolveLimit {
				return fmt.Errorf("result stream lost")
			}
			token, ok := outcome.Reply.(ack)
			if !ok {
				return fmt.Errorf("unexpected acknowledgement %T", outcome.Reply)
			}
			cube, err := b.Calc(ctx, token.req)
			if err != nil {
				return err
			}
			if err := results.Put(ctx, risk.Outcome{Request: outcome.Request, Reply: cube}); err != nil {
				return err
			}
			resolved++
		}
		if shutdown {
			return nil
		}
	}
}

func asyncRequests(n int) []*risk.Request {
	reqs := newRequests(n)
	for _, req := range reqs {
		req.WaitForResults = false
	}
	return reqs
}

func TestRunAsyncResolvesThroughSubscriber(t *testing.T) {
	t.Parallel()

	runner, err := NewRunner(&asyncBackend{}, nil, Config{MaxInFlight: 3, Logger: zap.NewNop()})
	require.NoError(t, err)

	results, err := runner.Run(context.Background(), asyncRequests(9))
	require.NoError(t, err)
	require.Len(t, results, 9)

	for _, value := range results {
		require.Equal(t, 1.0, value)
	}
}

func TestRunAsyncSubscriberFailureTruncatesRun(t *testing.T) {
	t.Parallel()

	backend := &asyncBackend{resolveLimit: 2}
	runner, err := NewRunner(backend, nil, Config{MaxInFlight: 2, Logger: zap.NewNop()})
	require.NoError(t, err)

	results, err := runner.Run(context.Background(), asyncRequests(6))
	require.NoError(t, err)
	// The run is truncated, not failed: whatever resolved before the
	// subscriber died is returned.
	require.Less(t, len(results), 6)
}
