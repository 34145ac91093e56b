package risk

import (
	"context"
	"time"

	"github.com/quantline/riskpipe/pkg/queue"
)

// Backend executes calculation requests against a pricing provider. Calc and
// CalcMulti are blocking calls; the dispatch worker runs them on a dedicated
// goroutine so they never stall the collector.
type Backend interface {
	// Provider labels results produced by this backend in ResultKey.Provider.
	Provider() string

	// Calc executes a single request and returns its raw result cube.
	Calc(ctx context.Context, req *Request) (RawResult, error)

	// CalcMulti executes a batch. Values are RawResult for synchronous
	// backends, or opaque acknowledgements when the batch was submitted
	// asynchronously. An error fails the whole batch.
	CalcMulti(ctx context.Context, reqs []*Request) (map[*Request]any, error)

	// GetResults is the asynchronous completion bridge. It consumes
	// acknowledgement outcomes from responses, waits or polls until the
	// backend reports completion (timeout, when positive, is fatal), and
	// pushes finished outcomes onto results. On observing shutdown on
	// responses it stops accepting work and returns. Only required for
	// backends that support asynchronous submission.
	GetResults(ctx context.Context, responses, results *queue.Queue[Outcome], timeout time.Duration) error
}

// Session scopes backend credentials to the dispatch worker. Open is called
// when the worker starts and Close when it exits, regardless of outcome.
type Session interface {
	Open(ctx context.Context) error
	Close() error
}

// SequentialCalc is the default CalcMulti: it applies Calc per request.
// Backends with a true batch call override CalcMulti instead.
func SequentialCalc(ctx context.Context, b Backend, reqs []*Request) (map[*Request]any, error) {
	replies := make(map[*Request]any, len(reqs))
	for _, req := range reqs {
		res, err := b.Calc(ctx, req)
		if err != nil {
			return nil, err
		}
		replies[req] = res
	}
	return replies, nil
}
