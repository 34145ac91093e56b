package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantline/riskpipe/pkg/risk"
)

func sampleRequest() *risk.Request {
	return &risk.Request{
		Measures: []risk.Measure{{Name: "PV"}, {Name: "Delta"}},
		Positions: []risk.Position{
			{Instrument: risk.Instrument{ID: "swap-1"}},
		},
		AsOf:           []risk.AsOf{{Date: "2026-01-05"}, {Date: "2026-01-06"}, {Date: "2026-01-07"}},
		WaitForResults: true,
	}
}

func TestCalcShapeMatchesRequest(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	cube, err := b.Calc(context.Background(), sampleRequest())
	require.NoError(t, err)

	require.Len(t, cube, 2)
	for _, positions := range cube {
		require.Len(t, positions, 1)
		for _, dates := range positions {
			require.Len(t, dates, 3)
			for _, cell := range dates {
				require.Equal(t, "Risk", cell.Type)
				value, ok := cell.Fields["value"].(float64)
				require.True(t, ok)
				require.GreaterOrEqual(t, value, 0.0)
				require.Less(t, value, 1000.0)
			}
		}
	}
}

func TestCalcIsDeterministic(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	first, err := b.Calc(context.Background(), sampleRequest())
	require.NoError(t, err)
	second, err := b.Calc(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestCalcRespectsContextWhileSleeping(t *testing.T) {
	t.Parallel()

	b := New(Config{Latency: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Calc(ctx, sampleRequest())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCalcMultiCoversEveryRequest(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	reqs := []*risk.Request{sampleRequest(), sampleRequest()}

	replies, err := b.CalcMulti(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, replies, 2)
	for _, req := range reqs {
		reply, ok := replies[req]
		require.True(t, ok)
		require.IsType(t, risk.RawResult{}, reply)
	}
}

func TestGetResultsIsUnsupported(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	err := b.GetResults(context.Background(), nil, nil, 0)
	require.Error(t, err)
}
