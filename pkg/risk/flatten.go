package risk

import (
	"fmt"

	"go.uber.org/zap"
)

// Flatten expands one completed request into a flat map keyed by
// (ResultKey, instrument).
//
// A dispatch error produces one uniform error cell per
// (measure, position, as-of) triple of the request; there is no partial
// success inside a failed batch. Otherwise the reply must be a RawResult
// whose shape matches the request's declared orderings exactly; a mismatch
// is a programming-contract violation and returns a fatal error rather than
// a partial flattening.
//
// Each cell is decoded by the registry decoder for its type. A missing
// decoder passes the raw cell through unchanged. A decoder failure replaces
// only that cell with an ErrorValue and logs it; sibling cells are
// unaffected.
func Flatten(
	req *Request,
	provider string,
	reply any,
	dispatchErr error,
	reg *Registry,
	logger *zap.Logger,
) (ResultMap, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var raw RawResult
	if dispatchErr != nil {
		raw = errorCube(req, dispatchErr.Error())
	} else {
		var ok bool
		raw, ok = reply.(RawResult)
		if !ok {
			return nil, fmt.Errorf("unexpected reply type %T for completed request", reply)
		}
		if err := checkShape(req, raw); err != nil {
			return nil, err
		}
	}

	out := make(ResultMap, req.Cells())
	for mi, measure := range req.Measures {
		for pi, position := range req.Positions {
			for ai, asOf := range req.AsOf {
				cell := raw[mi][pi][ai]
				key := ResultKey{
					Provider: provider,
					Date:     asOf.Date,
					Market:   asOf.Market,
					Params:   req.Params,
					Scenario: req.Scenario,
					Measure:  measure,
				}

				value := any(cell)
				if decoder, ok := reg.Lookup(cell.Type); ok {
					decoded, err := decoder(cell, key, position.Instrument)
					if err != nil {
						decoded = ErrorValue{Key: key, Message: err.Error()}
						logger.Error("cell decode failed",
							zap.String("cell_type", cell.Type),
							zap.String("measure", measure.Name),
							zap.String("instrument", position.Instrument.ID),
							zap.String("date", asOf.Date),
							zap.Error(err),
						)
					}
					value = decoded
				}

				out[CellRef{Key: key, Instrument: position.Instrument}] = value
			}
		}
	}
	return out, nil
}

// errorCube synthesizes a uniform raw error result covering every cell of
// the request.
func errorCube(req *Request, message string) RawResult {
	cell := NewErrorCell(message)
	cube := make(RawResult, len(req.Measures))
	for mi := range cube {
		cube[mi] = make([][]RawCell, len(req.Positions))
		for pi := range cube[mi] {
			dates := make([]RawCell, len(req.AsOf))
			for ai := range dates {
				dates[ai] = cell
			}
			cube[mi][pi] = dates
		}
	}
	return cube
}

func checkShape(req *Request, raw RawResult) error {
	if len(raw) != len(req.Measures) {
		return fmt.Errorf("result shape mismatch: %d measure slices, request has %d measures",
			len(raw), len(req.Measures))
	}
	for mi := range raw {
		if len(raw[mi]) != len(req.Positions) {
			return fmt.Errorf("result shape mismatch: measure %d has %d position slices, request has %d positions",
				mi, len(raw[mi]), len(req.Positions))
		}
		for pi := range raw[mi] {
			if len(raw[mi][pi]) != len(req.AsOf) {
				return fmt.Errorf("result shape mismatch: measure %d position %d has %d cells, request has %d as-of dates",
					mi, pi, len(raw[mi][pi]), len(req.AsOf))
			}
		}
	}
	return nil
}
