// Package risk defines the domain model for batch risk calculations: the
// request cube (measures x positions x as-of dates), result identity, raw
// backend payloads, and the decoder registry that turns raw cells into final
// values.
package risk

import "fmt"

// Measure identifies one calculated quantity (e.g. present value, delta).
type Measure struct {
	Name string
	Unit string
}

// Instrument identifies the priced instrument within a position.
type Instrument struct {
	ID   string
	Type string
}

// Position wraps an instrument held in the request's portfolio.
type Position struct {
	Instrument Instrument
}

// AsOf pairs a pricing date with the market context used for that date.
type AsOf struct {
	// Date is the pricing date in ISO-8601 form (YYYY-MM-DD).
	Date string
	// Market labels the market data context (e.g. "LDN", "NYC close").
	Market string
}

// Parameters captures the pricing parameter set shared by every cell of a
// request. It participates in ResultKey and must stay comparable.
type Parameters struct {
	Currency string
	CSATerm  string
}

// Scenario names the market scenario the request is priced under.
type Scenario struct {
	Name string
}

// Request is one batch calculation request: an ordered cube of
// measures x positions x as-of dates plus the shared pricing context.
type Request struct {
	Measures  []Measure
	Positions []Position
	AsOf      []AsOf
	Params    Parameters
	Scenario  Scenario

	// WaitForResults selects synchronous completion. When false the caller
	// accepts asynchronous submission: the backend acknowledges dispatch and
	// a result subscriber later resolves the acknowledgement into results.
	WaitForResults bool
}

// Cells returns the number of result cells the request will produce.
func (r *Request) Cells() int {
	return len(r.Measures) * len(r.Positions) * len(r.AsOf)
}

// ResultKey ties a computed value to the provider, pricing date, market,
// parameters, scenario and measure it was calculated for. It is a pure value
// type and is used (with the instrument) as the output map key.
type ResultKey struct {
	Provider string
	Date     string
	Market   string
	Params   Parameters
	Scenario Scenario
	Measure  Measure
}

// CellRef is the full identity of one result cell.
type CellRef struct {
	Key        ResultKey
	Instrument Instrument
}

// ResultMap holds one entry per (key, instrument) cell. Values are either
// decoder output or ErrorValue. Keys are unique; last write wins.
type ResultMap map[CellRef]any

// ErrorValue is the error cell: it carries the identity of the failed cell
// and the failure message.
type ErrorValue struct {
	Key     ResultKey
	Message string
}

func (e ErrorValue) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Key.Measure.Name, e.Key.Date, e.Message)
}

// RawCell is one undecoded leaf of a batch result. Type is the decoder
// discriminant; Fields holds the payload as produced by the backend.
type RawCell struct {
	Type   string
	Fields map[string]any
}

// RawResult is the three-level nested batch result, indexed
// measure -> position -> as-of, in the same order as the request's slices.
type RawResult [][][]RawCell

// Outcome pairs a request with the reply that completed it. Reply is a
// RawResult for synchronous backends or an opaque acknowledgement while a
// request is still pending asynchronously. Err is set when the whole batch
// dispatch failed.
type Outcome struct {
	Request *Request
	Reply   any
	Err     error
}
