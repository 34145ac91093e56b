package api

import (
	"fmt"
	"time"

	"github.com/quantline/riskpipe/pkg/risk"
)

type runRequest struct {
	MaxInFlight    *int             `json:"max_in_flight,omitempty"`
	TimeoutSeconds *int             `json:"timeout_seconds,omitempty"`
	Requests       []requestPayload `json:"requests"`
}

type requestPayload struct {
	Measures  []measurePayload  `json:"measures"`
	Positions []positionPayload `json:"positions"`
	AsOf      []asOfPayload     `json:"as_of"`
	Currency  string            `json:"currency,omitempty"`
	CSATerm   string            `json:"csa_term,omitempty"`
	Scenario  string            `json:"scenario,omitempty"`
}

type measurePayload struct {
	Name string `json:"name"`
	Unit string `json:"unit,omitempty"`
}

type positionPayload struct {
	InstrumentID   string `json:"instrument_id"`
	InstrumentType string `json:"instrument_type,omitempty"`
}

type asOfPayload struct {
	Date   string `json:"date"`
	Market string `json:"market,omitempty"`
}

type runResponse struct {
	RunID       string        `json:"run_id"`
	Status      string        `json:"status"`
	Cells       int           `json:"cells"`
	ErrorCells  int           `json:"error_cells"`
	SnapshotURI string        `json:"snapshot_uri,omitempty"`
	Results     []cellPayload `json:"results"`
}

type cellPayload struct {
	Provider   string `json:"provider"`
	Date       string `json:"date"`
	Market     string `json:"market,omitempty"`
	Scenario   string `json:"scenario,omitempty"`
	Measure    string `json:"measure"`
	Instrument string `json:"instrument"`
	Value      any    `json:"value,omitempty"`
	Error      string `json:"error,omitempty"`
}

type runStatusResponse struct {
	RunID         string  `json:"run_id"`
	Backend       string  `json:"backend"`
	Status        string  `json:"status"`
	Requests      int     `json:"requests"`
	CellsExpected int     `json:"cells_expected"`
	CellsOK       int     `json:"cells_ok"`
	CellsError    int     `json:"cells_error"`
	StartedAt     string  `json:"started_at"`
	FinishedAt    *string `json:"finished_at,omitempty"`
	Error         *string `json:"error,omitempty"`
}

func (p requestPayload) toRiskRequest() (*risk.Request, error) {
	if len(p.Measures) == 0 {
		return nil, fmt.Errorf("request has no measures")
	}
	if len(p.Positions) == 0 {
		return nil, fmt.Errorf("request has no positions")
	}
	if len(p.AsOf) == 0 {
		return nil, fmt.Errorf("request has no as_of dates")
	}
	req := &risk.Request{
		Params:         risk.Parameters{Currency: p.Currency, CSATerm: p.CSATerm},
		Scenario:       risk.Scenario{Name: p.Scenario},
		WaitForResults: true,
	}
	for _, a := range p.AsOf {
		if _, err := time.Parse("2006-01-02", a.Date); err != nil {
			return nil, fmt.Errorf("invalid as_of date %q: %w", a.Date, err)
		}
		req.AsOf = append(req.AsOf, risk.AsOf{Date: a.Date, Market: a.Market})
	}
	for _, m := range p.Measures {
		if m.Name == "" {
			return nil, fmt.Errorf("measure name must not be empty")
		}
		req.Measures = append(req.Measures, risk.Measure{Name: m.Name, Unit: m.Unit})
	}
	for _, pos := range p.Positions {
		if pos.InstrumentID == "" {
			return nil, fmt.Errorf("position instrument_id must not be empty")
		}
		req.Positions = append(req.Positions, risk.Position{
			Instrument: risk.Instrument{ID: pos.InstrumentID, Type: pos.InstrumentType},
		})
	}
	return req, nil
}
