package risk

import (
	"fmt"
	"sync"
)

// ErrorCellType is the discriminant of error cells. Whole-batch dispatch
// failures are synthesized as cells of this type so that batch errors and
// backend-reported cell errors decode through the same path.
const ErrorCellType = "Error"

// Decoder converts one raw cell into its final value. A returned error is
// isolated to that cell; it never fails the surrounding batch.
type Decoder func(cell RawCell, key ResultKey, instr Instrument) (any, error)

// Registry maps cell type discriminants to decoders. A cell whose type has
// no registered decoder passes through undecoded.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// Register installs a decoder for the given type, replacing any previous one.
func (r *Registry) Register(cellType string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[cellType] = d
}

// Lookup returns the decoder for a type, if one is registered.
func (r *Registry) Lookup(cellType string) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[cellType]
	return d, ok
}

// DefaultRegistry returns a Registry pre-loaded with the built-in decoders:
// scalar values ("Risk"), value series ("RiskVector") and error cells.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("Risk", DecodeScalar)
	r.Register("RiskVector", DecodeVector)
	r.Register(ErrorCellType, DecodeError)
	return r
}

// NewErrorCell builds a raw error cell carrying the provided message.
func NewErrorCell(message string) RawCell {
	return RawCell{
		Type:   ErrorCellType,
		Fields: map[string]any{"errorString": message},
	}
}

// DecodeScalar decodes a single numeric value from the "value" field.
func DecodeScalar(cell RawCell, _ ResultKey, _ Instrument) (any, error) {
	v, ok := cell.Fields["value"]
	if !ok {
		return nil, fmt.Errorf("scalar cell has no value field")
	}
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("scalar cell value is %T, want number", v)
	}
	return f, nil
}

// DecodeVector decodes a numeric series from the "values" field.
func DecodeVector(cell RawCell, _ ResultKey, _ Instrument) (any, error) {
	raw, ok := cell.Fields["values"]
	if !ok {
		return nil, fmt.Errorf("vector cell has no values field")
	}
	switch vs := raw.(type) {
	case []float64:
		out := make([]float64, len(vs))
		copy(out, vs)
		return out, nil
	case []any:
		out := make([]float64, 0, len(vs))
		for i, v := range vs {
			f, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("vector cell value %d is %T, want number", i, v)
			}
			out = append(out, f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("vector cell values is %T, want series", raw)
	}
}

// DecodeError converts a backend error cell into an ErrorValue. The
// ErrorValue is the cell's result, not a decode failure.
func DecodeError(cell RawCell, key ResultKey, _ Instrument) (any, error) {
	msg, _ := cell.Fields["errorString"].(string)
	if msg == "" {
		msg = "unspecified calculation error"
	}
	return ErrorValue{Key: key, Message: msg}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
