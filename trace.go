package pv

import (
	"encoding/json"
	"fmt"
	"time"
)

// Trace captures how a derived output obtained its current value: the
// formula, each input as it was bound, and the outcome of the last
// evaluation.
type Trace struct {
	Output      string       `json:"output"`
	Expr        string       `json:"expr,omitempty"`
	Engine      string       `json:"engine"`
	Value       any          `json:"value,omitempty"`
	Inputs      []Provenance `json:"inputs"`
	Pending     bool         `json:"pending,omitempty"`
	Error       string       `json:"error,omitempty"`
	EvaluatedAt time.Time    `json:"evaluated_at,omitempty"`
}

// Provenance details one formula input.
type Provenance struct {
	Name  string `json:"name"`
	Alias string `json:"alias,omitempty"`
	Value any    `json:"value,omitempty"`
	Found bool   `json:"found"`
}

// Explain returns the trace of the last evaluation of output.
func (e *Engine) Explain(output string) (Trace, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	trace, ok := e.traces[output]
	if !ok {
		return Trace{}, fmt.Errorf("%w: no formula for %q", ErrInvalidFormula, output)
	}
	trace.Inputs = append([]Provenance(nil), trace.Inputs...)
	return trace, nil
}

// ToJSON serialises the trace into JSON for logging or transport helpers.
func (t Trace) ToJSON() ([]byte, error) {
	type alias Trace
	return json.Marshal(alias(t))
}

// TraceFromJSON deserialises a JSON payload that was previously generated via
// ToJSON.
func TraceFromJSON(payload []byte) (Trace, error) {
	type alias Trace
	var trace alias
	if err := json.Unmarshal(payload, &trace); err != nil {
		return Trace{}, err
	}
	return Trace(trace), nil
}
