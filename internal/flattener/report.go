package flattener

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
)

// Phase names the propagation path that produced a report.
type Phase string

// Propagation phases.
const (
	PhasePull       Phase = "pull"
	PhasePostCreate Phase = "post_create"
	PhasePush       Phase = "push"
)

// Change is one destination field written by a propagation run.
type Change struct {
	MappingID string `json:"mapping_id"`
	CCT       string `json:"cct"`
	ItemID    int64  `json:"item_id"`
	Field     string `json:"field"`
	Value     any    `json:"value"`
}

// Skip records why a mapping did nothing.
type Skip struct {
	MappingID string `json:"mapping_id,omitempty"`
	Reason    string `json:"reason"`
}

// Report is the outcome of one propagation entry point. Err is set for
// persistence failures and recovered panics; the triggering save proceeds
// regardless.
type Report struct {
	Phase   Phase    `json:"phase"`
	CCT     string   `json:"cct"`
	ItemID  int64    `json:"item_id,omitempty"`
	Changes []Change `json:"changes"`
	Skips   []Skip   `json:"skips"`
	Err     error    `json:"-"`
}

// Failed reports whether the run hit an error.
func (r Report) Failed() bool { return r.Err != nil }

func (r *Report) skip(mappingID, format string, args ...any) {
	r.Skips = append(r.Skips, Skip{MappingID: mappingID, Reason: fmt.Sprintf(format, args...)})
}

// MarshalJSON renders Err as a string.
func (r Report) MarshalJSON() ([]byte, error) {
	type alias Report
	out := struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias: alias(r)}
	if out.Changes == nil {
		out.Changes = []Change{}
	}
	if out.Skips == nil {
		out.Skips = []Skip{}
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// PanicError wraps a recovered panic value together with its stack.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}
