package crdt

import "github.com/roach88/gunrelay/internal/graph"

// HAM is gun's conflict resolution rule.
//
// Per field:
//   - incoming state ahead of machine state + Drift: deferred (dropped)
//   - incoming state older than stored state: historical (dropped)
//   - incoming state newer than stored state: applied
//   - equal states: lexically greater canonical value wins; equal values
//     are duplicates
//
// Every replica applying HAM to the same inputs converges on the same node.
type HAM struct {
	// Drift is how far ahead of the machine clock (ms) a state may be.
	Drift float64
}

// Resolve classifies one field update. hasCurrent is false when the field
// has never been stored.
func (h HAM) Resolve(machineState, inState float64, inVal graph.Value, hasCurrent bool, curState float64, curVal graph.Value) Outcome {
	if inState > machineState+h.Drift {
		return Deferred
	}
	if !hasCurrent {
		return Apply
	}
	switch {
	case inState < curState:
		return Historical
	case inState > curState:
		return Apply
	}
	if graph.ValuesEqual(inVal, curVal) {
		return Duplicate
	}
	if lexicallyGreater(inVal, curVal) {
		return Apply
	}
	return Historical
}

// Diff implements Merger.
func (h HAM) Diff(incoming, existing *graph.Node, machineState float64) *graph.Node {
	var delta *graph.Node
	for _, field := range incoming.FieldNames() {
		v := incoming.Fields[field]
		s := incoming.State(field)
		cur, hasCurrent := existing.Get(field)
		if h.Resolve(machineState, s, v, hasCurrent, existing.State(field), cur) != Apply {
			continue
		}
		if delta == nil {
			delta = graph.NewNode(incoming.Soul)
		}
		delta.Set(field, v, s)
	}
	return delta
}
