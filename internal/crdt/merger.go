// Package crdt reconciles incoming node versions against stored ones.
//
// The relay treats a Merger as an opaque oracle: it hands over the
// incoming node, the stored node and the machine state, and gets back
// the delta that must be applied. Nothing in this package touches the
// store.
package crdt

import (
	"bytes"

	"github.com/roach88/gunrelay/internal/graph"
)

// Merger computes the subset of incoming that should be applied on top of
// existing. existing may be nil. Returns nil when nothing changes.
type Merger interface {
	Diff(incoming, existing *graph.Node, machineState float64) *graph.Node
}

// Outcome is the per-field result of a conflict check.
type Outcome int

const (
	// Apply means the incoming field wins.
	Apply Outcome = iota + 1
	// Historical means the stored field is newer.
	Historical
	// Deferred means the incoming state is ahead of the machine clock.
	Deferred
	// Duplicate means the incoming field is already stored.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Apply:
		return "apply"
	case Historical:
		return "historical"
	case Deferred:
		return "deferred"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Overwrite applies every incoming field that differs from the stored one
// in value or state. It performs no conflict resolution.
type Overwrite struct{}

// Diff implements Merger.
func (Overwrite) Diff(incoming, existing *graph.Node, _ float64) *graph.Node {
	var delta *graph.Node
	for _, field := range incoming.FieldNames() {
		v := incoming.Fields[field]
		s := incoming.State(field)
		if cur, ok := existing.Get(field); ok && graph.ValuesEqual(cur, v) && existing.State(field) == s {
			continue
		}
		if delta == nil {
			delta = graph.NewNode(incoming.Soul)
		}
		delta.Set(field, v, s)
	}
	return delta
}

// lexicallyGreater reports whether a's canonical JSON sorts after b's.
func lexicallyGreater(a, b graph.Value) bool {
	aj, errA := graph.MarshalCanonical(a)
	bj, errB := graph.MarshalCanonical(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Compare(aj, bj) > 0
}
