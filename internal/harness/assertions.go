package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/gunrelay/internal/graph"
	"github.com/roach88/gunrelay/internal/store"
)

// AssertionContext gives assertions access to the scenario's store.
type AssertionContext struct {
	Store store.Store
	Ctx   context.Context
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s #%s\n", ev.Seq, ev.Channel, ev.Message.ID)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for _, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertPublished:
		return assertPublished(result, a)
	case AssertPublishedCount:
		return assertPublishedCount(result, a)
	case AssertPublishedOrder:
		return assertPublishedOrder(result, a)
	case AssertFinalState:
		return assertFinalState(actx, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertPublished checks that some publication on the channel contains
// the expected message as a subset.
func assertPublished(result *Result, a Assertion) error {
	want, err := normalize(a.Message)
	if err != nil {
		return fmt.Errorf("published: %w", err)
	}
	for _, ev := range result.Published(a.Channel) {
		got, err := messageTree(ev.Message)
		if err != nil {
			return fmt.Errorf("published: %w", err)
		}
		if len(a.Message) == 0 || containsSubset(got, want) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertPublished,
		Expected: fmt.Sprintf("%s carrying %v", a.Channel, a.Message),
		Actual:   "not found in trace",
		Trace:    result.Trace,
	}
}

func assertPublishedCount(result *Result, a Assertion) error {
	n := len(result.Published(a.Channel))
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertPublishedCount,
		Expected: fmt.Sprintf("%d publications on %s", a.Count, a.Channel),
		Actual:   fmt.Sprintf("%d publications", n),
		Trace:    result.Trace,
	}
}

// assertPublishedOrder checks the channels occur in order, matching each
// one at or after the previous match.
func assertPublishedOrder(result *Result, a Assertion) error {
	next := 0
	for _, ev := range result.Trace {
		if next < len(a.Channels) && ev.Channel == a.Channels[next] {
			next++
		}
	}
	if next == len(a.Channels) {
		return nil
	}
	return &AssertionError{
		Type:     AssertPublishedOrder,
		Expected: strings.Join(a.Channels, " -> "),
		Actual:   fmt.Sprintf("order broke at %s", a.Channels[next]),
		Trace:    result.Trace,
	}
}

func assertFinalState(actx *AssertionContext, a Assertion) error {
	if actx == nil || actx.Store == nil {
		return fmt.Errorf("final_state: no store available")
	}
	node, err := actx.Store.Read(actx.Ctx, a.Soul)
	if err != nil {
		return fmt.Errorf("final_state: read %s: %w", a.Soul, err)
	}

	if a.Absent {
		if node == nil {
			return nil
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s absent", a.Soul),
			Actual:   fmt.Sprintf("node with fields %v", node.FieldNames()),
		}
	}
	if node == nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s stored", a.Soul),
			Actual:   "absent",
		}
	}

	for field, expected := range a.Expect {
		want, err := normalize(expected)
		if err != nil {
			return fmt.Errorf("final_state: %s: %w", field, err)
		}
		v, ok := node.Get(field)
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %v", a.Soul, field, expected),
				Actual:   "field missing",
			}
		}
		got, err := valueTree(v)
		if err != nil {
			return fmt.Errorf("final_state: %s: %w", field, err)
		}
		if !reflect.DeepEqual(got, want) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s = %v", a.Soul, field, want),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

// normalize puts a YAML-decoded value into the shape encoding/json
// decodes to, so ints compare equal to float64s.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(b, &out)
	return out, err
}

func messageTree(msg graph.Message) (any, error) {
	b, err := graph.MarshalCanonical(msg)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(b, &out)
	return out, err
}

func valueTree(v graph.Value) (any, error) {
	b, err := graph.MarshalValue(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(b, &out)
	return out, err
}

// containsSubset reports whether every key in want is present in got
// with a matching value. Non-map values must be equal.
func containsSubset(got, want any) bool {
	wm, ok := want.(map[string]any)
	if !ok {
		return reflect.DeepEqual(got, want)
	}
	gm, ok := got.(map[string]any)
	if !ok {
		return false
	}
	for k, wv := range wm {
		gv, present := gm[k]
		if !present || !containsSubset(gv, wv) {
			return false
		}
	}
	return true
}
