package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/gunrelay/internal/graph"
)

// Snapshot renders a trace as canonical JSON for golden comparison.
func Snapshot(name string, trace []TraceEvent) ([]byte, error) {
	events := make([]any, len(trace))
	for i, ev := range trace {
		events[i] = map[string]any{
			"seq":     ev.Seq,
			"channel": ev.Channel,
			"message": ev.Message,
		}
	}
	return graph.MarshalCanonical(map[string]any{
		"scenario_name": name,
		"trace":         events,
	})
}

// RunWithGolden executes a scenario and compares its trace with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result's trace with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	traceJSON, err := Snapshot(name, result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, traceJSON)
	return nil
}
