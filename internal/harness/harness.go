package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/roach88/gunrelay/internal/bus"
	"github.com/roach88/gunrelay/internal/crdt"
	"github.com/roach88/gunrelay/internal/graph"
	"github.com/roach88/gunrelay/internal/relay"
	"github.com/roach88/gunrelay/internal/store"
	"github.com/roach88/gunrelay/internal/testutil"
	"github.com/roach88/gunrelay/internal/validate"
)

// setupState is the clock reading while setup nodes are written.
const setupState = 1000

var harnessCreds = bus.Credentials{Public: "harness", Private: "harness"}

// Harness holds one scenario's relay, hub and store.
type Harness struct {
	gw    *store.Gateway
	hub   *bus.Hub
	peer  *bus.Memory
	relay *relay.Relay
	clock *testutil.ManualClock
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Create a fresh SQLite file in a temp dir
//  2. Wire gateway, gate, hub and relay; log the relay in unless the
//     scenario says otherwise
//  3. Write setup nodes and things, expanding thing refs to their ids
//  4. Publish each flow step from a peer and drain the relay loop
//  5. Evaluate assertions against the trace and the store
//
// An error means the scenario could not run; failed assertions are
// reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "gunrelay-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	backend, err := store.Open(filepath.Join(dir, "harness.db"), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer backend.Close()

	ids, err := thingIDs(scenario.Things)
	if err != nil {
		return nil, fmt.Errorf("failed to compute thing ids: %w", err)
	}
	scenario = newRefExpander(ids).expand(scenario)

	h, err := newHarness(scenario, backend)
	if err != nil {
		return nil, err
	}
	defer h.peer.Close()

	ctx := context.Background()
	if err := h.executeSetup(ctx, scenario.Setup, scenario.Things, ids); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	result := NewResult()
	if len(ids) > 0 {
		result.Things = ids
	}
	for i, pub := range h.hub.History() {
		result.Trace = append(result.Trace, TraceEvent{Seq: i + 1, Channel: pub.Channel, Message: pub.Message})
	}

	actx := &AssertionContext{Store: h.gw, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(scenario *Scenario, backend store.Backend) (*Harness, error) {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewManualClock(setupState)

	var merger crdt.Merger = crdt.Overwrite{}
	if scenario.EnforceCRDT {
		merger = crdt.HAM{}
	}
	gw := store.NewGateway(backend,
		store.WithMerger(merger),
		store.WithStateClock(clock.Now),
		store.WithLogger(discard),
	)

	v, err := scenarioValidator(scenario.Policy)
	if err != nil {
		return nil, err
	}

	hub := bus.NewHub(bus.WithHubLogger(discard))
	conn := hub.Connect()
	r := relay.New(validate.NewGate(gw, v, discard), conn, relay.WithLogger(discard))
	if err := r.Listen(); err != nil {
		return nil, fmt.Errorf("failed to subscribe relay: %w", err)
	}
	if !scenario.Unauthenticated {
		if err := conn.Authenticate(context.Background(), harnessCreds); err != nil {
			return nil, fmt.Errorf("failed to log in relay: %w", err)
		}
	}

	return &Harness{gw: gw, hub: hub, peer: hub.Connect(), relay: r, clock: clock}, nil
}

func scenarioValidator(policy string) (validate.Validator, error) {
	switch policy {
	case PolicyNone:
		return validate.AcceptAll{}, nil
	case PolicyReject:
		return testutil.NewStaticValidator(false), nil
	default:
		return validate.NewCUEPolicy(nil)
	}
}

// executeSetup writes setup nodes and things through the gateway,
// skipping the gate and the bus.
func (h *Harness) executeSetup(ctx context.Context, setup map[string]map[string]any, things []ThingSetup, ids map[string]string) error {
	if len(setup) == 0 && len(things) == 0 {
		return nil
	}
	state := h.clock.Now()
	data, err := buildData(setup, state)
	if err != nil {
		return err
	}
	for _, t := range things {
		nodes, err := t.thingNodes(ids[t.Ref], state)
		if err != nil {
			return err
		}
		for soul, node := range nodes {
			data[soul] = node
		}
	}
	return h.gw.Write(ctx, store.WriteRequest{ID: "setup", Graph: data})
}

// executeFlow publishes each step from the peer connection and drains
// the relay before the next one.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep) error {
	for i, step := range flow {
		state := h.clock.Advance(1)
		if step.State != 0 {
			state = step.State
		}

		msg := graph.Message{ID: step.ID}
		if step.Get != "" {
			msg.Get = &graph.GetSpec{Soul: step.Get}
		}
		if step.Put != nil {
			put, err := buildData(step.Put, state)
			if err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
			msg.Put = put
		}

		if err := h.peer.Publish(ctx, step.channel(), msg); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		h.relay.Step(ctx)
	}
	return nil
}

// buildData turns YAML field maps into graph data with every field at
// state. A nil field map becomes a null node.
func buildData(nodes map[string]map[string]any, state float64) (graph.Data, error) {
	data := make(graph.Data, len(nodes))
	for soul, fields := range nodes {
		if fields == nil {
			data[soul] = nil
			continue
		}
		node := graph.NewNode(soul)
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v, err := toValue(fields[name])
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", soul, name, err)
			}
			node.Set(name, v, state)
		}
		data[soul] = node
	}
	return data, nil
}

func toValue(raw any) (graph.Value, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return graph.UnmarshalValue(b)
}
