package harness

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/gunrelay/internal/bus"
)

// Scenario is one relay conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Policy selects the validity oracle: "cue" (default), "none" or
	// "reject".
	Policy string `yaml:"policy,omitempty"`

	// EnforceCRDT merges with HAM instead of overwriting.
	EnforceCRDT bool `yaml:"enforce_crdt,omitempty"`

	// Unauthenticated leaves the relay logged out, so gated channels
	// stay inactive.
	Unauthenticated bool `yaml:"unauthenticated,omitempty"`

	// Setup nodes are written straight to the store before the flow,
	// bypassing the gate. Keys are souls, values are field maps.
	Setup map[string]map[string]any `yaml:"setup,omitempty"`

	// Things are stored with the setup nodes under content-addressed ids.
	Things []ThingSetup `yaml:"things,omitempty"`

	// Flow is the inbound traffic, delivered one step at a time.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the trace and the final store contents.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep is one inbound message.
type FlowStep struct {
	// ID is the message id ("#").
	ID string `yaml:"id"`

	// Channel defaults to gun/put/validated for puts and
	// gun/get/validated otherwise.
	Channel string `yaml:"channel,omitempty"`

	// Get asks for one soul.
	Get string `yaml:"get,omitempty"`

	// Put maps souls to field values. A null node is sent as null.
	Put map[string]map[string]any `yaml:"put,omitempty"`

	// State pins the state of every put field. Zero uses the clock.
	State float64 `yaml:"state,omitempty"`
}

func (s FlowStep) channel() string {
	switch {
	case s.Channel != "":
		return s.Channel
	case s.Put != nil:
		return bus.ChannelPutValidated
	default:
		return bus.ChannelGetValidated
	}
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Channel is the channel checked by published and published_count.
	Channel string `yaml:"channel,omitempty"`

	// Message is matched as a subset against each publication on Channel
	// (published only). Empty matches any publication.
	Message map[string]any `yaml:"message,omitempty"`

	// Count is the exact number of publications on Channel
	// (published_count).
	Count int `yaml:"count,omitempty"`

	// Channels must appear in this order, not necessarily adjacent
	// (published_order).
	Channels []string `yaml:"channels,omitempty"`

	// Soul, Expect and Absent describe a stored node (final_state).
	// Expect is a subset of its fields.
	Soul   string         `yaml:"soul,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
	Absent bool           `yaml:"absent,omitempty"`
}

// Assertion type constants.
const (
	AssertPublished      = "published"
	AssertPublishedCount = "published_count"
	AssertPublishedOrder = "published_order"
	AssertFinalState     = "final_state"
)

// Validity policies a scenario can select.
const (
	PolicyCUE    = "cue"
	PolicyNone   = "none"
	PolicyReject = "reject"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are errors so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch s.Policy {
	case "":
		s.Policy = PolicyCUE
	case PolicyCUE, PolicyNone, PolicyReject:
	default:
		return fmt.Errorf("unknown policy %q", s.Policy)
	}

	refs := make(map[string]bool, len(s.Things))
	for i, t := range s.Things {
		switch {
		case t.Ref == "":
			return fmt.Errorf("thing %d: ref is required", i)
		case strings.ContainsAny(t.Ref, "{}/"):
			return fmt.Errorf("thing %d: ref %q may not contain braces or slashes", i, t.Ref)
		case refs[t.Ref]:
			return fmt.Errorf("thing %d: duplicate ref %q", i, t.Ref)
		case t.Kind == "":
			return fmt.Errorf("thing %s: kind is required", t.Ref)
		}
		refs[t.Ref] = true
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	for i, step := range s.Flow {
		if step.ID == "" {
			return fmt.Errorf("flow step %d: id is required", i)
		}
		if step.Get != "" && step.Put != nil {
			return fmt.Errorf("flow step %d: get and put are exclusive", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertPublished, AssertPublishedCount:
		if a.Channel == "" {
			return fmt.Errorf("%s requires channel", a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("%s count must be non-negative", a.Type)
		}
	case AssertPublishedOrder:
		if len(a.Channels) < 2 {
			return fmt.Errorf("%s requires at least two channels", a.Type)
		}
	case AssertFinalState:
		if a.Soul == "" {
			return fmt.Errorf("%s requires soul", a.Type)
		}
		if a.Absent && len(a.Expect) > 0 {
			return fmt.Errorf("%s cannot expect fields of an absent node", a.Type)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
