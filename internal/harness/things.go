package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/gunrelay/internal/graph"
	"github.com/roach88/gunrelay/internal/schema"
)

// ThingSetup is a thing stored before the flow. Its id is derived from
// its fields, so scenarios refer to it as "{ref}" in souls, channels and
// message values.
type ThingSetup struct {
	Ref       string `yaml:"ref"`
	Kind      string `yaml:"kind"`
	Topic     string `yaml:"topic,omitempty"`
	AuthorID  string `yaml:"author_id,omitempty"`
	ReplyToID string `yaml:"reply_to_id,omitempty"`
	Timestamp int64  `yaml:"timestamp,omitempty"`
	Title     string `yaml:"title,omitempty"`
	Body      string `yaml:"body,omitempty"`
	URL       string `yaml:"url,omitempty"`
}

func (t ThingSetup) fields() schema.ThingFields {
	return schema.ThingFields{
		Kind:      t.Kind,
		Topic:     t.Topic,
		AuthorID:  t.AuthorID,
		ReplyToID: t.ReplyToID,
		Timestamp: t.Timestamp,
		Body:      t.Body,
		Title:     t.Title,
		URL:       t.URL,
	}
}

// thingNodes builds the root and data node for t under id.
func (t ThingSetup) thingNodes(id string, state float64) (graph.Data, error) {
	rootSoul, ok := schema.ThingSoul(id)
	if !ok {
		return nil, fmt.Errorf("thing %s: invalid id %q", t.Ref, id)
	}
	dataSoul, _ := schema.ThingDataSoul(id)

	data := graph.NewNode(dataSoul).
		Set("kind", graph.String(t.Kind), state).
		Set("timestamp", graph.Number(t.Timestamp), state)
	optional := []struct{ name, value string }{
		{"topic", t.Topic},
		{"authorId", t.AuthorID},
		{"replyToId", t.ReplyToID},
		{"title", t.Title},
		{"body", t.Body},
		{"url", t.URL},
	}
	for _, f := range optional {
		if f.value != "" {
			data.Set(f.name, graph.String(f.value), state)
		}
	}

	return graph.Data{
		rootSoul: graph.NewNode(rootSoul).Set("data", graph.Link{Soul: dataSoul}, state),
		dataSoul: data,
	}, nil
}

// thingIDs computes the id of every setup thing, keyed by ref.
func thingIDs(things []ThingSetup) (map[string]string, error) {
	ids := make(map[string]string, len(things))
	for _, t := range things {
		id, err := schema.ComputeThingID(t.fields())
		if err != nil {
			return nil, fmt.Errorf("thing %s: %w", t.Ref, err)
		}
		ids[t.Ref] = id
	}
	return ids, nil
}

// refExpander replaces "{ref}" with thing ids.
type refExpander struct {
	r *strings.Replacer
}

func newRefExpander(ids map[string]string) refExpander {
	if len(ids) == 0 {
		return refExpander{}
	}
	pairs := make([]string, 0, 2*len(ids))
	for ref, id := range ids {
		pairs = append(pairs, "{"+ref+"}", id)
	}
	return refExpander{r: strings.NewReplacer(pairs...)}
}

func (e refExpander) str(s string) string {
	if e.r == nil {
		return s
	}
	return e.r.Replace(s)
}

// value expands strings inside decoded YAML, map keys included.
func (e refExpander) value(v any) any {
	switch v := v.(type) {
	case string:
		return e.str(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, x := range v {
			out[e.str(k)] = e.value(x)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, x := range v {
			out[i] = e.value(x)
		}
		return out
	default:
		return v
	}
}

func (e refExpander) nodes(nodes map[string]map[string]any) map[string]map[string]any {
	if nodes == nil {
		return nil
	}
	out := make(map[string]map[string]any, len(nodes))
	for soul, fields := range nodes {
		if fields == nil {
			out[e.str(soul)] = nil
			continue
		}
		out[e.str(soul)] = e.value(fields).(map[string]any)
	}
	return out
}

// expand returns a copy of s with every thing ref replaced by its id.
func (e refExpander) expand(s *Scenario) *Scenario {
	if e.r == nil {
		return s
	}
	out := *s
	out.Setup = e.nodes(s.Setup)

	out.Flow = make([]FlowStep, len(s.Flow))
	for i, step := range s.Flow {
		step.Channel = e.str(step.Channel)
		step.Get = e.str(step.Get)
		step.Put = e.nodes(step.Put)
		out.Flow[i] = step
	}

	out.Assertions = make([]Assertion, len(s.Assertions))
	for i, a := range s.Assertions {
		a.Channel = e.str(a.Channel)
		a.Soul = e.str(a.Soul)
		if a.Channels != nil {
			channels := make([]string, len(a.Channels))
			for j, c := range a.Channels {
				channels[j] = e.str(c)
			}
			a.Channels = channels
		}
		if a.Message != nil {
			a.Message = e.value(a.Message).(map[string]any)
		}
		if a.Expect != nil {
			a.Expect = e.value(a.Expect).(map[string]any)
		}
		out.Assertions[i] = a
	}
	return &out
}
