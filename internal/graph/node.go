package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// metaKey is the reserved field holding a node's soul and state vector.
const metaKey = "_"

// Node is a field map where every field also carries a state.
//
// Wire form follows gun:
//
//	{"_": {"#": "<soul>", ">": {"title": 1700000000000}}, "title": "Hello"}
type Node struct {
	Soul   string
	Fields map[string]Value
	States map[string]float64
}

// NewNode creates an empty node for soul.
func NewNode(soul string) *Node {
	return &Node{
		Soul:   soul,
		Fields: make(map[string]Value),
		States: make(map[string]float64),
	}
}

// Set assigns a field value and its state.
func (n *Node) Set(field string, v Value, state float64) *Node {
	if n.Fields == nil {
		n.Fields = make(map[string]Value)
	}
	if n.States == nil {
		n.States = make(map[string]float64)
	}
	n.Fields[field] = v
	n.States[field] = state
	return n
}

// Get returns the value of field, if present.
func (n *Node) Get(field string) (Value, bool) {
	if n == nil {
		return nil, false
	}
	v, ok := n.Fields[field]
	return v, ok
}

// State returns the state of field, or 0 if the field has none.
func (n *Node) State(field string) float64 {
	if n == nil {
		return 0
	}
	return n.States[field]
}

// LinkSoul returns the soul referenced by field when it holds a Link.
func (n *Node) LinkSoul(field string) (string, bool) {
	v, ok := n.Get(field)
	if !ok {
		return "", false
	}
	link, ok := v.(Link)
	if !ok || link.Soul == "" {
		return "", false
	}
	return link.Soul, true
}

// Text returns field as a string, or "" when it is absent or not a String.
func (n *Node) Text(field string) string {
	v, ok := n.Get(field)
	if !ok {
		return ""
	}
	s, ok := v.(String)
	if !ok {
		return ""
	}
	return string(s)
}

// Len returns the number of fields.
func (n *Node) Len() int {
	if n == nil {
		return 0
	}
	return len(n.Fields)
}

// Empty reports whether the node is nil or has no fields.
func (n *Node) Empty() bool {
	return n.Len() == 0
}

// FieldNames returns field names in canonical order.
func (n *Node) FieldNames() []string {
	if n == nil {
		return nil
	}
	names := make([]string, 0, len(n.Fields))
	for k := range n.Fields {
		names = append(names, k)
	}
	slices.SortFunc(names, compareKeysRFC8785)
	return names
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := NewNode(n.Soul)
	for k, v := range n.Fields {
		c.Fields[k] = v
	}
	for k, s := range n.States {
		c.States[k] = s
	}
	return c
}

// Merge copies every field of delta onto n, overwriting values and states.
func (n *Node) Merge(delta *Node) {
	if delta == nil {
		return
	}
	for _, k := range delta.FieldNames() {
		n.Set(k, delta.Fields[k], delta.States[k])
	}
}

// nodeMeta is the "_" object on the wire.
type nodeMeta struct {
	Soul   string             `json:"#"`
	States map[string]float64 `json:">"`
}

// MarshalJSON implements json.Marshaler with fields in canonical order.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	metaBytes, err := n.marshalMeta()
	if err != nil {
		return nil, err
	}
	buf.WriteString(`"_":`)
	buf.Write(metaBytes)

	for _, k := range n.FieldNames() {
		buf.WriteByte(',')
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalValue(n.Fields[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (n *Node) marshalMeta() ([]byte, error) {
	var buf bytes.Buffer
	soulBytes, err := json.Marshal(n.Soul)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`{"#":`)
	buf.Write(soulBytes)
	buf.WriteString(`,">":{`)
	for i, k := range n.FieldNames() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')
		stateBytes, err := formatNumber(n.States[k])
		if err != nil {
			return nil, fmt.Errorf("state for key %q: %w", k, err)
		}
		buf.Write(stateBytes)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
// Fields missing from the state vector get state 0, the oldest possible.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*n = Node{
		Fields: make(map[string]Value, len(raw)),
		States: make(map[string]float64, len(raw)),
	}

	var meta nodeMeta
	if m, ok := raw[metaKey]; ok {
		if err := json.Unmarshal(m, &meta); err != nil {
			return fmt.Errorf("%w: node metadata: %v", ErrMalformed, err)
		}
		n.Soul = meta.Soul
	}

	for k, v := range raw {
		if k == metaKey {
			continue
		}
		val, err := UnmarshalValue(v)
		if err != nil {
			return fmt.Errorf("node %q field %q: %w", n.Soul, k, err)
		}
		n.Fields[k] = val
		n.States[k] = meta.States[k]
	}
	return nil
}
