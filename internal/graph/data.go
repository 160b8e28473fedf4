package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Data is a graph fragment: soul -> node. It is the unit exchanged in one
// write or one response. A nil entry is how a JSON null node decodes.
type Data map[string]*Node

// Souls returns the souls in canonical order.
func (d Data) Souls() []string {
	souls := make([]string, 0, len(d))
	for s := range d {
		souls = append(souls, s)
	}
	slices.SortFunc(souls, compareKeysRFC8785)
	return souls
}

// Empty reports whether d holds no souls.
func (d Data) Empty() bool {
	return len(d) == 0
}

// Filter returns a copy of d without empty souls and nil nodes.
// Returns nil when nothing survives.
func (d Data) Filter() Data {
	var out Data
	for soul, node := range d {
		if soul == "" || node == nil {
			continue
		}
		if out == nil {
			out = make(Data, len(d))
		}
		if node.Soul == "" {
			node.Soul = soul
		}
		out[soul] = node
	}
	return out
}

// Node returns the node for soul, or nil.
func (d Data) Node(soul string) *Node {
	return d[soul]
}

// MarshalJSON implements json.Marshaler with souls in canonical order.
func (d Data) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, soul := range d.Souls() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(soul)
		if err != nil {
			return nil, fmt.Errorf("marshal soul %q: %w", soul, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		node := d[soul]
		if node == nil {
			buf.WriteString("null")
			continue
		}
		nodeBytes, err := node.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshal node %q: %w", soul, err)
		}
		buf.Write(nodeBytes)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
// A node without metadata takes its soul from the map key.
func (d *Data) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = make(Data, len(raw))
	for soul, v := range raw {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			(*d)[soul] = nil
			continue
		}
		node := &Node{}
		if err := json.Unmarshal(v, node); err != nil {
			return fmt.Errorf("soul %q: %w", soul, err)
		}
		if node.Soul == "" {
			node.Soul = soul
		}
		(*d)[soul] = node
	}
	return nil
}
