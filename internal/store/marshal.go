package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/gunrelay/internal/graph"
)

// marshalNode converts a node to its stored JSON form.
// Node.MarshalJSON emits fields in canonical order, so identical nodes
// produce identical bytes.
func marshalNode(n *graph.Node) ([]byte, error) {
	data, err := n.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal node %s: %w", n.Soul, err)
	}
	return data, nil
}

// unmarshalNode parses a stored body. The soul key wins over metadata.
func unmarshalNode(soul string, data []byte) (*graph.Node, error) {
	n := &graph.Node{}
	if err := json.Unmarshal(data, n); err != nil {
		return nil, fmt.Errorf("unmarshal node %s: %w", soul, err)
	}
	n.Soul = soul
	return n, nil
}
