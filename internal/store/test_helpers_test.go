package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/gunrelay/internal/graph"
)

// backendFactories opens each backend in a fresh temp dir.
var backendFactories = map[string]func(t *testing.T) Backend{
	"sqlite": func(t *testing.T) Backend { return createTestStore(t) },
	"bolt": func(t *testing.T) Backend {
		t.Helper()
		b, err := OpenBolt(filepath.Join(t.TempDir(), "test.bolt"), 1<<20)
		require.NoError(t, err)
		t.Cleanup(func() { b.Close() })
		return b
	},
}

// createTestStore creates a new SQLite store for testing.
func createTestStore(t *testing.T) *SQLite {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, 1<<20)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seed writes nodes directly, bypassing the merge.
func seed(t *testing.T, b Backend, nodes ...*graph.Node) {
	t.Helper()
	err := b.Update(context.Background(), func(w Writer) error {
		for _, n := range nodes {
			if err := w.Put(n); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// thing builds the root and data nodes of a thing.
func thing(id, title, body string) (*graph.Node, *graph.Node) {
	rootSoul := "nab/things/" + id
	dataSoul := rootSoul + "/data"
	root := graph.NewNode(rootSoul).Set("data", graph.Link{Soul: dataSoul}, 1)
	data := graph.NewNode(dataSoul).
		Set("title", graph.String(title), 1).
		Set("body", graph.String(body), 1)
	return root, data
}
