package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gunrelay/internal/graph"
)

func TestOpenBoltReadOnlySharesLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.bolt")
	rw, err := OpenBolt(path, 1<<20)
	require.NoError(t, err)
	seed(t, rw, graph.NewNode("a").Set("x", graph.Number(1), 1))
	require.NoError(t, rw.Close())

	first, err := OpenBolt(path, 1<<20, BoltReadOnly(), BoltLockTimeout(100*time.Millisecond))
	require.NoError(t, err)
	defer first.Close()
	second, err := OpenBolt(path, 1<<20, BoltReadOnly(), BoltLockTimeout(100*time.Millisecond))
	require.NoError(t, err)
	defer second.Close()

	node, err := NewGateway(second).Read(context.Background(), "a")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, graph.Number(1), node.Fields["x"])

	err = first.Update(context.Background(), func(w Writer) error {
		return w.Put(graph.NewNode("b").Set("y", graph.Number(2), 1))
	})
	assert.Error(t, err)
}

func TestOpenBoltLockedByWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.bolt")
	rw, err := OpenBolt(path, 1<<20)
	require.NoError(t, err)
	defer rw.Close()

	_, err = OpenBolt(path, 1<<20, BoltReadOnly(), BoltLockTimeout(50*time.Millisecond))
	require.ErrorIs(t, err, ErrLocked)
}

func TestOpenBoltReadOnlyCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.bolt")
	b, err := OpenBolt(path, 1<<20, BoltReadOnly())
	require.NoError(t, err)
	defer b.Close()

	node, err := NewGateway(b).Read(context.Background(), "a")
	require.NoError(t, err)
	assert.Nil(t, node)

	n, err := NewGateway(b).EachThingID(context.Background(), func(string) {})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestViewDoesNotBlockWriter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()
		seed(t, b, graph.NewNode("a").Set("x", graph.Number(1), 1))

		err := b.View(ctx, func(r Reader) error {
			n, err := r.Get("a")
			require.NoError(t, err)
			require.NotNil(t, n)

			done := make(chan error, 1)
			go func() {
				done <- b.Update(ctx, func(w Writer) error {
					return w.Put(graph.NewNode("b").Set("y", graph.Number(2), 1))
				})
			}()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(2 * time.Second):
				t.Fatal("writer waited on an open read transaction")
			}

			n, err = r.Get("b")
			require.NoError(t, err)
			assert.Nil(t, n, "read transaction keeps its snapshot")
			return nil
		})
		require.NoError(t, err)
	})
}
