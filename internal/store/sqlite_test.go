package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gunrelay/internal/graph"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, 0)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path, 0)
		require.NoError(t, err, "Open() iteration %d", i)
		s.Close()
	}

	s, err := Open(path, 0)
	require.NoError(t, err)
	defer s.Close()

	var name string
	err = s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='nodes'").Scan(&name)
	assert.NoError(t, err, "nodes table not found after idempotent opens")
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path, 0)
	require.NoError(t, err)
	seed(t, s1, graph.NewNode("A").Set("x", graph.Number(1), 1))
	require.NoError(t, s1.Close())

	s2, err := Open(path, 0)
	require.NoError(t, err)
	defer s2.Close()

	node, err := NewGateway(s2).Read(ctx, "A")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, graph.Number(1), node.Fields["x"])
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db", 0)
	assert.Error(t, err)
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestClose_NilDB(t *testing.T) {
	s := &SQLite{db: nil}
	assert.NoError(t, s.Close())
}

func TestClose_MultipleCalls(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), 0)
	require.NoError(t, err)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	err = s.View(context.Background(), func(Reader) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenBolt_InvalidPath(t *testing.T) {
	_, err := OpenBolt("/nonexistent/dir/test.bolt", 0)
	assert.Error(t, err)
}
