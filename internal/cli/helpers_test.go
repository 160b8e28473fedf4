package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/gunrelay/internal/graph"
	"github.com/roach88/gunrelay/internal/store"
)

// noEnv keeps the host's GUN_* variables out of tests.
func noEnv(string) string { return "" }

type result struct {
	stdout string
	stderr string
	err    error
}

func execute(t *testing.T, ctx context.Context, args ...string) result {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := newRootCommand(&RootOptions{Getenv: noEnv})
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// seedThings writes thing 42 ("Hello"/"world") and a dangling root for
// thing 7 into a fresh SQLite file and returns its path.
func seedThings(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gun.db")
	b, err := store.Open(path, 1<<20)
	require.NoError(t, err)
	defer b.Close()

	nodes := []*graph.Node{
		graph.NewNode("nab/things/42").Set("data", graph.Link{Soul: "nab/things/42/data"}, 1),
		graph.NewNode("nab/things/42/data").
			Set("title", graph.String("Hello"), 1).
			Set("body", graph.String("world"), 1),
		graph.NewNode("nab/things/7").Set("data", graph.Link{Soul: "nab/things/7/data"}, 1),
	}
	err = b.Update(context.Background(), func(w store.Writer) error {
		for _, n := range nodes {
			if err := w.Put(n); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return path
}

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gunrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}
