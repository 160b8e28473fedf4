package relay

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/gunrelay/internal/bus"
	"github.com/roach88/gunrelay/internal/graph"
	"github.com/roach88/gunrelay/internal/store"
	"github.com/roach88/gunrelay/internal/testutil"
	"github.com/roach88/gunrelay/internal/validate"
)

var relayCreds = bus.Credentials{Public: "relay", Private: "s3cret"}

type fixture struct {
	hub     *bus.Hub
	conn    *bus.Memory
	peer    *bus.Memory
	gw      *store.Gateway
	gate    *validate.Gate
	metrics *Metrics
	logs    *bytes.Buffer
	relay   *Relay
}

func newFixture(t *testing.T, v validate.Validator) *fixture {
	t.Helper()
	b, err := store.Open(filepath.Join(t.TempDir(), "relay.db"), 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	clock := testutil.NewManualClock(1000)
	gw := store.NewGateway(b, store.WithStateClock(clock.Now))
	gate := validate.NewGate(gw, v, nil)

	hub := bus.NewHub()
	f := &fixture{
		hub:     hub,
		conn:    hub.Connect(),
		peer:    hub.Connect(),
		gw:      gw,
		gate:    gate,
		metrics: NewMetrics(),
		logs:    &bytes.Buffer{},
	}
	logger := slog.New(slog.NewTextHandler(f.logs, nil))
	f.relay = New(gate, f.conn, WithMetrics(f.metrics), WithLogger(logger))
	require.NoError(t, f.relay.Listen())
	return f
}

// send publishes from the peer and runs the loop until idle.
func (f *fixture) send(t *testing.T, channel string, msg graph.Message) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.peer.Publish(ctx, channel, msg))
	f.relay.Step(ctx)
}

// relayed lists what the relay itself published, skipping the peer's
// inbound traffic.
func (f *fixture) relayed() []bus.Publication {
	var out []bus.Publication
	for _, p := range f.hub.History() {
		if p.Channel == bus.ChannelGetValidated || p.Channel == bus.ChannelPutValidated {
			continue
		}
		out = append(out, p)
	}
	return out
}

func seedGraph(t *testing.T, gw *store.Gateway, put graph.Data) {
	t.Helper()
	require.NoError(t, gw.Write(context.Background(), store.WriteRequest{ID: "seed", Graph: put}))
}

func thingGraph(id, dataSoul, title, body string) graph.Data {
	root := "nab/things/" + id
	return graph.Data{
		root:     graph.NewNode(root).Set("data", graph.Link{Soul: dataSoul}, 1),
		dataSoul: graph.NewNode(dataSoul).Set("title", graph.String(title), 1).Set("body", graph.String(body), 1),
	}
}

// countingBus wraps a Bus and counts subscriptions and their removals.
type countingBus struct {
	bus.Bus
	subs   atomic.Int64
	unsubs atomic.Int64
}

func (c *countingBus) Subscribe(channel string, h bus.Handler, opts ...bus.SubscribeOption) (func(), error) {
	off, err := c.Bus.Subscribe(channel, h, opts...)
	if err != nil {
		return nil, err
	}
	c.subs.Add(1)
	return func() {
		c.unsubs.Add(1)
		off()
	}, nil
}

// acker answers every gun/put with an ack on gun/@id from its own
// goroutine and tracks how many puts were outstanding at once.
type acker struct {
	conn        *bus.Memory
	outstanding atomic.Int64
	peak        atomic.Int64

	mu   sync.Mutex
	puts []graph.Message
	wg   sync.WaitGroup
}

func newAcker(t *testing.T, hub *bus.Hub) *acker {
	t.Helper()
	a := &acker{conn: hub.Connect()}
	_, err := a.conn.Subscribe(bus.ChannelPut, a.onPut)
	require.NoError(t, err)
	t.Cleanup(a.wg.Wait)
	return a
}

func (a *acker) onPut(msg graph.Message) {
	n := a.outstanding.Add(1)
	for {
		peak := a.peak.Load()
		if n <= peak || a.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	a.mu.Lock()
	a.puts = append(a.puts, msg)
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.outstanding.Add(-1)
		a.conn.Publish(context.Background(), bus.ReplyChannel(msg.ID), graph.Message{ID: "ack-" + msg.ID})
	}()
}

func (a *acker) received() []graph.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]graph.Message(nil), a.puts...)
}
