package relay

import (
	"bytes"
	"context"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gunrelay/internal/bus"
	"github.com/roach88/gunrelay/internal/graph"
	"github.com/roach88/gunrelay/internal/validate"
)

func twoSoulPut() graph.Data {
	return graph.Data{
		"A": graph.NewNode("A").Set("x", graph.Number(1), 1),
		"B": graph.NewNode("B").Set("y", graph.Number(2), 1),
	}
}

// trace renders publications one canonical JSON object per line.
func trace(t *testing.T, pubs []bus.Publication) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, p := range pubs {
		line, err := graph.MarshalCanonical(map[string]any{
			"channel": p.Channel,
			"message": p.Message,
		})
		require.NoError(t, err)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func TestRelayPutMultiSoulTrace(t *testing.T) {
	f := newFixture(t, validate.AcceptAll{})
	f.send(t, bus.ChannelPutValidated, graph.Message{ID: "m1", Put: twoSoulPut()})

	pubs := f.relayed()
	require.Len(t, pubs, 4)
	assert.Equal(t, bus.ChannelPutDiff, pubs[0].Channel)
	assert.Equal(t, "m1", pubs[0].Message.ID)
	assert.Equal(t, "gun/nodes/A", pubs[1].Channel)
	assert.Equal(t, "m1/A", pubs[1].Message.ID)
	assert.Equal(t, "gun/nodes/B", pubs[2].Channel)
	assert.Equal(t, "m1/B", pubs[2].Message.ID)
	assert.Equal(t, "gun/@m1", pubs[3].Channel)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "put_multi_soul", trace(t, f.hub.History()))

	for _, soul := range []string{"A", "B"} {
		node, err := f.gw.Read(context.Background(), soul)
		require.NoError(t, err)
		assert.NotNil(t, node, soul)
	}
}

func TestRelayPutSingleSoulRepublishesDiff(t *testing.T) {
	f := newFixture(t, validate.AcceptAll{})
	put := graph.Data{"A": graph.NewNode("A").Set("x", graph.Number(1), 1)}
	f.send(t, bus.ChannelPutValidated, graph.Message{ID: "m2", Put: put})

	diffs := f.hub.Published(bus.ChannelPutDiff)
	nodes := f.hub.Published(bus.NodeChannel("A"))
	require.Len(t, diffs, 1)
	require.Len(t, nodes, 1)
	assert.Equal(t, diffs[0], nodes[0])
	assert.Equal(t, "m2", nodes[0].ID)
}

func TestRelayPutUnchangedOnlyAcks(t *testing.T) {
	f := newFixture(t, validate.AcceptAll{})
	put := graph.Data{"A": graph.NewNode("A").Set("x", graph.Number(1), 1)}
	f.send(t, bus.ChannelPutValidated, graph.Message{ID: "first", Put: put})
	f.send(t, bus.ChannelPutValidated, graph.Message{ID: "again", Put: put})

	assert.Len(t, f.hub.Published(bus.ChannelPutDiff), 1)
	acks := f.hub.Published(bus.ReplyChannel("again"))
	require.Len(t, acks, 1)
	assert.Equal(t, graph.Message{ID: "again"}, acks[0])
}

func TestRelayPutRejected(t *testing.T) {
	f := newFixture(t, validate.ValidatorFunc(func(context.Context, graph.Message) (bool, error) {
		return false, nil
	}))
	f.send(t, bus.ChannelPutValidated, graph.Message{ID: "m1", Put: twoSoulPut()})

	assert.Empty(t, f.relayed())
	for _, soul := range []string{"A", "B"} {
		node, err := f.gw.Read(context.Background(), soul)
		require.NoError(t, err)
		assert.Nil(t, node)
	}
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.rejected))
}

func TestRelayPutDropsNullNodes(t *testing.T) {
	f := newFixture(t, validate.AcceptAll{})
	f.send(t, bus.ChannelPutValidated, graph.Message{ID: "m1", Put: graph.Data{"A": nil}})
	f.send(t, bus.ChannelPutValidated, graph.Message{ID: "m2"})

	assert.Empty(t, f.relayed())
	assert.Equal(t, 0, f.relay.QueueLen())
	assert.Equal(t, 2.0, promtest.ToFloat64(f.metrics.dropped.WithLabelValues(bus.ChannelPutValidated)))
}

func TestRelayPutKeepsOnlyPresentNodes(t *testing.T) {
	f := newFixture(t, validate.AcceptAll{})
	put := graph.Data{
		"A": graph.NewNode("A").Set("x", graph.Number(1), 1),
		"B": nil,
	}
	f.send(t, bus.ChannelPutValidated, graph.Message{ID: "m1", Put: put})

	diffs := f.hub.Published(bus.ChannelPutDiff)
	require.Len(t, diffs, 1)
	assert.Equal(t, []string{"A"}, diffs[0].Put.Souls())
}

func TestRelayGetFound(t *testing.T) {
	f := newFixture(t, validate.AcceptAll{})
	require.NoError(t, f.conn.Authenticate(context.Background(), relayCreds))
	seedGraph(t, f.gw, graph.Data{"A": graph.NewNode("A").Set("x", graph.Number(1), 1)})

	f.send(t, bus.ChannelGetValidated, graph.Message{ID: "g1", Get: &graph.GetSpec{Soul: "A"}})

	replies := f.hub.Published(bus.ReplyChannel("g1"))
	require.Len(t, replies, 1)
	require.Contains(t, replies[0].Put, "A")
	assert.Equal(t, graph.Number(1), replies[0].Put["A"].Fields["x"])
	assert.Empty(t, f.hub.Published(bus.ChannelGetMissing))
}

func TestRelayGetMissing(t *testing.T) {
	f := newFixture(t, validate.AcceptAll{})
	require.NoError(t, f.conn.Authenticate(context.Background(), relayCreds))

	req := graph.Message{ID: "g1", Get: &graph.GetSpec{Soul: "nobody"}}
	f.send(t, bus.ChannelGetValidated, req)

	missing := f.hub.Published(bus.ChannelGetMissing)
	require.Len(t, missing, 1)
	assert.Equal(t, req, missing[0])

	replies := f.hub.Published(bus.ReplyChannel("g1"))
	require.Len(t, replies, 1)
	assert.Equal(t, graph.Message{ID: "g1"}, replies[0])
}

func TestRelayGetWaitsForAuth(t *testing.T) {
	f := newFixture(t, validate.AcceptAll{})
	req := graph.Message{ID: "g1", Get: &graph.GetSpec{Soul: "A"}}

	f.send(t, bus.ChannelGetValidated, req)
	assert.Empty(t, f.relayed())

	require.NoError(t, f.conn.Authenticate(context.Background(), relayCreds))
	f.send(t, bus.ChannelGetValidated, req)
	assert.Len(t, f.hub.Published(bus.ReplyChannel("g1")), 1)
}

func TestRelayGetWithoutSoulDropped(t *testing.T) {
	f := newFixture(t, validate.AcceptAll{})
	require.NoError(t, f.conn.Authenticate(context.Background(), relayCreds))

	f.send(t, bus.ChannelGetValidated, graph.Message{ID: "g1"})
	f.send(t, bus.ChannelGetValidated, graph.Message{ID: "g2", Get: &graph.GetSpec{}})

	assert.Empty(t, f.relayed())
}

func TestRelayDropsMalformedRequests(t *testing.T) {
	f := newFixture(t, validate.AcceptAll{})
	require.NoError(t, f.conn.Authenticate(context.Background(), relayCreds))

	tests := []struct {
		name    string
		channel string
		msg     graph.Message
		reason  string
	}{
		{"get without soul", bus.ChannelGetValidated, graph.Message{ID: "g1", Get: &graph.GetSpec{}}, "get has no soul"},
		{"neither get nor put", bus.ChannelGetValidated, graph.Message{ID: "g2"}, "neither get nor put"},
		{"put on get channel", bus.ChannelGetValidated, graph.Message{ID: "g3", Put: twoSoulPut()}, "put g3 on gun/get/validated"},
		{"get on put channel", bus.ChannelPutValidated, graph.Message{ID: "p1", Get: &graph.GetSpec{Soul: "A"}}, "get p1 on gun/put/validated"},
		{"missing id", bus.ChannelPutValidated, graph.Message{Put: twoSoulPut()}, "missing message id"},
		{"only null nodes", bus.ChannelPutValidated, graph.Message{ID: "p2", Put: graph.Data{"A": nil}}, "put p2 has no nodes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.logs.Reset()
			f.send(t, tt.channel, tt.msg)

			assert.Empty(t, f.relayed())
			assert.Equal(t, 0, f.relay.QueueLen())
			assert.Contains(t, f.logs.String(), "dropping request")
			assert.Contains(t, f.logs.String(), tt.reason)
		})
	}

	assert.Equal(t, 3.0, promtest.ToFloat64(f.metrics.dropped.WithLabelValues(bus.ChannelGetValidated)))
	assert.Equal(t, 3.0, promtest.ToFloat64(f.metrics.dropped.WithLabelValues(bus.ChannelPutValidated)))
}

func TestRelayRun(t *testing.T) {
	f := newFixture(t, validate.AcceptAll{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.relay.Run(ctx) }()

	require.NoError(t, f.peer.Publish(ctx, bus.ChannelPutValidated, graph.Message{ID: "m1", Put: twoSoulPut()}))
	require.Eventually(t, func() bool {
		return len(f.hub.Published(bus.ReplyChannel("m1"))) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRelayRunKeepsServingAfterBurst(t *testing.T) {
	f := newFixture(t, validate.AcceptAll{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Queued before the loop starts, leaving a wakeup behind.
	for _, id := range []string{"m1", "m2"} {
		require.NoError(t, f.peer.Publish(ctx, bus.ChannelPutValidated, graph.Message{ID: id, Put: twoSoulPut()}))
	}

	done := make(chan error, 1)
	go func() { done <- f.relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(f.hub.Published(bus.ReplyChannel("m2"))) == 1
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Run returned while idle: %v", err)
	default:
	}

	put := graph.Message{ID: "m3", Put: graph.Data{"C": graph.NewNode("C").Set("z", graph.Number(3), 1)}}
	require.NoError(t, f.peer.Publish(ctx, bus.ChannelPutValidated, put))
	require.Eventually(t, func() bool {
		return len(f.hub.Published(bus.ReplyChannel("m3"))) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRelayStopDrainsQueue(t *testing.T) {
	f := newFixture(t, validate.AcceptAll{})
	require.NoError(t, f.peer.Publish(context.Background(), bus.ChannelPutValidated, graph.Message{ID: "m1", Put: twoSoulPut()}))
	f.relay.Stop()

	require.NoError(t, f.relay.Run(context.Background()))
	assert.Len(t, f.hub.Published(bus.ReplyChannel("m1")), 1)
}

func TestRelayStop(t *testing.T) {
	f := newFixture(t, validate.AcceptAll{})
	done := make(chan error, 1)
	go func() { done <- f.relay.Run(context.Background()) }()

	f.relay.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestPublisherSkipsEmptyDeltas(t *testing.T) {
	hub := bus.NewHub()
	p := NewPublisher(hub.Connect(), nil, nil)

	diff := graph.Message{ID: "d1", Put: graph.Data{
		"A": graph.NewNode("A").Set("x", graph.Number(1), 1),
		"B": nil,
		"C": graph.NewNode("C"),
	}}
	require.NoError(t, p.PublishDiff(context.Background(), diff))

	var channels []string
	for _, pub := range hub.History() {
		channels = append(channels, pub.Channel)
	}
	assert.Equal(t, []string{bus.ChannelPutDiff, "gun/nodes/A"}, channels)
	assert.Equal(t, "d1/A", hub.Published("gun/nodes/A")[0].ID)
}

func TestPublisherEmptyDiff(t *testing.T) {
	hub := bus.NewHub()
	p := NewPublisher(hub.Connect(), nil, nil)

	require.NoError(t, p.PublishDiff(context.Background(), graph.Message{ID: "d1"}))
	assert.Empty(t, hub.History())
}

func TestPublisherSingleSoulWithEmptyDelta(t *testing.T) {
	hub := bus.NewHub()
	p := NewPublisher(hub.Connect(), nil, nil)

	require.NoError(t, p.PublishDiff(context.Background(), graph.Message{ID: "d1", Put: graph.Data{"A": graph.NewNode("A")}}))
	assert.Len(t, hub.History(), 1)
	assert.Len(t, hub.Published(bus.ChannelPutDiff), 1)
}
