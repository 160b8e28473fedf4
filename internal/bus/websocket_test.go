package bus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gunrelay/internal/graph"
)

// testBroker is a minimal SocketCluster-style broker.
type testBroker struct {
	secret []byte

	mu    sync.Mutex
	conns map[*brokerConn]struct{}
}

type brokerConn struct {
	ws     *websocket.Conn
	wmu    sync.Mutex
	authed bool
	subs   map[string]bool
}

func (c *brokerConn) send(f frame) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.ws.WriteJSON(f)
}

func newTestBroker(t *testing.T) (*testBroker, string) {
	t.Helper()
	b := &testBroker{secret: []byte(testCreds.Private), conns: make(map[*brokerConn]struct{})}
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return b, "ws" + strings.TrimPrefix(srv.URL, "http") + "/socketcluster/"
}

func (b *testBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &brokerConn{ws: ws, subs: make(map[string]bool)}
	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.conns, c)
		b.mu.Unlock()
		ws.Close()
	}()

	for {
		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		b.handle(c, f)
	}
}

func (b *testBroker) handle(c *brokerConn, f frame) {
	switch f.Event {
	case eventHandshake:
		c.send(frame{RID: f.CID, Data: json.RawMessage(`{"isAuthenticated":false}`)})
	case eventLogin:
		var login loginData
		json.Unmarshal(f.Data, &login)
		if _, err := VerifyToken(login.Token, b.secret); err != nil {
			c.send(frame{RID: f.CID, Error: json.RawMessage(`"bad token"`)})
			return
		}
		b.mu.Lock()
		c.authed = true
		b.mu.Unlock()
		c.send(frame{RID: f.CID})
	case eventSubscribe, eventUnsubscribe:
		var ch channelData
		json.Unmarshal(f.Data, &ch)
		b.mu.Lock()
		c.subs[ch.Channel] = f.Event == eventSubscribe
		b.mu.Unlock()
	case eventPublish:
		var pub publishData
		json.Unmarshal(f.Data, &pub)
		c.send(frame{RID: f.CID})
		out := frame{Event: eventPublish, Data: f.Data}
		for _, peer := range b.subscribers(pub.Channel) {
			peer.send(out)
		}
	}
}

func (b *testBroker) subscribers(channel string) []*brokerConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*brokerConn
	for c := range b.conns {
		if c.subs[channel] {
			out = append(out, c)
		}
	}
	return out
}

func (b *testBroker) dropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.conns {
		c.ws.Close()
	}
}

func dialTest(t *testing.T, url string) *WebSocket {
	t.Helper()
	opts := DefaultWebSocketOptions("", 0)
	opts.URL = url
	opts.Randomness = 0
	opts.AckTimeout = time.Second
	w := DialWebSocket(context.Background(), opts)
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.WaitConnected(ctx))
	return w
}

type inbox struct {
	mu   sync.Mutex
	msgs []graph.Message
}

func (in *inbox) handle(m graph.Message) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.msgs = append(in.msgs, m)
}

func (in *inbox) ids() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	var out []string
	for _, m := range in.msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestWebSocketPublishSubscribe(t *testing.T) {
	broker, url := newTestBroker(t)
	sub, pub := dialTest(t, url), dialTest(t, url)

	var in inbox
	_, err := sub.Subscribe("chan", in.handle)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(broker.subscribers("chan")) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, pub.Publish(context.Background(), "chan", graph.Message{ID: "m1"}))
	require.Eventually(t, func() bool { return len(in.ids()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1"}, in.ids())
}

func TestWebSocketWaitForAuth(t *testing.T) {
	broker, url := newTestBroker(t)
	relay := dialTest(t, url)

	var in inbox
	_, err := relay.Subscribe("gated", in.handle, WaitForAuth())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, broker.subscribers("gated"))

	err = relay.Authenticate(context.Background(), Credentials{Public: "relay", Private: "wrong"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Empty(t, broker.subscribers("gated"))

	require.NoError(t, relay.Authenticate(context.Background(), testCreds))
	require.Eventually(t, func() bool { return len(broker.subscribers("gated")) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketReconnectResubscribes(t *testing.T) {
	broker, url := newTestBroker(t)
	relay := dialTest(t, url)
	require.NoError(t, relay.Authenticate(context.Background(), testCreds))

	var in inbox
	_, err := relay.Subscribe("gated", in.handle, WaitForAuth())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(broker.subscribers("gated")) == 1 }, 2*time.Second, 5*time.Millisecond)

	broker.dropAll()
	require.Eventually(t, func() bool {
		for _, c := range broker.subscribers("gated") {
			broker.mu.Lock()
			authed := c.authed
			broker.mu.Unlock()
			if authed {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)

	pub := dialTest(t, url)
	require.NoError(t, pub.Publish(context.Background(), "gated", graph.Message{ID: "after"}))
	require.Eventually(t, func() bool { return len(in.ids()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketPublishWhileDisconnected(t *testing.T) {
	opts := DefaultWebSocketOptions("127.0.0.1", 1)
	w := DialWebSocket(context.Background(), opts)
	defer w.Close()

	err := w.Publish(context.Background(), "chan", graph.Message{ID: "x"})
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestWebSocketClose(t *testing.T) {
	_, url := newTestBroker(t)
	w := dialTest(t, url)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Publish(context.Background(), "chan", graph.Message{ID: "x"}), ErrClosed)
}
