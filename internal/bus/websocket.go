package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/gunrelay/internal/graph"
)

// SocketCluster-style event names.
const (
	eventHandshake   = "#handshake"
	eventLogin       = "#login"
	eventSubscribe   = "#subscribe"
	eventUnsubscribe = "#unsubscribe"
	eventPublish     = "#publish"

	pingFrame = "#1"
	pongFrame = "#2"
)

// frame is one JSON websocket message. Requests carry a cid; the reply
// echoes it as rid.
type frame struct {
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	CID   int64           `json:"cid,omitempty"`
	RID   int64           `json:"rid,omitempty"`
	Error json.RawMessage `json:"error,omitempty"`
}

type publishData struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type channelData struct {
	Channel string `json:"channel"`
}

type loginData struct {
	Token string `json:"token"`
}

// WebSocketOptions configures a WebSocket client.
type WebSocketOptions struct {
	URL string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	AckTimeout       time.Duration

	// Reconnect backoff: starts at InitialDelay, doubles up to MaxDelay,
	// plus up to Randomness of jitter.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Randomness   time.Duration

	TokenTTL time.Duration
	Dialer   *websocket.Dialer
	Logger   *slog.Logger
	Now      func() time.Time
}

// DefaultWebSocketOptions targets ws://host:port/socketcluster/.
func DefaultWebSocketOptions(host string, port int) WebSocketOptions {
	return WebSocketOptions{
		URL:              "ws://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/socketcluster/",
		HandshakeTimeout: 2 * time.Second,
		WriteTimeout:     5 * time.Second,
		AckTimeout:       10 * time.Second,
		InitialDelay:     time.Millisecond,
		MaxDelay:         500 * time.Millisecond,
		Randomness:       100 * time.Millisecond,
		TokenTTL:         DefaultTokenTTL,
	}
}

func (o *WebSocketOptions) fill() {
	d := DefaultWebSocketOptions("localhost", 4444)
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = d.AckTimeout
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = d.InitialDelay
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	if o.TokenTTL <= 0 {
		o.TokenTTL = d.TokenTTL
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: o.HandshakeTimeout}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// WebSocket is a reconnecting client. It re-logs in and resubscribes
// after every reconnect.
type WebSocket struct {
	opts   WebSocketOptions
	logger *slog.Logger
	reg    *registry

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	cid    atomic.Int64
	closed atomic.Bool

	mu        sync.Mutex
	conn      *websocket.Conn
	connected chan struct{}
	creds     *Credentials
	pending   map[int64]chan frame

	writeMu sync.Mutex
}

var _ Bus = (*WebSocket)(nil)

// DialWebSocket starts a client. It returns at once; the connection is
// established in the background and retried forever until Close.
func DialWebSocket(ctx context.Context, opts WebSocketOptions) *WebSocket {
	opts.fill()
	cancelCtx, cancel := context.WithCancel(ctx)
	w := &WebSocket{
		opts:      opts,
		logger:    opts.Logger.With("transport", "websocket"),
		reg:       newRegistry(),
		ctx:       cancelCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		connected: make(chan struct{}),
		pending:   make(map[int64]chan frame),
	}
	go w.run()
	return w
}

// WaitConnected blocks until a connection is up.
func (w *WebSocket) WaitConnected(ctx context.Context) error {
	w.mu.Lock()
	ch := w.connected
	w.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-w.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *WebSocket) run() {
	defer close(w.done)

	delay := w.opts.InitialDelay
	for {
		conn, err := w.connect()
		if err != nil {
			w.logger.Info("connect failed", "url", w.opts.URL, "error", err)
			if !w.sleep(delay) {
				return
			}
			delay = min(delay*2, w.opts.MaxDelay)
			continue
		}

		delay = w.opts.InitialDelay
		w.serve(conn)
		if !w.sleep(delay) {
			return
		}
	}
}

func (w *WebSocket) sleep(d time.Duration) bool {
	if w.opts.Randomness > 0 {
		d += time.Duration(rand.Int63n(int64(w.opts.Randomness)))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// connect dials and completes the handshake before any other frame.
func (w *WebSocket) connect() (*websocket.Conn, error) {
	conn, _, err := w.opts.Dialer.DialContext(w.ctx, w.opts.URL, nil)
	if err != nil {
		return nil, err
	}

	success := false
	defer func() {
		if !success {
			conn.Close()
		}
	}()

	cid := w.cid.Add(1)
	conn.SetWriteDeadline(time.Now().Add(w.opts.HandshakeTimeout))
	if err := conn.WriteJSON(frame{Event: eventHandshake, Data: json.RawMessage(`{}`), CID: cid}); err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(w.opts.HandshakeTimeout))
	var reply frame
	if err := conn.ReadJSON(&reply); err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if reply.RID != cid {
		return nil, fmt.Errorf("handshake: unexpected reply %d", reply.RID)
	}
	if hasError(reply.Error) {
		return nil, fmt.Errorf("handshake: %s", reply.Error)
	}
	conn.SetReadDeadline(time.Time{})

	success = true
	return conn, nil
}

// serve runs the read loop on conn until it fails or the client closes.
func (w *WebSocket) serve(conn *websocket.Conn) {
	w.mu.Lock()
	w.conn = conn
	close(w.connected)
	w.mu.Unlock()
	w.logger.Info("connected", "url", w.opts.URL)

	connCtx, connCancel := context.WithCancel(w.ctx)
	defer connCancel()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	go w.resume(connCtx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if w.ctx.Err() == nil {
				w.logger.Info("connection lost", "error", err)
			}
			break
		}
		w.dispatch(conn, data)
	}

	w.mu.Lock()
	w.conn = nil
	w.connected = make(chan struct{})
	for cid, ch := range w.pending {
		delete(w.pending, cid)
		close(ch)
	}
	w.mu.Unlock()
	w.reg.setAuthed(false)
}

// resume re-logs in with the last good credentials, then subscribes every
// active channel on the new connection.
func (w *WebSocket) resume(ctx context.Context) {
	w.mu.Lock()
	creds := w.creds
	w.mu.Unlock()

	if creds != nil {
		if err := w.login(ctx, *creds); err != nil {
			w.logger.Warn("re-login failed", "public", creds.Public, "error", err)
		} else {
			w.reg.setAuthed(true)
		}
	}
	for _, ch := range w.reg.activeChannels() {
		if err := w.emit(eventSubscribe, channelData{Channel: ch}); err != nil {
			w.logger.Warn("resubscribe failed", "channel", ch, "error", err)
		}
	}
}

func (w *WebSocket) dispatch(conn *websocket.Conn, data []byte) {
	if string(data) == pingFrame {
		w.writeRaw(conn, []byte(pongFrame))
		return
	}

	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		w.logger.Warn("dropping undecodable frame", "error", err)
		return
	}

	if f.RID != 0 {
		w.mu.Lock()
		ch, ok := w.pending[f.RID]
		delete(w.pending, f.RID)
		w.mu.Unlock()
		if ok {
			ch <- f
		}
		return
	}

	if f.Event == eventPublish {
		var pub publishData
		if err := json.Unmarshal(f.Data, &pub); err != nil {
			w.logger.Warn("dropping malformed publish", "error", err)
			return
		}
		w.reg.deliver(w.logger, pub.Channel, pub.Data)
	}
}

func (w *WebSocket) current() *websocket.Conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

func (w *WebSocket) write(conn *websocket.Conn, f frame) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(w.opts.WriteTimeout))
	return conn.WriteJSON(f)
}

func (w *WebSocket) writeRaw(conn *websocket.Conn, data []byte) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(w.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		w.logger.Debug("write failed", "error", err)
	}
}

// emit sends an event without waiting for its acknowledgement.
func (w *WebSocket) emit(event string, data any) error {
	conn := w.current()
	if conn == nil {
		return ErrDisconnected
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return w.write(conn, frame{Event: event, Data: raw})
}

// call sends an event and waits for its acknowledgement.
func (w *WebSocket) call(ctx context.Context, event string, data any) (json.RawMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	cid := w.cid.Add(1)
	reply := make(chan frame, 1)
	w.mu.Lock()
	conn := w.conn
	if conn == nil {
		w.mu.Unlock()
		return nil, ErrDisconnected
	}
	w.pending[cid] = reply
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.pending, cid)
		w.mu.Unlock()
	}()

	if err := w.write(conn, frame{Event: event, Data: raw, CID: cid}); err != nil {
		return nil, fmt.Errorf("%s: %w", event, err)
	}

	timer := time.NewTimer(w.opts.AckTimeout)
	defer timer.Stop()
	select {
	case f, ok := <-reply:
		if !ok {
			return nil, ErrDisconnected
		}
		if hasError(f.Error) {
			return nil, &remoteError{event: event, detail: string(f.Error)}
		}
		return f.Data, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s: no ack after %s", event, w.opts.AckTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.ctx.Done():
		return nil, ErrClosed
	}
}

func (w *WebSocket) login(ctx context.Context, creds Credentials) error {
	token, err := SignToken(creds, w.opts.Now(), w.opts.TokenTTL)
	if err != nil {
		return err
	}
	if _, err := w.call(ctx, eventLogin, loginData{Token: token}); err != nil {
		var remote *remoteError
		if errors.As(err, &remote) {
			return fmt.Errorf("%w: %s", ErrNotAuthenticated, remote.detail)
		}
		return err
	}
	return nil
}

// Publish implements Bus. It waits for the broker's acknowledgement.
func (w *WebSocket) Publish(ctx context.Context, channel string, msg graph.Message) error {
	if w.closed.Load() {
		return ErrClosed
	}
	payload, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	if _, err := w.call(ctx, eventPublish, publishData{Channel: channel, Data: payload}); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements Bus. While disconnected the subscription is only
// recorded; it reaches the broker on the next connect.
func (w *WebSocket) Subscribe(channel string, h Handler, opts ...SubscribeOption) (func(), error) {
	if w.closed.Load() {
		return nil, ErrClosed
	}
	cfg := newSubscribeConfig(opts)
	s, activated := w.reg.add(channel, h, cfg.waitForAuth)
	if activated {
		w.emitChannel(eventSubscribe, channel)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if w.reg.remove(s) {
				w.emitChannel(eventUnsubscribe, channel)
			}
		})
	}, nil
}

func (w *WebSocket) emitChannel(event, channel string) {
	err := w.emit(event, channelData{Channel: channel})
	if err != nil && !errors.Is(err, ErrDisconnected) {
		w.logger.Warn("channel event failed", "event", event, "channel", channel, "error", err)
	}
}

// Authenticate implements Bus. Successful credentials are kept and
// replayed after every reconnect.
func (w *WebSocket) Authenticate(ctx context.Context, creds Credentials) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if creds.Empty() {
		return ErrNoCredentials
	}
	if err := w.login(ctx, creds); err != nil {
		return err
	}

	w.mu.Lock()
	w.creds = &creds
	w.mu.Unlock()

	for _, ch := range w.reg.setAuthed(true) {
		w.emitChannel(eventSubscribe, ch)
	}
	return nil
}

// Close stops the client and waits for its goroutine.
func (w *WebSocket) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	w.cancel()
	<-w.done
	return nil
}

type remoteError struct {
	event  string
	detail string
}

func (e *remoteError) Error() string {
	return fmt.Sprintf("%s: remote error %s", e.event, e.detail)
}

func hasError(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}
