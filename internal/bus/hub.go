package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/gunrelay/internal/graph"
)

// Authenticator checks credentials presented to a Hub.
type Authenticator func(ctx context.Context, creds Credentials) error

// Publication is one message a Hub carried.
type Publication struct {
	Channel string
	Message graph.Message
}

// Hub is an in-process broker. Connect returns clients that see each
// other's publications.
type Hub struct {
	mu      sync.Mutex
	clients map[*Memory]struct{}
	history []rawPublication
	auth    Authenticator
	logger  *slog.Logger
}

type rawPublication struct {
	channel string
	payload []byte
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithAuthenticator makes Authenticate consult fn. Without it any
// non-empty credentials are accepted.
func WithAuthenticator(fn Authenticator) HubOption {
	return func(h *Hub) {
		h.auth = fn
	}
}

// WithHubLogger sets the logger. Default: slog.Default().
func WithHubLogger(l *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = l
	}
}

// NewHub creates an empty broker.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients: make(map[*Memory]struct{}),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Connect attaches a new client.
func (h *Hub) Connect() *Memory {
	m := &Memory{hub: h, reg: newRegistry()}
	h.mu.Lock()
	h.clients[m] = struct{}{}
	h.mu.Unlock()
	return m
}

// History returns every publication so far, in publish order.
func (h *Hub) History() []Publication {
	h.mu.Lock()
	raw := append([]rawPublication(nil), h.history...)
	h.mu.Unlock()

	out := make([]Publication, 0, len(raw))
	for _, p := range raw {
		msg, err := graph.DecodeMessage(p.payload)
		if err != nil {
			continue
		}
		out = append(out, Publication{Channel: p.channel, Message: msg})
	}
	return out
}

// Published returns the messages published on channel, in order.
func (h *Hub) Published(channel string) []graph.Message {
	var out []graph.Message
	for _, p := range h.History() {
		if p.Channel == channel {
			out = append(out, p.Message)
		}
	}
	return out
}

func (h *Hub) publish(channel string, payload []byte) {
	h.mu.Lock()
	h.history = append(h.history, rawPublication{channel: channel, payload: payload})
	clients := make([]*Memory, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.reg.deliver(h.logger, channel, payload)
	}
}

func (h *Hub) disconnect(m *Memory) {
	h.mu.Lock()
	delete(h.clients, m)
	h.mu.Unlock()
}

// Memory is one client connection to a Hub.
type Memory struct {
	hub    *Hub
	reg    *registry
	closed atomic.Bool
}

var _ Bus = (*Memory)(nil)

// Publish implements Bus.
func (m *Memory) Publish(ctx context.Context, channel string, msg graph.Message) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	m.hub.publish(channel, payload)
	return nil
}

// Subscribe implements Bus.
func (m *Memory) Subscribe(channel string, h Handler, opts ...SubscribeOption) (func(), error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	cfg := newSubscribeConfig(opts)
	s, _ := m.reg.add(channel, h, cfg.waitForAuth)
	var once sync.Once
	return func() {
		once.Do(func() { m.reg.remove(s) })
	}, nil
}

// Authenticate implements Bus.
func (m *Memory) Authenticate(ctx context.Context, creds Credentials) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if creds.Empty() {
		return ErrNoCredentials
	}
	if m.hub.auth != nil {
		if err := m.hub.auth(ctx, creds); err != nil {
			return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
		}
	}
	m.reg.setAuthed(true)
	return nil
}

// Authenticated reports whether Authenticate has succeeded.
func (m *Memory) Authenticated() bool {
	return m.reg.isAuthed()
}

// Close detaches the client. Safe to call more than once.
func (m *Memory) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.hub.disconnect(m)
	return nil
}
