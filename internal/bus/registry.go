package bus

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/gunrelay/internal/graph"
)

type subscription struct {
	id      uint64
	channel string
	handler Handler
	gated   bool
}

// registry tracks local subscriptions for one connection and decides
// which channels are active. A channel is active while it has an ungated
// subscription, or any subscription once the connection is authenticated.
type registry struct {
	mu     sync.Mutex
	next   uint64
	subs   map[string][]*subscription
	authed bool
}

func newRegistry() *registry {
	return &registry{subs: make(map[string][]*subscription)}
}

func (r *registry) activeLocked(channel string) bool {
	for _, s := range r.subs[channel] {
		if !s.gated || r.authed {
			return true
		}
	}
	return false
}

// add registers h. activated is true when channel just became active.
func (r *registry) add(channel string, h Handler, gated bool) (s *subscription, activated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	was := r.activeLocked(channel)
	r.next++
	s = &subscription{id: r.next, channel: channel, handler: h, gated: gated}
	r.subs[channel] = append(r.subs[channel], s)
	return s, !was && r.activeLocked(channel)
}

// remove drops s. deactivated is true when channel just went inactive.
// Removing twice is a no-op.
func (r *registry) remove(s *subscription) (deactivated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.subs[s.channel]
	i := slices.Index(list, s)
	if i < 0 {
		return false
	}
	was := r.activeLocked(s.channel)
	list = slices.Delete(list, i, i+1)
	if len(list) == 0 {
		delete(r.subs, s.channel)
	} else {
		r.subs[s.channel] = list
	}
	return was && !r.activeLocked(s.channel)
}

// setAuthed records the auth state and returns the channels whose
// activity changed, in sorted order.
func (r *registry) setAuthed(authed bool) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.authed == authed {
		return nil
	}
	before := make(map[string]bool, len(r.subs))
	for ch := range r.subs {
		before[ch] = r.activeLocked(ch)
	}
	r.authed = authed

	var changed []string
	for ch, was := range before {
		if r.activeLocked(ch) != was {
			changed = append(changed, ch)
		}
	}
	slices.Sort(changed)
	return changed
}

func (r *registry) isAuthed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authed
}

// activeChannels lists every active channel in sorted order.
func (r *registry) activeChannels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for ch := range r.subs {
		if r.activeLocked(ch) {
			out = append(out, ch)
		}
	}
	slices.Sort(out)
	return out
}

// handlers returns the handlers that should receive a publication on
// channel right now.
func (r *registry) handlers(channel string) []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Handler
	for _, s := range r.subs[channel] {
		if !s.gated || r.authed {
			out = append(out, s.handler)
		}
	}
	return out
}

// deliver decodes payload once per handler so handlers never share maps.
// Undecodable payloads are logged and dropped.
func (r *registry) deliver(logger *slog.Logger, channel string, payload []byte) {
	for _, h := range r.handlers(channel) {
		msg, err := graph.DecodeMessage(payload)
		if err != nil {
			logger.Warn("dropping undecodable message", "channel", channel, "error", err)
			return
		}
		h(msg)
	}
}
