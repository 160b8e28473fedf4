package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/gunrelay/internal/bus"
	"github.com/roach88/gunrelay/internal/graph"
	"github.com/roach88/gunrelay/internal/store"
	"github.com/roach88/gunrelay/internal/validate"
)

// Relay is the single-writer loop between the bus and the store.
type Relay struct {
	store   store.Store
	bus     bus.Bus
	pub     *Publisher
	queue   *eventQueue
	logger  *slog.Logger
	metrics *Metrics
	unsubs  []func()
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = l
	}
}

// WithMetrics records traffic on m.
func WithMetrics(m *Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// New creates a relay. st should be the validation gate so every write
// is checked before it commits.
func New(st store.Store, b bus.Bus, opts ...Option) *Relay {
	r := &Relay{
		store:  st,
		bus:    b,
		queue:  newEventQueue(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.pub = NewPublisher(b, r.logger, r.metrics)
	return r
}

// Listen subscribes to the validated channels. Reads wait for the bus to
// authenticate; writes do not.
func (r *Relay) Listen() error {
	offGet, err := r.bus.Subscribe(bus.ChannelGetValidated, r.onGet, bus.WaitForAuth())
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.ChannelGetValidated, err)
	}
	offPut, err := r.bus.Subscribe(bus.ChannelPutValidated, r.onPut)
	if err != nil {
		offGet()
		return fmt.Errorf("subscribe %s: %w", bus.ChannelPutValidated, err)
	}
	r.unsubs = append(r.unsubs, offGet, offPut)
	return nil
}

func (r *Relay) onGet(msg graph.Message) { r.accept(bus.ChannelGetValidated, msg) }

func (r *Relay) onPut(msg graph.Message) { r.accept(bus.ChannelPutValidated, msg) }

// accept parses msg and queues it when it is the request kind channel
// carries. Anything else is logged and dropped.
func (r *Relay) accept(channel string, msg graph.Message) {
	req, err := graph.ParseRequest(msg)
	if err == nil {
		err = checkRequest(channel, req)
	}
	if err != nil {
		r.metrics.requestDropped(channel)
		r.logger.Info("dropping request", "channel", channel, "id", msg.ID, "error", err)
		return
	}
	r.enqueue(channel, msg, req)
}

// checkRequest rejects a request on the wrong channel and a put with no
// nodes left after null souls were removed.
func checkRequest(channel string, req graph.Request) error {
	switch req := req.(type) {
	case graph.GetRequest:
		if channel != bus.ChannelGetValidated {
			return fmt.Errorf("%w: get %s on %s", graph.ErrMalformed, req.ID, channel)
		}
	case graph.PutRequest:
		if channel != bus.ChannelPutValidated {
			return fmt.Errorf("%w: put %s on %s", graph.ErrMalformed, req.ID, channel)
		}
		if req.Graph.Empty() {
			return fmt.Errorf("%w: put %s has no nodes", graph.ErrMalformed, req.ID)
		}
	}
	return nil
}

func (r *Relay) enqueue(channel string, msg graph.Message, req graph.Request) {
	if !r.queue.Enqueue(event{channel: channel, msg: msg, req: req}) {
		r.logger.Warn("relay stopped, dropping request", "channel", channel, "id", msg.ID)
	}
}

// QueueLen returns the number of requests waiting for the loop.
func (r *Relay) QueueLen() int {
	return r.queue.Len()
}

// Run processes requests until ctx is cancelled or Stop is called.
// Must be called from exactly one goroutine.
//
// A failing request is logged and the loop moves on; nothing is retried.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("relay starting")
	defer r.unsubscribe()

	for {
		if ev, ok := r.queue.TryDequeue(); ok {
			if err := r.process(ctx, ev); err != nil {
				r.logEventError(ev, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			r.logger.Info("relay stopping: context cancelled")
			r.queue.Close()
			return ctx.Err()
		case _, ok := <-r.queue.Wait():
			// A leftover wakeup with an empty queue is not a shutdown.
			if !ok && r.queue.Len() == 0 {
				r.logger.Info("relay stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue; Run drains what is already queued and returns.
func (r *Relay) Stop() {
	r.queue.Close()
}

func (r *Relay) unsubscribe() {
	for _, off := range r.unsubs {
		off()
	}
	r.unsubs = nil
}

// Step processes every queued request and returns. For tests that drive
// the loop by hand.
func (r *Relay) Step(ctx context.Context) int {
	n := 0
	for {
		ev, ok := r.queue.TryDequeue()
		if !ok {
			return n
		}
		if err := r.process(ctx, ev); err != nil {
			r.logEventError(ev, err)
		}
		n++
	}
}

func (r *Relay) process(ctx context.Context, ev event) error {
	switch req := ev.req.(type) {
	case graph.GetRequest:
		r.metrics.requestReceived("get")
		return r.handleGet(ctx, ev.msg, req)
	case graph.PutRequest:
		r.metrics.requestReceived("put")
		return r.handlePut(ctx, req)
	default:
		return fmt.Errorf("unknown request type %T", ev.req)
	}
}

// handleGet replies on gun/@id. A soul nobody has is also announced on
// gun/get/missing with the original request.
func (r *Relay) handleGet(ctx context.Context, original graph.Message, req graph.GetRequest) error {
	var pubErr error
	err := r.store.Get(ctx, store.GetRequest{
		ID:   req.ID,
		Soul: req.Soul,
		OnResult: func(reply graph.Message) {
			if reply.Put == nil {
				if err := r.pub.Publish(ctx, bus.ChannelGetMissing, original); err != nil {
					pubErr = errors.Join(pubErr, fmt.Errorf("publish missing: %w", err))
				}
			}
			if err := r.pub.Publish(ctx, bus.ReplyChannel(req.ID), reply); err != nil {
				pubErr = errors.Join(pubErr, fmt.Errorf("publish reply: %w", err))
			}
		},
	})
	if err != nil {
		return err
	}
	return pubErr
}

// handlePut writes through the store. The diff fans out after commit and
// the ack goes to gun/@id. A rejected write publishes nothing.
func (r *Relay) handlePut(ctx context.Context, req graph.PutRequest) error {
	var pubErr error
	err := r.store.Write(ctx, store.WriteRequest{
		ID:    req.ID,
		Graph: req.Graph,
		OnDiff: func(diff graph.Message) {
			r.metrics.diffCommitted()
			if err := r.pub.PublishDiff(ctx, diff); err != nil {
				pubErr = errors.Join(pubErr, err)
			}
		},
		OnAck: func(ack graph.Message) {
			if err := r.pub.Publish(ctx, bus.ReplyChannel(req.ID), ack); err != nil {
				pubErr = errors.Join(pubErr, fmt.Errorf("publish ack: %w", err))
			}
		},
	})
	if validate.IsRejection(err) {
		r.metrics.writeRejected()
		r.logger.Info("put rejected", "id", req.ID, "souls", len(req.Graph), "error", err)
		return nil
	}
	if err != nil {
		return err
	}
	return pubErr
}

func (r *Relay) logEventError(ev event, err error) {
	r.logger.Error("request failed",
		"channel", ev.channel,
		"id", ev.msg.ID,
		"error", err,
	)
}
