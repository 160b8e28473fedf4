package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/gunrelay/internal/crdt"
	"github.com/roach88/gunrelay/internal/graph"
	"github.com/roach88/gunrelay/internal/schema"
)

// Store is the surface the relay drives: point read, reply-shaped read
// and diffing write. Both Gateway and the validation gate implement it.
type Store interface {
	Read(ctx context.Context, soul string) (*graph.Node, error)
	Get(ctx context.Context, req GetRequest) error
	Write(ctx context.Context, req WriteRequest) error
}

// Scanner iterates thing ids in key order.
type Scanner interface {
	EachThingID(ctx context.Context, fn func(thingID string)) (int, error)
	EachThingIDSeq(ctx context.Context, fn func(ctx context.Context, thingID string) error) (int, error)
}

// WriteRequest is one graph write.
type WriteRequest struct {
	// ID correlates the diff and ack with the originating request.
	ID string

	// Graph is merged into the store node by node.
	Graph graph.Data

	// OnDiff receives {"#": ID, "put": diff} after commit, only when the
	// merge changed something. May be nil.
	OnDiff func(graph.Message)

	// OnAck receives the reply after commit: {"#": ID, "put": diff}, or
	// {"#": ID} when nothing changed. May be nil.
	OnAck func(graph.Message)
}

// GetRequest is one reply-shaped read.
type GetRequest struct {
	ID       string
	Soul     string
	OnResult func(graph.Message)
}

// Gateway is the typed facade over a Backend.
type Gateway struct {
	backend Backend
	merger  crdt.Merger
	clock   func() float64
	logger  *slog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithMerger sets the CRDT merge oracle. Default: crdt.Overwrite.
func WithMerger(m crdt.Merger) GatewayOption {
	return func(g *Gateway) {
		g.merger = m
	}
}

// WithStateClock sets the machine state source. Default: crdt.StateClock.
func WithStateClock(now func() float64) GatewayOption {
	return func(g *Gateway) {
		g.clock = now
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = l
	}
}

// NewGateway wraps a backend.
func NewGateway(b Backend, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		backend: b,
		merger:  crdt.Overwrite{},
		clock:   crdt.NewStateClock().Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Read returns the node for soul, or nil if it was never written.
func (g *Gateway) Read(ctx context.Context, soul string) (*graph.Node, error) {
	var node *graph.Node
	err := g.backend.View(ctx, func(r Reader) error {
		n, err := r.Get(soul)
		node = n
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Get reads req.Soul and hands the reply to req.OnResult:
// {"#": ID, "put": {soul: node}} when found, {"#": ID} when absent.
func (g *Gateway) Get(ctx context.Context, req GetRequest) error {
	node, err := g.Read(ctx, req.Soul)
	if err != nil {
		return fmt.Errorf("get %s: %w", req.Soul, err)
	}

	var put graph.Data
	if node != nil {
		put = graph.Data{req.Soul: node}
	}
	if req.OnResult != nil {
		req.OnResult(graph.NewReply(req.ID, put))
	}
	return nil
}

// Write merges req.Graph into the store in one transaction.
// Callbacks run after commit; on error neither runs.
func (g *Gateway) Write(ctx context.Context, req WriteRequest) error {
	machine := g.clock()
	var diff graph.Data

	err := g.backend.Update(ctx, func(w Writer) error {
		diff = nil
		for _, soul := range req.Graph.Souls() {
			incoming := req.Graph[soul]
			if incoming == nil {
				continue
			}
			if incoming.Soul != soul {
				incoming = incoming.Clone()
				incoming.Soul = soul
			}

			existing, err := w.Get(soul)
			if err != nil {
				return err
			}
			delta := g.merger.Diff(incoming, existing, machine)
			if delta.Empty() {
				continue
			}

			merged := existing
			if merged == nil {
				merged = graph.NewNode(soul)
			}
			merged.Merge(delta)
			if err := w.Put(merged); err != nil {
				return err
			}

			if diff == nil {
				diff = make(graph.Data)
			}
			diff[soul] = delta
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", req.ID, err)
	}

	g.logger.Debug("graph written",
		"id", req.ID,
		"souls", len(req.Graph),
		"changed", len(diff),
	)

	if len(diff) > 0 && req.OnDiff != nil {
		req.OnDiff(graph.Message{ID: req.ID, Put: diff})
	}
	if req.OnAck != nil {
		req.OnAck(graph.NewReply(req.ID, diff))
	}
	return nil
}

// EachThingID calls fn for every thing id, in key order, inside one read
// transaction. Returns the number of raw souls visited.
func (g *Gateway) EachThingID(ctx context.Context, fn func(thingID string)) (int, error) {
	return g.EachThingIDSeq(ctx, func(_ context.Context, thingID string) error {
		fn(thingID)
		return nil
	})
}

// EachThingIDSeq calls fn for every thing id, in key order, and does not
// advance until fn returns: at most one visit is ever outstanding.
// Stops at the first error from fn or when ctx is cancelled.
// Returns the number of raw souls visited.
func (g *Gateway) EachThingIDSeq(ctx context.Context, fn func(ctx context.Context, thingID string) error) (int, error) {
	count := 0
	err := g.backend.View(ctx, func(r Reader) error {
		return r.Seek(schema.ThingPrefix, func(soul string) error {
			count++
			if err := ctx.Err(); err != nil {
				return err
			}
			thingID, ok := schema.ThingID(soul)
			if !ok {
				return nil
			}
			return fn(ctx, thingID)
		})
	})

	g.logger.Info("found ids", "count", count)
	if err != nil {
		return count, fmt.Errorf("scan things: %w", err)
	}
	return count, nil
}
