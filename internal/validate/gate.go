package validate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/gunrelay/internal/graph"
	"github.com/roach88/gunrelay/internal/store"
)

// syntheticMessageID labels the one message a candidate graph is wrapped
// in for the oracle.
const syntheticMessageID = "dummymsgid"

// Gate is a store.Store whose writes must pass a Validator first.
type Gate struct {
	next      store.Store
	validator Validator
	logger    *slog.Logger
}

var _ store.Store = (*Gate)(nil)

// NewGate wraps next. A nil logger falls back to slog.Default().
func NewGate(next store.Store, v Validator, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{next: next, validator: v, logger: logger}
}

// Read passes through.
func (g *Gate) Read(ctx context.Context, soul string) (*graph.Node, error) {
	return g.next.Read(ctx, soul)
}

// Get passes through.
func (g *Gate) Get(ctx context.Context, req store.GetRequest) error {
	return g.next.Get(ctx, req)
}

// Write validates the whole graph, then delegates.
// A rejection returns a *RejectionError (errors.Is ErrRejected) and leaves
// the store untouched; no callback runs.
func (g *Gate) Write(ctx context.Context, req store.WriteRequest) error {
	candidate := graph.Message{ID: syntheticMessageID, Put: req.Graph}

	reason, ok, err := g.check(ctx, candidate)
	if err != nil {
		return fmt.Errorf("validate %s: %w", req.ID, err)
	}
	if !ok {
		rej := &RejectionError{ID: req.ID, Souls: req.Graph.Souls(), Reason: reason}
		g.logger.Info("write rejected",
			"id", req.ID,
			"souls", len(rej.Souls),
			"reason", reason,
		)
		return rej
	}

	return g.next.Write(ctx, req)
}

func (g *Gate) check(ctx context.Context, msg graph.Message) (string, bool, error) {
	if ex, ok := g.validator.(Explainer); ok {
		reason, err := ex.Explain(ctx, msg)
		if err != nil {
			return "", false, err
		}
		return reason, reason == "", nil
	}
	ok, err := g.validator.Validate(ctx, msg)
	return "", ok, err
}
