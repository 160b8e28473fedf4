// Package validate gates graph writes behind a validity oracle.
//
// A Gate wraps a store.Store: reads pass straight through, writes commit
// only after the oracle accepts the entire candidate graph. The gate
// exposes no other write path.
package validate

import (
	"context"

	"github.com/roach88/gunrelay/internal/graph"
)

// Validator decides whether a proposed write may commit.
// An error means the oracle could not decide; it is not a rejection.
type Validator interface {
	Validate(ctx context.Context, msg graph.Message) (bool, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, msg graph.Message) (bool, error)

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, msg graph.Message) (bool, error) {
	return f(ctx, msg)
}

// AcceptAll accepts every write.
type AcceptAll struct{}

// Validate implements Validator.
func (AcceptAll) Validate(context.Context, graph.Message) (bool, error) {
	return true, nil
}

// Explainer is implemented by validators that can say why they reject.
// An empty reason with a nil error means the message is accepted.
type Explainer interface {
	Explain(ctx context.Context, msg graph.Message) (reason string, err error)
}
