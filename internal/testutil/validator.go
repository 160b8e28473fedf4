package testutil

import (
	"context"
	"sync"

	"github.com/roach88/gunrelay/internal/graph"
)

// StaticValidator answers every write the same way and records what it
// was asked.
type StaticValidator struct {
	mu     sync.Mutex
	accept bool
	err    error
	calls  []graph.Message
}

// NewStaticValidator accepts every write when accept is true and
// rejects every write otherwise.
func NewStaticValidator(accept bool) *StaticValidator {
	return &StaticValidator{accept: accept}
}

// FailWith makes every later call return err.
func (v *StaticValidator) FailWith(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.err = err
}

// Validate implements validate.Validator.
func (v *StaticValidator) Validate(_ context.Context, msg graph.Message) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, msg)
	if v.err != nil {
		return false, v.err
	}
	return v.accept, nil
}

// Calls returns the messages seen so far.
func (v *StaticValidator) Calls() []graph.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]graph.Message(nil), v.calls...)
}
