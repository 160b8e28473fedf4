package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/roach88/gunrelay/internal/graph"
)

// UploadOutcome says how an upload finished.
type UploadOutcome int

const (
	// UploadSkipped means the thing had no root, link or data node.
	UploadSkipped UploadOutcome = iota + 1
	// UploadAcked means a reply arrived on gun/@id.
	UploadAcked
	// UploadTimedOut means the timeout won the race against the ack.
	UploadTimedOut
)

func (o UploadOutcome) String() string {
	switch o {
	case UploadSkipped:
		return "skipped"
	case UploadAcked:
		return "acked"
	case UploadTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// UploadResult is what a Future resolves to.
type UploadResult struct {
	ThingID string
	Outcome UploadOutcome

	// Ack is the reply, when Outcome is UploadAcked.
	Ack graph.Message
}

// Future is a pending upload. It resolves exactly once: the first of
// ack, timeout, cancellation or publish failure wins and every later
// attempt is ignored. Resolution releases the ack subscription once.
type Future struct {
	thingID  string
	done     chan struct{}
	resolved atomic.Bool
	result   UploadResult
	err      error

	mu       sync.Mutex
	cleanups []func()
	released bool
}

func newFuture(thingID string) *Future {
	return &Future{thingID: thingID, done: make(chan struct{})}
}

func resolvedFuture(res UploadResult, err error) *Future {
	f := newFuture(res.ThingID)
	f.resolve(res, err)
	return f
}

// onResolve registers fn to run once at resolution. If the future is
// already resolved fn runs immediately.
func (f *Future) onResolve(fn func()) {
	f.mu.Lock()
	if f.released {
		f.mu.Unlock()
		fn()
		return
	}
	f.cleanups = append(f.cleanups, fn)
	f.mu.Unlock()
}

// resolve reports whether this call won.
func (f *Future) resolve(res UploadResult, err error) bool {
	if !f.resolved.CompareAndSwap(false, true) {
		return false
	}
	f.result = res
	f.err = err

	f.mu.Lock()
	cleanups := f.cleanups
	f.cleanups = nil
	f.released = true
	f.mu.Unlock()
	for _, fn := range cleanups {
		fn()
	}

	close(f.done)
	return true
}

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks for the result. Cancelling ctx stops waiting but does not
// resolve the future.
func (f *Future) Wait(ctx context.Context) (UploadResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return UploadResult{ThingID: f.thingID}, ctx.Err()
	}
}
