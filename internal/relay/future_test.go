package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureResolvesOnce(t *testing.T) {
	f := newFuture("42")
	var cleanups atomic.Int64
	f.onResolve(func() { cleanups.Add(1) })

	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome := UploadAcked
			if i%2 == 0 {
				outcome = UploadTimedOut
			}
			if f.resolve(UploadResult{ThingID: "42", Outcome: outcome}, nil) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load())
	assert.Equal(t, int64(1), cleanups.Load())

	res, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", res.ThingID)
}

func TestFutureLateCleanupRunsImmediately(t *testing.T) {
	f := resolvedFuture(UploadResult{ThingID: "42", Outcome: UploadSkipped}, nil)
	ran := false
	f.onResolve(func() { ran = true })
	assert.True(t, ran)
}

func TestFutureWaitCancelled(t *testing.T) {
	f := newFuture("42")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "42", res.ThingID)
}

func TestUploadOutcomeString(t *testing.T) {
	assert.Equal(t, "skipped", UploadSkipped.String())
	assert.Equal(t, "acked", UploadAcked.String())
	assert.Equal(t, "timed_out", UploadTimedOut.String())
	assert.Equal(t, "unknown", UploadOutcome(0).String())
}
