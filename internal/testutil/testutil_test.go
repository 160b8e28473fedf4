package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gunrelay/internal/graph"
)

func TestManualClock(t *testing.T) {
	clock := NewManualClock(100)
	assert.Equal(t, 100.0, clock.Now())
	assert.Equal(t, 100.0, clock.Now(), "Now does not advance")

	assert.Equal(t, 150.0, clock.Advance(50))
	clock.Set(10)
	assert.Equal(t, 10.0, clock.Now())
}

func TestManualClock_Concurrent(t *testing.T) {
	clock := NewManualClock(0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100.0, clock.Now())
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Equal(t, 2, gen.Used())

	assert.Panics(t, func() { gen.Generate() })
}

func TestStaticValidator(t *testing.T) {
	ctx := context.Background()
	msg := graph.Message{ID: "m"}

	ok, err := NewStaticValidator(true).Validate(ctx, msg)
	require.NoError(t, err)
	assert.True(t, ok)

	v := NewStaticValidator(false)
	ok, err = v.Validate(ctx, msg)
	require.NoError(t, err)
	assert.False(t, ok)

	boom := errors.New("boom")
	v.FailWith(boom)
	_, err = v.Validate(ctx, msg)
	assert.ErrorIs(t, err, boom)

	assert.Len(t, v.Calls(), 2)
}
