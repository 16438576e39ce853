package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Wait(t *testing.T) {
	t.Run("retries", func(t *testing.T) {
		b := New(2, time.Millisecond, time.Millisecond*10)

		// The first attempt plus 2 retries.
		assert.True(t, b.Wait(context.Background()))
		assert.True(t, b.Wait(context.Background()))
		assert.True(t, b.Wait(context.Background()))
		assert.False(t, b.Wait(context.Background()))
	})

	t.Run("cancelled", func(t *testing.T) {
		b := New(0, time.Minute, time.Minute)

		ctx, cancel := context.WithCancel(context.Background())
		assert.True(t, b.Wait(ctx))

		cancel()
		assert.False(t, b.Wait(ctx))
	})
}

func TestBackoff_NextWait(t *testing.T) {
	b := New(0, time.Second, time.Second*5)

	for _, expected := range []time.Duration{
		time.Second, time.Second * 2, time.Second * 4, time.Second * 5, time.Second * 5,
	} {
		wait := b.nextWait()
		assert.GreaterOrEqual(t, wait, expected)
		assert.LessOrEqual(t, wait, expected+expected/10)
		// Remove the jitter so the sequence is deterministic.
		b.lastBackoff = expected
	}
}
