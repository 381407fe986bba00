package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fastOptions(attempts int) Options {
	return Options{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastOptions(3), func(context.Context) error {
			calls++
			if calls < 3 {
				return errBoom
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastOptions(2), func(context.Context) error {
			calls++
			return errBoom
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMaxRetries)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, 2, calls)
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastOptions(5), func(context.Context) error {
			calls++
			return Permanent(errBoom)
		})
		assert.Equal(t, errBoom, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context aborts backoff", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		opts := Options{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
		calls := 0
		err := Do(cctx, opts, func(context.Context) error {
			calls++
			cancel()
			return errBoom
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
