package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestDelay(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Second, Delay(cfg, 1))
	assert.Equal(t, 2*time.Second, Delay(cfg, 2))
	assert.Equal(t, 8*time.Second, Delay(cfg, 4))
	assert.Equal(t, 30*time.Second, Delay(cfg, 10))
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), "connect", func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUp(t *testing.T) {
	boom := errors.New("connection refused")
	res := WithExponentialBackoff(context.Background(), fastConfig(), "connect", func(context.Context, int) error {
		return boom
	})
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.ErrorIs(t, res.LastError, boom)

	err := Do(context.Background(), fastConfig(), "connect", func(context.Context, int) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "connect failed after 3 attempts")
}

func TestDo_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}

	calls := 0
	err := Do(ctx, cfg, "connect", func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
