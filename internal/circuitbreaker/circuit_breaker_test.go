package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/modelforge/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func newTestBreaker(t *testing.T) (*CircuitBreaker, *time.Time) {
	t.Helper()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := New(Config{
		Name:                "test",
		MinCalls:            4,
		FailureThreshold:    0.5,
		ConsecutiveFailures: 3,
		Timeout:             time.Minute,
		HalfOpenMaxCalls:    2,
	}, logging.NewLogger(logging.LevelError, logging.FormatJSON))
	cb.now = func() time.Time { return clock }
	return cb, &clock
}

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_OpensOnConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_OpensOnFailureRate(t *testing.T) {
	cb, _ := newTestBreaker(t)
	ctx := context.Background()

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Error(t, cb.Execute(ctx, fail))
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())

	assert.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	require.Equal(t, StateOpen, cb.State())

	*clock = clock.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, clock := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	*clock = clock.Add(2 * time.Minute)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	cb, _ := newTestBreaker(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Stats().Failures)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Execute(context.Background(), succeed))
}
