package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(maxFailures uint32, timeout time.Duration) *CircuitBreaker {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New("test", maxFailures, timeout, logger)
}

func failingCall(ctx context.Context) error { return errors.New("downstream failure") }
func successCall(ctx context.Context) error { return nil }

func TestClosedBreakerPassesCallsThrough(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	assert.NoError(t, cb.Execute(context.Background(), successCall))
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Execute(ctx, failingCall))
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(ctx, successCall)
	require.Error(t, err)
	assert.True(t, IsOpenError(err))
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingCall))
	require.Error(t, cb.Execute(ctx, failingCall))
	require.NoError(t, cb.Execute(ctx, successCall))
	require.Error(t, cb.Execute(ctx, failingCall))
	require.Error(t, cb.Execute(ctx, failingCall))

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpensAfterTimeout(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingCall))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingCall))
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(ctx, successCall))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingCall))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	require.Error(t, cb.Execute(ctx, failingCall))
	assert.Equal(t, StateOpen, cb.State())
}

func TestHalfOpenLimitsProbeCalls(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, failingCall))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	blocked := 0
	for i := 0; i < 5; i++ {
		err := cb.Execute(ctx, func(ctx context.Context) error {
			time.Sleep(time.Millisecond)
			return nil
		})
		if IsOpenError(err) {
			blocked++
		}
	}
	// halfOpenMaxCalls is 3; with sequential calls the first three
	// probes close the breaker, so none should be blocked after that.
	assert.LessOrEqual(t, blocked, 2)
	assert.Equal(t, StateClosed, cb.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestIsOpenError(t *testing.T) {
	assert.True(t, IsOpenError(&OpenError{Name: "test", State: StateOpen}))
	assert.False(t, IsOpenError(errors.New("other")))
	assert.False(t, IsOpenError(nil))
}

func TestNewWithNilLogger(t *testing.T) {
	cb := New("test", 1, time.Minute, nil)
	assert.NoError(t, cb.Execute(context.Background(), successCall))
}
