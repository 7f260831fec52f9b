package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	breaker := NewBreaker("market-data", BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          time.Second,
		MaxRequests:      2,
		ResetTimeout:     time.Minute,
	}, logger)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	breaker.now = func() time.Time { return now }
	return breaker, &now
}

func fail(context.Context) error    { return errors.New("boom") }
func succeed(context.Context) error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	breaker := NewBreaker("defaults", BreakerConfig{}, logrus.New())

	assert.Equal(t, 5, breaker.config.FailureThreshold)
	assert.Equal(t, 2, breaker.config.SuccessThreshold)
	assert.Equal(t, Closed, breaker.State())
	assert.Equal(t, "defaults", breaker.Name())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	breaker, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Error(t, breaker.Execute(ctx, fail))
	}
	assert.Equal(t, Open, breaker.State())

	err := breaker.Execute(ctx, succeed)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int64(1), breaker.Stats().RejectedRequests)
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	breaker, now := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = breaker.Execute(ctx, fail)
	}
	require.Equal(t, Open, breaker.State())

	*now = now.Add(2 * time.Second)
	require.NoError(t, breaker.Execute(ctx, succeed))
	assert.Equal(t, HalfOpen, breaker.State())

	require.NoError(t, breaker.Execute(ctx, succeed))
	assert.Equal(t, Closed, breaker.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	breaker, now := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = breaker.Execute(ctx, fail)
	}
	*now = now.Add(2 * time.Second)

	assert.Error(t, breaker.Execute(ctx, fail))
	assert.Equal(t, Open, breaker.State())
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	breaker, now := newTestBreaker(t)
	breaker.config.SuccessThreshold = 10
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = breaker.Execute(ctx, fail)
	}
	*now = now.Add(2 * time.Second)

	require.NoError(t, breaker.Execute(ctx, succeed))
	require.NoError(t, breaker.Execute(ctx, succeed))
	assert.ErrorIs(t, breaker.Execute(ctx, succeed), ErrCircuitOpen)
}

func TestBreaker_Reset(t *testing.T) {
	breaker, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = breaker.Execute(ctx, fail)
	}
	breaker.Reset()

	assert.Equal(t, Closed, breaker.State())
	assert.NoError(t, breaker.Execute(ctx, succeed))
	assert.Equal(t, int64(2), breaker.Stats().StateChanges)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "half-open", HalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
