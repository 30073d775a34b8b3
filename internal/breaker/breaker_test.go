package breaker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/breaker"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/util/testutil"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func setupBreaker(t *testing.T, opts ...breaker.Option) (breaker.Breaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Now()}
	opts = append([]breaker.Option{
		breaker.WithThreshold(3),
		breaker.WithRecovery(5 * time.Minute),
		breaker.WithClock(clock.Now),
	}, opts...)
	return breaker.New(testutil.CreateTestRedisClient(t), opts...), clock
}

func TestBreaker_ClosedUntilThreshold(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, _ := setupBreaker(t)

	for i := 0; i < 2; i++ {
		opened, err := b.RecordFailure(ctx, "cfg_1")
		require.NoError(t, err)
		assert.False(t, opened)

		verdict, err := b.Check(ctx, "cfg_1")
		require.NoError(t, err)
		assert.Equal(t, breaker.VerdictProceed, verdict)
	}

	opened, err := b.RecordFailure(ctx, "cfg_1")
	require.NoError(t, err)
	assert.True(t, opened, "third consecutive failure should open the circuit")

	verdict, err := b.Check(ctx, "cfg_1")
	require.NoError(t, err)
	assert.Equal(t, breaker.VerdictSkip, verdict)
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, _ := setupBreaker(t)

	for i := 0; i < 2; i++ {
		_, err := b.RecordFailure(ctx, "cfg_1")
		require.NoError(t, err)
	}
	require.NoError(t, b.RecordSuccess(ctx, "cfg_1"))

	// Counter restarted, so two more failures stay below threshold.
	for i := 0; i < 2; i++ {
		opened, err := b.RecordFailure(ctx, "cfg_1")
		require.NoError(t, err)
		assert.False(t, opened)
	}

	snapshot, err := b.Snapshot(ctx, "cfg_1")
	require.NoError(t, err)
	assert.Equal(t, models.CircuitClosed, snapshot.CircuitState)
	assert.Equal(t, int64(2), snapshot.ConsecutiveFailures)
	assert.NotNil(t, snapshot.LastSuccessAt)
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, clock := setupBreaker(t)

	for i := 0; i < 3; i++ {
		_, err := b.RecordFailure(ctx, "cfg_1")
		require.NoError(t, err)
	}

	verdict, err := b.Check(ctx, "cfg_1")
	require.NoError(t, err)
	require.Equal(t, breaker.VerdictSkip, verdict, "open circuit skips before recovery")

	clock.Advance(5*time.Minute + time.Second)

	verdict, err = b.Check(ctx, "cfg_1")
	require.NoError(t, err)
	assert.Equal(t, breaker.VerdictProbe, verdict, "first check after recovery claims the probe")

	verdict, err = b.Check(ctx, "cfg_1")
	require.NoError(t, err)
	assert.Equal(t, breaker.VerdictSkip, verdict, "only one probe at a time")

	snapshot, err := b.Snapshot(ctx, "cfg_1")
	require.NoError(t, err)
	assert.Equal(t, models.CircuitHalfOpen, snapshot.CircuitState)
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, clock := setupBreaker(t)

	for i := 0; i < 3; i++ {
		_, err := b.RecordFailure(ctx, "cfg_1")
		require.NoError(t, err)
	}
	clock.Advance(6 * time.Minute)

	verdict, err := b.Check(ctx, "cfg_1")
	require.NoError(t, err)
	require.Equal(t, breaker.VerdictProbe, verdict)

	require.NoError(t, b.RecordSuccess(ctx, "cfg_1"))

	verdict, err = b.Check(ctx, "cfg_1")
	require.NoError(t, err)
	assert.Equal(t, breaker.VerdictProceed, verdict)

	snapshot, err := b.Snapshot(ctx, "cfg_1")
	require.NoError(t, err)
	assert.Equal(t, models.CircuitClosed, snapshot.CircuitState)
	assert.Equal(t, int64(0), snapshot.ConsecutiveFailures)
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, clock := setupBreaker(t)

	for i := 0; i < 3; i++ {
		_, err := b.RecordFailure(ctx, "cfg_1")
		require.NoError(t, err)
	}
	clock.Advance(6 * time.Minute)

	verdict, err := b.Check(ctx, "cfg_1")
	require.NoError(t, err)
	require.Equal(t, breaker.VerdictProbe, verdict)

	opened, err := b.RecordFailure(ctx, "cfg_1")
	require.NoError(t, err)
	assert.True(t, opened, "failed probe reopens")

	verdict, err = b.Check(ctx, "cfg_1")
	require.NoError(t, err)
	assert.Equal(t, breaker.VerdictSkip, verdict, "recovery clock restarted")

	// The next recovery window allows another probe.
	clock.Advance(6 * time.Minute)
	verdict, err = b.Check(ctx, "cfg_1")
	require.NoError(t, err)
	assert.Equal(t, breaker.VerdictProbe, verdict)
}

func TestBreaker_IsolatedPerIntegration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b, _ := setupBreaker(t)

	for i := 0; i < 3; i++ {
		_, err := b.RecordFailure(ctx, "cfg_1")
		require.NoError(t, err)
	}

	verdict, err := b.Check(ctx, "cfg_2")
	require.NoError(t, err)
	assert.Equal(t, breaker.VerdictProceed, verdict, "other integrations unaffected")
}
