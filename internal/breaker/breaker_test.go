// internal/breaker/breaker_test.go
package breaker

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker(maxFailures int, reset time.Duration) (*Breaker, *time.Time) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := New("test", Config{MaxFailures: maxFailures, ResetTimeout: reset}, logger)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(3, time.Minute)

	b.Failure()
	b.Failure()
	assert.Equal(t, Closed, b.State())
	assert.True(t, b.Allow())
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(3, time.Minute)

	b.Failure()
	b.Failure()
	b.Failure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
}

func TestSuccessResetsFailureRun(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(3, time.Minute)

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	assert.Equal(t, Closed, b.State())
}

func TestBreakerProbesAfterResetTimeout(t *testing.T) {
	t.Parallel()
	b, now := newTestBreaker(1, time.Minute)

	b.Failure()
	assert.False(t, b.Allow())

	*now = now.Add(2 * time.Minute)
	assert.True(t, b.Allow(), "first attempt after reset timeout is the probe")
	assert.Equal(t, HalfOpen, b.State())

	b.Success()
	assert.Equal(t, Closed, b.State())
}

func TestFailedProbeReopens(t *testing.T) {
	t.Parallel()
	b, now := newTestBreaker(3, time.Minute)

	b.Failure()
	b.Failure()
	b.Failure()
	*now = now.Add(2 * time.Minute)
	assert.True(t, b.Allow())

	b.Failure()
	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
}
