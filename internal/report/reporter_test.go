// internal/report/reporter_test.go
package report

import (
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipen321/kafka-pipeline/internal/aggregate"
	"github.com/dipen321/kafka-pipeline/internal/event"
	"github.com/dipen321/kafka-pipeline/internal/metrics"
)

func newReporter(t *testing.T, every int) (*Reporter, *aggregate.State, *metrics.Set) {
	t.Helper()
	mets := metrics.New()
	state := aggregate.NewState(0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(state, every, logger, mets), state, mets
}

func observe(state *aggregate.State, n int) {
	for i := 0; i < n; i++ {
		state.Observe(event.Processed{
			Raw:       event.Raw{UserID: "u", DeviceType: "android", AppVersion: "2.0.0", Locale: "en-US", Timestamp: 1700000000},
			Processed: true,
		})
	}
}

func TestMaybeEmitCadence(t *testing.T) {
	t.Parallel()
	r, state, mets := newReporter(t, 10)

	// Nothing before the tenth accepted event.
	for i := 1; i < 10; i++ {
		observe(state, 1)
		assert.Nil(t, r.MaybeEmit(state.Accepted()), "no emission expected at count %d", i)
	}
	observe(state, 1)
	ins := r.MaybeEmit(state.Accepted())
	require.NotNil(t, ins)
	assert.Equal(t, uint64(1), ins.Seq)
	assert.Equal(t, uint64(10), ins.Accepted)
	assert.Equal(t, float64(1), testutil.ToFloat64(mets.Snapshots))

	// Next boundary at twenty, not before.
	for i := 11; i < 20; i++ {
		observe(state, 1)
		assert.Nil(t, r.MaybeEmit(state.Accepted()))
	}
	observe(state, 1)
	second := r.MaybeEmit(state.Accepted())
	require.NotNil(t, second)
	assert.Equal(t, uint64(2), second.Seq)
}

func TestMaybeEmitZeroCountNeverFires(t *testing.T) {
	t.Parallel()
	r, _, _ := newReporter(t, 10)
	assert.Nil(t, r.MaybeEmit(0))
}

func TestLatestTracksLastEmission(t *testing.T) {
	t.Parallel()
	r, state, _ := newReporter(t, 1)

	assert.Nil(t, r.Latest())

	observe(state, 1)
	first := r.MaybeEmit(state.Accepted())
	require.NotNil(t, first)
	assert.Same(t, first, r.Latest())

	observe(state, 1)
	second := r.MaybeEmit(state.Accepted())
	require.NotNil(t, second)
	assert.Same(t, second, r.Latest())
	assert.Greater(t, second.Seq, first.Seq)
}

func TestEmitSnapshotsAreDetachedCopies(t *testing.T) {
	t.Parallel()
	r, state, _ := newReporter(t, 1)
	observe(state, 1)

	ins := r.Emit()
	observe(state, 5)

	assert.Equal(t, uint64(1), ins.Accepted, "emitted snapshot must not track later mutation")
}
