// internal/pipeline/filter_test.go
package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipen321/kafka-pipeline/internal/event"
)

func TestFilterAllowSet(t *testing.T) {
	t.Parallel()
	f := NewFilter([]string{"2.0.0", "2.1.0"})

	_, ok := f.Apply(event.Raw{UserID: "u1", AppVersion: "1.0.0", Timestamp: 1700000000})
	assert.False(t, ok)

	p, ok := f.Apply(event.Raw{UserID: "u2", AppVersion: "2.0.0", Timestamp: 1700000000})
	require.True(t, ok)
	assert.True(t, p.Processed)
}

func TestFilterEmptySetAcceptsAll(t *testing.T) {
	t.Parallel()
	f := NewFilter(nil)

	p, ok := f.Apply(event.Raw{UserID: "u1", AppVersion: "0.0.1-beta", Timestamp: 1700000000})
	require.True(t, ok)
	assert.True(t, p.Processed)
}

func TestFilterEnrichment(t *testing.T) {
	t.Parallel()
	f := NewFilter(nil)
	raw := event.Raw{
		UserID:     "u1",
		AppVersion: "2.0.0",
		DeviceType: "android",
		IP:         "10.0.0.5",
		Locale:     "en-US",
		Timestamp:  1700000000,
	}
	p, ok := f.Apply(raw)
	require.True(t, ok)
	assert.Equal(t, raw, p.Raw, "accepted events carry all source fields unchanged")
	assert.True(t, p.Processed)
	assert.Equal(t, "2023-11-14 22:13", p.Bucket)
}
