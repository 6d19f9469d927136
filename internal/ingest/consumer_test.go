// internal/ingest/consumer_test.go
package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipen321/kafka-pipeline/internal/metrics"
)

// scriptedReader replays a fixed fetch sequence, then blocks until the
// poll context expires like a quiet topic would.
type scriptedReader struct {
	results []fetchResult
	idx     int
	commits []kafka.Message
}

type fetchResult struct {
	msg kafka.Message
	err error
}

func (s *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if s.idx >= len(s.results) {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	r := s.results[s.idx]
	s.idx++
	return r.msg, r.err
}

func (s *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	s.commits = append(s.commits, msgs...)
	return nil
}

func (s *scriptedReader) Close() error { return nil }

func testConsumer(t *testing.T, reader messageReader) (*Consumer, *metrics.Set) {
	t.Helper()
	mets := metrics.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := Config{
		Brokers:     []string{"kafka:9092"},
		Topic:       "user-login",
		GroupID:     "user-login-processor-group",
		PollTimeout: 100 * time.Millisecond,
	}
	return newWithReader(cfg, reader, logger, mets), mets
}

func loginMsg(offset int64, value string) kafka.Message {
	return kafka.Message{Topic: "user-login", Offset: offset, Value: []byte(value)}
}

func TestNextReturnsEventsInFetchOrder(t *testing.T) {
	t.Parallel()
	reader := &scriptedReader{results: []fetchResult{
		{msg: loginMsg(0, `{"user_id":"a","device_type":"android","timestamp":1700000000}`)},
		{msg: loginMsg(1, `{"user_id":"b","device_type":"iOS","timestamp":1700000001}`)},
	}}
	c, _ := testConsumer(t, reader)

	first, msg1, err := c.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", first.UserID)
	assert.Equal(t, int64(0), msg1.Offset)

	second, msg2, err := c.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", second.UserID)
	assert.Equal(t, int64(1), msg2.Offset)
}

func TestNextSkipsMalformedRecords(t *testing.T) {
	t.Parallel()
	// One malformed record (missing timestamp) interleaved among five
	// well-formed ones: all five must come through, the malformed one
	// is committed and counted, and the stream never stalls.
	reader := &scriptedReader{results: []fetchResult{
		{msg: loginMsg(0, `{"user_id":"a","timestamp":1700000000}`)},
		{msg: loginMsg(1, `{"user_id":"b","timestamp":1700000001}`)},
		{msg: loginMsg(2, `{"user_id":"broken","device_type":"android"}`)},
		{msg: loginMsg(3, `{"user_id":"c","timestamp":1700000003}`)},
		{msg: loginMsg(4, `{"user_id":"d","timestamp":1700000004}`)},
		{msg: loginMsg(5, `{"user_id":"e","timestamp":1700000005}`)},
	}}
	c, mets := testConsumer(t, reader)

	var users []string
	for i := 0; i < 5; i++ {
		raw, msg, err := c.Next(context.Background())
		require.NoError(t, err)
		users = append(users, raw.UserID)
		require.NoError(t, c.Commit(context.Background(), msg))
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, users)
	assert.Equal(t, float64(1), testutil.ToFloat64(mets.DecodeErrors))
	assert.Equal(t, float64(6), testutil.ToFloat64(mets.Consumed))

	// The malformed record was committed so the group never refetches it.
	var committedOffsets []int64
	for _, m := range reader.commits {
		committedOffsets = append(committedOffsets, m.Offset)
	}
	assert.Contains(t, committedOffsets, int64(2))
}

func TestNextReportsEmptyPoll(t *testing.T) {
	t.Parallel()
	c, _ := testConsumer(t, &scriptedReader{})

	_, _, err := c.Next(context.Background())
	require.ErrorIs(t, err, ErrNoMessage)
}

func TestNextSurfacesFetchErrors(t *testing.T) {
	t.Parallel()
	fetchErr := errors.New("broker hiccup")
	reader := &scriptedReader{results: []fetchResult{{err: fetchErr}}}
	c, _ := testConsumer(t, reader)

	_, _, err := c.Next(context.Background())
	require.ErrorIs(t, err, fetchErr)
}

func TestNextHonorsCancellation(t *testing.T) {
	t.Parallel()
	c, _ := testConsumer(t, &scriptedReader{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "no brokers", cfg: Config{Topic: "t", GroupID: "g", PollTimeout: time.Second}},
		{name: "no topic", cfg: Config{Brokers: []string{"kafka:9092"}, GroupID: "g", PollTimeout: time.Second}},
		{name: "no group", cfg: Config{Brokers: []string{"kafka:9092"}, Topic: "t", PollTimeout: time.Second}},
		{name: "zero poll timeout", cfg: Config{Brokers: []string{"kafka:9092"}, Topic: "t", GroupID: "g"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tc.cfg, logger, metrics.New())
			require.Error(t, err)
		})
	}
}
