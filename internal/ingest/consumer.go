// internal/ingest/consumer.go
// Package ingest is the message source adapter: it pulls raw records
// from the input topic through a consumer-group reader, decodes them
// into typed events, and isolates per-record failures so one malformed
// message never blocks the stream.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dipen321/kafka-pipeline/internal/event"
	"github.com/dipen321/kafka-pipeline/internal/metrics"
)

// ErrNoMessage reports that a bounded poll elapsed without a record.
// The caller should check its shutdown signal and poll again.
var ErrNoMessage = errors.New("no message within poll window")

// Config groups the Kafka settings for the source adapter.
type Config struct {
	Brokers     []string
	Topic       string
	GroupID     string
	PollTimeout time.Duration
}

// messageReader captures the reader capabilities the consumer needs,
// so tests can script fetch sequences.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads and validates login events from the input topic.
// Events reach the caller in the same per-partition order they were
// read; fetching and committing happen on the caller's goroutine.
type Consumer struct {
	cfg    Config
	reader messageReader
	log    *slog.Logger
	mets   *metrics.Set
}

// New validates the configuration and wires a consumer-group reader.
func New(cfg Config, log *slog.Logger, mets *metrics.Set) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("input topic must not be empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("consumer group id must not be empty")
	}
	if cfg.PollTimeout <= 0 {
		return nil, fmt.Errorf("poll timeout must be positive: %s", cfg.PollTimeout)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newWithReader(cfg, reader, log, mets), nil
}

// newWithReader wires the provided reader. It is used in tests.
func newWithReader(cfg Config, reader messageReader, log *slog.Logger, mets *metrics.Set) *Consumer {
	return &Consumer{
		cfg:    cfg,
		reader: reader,
		log:    log.With(slog.String("component", "source")),
		mets:   mets,
	}
}

// Next returns the next well-formed event together with the Kafka
// message it was decoded from, so the caller can commit after
// handling. Malformed records are logged, committed, and skipped
// inside this call. An empty poll window yields ErrNoMessage; fetch
// errors and context cancellation are returned to the caller.
func (c *Consumer) Next(ctx context.Context) (event.Raw, kafka.Message, error) {
	for {
		pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		msg, err := c.reader.FetchMessage(pollCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return event.Raw{}, kafka.Message{}, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return event.Raw{}, kafka.Message{}, ErrNoMessage
			}
			return event.Raw{}, kafka.Message{}, fmt.Errorf("fetch message: %w", err)
		}
		c.mets.Consumed.Inc()

		raw, err := event.Decode(msg.Value)
		if err != nil {
			c.mets.DecodeErrors.Inc()
			c.log.Warn("record_discarded",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset))
			if cerr := c.Commit(ctx, msg); cerr != nil {
				c.log.Error("commit_err", slog.Any("err", cerr), slog.Int64("offset", msg.Offset))
			}
			continue
		}
		return raw, msg, nil
	}
}

// Commit acknowledges a handled message with the consumer group.
func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	return c.reader.CommitMessages(ctx, msg)
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
