// internal/publish/producer.go
// Package publish is the message sink adapter. Outgoing events are
// queued and flushed in batches bounded by a linger window and a size
// threshold, whichever triggers first. Delivery is fire-and-forget: a
// failed event is logged and dropped, never retried, and never halts
// the consume loop.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dipen321/kafka-pipeline/internal/breaker"
	"github.com/dipen321/kafka-pipeline/internal/event"
	"github.com/dipen321/kafka-pipeline/internal/metrics"
)

// writeTimeout bounds a single batch write so a stalled broker cannot
// wedge the flush goroutine.
const writeTimeout = 10 * time.Second

var (
	errNotStarted = errors.New("producer not started")
	// ErrQueueFull reports that an event was dropped because the sink
	// queue was saturated.
	ErrQueueFull = errors.New("publish queue full")
)

// Config groups the sink adapter settings.
type Config struct {
	Brokers   []string
	Topic     string
	Linger    time.Duration
	BatchSize int
	QueueSize int
}

// messageWriter captures the write capability shared by the raw Kafka
// writer and test fakes.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type writeCloser interface {
	Close() error
}

// Producer batches and publishes processed events to the output topic
// from a background goroutine, keeping network calls off the consume
// loop.
type Producer struct {
	cfg    Config
	log    *slog.Logger
	mets   *metrics.Set
	writer messageWriter
	closer writeCloser
	brk    *breaker.Breaker

	queue     chan kafka.Message
	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New constructs a producer backed by a kafka-go writer. Batching
// inside the adapter is explicit, so the writer itself is configured
// to write synchronously whatever it is handed.
func New(cfg Config, log *slog.Logger, mets *metrics.Set, brk *breaker.Breaker) (*Producer, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("output topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           5 * time.Millisecond,
		AllowAutoTopicCreation: false,
	}
	return newWithWriter(cfg, log, mets, brk, writer, writer)
}

// newWithWriter wires the provided writer into the producer. It is
// used in tests.
func newWithWriter(cfg Config, log *slog.Logger, mets *metrics.Set, brk *breaker.Breaker, writer messageWriter, closer writeCloser) (*Producer, error) {
	if writer == nil {
		return nil, errors.New("producer requires a writer")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive: %d", cfg.BatchSize)
	}
	if cfg.Linger <= 0 {
		return nil, fmt.Errorf("linger must be positive: %s", cfg.Linger)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	return &Producer{
		cfg:    cfg,
		log:    log.With(slog.String("component", "sink")),
		mets:   mets,
		writer: writer,
		closer: closer,
		brk:    brk,
		queue:  make(chan kafka.Message, cfg.QueueSize),
	}, nil
}

// Start launches the background flush loop.
func (p *Producer) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context must not be nil")
	}
	p.startOnce.Do(func() {
		p.runCtx, p.cancel = context.WithCancel(ctx)
		p.wg.Add(1)
		go p.run()
		p.log.Info("sink_started",
			slog.String("topic", p.cfg.Topic),
			slog.Duration("linger", p.cfg.Linger),
			slog.Int("batch_size", p.cfg.BatchSize))
	})
	return nil
}

// Enqueue hands one processed event to the flush loop. When the queue
// is saturated the event is dropped and counted rather than blocking
// the consume loop.
func (p *Producer) Enqueue(ev event.Processed) error {
	if p.runCtx == nil {
		return errNotStarted
	}
	value, err := json.Marshal(ev)
	if err != nil {
		p.mets.Published.WithLabelValues("fail").Inc()
		p.log.Error("publish_encode_err", slog.Any("err", err), slog.String("user_id", ev.UserID))
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{Key: []byte(ev.UserID), Value: value, Time: time.Now()}
	select {
	case p.queue <- msg:
		p.mets.PublishQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		p.mets.Published.WithLabelValues("dropped").Inc()
		p.log.Error("publish_queue_full", slog.String("user_id", ev.UserID))
		return ErrQueueFull
	}
}

// Stop drains the queue, flushes the pending batch, and closes the
// writer. It returns early if the supplied context expires first.
func (p *Producer) Stop(ctx context.Context) error {
	var stopErr error
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = ctx.Err()
		}
		if p.closer != nil {
			if err := p.closer.Close(); err != nil {
				p.log.Error("sink_close_err", slog.Any("err", err))
			}
		}
		p.mets.PublishQueueDepth.Set(0)
		p.log.Info("sink_stopped")
	})
	return stopErr
}

func (p *Producer) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Linger)
	defer ticker.Stop()

	var batch []kafka.Message
	for {
		select {
		case <-p.runCtx.Done():
			batch = p.drainQueue(batch)
			p.flush(batch)
			p.log.Info("sink_loop_exit")
			return
		case msg := <-p.queue:
			p.mets.PublishQueueDepth.Set(float64(len(p.queue)))
			batch = append(batch, msg)
			if len(batch) >= p.cfg.BatchSize {
				p.flush(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				p.flush(batch)
				batch = nil
			}
		}
	}
}

// drainQueue collects whatever is still buffered after shutdown was
// requested so in-flight events are flushed before exit.
func (p *Producer) drainQueue(batch []kafka.Message) []kafka.Message {
	for {
		select {
		case msg := <-p.queue:
			batch = append(batch, msg)
		default:
			return batch
		}
	}
}

// flush writes one batch. Failures are logged and the affected events
// dropped; kafka-go reports per-message outcomes for partial failures
// and those are counted individually.
func (p *Producer) flush(batch []kafka.Message) {
	if len(batch) == 0 {
		return
	}
	if p.brk != nil && !p.brk.Allow() {
		p.mets.Published.WithLabelValues("dropped").Add(float64(len(batch)))
		p.log.Warn("publish_batch_dropped",
			slog.String("reason", "breaker open"),
			slog.Int("count", len(batch)))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	err := p.writer.WriteMessages(ctx, batch...)
	p.observeBreaker(err)
	switch werr := err.(type) {
	case nil:
		p.mets.Published.WithLabelValues("ok").Add(float64(len(batch)))
		p.log.Info("publish_batch_ok", slog.Int("count", len(batch)))
	case kafka.WriteErrors:
		failed := 0
		for i := range werr {
			if werr[i] == nil {
				p.mets.Published.WithLabelValues("ok").Inc()
				continue
			}
			failed++
			p.mets.Published.WithLabelValues("fail").Inc()
			p.log.Error("publish_err",
				slog.Any("err", werr[i]),
				slog.String("key", string(batch[i].Key)))
		}
		p.log.Warn("publish_batch_partial", slog.Int("count", len(batch)), slog.Int("failed", failed))
	default:
		p.mets.Published.WithLabelValues("fail").Add(float64(len(batch)))
		p.log.Error("publish_batch_err", slog.Any("err", err), slog.Int("count", len(batch)))
	}
}

// observeBreaker feeds the batch outcome to the circuit breaker. A
// partial delivery still proves the broker reachable, so only a total
// failure counts against it.
func (p *Producer) observeBreaker(err error) {
	if p.brk == nil {
		return
	}
	var werr kafka.WriteErrors
	switch {
	case err == nil:
		p.brk.Success()
	case errors.As(err, &werr):
		p.brk.Success()
	default:
		p.brk.Failure()
	}
	if p.brk.State() == breaker.Open {
		p.mets.BreakerOpen.Set(1)
	} else {
		p.mets.BreakerOpen.Set(0)
	}
}
