// internal/pipeline/loop.go
// Package pipeline drives the consume-filter-transform-aggregate-produce
// loop. One loop runs per pipeline instance; multiple instances share a
// consumer group with the broker assigning partitions, so no
// cross-instance coordination happens here.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/dipen321/kafka-pipeline/internal/event"
	"github.com/dipen321/kafka-pipeline/internal/ingest"
	"github.com/dipen321/kafka-pipeline/internal/metrics"
	"github.com/dipen321/kafka-pipeline/internal/report"
)

// source is the consume boundary of the loop.
type source interface {
	Next(ctx context.Context) (event.Raw, kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// sink is the produce boundary of the loop.
type sink interface {
	Enqueue(ev event.Processed) error
}

// observer is the aggregation boundary of the loop.
type observer interface {
	Observe(ev event.Processed)
	Accepted() uint64
}

// Loop owns one sequential processing pass per event: source, filter,
// fan-out to aggregation and sink, then cadence check. No error from a
// single event propagates past that event's handling.
type Loop struct {
	src      source
	filter   *Filter
	agg      observer
	reporter *report.Reporter
	out      sink
	log      *slog.Logger
	mets     *metrics.Set
}

// NewLoop wires the pipeline stages.
func NewLoop(src source, filter *Filter, agg observer, reporter *report.Reporter, out sink, log *slog.Logger, mets *metrics.Set) *Loop {
	return &Loop{
		src:      src,
		filter:   filter,
		agg:      agg,
		reporter: reporter,
		out:      out,
		log:      log.With(slog.String("component", "pipeline")),
		mets:     mets,
	}
}

// Run processes events until the context is canceled, then emits one
// final insight snapshot. Sustained fetch failures back off
// exponentially, capped at ten seconds; everything else is handled per
// event and the loop keeps going.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("loop_start")
	backoff := time.Second
	for {
		raw, msg, err := l.src.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				l.finish()
				return nil
			}
			if errors.Is(err, ingest.ErrNoMessage) {
				continue
			}
			l.log.Error("fetch_err", slog.Any("err", err), slog.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
				if backoff < 10*time.Second {
					backoff *= 2
				}
				continue
			case <-ctx.Done():
				l.finish()
				return nil
			}
		}
		backoff = time.Second

		l.handle(ctx, raw)

		if err := l.src.Commit(ctx, msg); err != nil && ctx.Err() == nil {
			l.log.Error("commit_err", slog.Any("err", err), slog.Int64("offset", msg.Offset))
		}
	}
}

// handle runs one event through filter, aggregation, sink, and the
// insight cadence check.
func (l *Loop) handle(_ context.Context, raw event.Raw) {
	processed, ok := l.filter.Apply(raw)
	if !ok {
		l.mets.Rejected.Inc()
		l.log.Debug("event_rejected",
			slog.String("user_id", raw.UserID),
			slog.String("app_version", raw.AppVersion))
		return
	}
	l.mets.Accepted.Inc()

	l.agg.Observe(processed)
	if err := l.out.Enqueue(processed); err != nil {
		// Already logged and counted by the sink; the loop continues.
		l.log.Debug("enqueue_failed", slog.String("user_id", processed.UserID))
	}
	l.reporter.MaybeEmit(l.agg.Accepted())
}

// finish emits the final insight snapshot on clean shutdown, mirroring
// the running reports so operators see the end-of-run totals.
func (l *Loop) finish() {
	ins := l.reporter.Emit()
	l.log.Info("loop_stop", slog.Uint64("accepted_total", ins.Accepted))
}
