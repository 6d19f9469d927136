// internal/report/reporter.go
// Package report renders periodic insight snapshots of the aggregation
// state. The cadence is event-count based so emission frequency scales
// with throughput, and no timer goroutine is involved: the reporter is
// driven synchronously by the processing loop after each accepted
// event.
package report

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dipen321/kafka-pipeline/internal/aggregate"
	"github.com/dipen321/kafka-pipeline/internal/metrics"
)

// Insight is one emitted snapshot, tagged with its sequence number and
// emission time. It has no lifecycle beyond being logged and served
// read-only over the observability API.
type Insight struct {
	Seq       uint64    `json:"seq"`
	EmittedAt time.Time `json:"emitted_at"`
	aggregate.Snapshot
}

// Reporter emits an Insight every N accepted events.
type Reporter struct {
	state *aggregate.State
	every uint64
	log   *slog.Logger
	mets  *metrics.Set

	mu     sync.RWMutex
	seq    uint64
	latest *Insight
}

// New constructs a reporter over the given state. every must be
// positive; config validation enforces that upstream.
func New(state *aggregate.State, every int, log *slog.Logger, mets *metrics.Set) *Reporter {
	return &Reporter{state: state, every: uint64(every), log: log, mets: mets}
}

// MaybeEmit checks the cadence counter and, on a boundary, snapshots
// the aggregation state and renders it. Returns nil between ticks.
func (r *Reporter) MaybeEmit(accepted uint64) *Insight {
	if accepted == 0 || accepted%r.every != 0 {
		return nil
	}
	return r.Emit()
}

// Emit unconditionally snapshots and renders, used by MaybeEmit and by
// the final flush on shutdown.
func (r *Reporter) Emit() *Insight {
	snap := r.state.Snapshot()
	r.mu.Lock()
	r.seq++
	ins := &Insight{Seq: r.seq, EmittedAt: time.Now().UTC(), Snapshot: snap}
	r.latest = ins
	r.mu.Unlock()

	r.render(ins)
	r.mets.Snapshots.Inc()
	return ins
}

// Latest returns the most recently emitted insight, or nil before the
// first emission.
func (r *Reporter) Latest() *Insight {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// render logs the three categorical reports and the traffic report.
// Rendering never mutates state and never fails the pipeline; a panic
// while formatting is recovered and logged.
func (r *Reporter) render(ins *Insight) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("insight_render_panic", slog.Any("panic", rec), slog.Uint64("seq", ins.Seq))
		}
	}()
	r.log.Info("insight_emit",
		slog.Uint64("seq", ins.Seq),
		slog.Uint64("accepted", ins.Accepted),
		slog.String("device_types", formatCounts(ins.DeviceTypes)),
		slog.String("app_versions", formatCounts(ins.AppVersions)),
		slog.String("locales", formatCounts(ins.Locales)),
		slog.String("traffic", formatCounts(ins.Traffic)),
	)
}

// formatCounts renders a counter table as "key=count" pairs in sorted
// key order so log lines are stable and diffable.
func formatCounts(counts map[string]uint64) string {
	if len(counts) == 0 {
		return "(none)"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%d", k, counts[k])
	}
	return out
}
