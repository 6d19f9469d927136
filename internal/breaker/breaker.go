// internal/breaker/breaker.go
// Package breaker implements a small circuit breaker for the Kafka
// write path. After a run of consecutive failures the breaker opens
// and callers fast-fail until a reset timeout elapses; the first
// attempt afterwards acts as the probe.
package breaker

import (
	"log/slog"
	"sync"
	"time"
)

// State enumerates the breaker positions.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the breaker tunables.
type Config struct {
	// MaxFailures opens the breaker after this many consecutive failures.
	MaxFailures int
	// ResetTimeout is how long the breaker stays open before a probe
	// is allowed through.
	ResetTimeout time.Duration
}

// Breaker tracks consecutive failures of an operation. It is safe for
// concurrent use, though the sink drives it from a single goroutine.
type Breaker struct {
	name string
	cfg  Config
	log  *slog.Logger

	mu       sync.Mutex
	state    State
	fails    int
	openedAt time.Time
	now      func() time.Time
}

// New constructs a closed breaker.
func New(name string, cfg Config, log *slog.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 1
	}
	return &Breaker{name: name, cfg: cfg, log: log, state: Closed, now: time.Now}
}

// Allow reports whether an attempt may proceed. While open it returns
// false until the reset timeout has elapsed; the attempt that flips it
// to half-open is the probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return false
		}
		b.state = HalfOpen
		b.log.Info("breaker_half_open", slog.String("name", b.name))
		return true
	}
	return true
}

// Success records a successful attempt and closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Closed {
		b.log.Info("breaker_closed", slog.String("name", b.name))
	}
	b.state = Closed
	b.fails = 0
}

// Failure records a failed attempt, opening the breaker when the
// consecutive failure threshold is reached or a probe fails.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fails++
	if b.state == HalfOpen || b.fails >= b.cfg.MaxFailures {
		if b.state != Open {
			b.log.Warn("breaker_opened",
				slog.String("name", b.name),
				slog.Int("consecutive_failures", b.fails),
				slog.Duration("reset_timeout", b.cfg.ResetTimeout))
		}
		b.state = Open
		b.openedAt = b.now()
	}
}

// State returns the current position, honoring reset timeout expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
