// Package breaker implements the circuit breaker: trailing-window tracking
// of executed volume and price movement, with a latched global pause that
// only an explicit administrative reset clears.
package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cadencefi/dcad/internal/domain"
)

type sample struct {
	at    time.Time
	value float64
}

// Breaker tracks rolling executed volume and price movement. Once either
// threshold is exceeded it trips and stays tripped; there is no automatic
// decay.
type Breaker struct {
	mu      sync.Mutex
	clock   func() time.Time
	logger  *slog.Logger
	sink    domain.EventSink
	cfg     domain.BreakerConfig
	volume  []sample
	prices  []sample
	tripped bool
	reason  string
}

// New creates a Breaker with the given thresholds.
func New(cfg domain.BreakerConfig, sink domain.EventSink, logger *slog.Logger) *Breaker {
	return &Breaker{
		clock:  func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "breaker")),
		sink:   sink,
		cfg:    cfg,
	}
}

// SetClock replaces the time source; intended for tests.
func (b *Breaker) SetClock(fn func() time.Time) {
	b.clock = fn
}

// SetConfig replaces the thresholds. The tripped latch is unaffected.
func (b *Breaker) SetConfig(cfg domain.BreakerConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
}

// Config returns the current thresholds.
func (b *Breaker) Config() domain.BreakerConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// RecordExecution adds executed notional to the rolling volume window and
// re-evaluates the volume threshold.
func (b *Breaker) RecordExecution(ctx context.Context, notional uint64) {
	b.mu.Lock()
	now := b.clock()
	b.volume = prune(append(b.volume, sample{at: now, value: float64(notional)}), now.Add(-b.cfg.VolumeWindow))

	var trip bool
	if b.cfg.MaxWindowVolume > 0 && !b.tripped {
		var sum float64
		for _, s := range b.volume {
			sum += s.value
		}
		trip = sum > float64(b.cfg.MaxWindowVolume)
	}
	b.mu.Unlock()

	if trip {
		b.trip(ctx, "volume")
	}
}

// RecordPriceSample adds a price observation to the rolling movement window
// and re-evaluates the movement threshold.
func (b *Breaker) RecordPriceSample(ctx context.Context, price float64) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	now := b.clock()
	b.prices = prune(append(b.prices, sample{at: now, value: price}), now.Add(-b.cfg.PriceWindow))

	var trip bool
	if b.cfg.MaxMoveBps > 0 && !b.tripped && len(b.prices) >= 2 {
		lo, hi := b.prices[0].value, b.prices[0].value
		for _, s := range b.prices[1:] {
			if s.value < lo {
				lo = s.value
			}
			if s.value > hi {
				hi = s.value
			}
		}
		moveBps := (hi - lo) / hi * 10_000
		trip = moveBps > float64(b.cfg.MaxMoveBps)
	}
	b.mu.Unlock()

	if trip {
		b.trip(ctx, "price_move")
	}
}

// Tripped reports whether the global pause is latched.
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// Reason returns why the breaker tripped, or empty when it has not.
func (b *Breaker) Reason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}

// Reset clears the latch. Administrative capability is enforced by the
// caller; the breaker itself has no notion of principals.
func (b *Breaker) Reset(ctx context.Context) {
	b.mu.Lock()
	wasTripped := b.tripped
	b.tripped = false
	b.reason = ""
	b.volume = nil
	b.prices = nil
	b.mu.Unlock()

	if wasTripped {
		b.logger.InfoContext(ctx, "circuit breaker reset")
		b.emit(ctx, domain.Event{Name: domain.EventCircuitBreakerReset, At: b.clock()})
	}
}

func (b *Breaker) trip(ctx context.Context, reason string) {
	b.mu.Lock()
	if b.tripped {
		b.mu.Unlock()
		return
	}
	b.tripped = true
	b.reason = reason
	b.mu.Unlock()

	b.logger.WarnContext(ctx, "circuit breaker tripped", slog.String("reason", reason))
	b.emit(ctx, domain.Event{
		Name:   domain.EventCircuitBreakerTriggered,
		At:     b.clock(),
		Detail: map[string]any{"reason": reason},
	})
}

func (b *Breaker) emit(ctx context.Context, ev domain.Event) {
	if b.sink != nil {
		b.sink.Emit(ctx, ev)
	}
}

// prune drops samples older than cutoff, preserving order.
func prune(samples []sample, cutoff time.Time) []sample {
	i := 0
	for ; i < len(samples); i++ {
		if !samples[i].at.Before(cutoff) {
			break
		}
	}
	return samples[i:]
}
