// Package oracle resolves trusted prices and freshness verdicts. It
// aggregates independent feeds per asset into a median price with a
// confidence score, and maintains a bounded ring of venue observations per
// pair for TWAP calculations.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cadencefi/dcad/internal/domain"
)

// Feed is one independent price source for a single asset.
type Feed interface {
	// Latest returns the feed's current price in USD and its report time.
	Latest(ctx context.Context) (price float64, ts time.Time, err error)
	Name() string
}

// Price is an aggregated price verdict. Confidence is the fraction of
// configured feeds that contributed a fresh sample.
type Price struct {
	Value      float64
	Timestamp  time.Time
	Confidence float64
}

// Aggregator implements the oracle over a set of per-asset feeds.
type Aggregator struct {
	mu           sync.Mutex
	clock        func() time.Time
	logger       *slog.Logger
	sink         domain.EventSink
	maxStaleness time.Duration
	feeds        map[string][]Feed
	rings        map[string]*obsRing
	ringCap      int
}

// New creates an Aggregator with the given default staleness bound.
func New(maxStaleness time.Duration, sink domain.EventSink, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		clock:        func() time.Time { return time.Now().UTC() },
		logger:       logger.With(slog.String("component", "oracle")),
		sink:         sink,
		maxStaleness: maxStaleness,
		feeds:        make(map[string][]Feed),
		rings:        make(map[string]*obsRing),
		ringCap:      1024,
	}
}

// SetClock replaces the time source; intended for tests.
func (a *Aggregator) SetClock(fn func() time.Time) {
	a.clock = fn
}

// AddFeed registers a feed for asset. A feed whose name is already
// registered for the asset is replaced in place.
func (a *Aggregator) AddFeed(ctx context.Context, asset string, feed Feed) {
	a.mu.Lock()
	replaced := false
	feeds := a.feeds[asset]
	for i, f := range feeds {
		if f.Name() == feed.Name() {
			feeds[i] = feed
			replaced = true
			break
		}
	}
	if !replaced {
		a.feeds[asset] = append(feeds, feed)
	}
	a.mu.Unlock()

	name := domain.EventPriceFeedAdded
	if replaced {
		name = domain.EventPriceFeedUpdated
	}
	a.emit(ctx, domain.Event{
		Name:   name,
		At:     a.clock(),
		Detail: map[string]any{"asset": asset, "feed": feed.Name()},
	})
}

// RemoveFeed unregisters the named feed for asset.
func (a *Aggregator) RemoveFeed(ctx context.Context, asset, name string) {
	a.mu.Lock()
	feeds := a.feeds[asset]
	for i, f := range feeds {
		if f.Name() == name {
			a.feeds[asset] = append(feeds[:i], feeds[i+1:]...)
			break
		}
	}
	a.mu.Unlock()

	a.emit(ctx, domain.Event{
		Name:   domain.EventPriceFeedRemoved,
		At:     a.clock(),
		Detail: map[string]any{"asset": asset, "feed": name},
	})
}

// SetMaxStaleness replaces the staleness bound.
func (a *Aggregator) SetMaxStaleness(ctx context.Context, d time.Duration) {
	a.mu.Lock()
	a.maxStaleness = d
	a.mu.Unlock()

	a.emit(ctx, domain.Event{
		Name:   domain.EventMaxStalenessUpdated,
		At:     a.clock(),
		Detail: map[string]any{"max_staleness": d.String()},
	})
}

// MaxStaleness returns the current staleness bound.
func (a *Aggregator) MaxStaleness() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxStaleness
}

// LatestPrice returns the median of all fresh feed samples for asset. It
// fails closed: when no feed satisfies the staleness bound the result is an
// error, never a stale value.
func (a *Aggregator) LatestPrice(ctx context.Context, asset string) (Price, error) {
	a.mu.Lock()
	feeds := a.feeds[asset]
	maxStale := a.maxStaleness
	now := a.clock()
	a.mu.Unlock()

	if len(feeds) == 0 {
		return Price{}, fmt.Errorf("oracle: asset %s: %w", asset, domain.ErrNoPriceData)
	}

	type sample struct {
		price float64
		ts    time.Time
	}
	var fresh []sample
	for _, f := range feeds {
		price, ts, err := f.Latest(ctx)
		if err != nil {
			a.logger.WarnContext(ctx, "feed read failed",
				slog.String("asset", asset),
				slog.String("feed", f.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if now.Sub(ts) > maxStale {
			continue
		}
		fresh = append(fresh, sample{price: price, ts: ts})
	}
	if len(fresh) == 0 {
		return Price{}, fmt.Errorf("oracle: asset %s: all feeds stale: %w", asset, domain.ErrNoPriceData)
	}

	values := make([]float64, len(fresh))
	newest := fresh[0].ts
	for i, s := range fresh {
		values[i] = s.price
		if s.ts.After(newest) {
			newest = s.ts
		}
	}
	sort.Float64s(values)
	var median float64
	mid := len(values) / 2
	if len(values)%2 == 1 {
		median = values[mid]
	} else {
		median = (values[mid-1] + values[mid]) / 2
	}

	return Price{
		Value:      median,
		Timestamp:  newest,
		Confidence: float64(len(fresh)) / float64(len(feeds)),
	}, nil
}

// IsFresh reports whether at least one feed for asset has a sample within
// maxStaleness.
func (a *Aggregator) IsFresh(ctx context.Context, asset string, maxStaleness time.Duration) bool {
	a.mu.Lock()
	feeds := a.feeds[asset]
	now := a.clock()
	a.mu.Unlock()

	for _, f := range feeds {
		_, ts, err := f.Latest(ctx)
		if err != nil {
			continue
		}
		if now.Sub(ts) <= maxStaleness {
			return true
		}
	}
	return false
}

// RecordObservation appends a timestamped venue price sample for pair.
func (a *Aggregator) RecordObservation(pair string, price float64, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ring, ok := a.rings[pair]
	if !ok {
		ring = newObsRing(a.ringCap)
		a.rings[pair] = ring
	}
	ring.push(observation{price: price, at: at})
}

// LatestObservation returns the most recent venue sample for pair.
func (a *Aggregator) LatestObservation(pair string) (float64, time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ring, ok := a.rings[pair]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("oracle: pair %s: %w", pair, domain.ErrNoPriceData)
	}
	o, ok := ring.latest()
	if !ok {
		return 0, time.Time{}, fmt.Errorf("oracle: pair %s: %w", pair, domain.ErrNoPriceData)
	}
	return o.price, o.at, nil
}

// TWAP computes the time-weighted average price for pair over the trailing
// window. Each sample is weighted by how long it held until the next sample
// (or until now for the latest). When no sample falls inside the window the
// most recent observation is returned instead; only a completely empty ring
// is an error.
func (a *Aggregator) TWAP(pair string, window time.Duration) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ring, ok := a.rings[pair]
	if !ok {
		return 0, fmt.Errorf("oracle: pair %s: %w", pair, domain.ErrNoPriceData)
	}
	latest, ok := ring.latest()
	if !ok {
		return 0, fmt.Errorf("oracle: pair %s: %w", pair, domain.ErrNoPriceData)
	}

	now := a.clock()
	obs := ring.since(now.Add(-window))
	if len(obs) == 0 {
		return latest.price, nil
	}
	if len(obs) == 1 {
		return obs[0].price, nil
	}

	var weighted float64
	var total time.Duration
	for i, o := range obs {
		end := now
		if i < len(obs)-1 {
			end = obs[i+1].at
		}
		held := end.Sub(o.at)
		if held <= 0 {
			continue
		}
		weighted += o.price * held.Seconds()
		total += held
	}
	if total <= 0 {
		return latest.price, nil
	}
	return weighted / total.Seconds(), nil
}

// DeviationBps returns the absolute deviation of a from b in basis points of
// b.
func DeviationBps(a, b float64) uint32 {
	if b == 0 {
		return math.MaxUint32
	}
	dev := math.Abs(a-b) / math.Abs(b) * 10_000
	if dev >= float64(math.MaxUint32) {
		return math.MaxUint32
	}
	return uint32(dev)
}

func (a *Aggregator) emit(ctx context.Context, ev domain.Event) {
	if a.sink != nil {
		a.sink.Emit(ctx, ev)
	}
}
