package feed

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cadencefi/dcad/internal/domain"
	"github.com/cadencefi/dcad/internal/oracle"
)

const (
	// reconnectDelay is the base delay before redialing a dropped stream.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = 60 * time.Second
)

// MovementRecorder receives per-pair spot samples for movement monitoring.
type MovementRecorder interface {
	RecordPriceSample(ctx context.Context, price float64)
}

// Ingester maintains a ticker stream subscription and routes each tick:
//
//   - pair ticks ("WETH/USDC") into the oracle's observation ring and the
//     movement recorder
//   - bare-symbol ticks ("WETH", USD price) into the price cache and any
//     registered push feeds
//
// It redials with exponential backoff whenever the stream drops.
type Ingester struct {
	wsURL    string
	pairs    []string
	oracle   *oracle.Aggregator
	cache    domain.PriceCache // optional
	movement MovementRecorder  // optional
	logger   *slog.Logger
	clock    func() time.Time

	mu   sync.Mutex
	push map[string]*oracle.PushFeed // keyed by symbol
}

// NewIngester creates an Ingester for the given stream URL and pair list.
// cache and movement may be nil.
func NewIngester(wsURL string, pairs []string, agg *oracle.Aggregator, cache domain.PriceCache, movement MovementRecorder, logger *slog.Logger) *Ingester {
	return &Ingester{
		wsURL:    wsURL,
		pairs:    pairs,
		oracle:   agg,
		cache:    cache,
		movement: movement,
		logger:   logger.With(slog.String("component", "feed")),
		clock:    func() time.Time { return time.Now().UTC() },
		push:     make(map[string]*oracle.PushFeed),
	}
}

// RegisterPushFeed routes future USD ticks for symbol into the given feed.
func (in *Ingester) RegisterPushFeed(symbol string, f *oracle.PushFeed) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.push[symbol] = f
}

// SetClock replaces the time source; intended for tests.
func (in *Ingester) SetClock(fn func() time.Time) {
	in.clock = fn
}

// Run connects and consumes the stream until ctx is cancelled, redialing on
// disconnect with exponential backoff. The backoff resets after a connection
// survives long enough to be considered healthy.
func (in *Ingester) Run(ctx context.Context) error {
	if len(in.pairs) == 0 {
		in.logger.InfoContext(ctx, "no pairs configured, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	delay := reconnectDelay
	for {
		started := in.clock()
		err := in.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if in.clock().Sub(started) > time.Minute {
			delay = reconnectDelay
		}
		if err != nil {
			in.logger.WarnContext(ctx, "feed disconnected, redialing",
				slog.String("error", err.Error()),
				slog.Duration("delay", delay),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, subscribes, and consumes one connection until it
// drops or ctx is cancelled.
func (in *Ingester) runConnection(ctx context.Context) error {
	client := NewWSClient(in.wsURL)
	defer client.Close()

	client.OnTicker(in.handleTicker)

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(dialCtx)
	cancel()
	if err != nil {
		return err
	}

	if err := client.Subscribe(in.pairs); err != nil {
		return err
	}
	in.logger.InfoContext(ctx, "feed subscribed",
		slog.Int("pairs", len(in.pairs)),
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-client.Done():
		return nil
	}
}

// handleTicker routes one tick. Samples older than a minute are dropped so a
// replaying venue cannot rewind the observation ring.
func (in *Ingester) handleTicker(t Ticker) {
	now := in.clock()
	if now.Sub(t.At) > time.Minute {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if strings.Contains(t.Pair, "/") {
		in.oracle.RecordObservation(t.Pair, t.Price, t.At)
		if in.movement != nil {
			in.movement.RecordPriceSample(ctx, t.Price)
		}
		return
	}

	// Bare symbol: a USD reference price for one asset.
	if in.cache != nil {
		if err := in.cache.SetPrice(ctx, t.Pair, t.Price, t.At); err != nil {
			in.logger.WarnContext(ctx, "price cache write failed",
				slog.String("symbol", t.Pair),
				slog.String("error", err.Error()),
			)
		}
	}

	in.mu.Lock()
	pf := in.push[t.Pair]
	in.mu.Unlock()
	if pf != nil {
		pf.Push(t.Price, t.At)
	}
}
