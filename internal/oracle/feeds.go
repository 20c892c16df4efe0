package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/cadencefi/dcad/internal/domain"
)

// CacheFeed reads an asset's price from the shared price cache, letting a
// feed ingester in another process serve this one through Redis.
type CacheFeed struct {
	cache domain.PriceCache
	asset string
	name  string
}

// NewCacheFeed creates a feed for asset backed by the given cache.
func NewCacheFeed(cache domain.PriceCache, asset, name string) *CacheFeed {
	return &CacheFeed{cache: cache, asset: asset, name: name}
}

// Latest returns the cached price and its report time.
func (f *CacheFeed) Latest(ctx context.Context) (float64, time.Time, error) {
	return f.cache.GetPrice(ctx, f.asset)
}

// Name returns the feed identifier.
func (f *CacheFeed) Name() string { return f.name }

// PushFeed holds the last pushed sample in memory. The websocket ingester
// writes into it; useful for in-process deployments and tests.
type PushFeed struct {
	mu    sync.Mutex
	name  string
	price float64
	at    time.Time
}

// NewPushFeed creates an empty PushFeed.
func NewPushFeed(name string) *PushFeed {
	return &PushFeed{name: name}
}

// Push records a new sample.
func (f *PushFeed) Push(price float64, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
	f.at = at
}

// Latest returns the last pushed sample.
func (f *PushFeed) Latest(ctx context.Context) (float64, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.at.IsZero() {
		return 0, time.Time{}, domain.ErrNoPriceData
	}
	return f.price, f.at, nil
}

// Name returns the feed identifier.
func (f *PushFeed) Name() string { return f.name }
