package domain

import (
	"context"
	"time"
)

// PriceCache mirrors the latest observed spot price per asset for consumers
// outside the oracle (API reads, cross-process keepers).
type PriceCache interface {
	SetPrice(ctx context.Context, asset string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, asset string) (float64, time.Time, error)
}

// LockManager provides a distributed mutual-exclusion primitive so only one
// keeper instance drives scheduled executions at a time.
type LockManager interface {
	// Acquire obtains the named lock for at most ttl. It returns an unlock
	// function on success and ErrLockHeld when another holder owns the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter bounds request rates per key over a sliding window.
type RateLimiter interface {
	// Allow reports whether one more request for key fits under limit
	// requests per window, counting the request when it does.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// GasOracle reports current network fee conditions for the gas-cost guard.
type GasOracle interface {
	BaseFeeGwei(ctx context.Context) (float64, error)
}
