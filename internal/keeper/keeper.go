// Package keeper runs the scheduled execution loop: on every tick it takes
// the distributed keeper lock, collects due positions from the ledger, and
// drives them through the engine.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cadencefi/dcad/internal/domain"
	"github.com/cadencefi/dcad/internal/engine"
	"github.com/cadencefi/dcad/internal/ledger"
)

// Config holds the loop parameters.
type Config struct {
	// Identity is the address this keeper executes as; it must be registered
	// in the protocol keeper set to run inside the grace period.
	Identity common.Address
	Interval time.Duration
	LockKey  string
	LockTTL  time.Duration
}

// Keeper owns the tick loop. It holds no position state of its own; the
// ledger decides what is due and the engine decides what happens.
type Keeper struct {
	cfg    Config
	ledger *ledger.Ledger
	engine *engine.Engine
	locks  domain.LockManager // optional; nil runs unlocked (single instance)
	logger *slog.Logger
	clock  func() time.Time
}

// New creates a Keeper.
func New(cfg Config, led *ledger.Ledger, eng *engine.Engine, locks domain.LockManager, logger *slog.Logger) *Keeper {
	return &Keeper{
		cfg:    cfg,
		ledger: led,
		engine: eng,
		locks:  locks,
		logger: logger.With(slog.String("component", "keeper")),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source; intended for tests.
func (k *Keeper) SetClock(fn func() time.Time) {
	k.clock = fn
}

// Run ticks until ctx is canceled. The first tick fires immediately so a
// restarted keeper catches up without waiting out a full interval.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.InfoContext(ctx, "keeper started",
		slog.String("identity", k.cfg.Identity.Hex()),
		slog.Duration("interval", k.cfg.Interval),
	)

	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()

	k.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			k.logger.InfoContext(ctx, "keeper stopped")
			return ctx.Err()
		case <-ticker.C:
			k.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass. When another instance holds the lock the
// pass is a silent no-op; that is the normal state for standby replicas.
func (k *Keeper) Tick(ctx context.Context) {
	if k.locks != nil {
		unlock, err := k.locks.Acquire(ctx, k.cfg.LockKey, k.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return
			}
			k.logger.ErrorContext(ctx, "keeper lock acquire failed", slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}

	due := k.ledger.PendingExecutions(k.clock())
	if len(due) == 0 {
		return
	}

	results := k.engine.ExecuteBatch(ctx, k.cfg.Identity, due)
	for _, res := range results {
		if res.Err != nil {
			k.logger.ErrorContext(ctx, "keeper execution error",
				slog.Uint64("position_id", res.PositionID),
				slog.String("error", res.Err.Error()),
			)
		}
	}
}
