// Package engine orchestrates a single eligible execution: oracle and
// circuit-breaker guards, venue routing, fee computation, and settlement
// write-back, in a fixed order with short-circuit skip semantics.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/cadencefi/dcad/internal/breaker"
	"github.com/cadencefi/dcad/internal/domain"
	"github.com/cadencefi/dcad/internal/fees"
	"github.com/cadencefi/dcad/internal/ledger"
	"github.com/cadencefi/dcad/internal/oracle"
	"github.com/cadencefi/dcad/internal/router"
)

// Result reports the outcome of one execution attempt. Exactly one of
// Executed, Reason, or Err is meaningful: a settled execution, a clean skip,
// or an integrity failure.
type Result struct {
	PositionID uint64
	Executed   bool
	Reason     domain.SkipReason
	Spent      uint64
	Received   uint64
	Fees       uint64
	Venue      domain.Venue
	NextExecAt time.Time
	Err        error
}

// Engine drives the eligibility pipeline and settlement for positions held
// in the ledger.
type Engine struct {
	ledger   *ledger.Ledger
	oracle   *oracle.Aggregator
	router   *router.Selector
	fees     *fees.Calculator
	breaker  *breaker.Breaker
	treasury domain.TreasurySink // optional
	gas      domain.GasOracle    // optional; gas guard passes when absent
	sink     domain.EventSink
	logger   *slog.Logger
	clock    func() time.Time

	inflightMu sync.Mutex
	inflight   map[uint64]bool
}

// New creates an Engine over the given collaborators.
func New(
	led *ledger.Ledger,
	agg *oracle.Aggregator,
	sel *router.Selector,
	calc *fees.Calculator,
	brk *breaker.Breaker,
	treasury domain.TreasurySink,
	gas domain.GasOracle,
	sink domain.EventSink,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		ledger:   led,
		oracle:   agg,
		router:   sel,
		fees:     calc,
		breaker:  brk,
		treasury: treasury,
		gas:      gas,
		sink:     sink,
		logger:   logger.With(slog.String("component", "engine")),
		clock:    func() time.Time { return time.Now().UTC() },
		inflight: make(map[uint64]bool),
	}
}

// SetClock replaces the time source; intended for tests.
func (e *Engine) SetClock(fn func() time.Time) {
	e.clock = fn
}

// IsEligible evaluates the guard pipeline without side effects and returns
// whether the position would execute now, and the skip reason when not.
func (e *Engine) IsEligible(ctx context.Context, id uint64) (bool, domain.SkipReason) {
	now := e.clock()
	cfg := e.ledger.Config()

	pos, err := e.ledger.Get(id)
	if err != nil {
		return false, domain.SkipNotFound
	}
	if pos.Canceled {
		return false, domain.SkipCanceled
	}
	if _, res := e.evaluate(ctx, &pos, &cfg, now); !res.OK {
		return false, res.Reason
	}
	return true, domain.SkipNone
}

// Execute runs the full pipeline for one position and settles on success.
// Skips return a Result with the reason and a nil error; only integrity
// violations (reentry, overflow, settlement failures) return an error.
func (e *Engine) Execute(ctx context.Context, caller common.Address, id uint64) (Result, error) {
	// Reentrancy guard: a second execution for the same position while one
	// is in flight is an integrity error, not a skip.
	e.inflightMu.Lock()
	if e.inflight[id] {
		e.inflightMu.Unlock()
		return Result{PositionID: id}, fmt.Errorf("engine: position %d: %w", id, domain.ErrReentrantExecution)
	}
	e.inflight[id] = true
	e.inflightMu.Unlock()
	defer func() {
		e.inflightMu.Lock()
		delete(e.inflight, id)
		e.inflightMu.Unlock()
	}()

	now := e.clock()
	cfg := e.ledger.Config()

	// Step 1: existence and lifecycle.
	pos, err := e.ledger.Get(id)
	if err != nil {
		return e.skip(ctx, id, domain.SkipNotFound, now), nil
	}
	if pos.Canceled {
		return e.skip(ctx, id, domain.SkipCanceled, now), nil
	}

	// Public-execution window: callers outside the keeper registry may only
	// execute once the grace period has elapsed past the schedule slot. An
	// early public call is an authorization failure, not a skip.
	public := !cfg.IsKeeper(caller) && !cfg.IsAdmin(caller)
	if public && now.Before(pos.NextExecAt.Add(cfg.GracePeriod)) {
		return Result{PositionID: id}, fmt.Errorf("engine: public execution before grace period: %w", domain.ErrUnauthorized)
	}

	// Steps 2-10: ordered guards, first failure short-circuits.
	state, res := e.evaluate(ctx, &pos, &cfg, now)
	if !res.OK {
		return e.skip(ctx, id, res.Reason, now), nil
	}

	// Step 11: route selection and swap. The spend is debited before the
	// external adapter runs (checks-effects-interactions); a route failure
	// restores it and skips, leaving batch siblings unaffected.
	amount := pos.AmountPerPeriod
	if err := e.ledger.Reserve(ctx, id, amount); err != nil {
		return e.skip(ctx, id, domain.SkipInsufficientFunds, now), nil
	}

	minOut := minOutFor(&pos, &cfg, amount, state.spot)
	route, err := e.router.Swap(ctx, router.Request{
		Pair:        pos.Pair(),
		SellBase:    pos.Direction == domain.DirectionSell,
		AmountIn:    amount,
		MinOut:      minOut,
		NotionalUSD: state.notionalUSD(amount, pos.SpendAsset() == pos.QuoteAsset),
		SlippageBps: pos.SlippageBps,
		Preference:  pos.Venue,
		Private:     pos.MEV == domain.MEVPrivate,
	})
	if err != nil {
		if relErr := e.ledger.Release(ctx, id, amount); relErr != nil {
			return Result{PositionID: id}, fmt.Errorf("engine: release after failed route: %w", relErr)
		}
		e.logger.WarnContext(ctx, "route failed",
			slog.Uint64("position_id", id),
			slog.String("error", err.Error()),
		)
		return e.skip(ctx, id, domain.SkipRouteFailed, now), nil
	}

	// Step 12: fees and settlement.
	breakdown := e.fees.Quote(route.AmountOut, pos.Referrer != (common.Address{}), public)
	totalFees := breakdown.Total()
	clamped := totalFees > route.AmountOut
	if clamped {
		totalFees = route.AmountOut
	}
	net := route.AmountOut - totalFees

	if e.treasury != nil && totalFees > 0 {
		e.remitFees(ctx, &pos, id, caller, breakdown, totalFees, clamped, now)
	}

	settlement := ledger.Settlement{
		Spent:    amount,
		Received: net,
		Fees:     totalFees,
		Price:    state.spot,
		Venue:    route.Venue,
		Executor: caller,
		Public:   public,
		At:       now,
	}
	if err := e.ledger.ApplySettlement(ctx, id, settlement); err != nil {
		return Result{PositionID: id}, fmt.Errorf("engine: apply settlement: %w", err)
	}

	if totalFees > 0 {
		e.emit(ctx, domain.Event{
			Name:       domain.EventFeeCollected,
			At:         now,
			PositionID: id,
			Detail: map[string]any{
				"asset":     pos.ReceiveAsset(),
				"protocol":  breakdown.Protocol,
				"execution": breakdown.Execution,
				"referral":  breakdown.Referral,
				"tip":       breakdown.PublicTip,
			},
		})
	}

	e.breaker.RecordExecution(ctx, quoteNotional(&pos, amount, route.AmountOut))
	e.breaker.RecordPriceSample(ctx, state.spot)

	after, err := e.ledger.Get(id)
	if err != nil {
		return Result{PositionID: id}, fmt.Errorf("engine: reread position: %w", err)
	}
	return Result{
		PositionID: id,
		Executed:   true,
		Spent:      amount,
		Received:   net,
		Fees:       totalFees,
		Venue:      route.Venue,
		NextExecAt: after.NextExecAt,
	}, nil
}

// ExecuteBatch runs Execute for each id independently. One position's skip
// or failure never affects the accounting or scheduling of its siblings.
func (e *Engine) ExecuteBatch(ctx context.Context, caller common.Address, ids []uint64) []Result {
	batchID := uuid.New().String()
	log := e.logger.With(slog.String("batch_id", batchID))
	log.InfoContext(ctx, "batch started", slog.Int("positions", len(ids)))

	results := make([]Result, 0, len(ids))
	var executed, skipped, failed int
	for _, id := range ids {
		res, err := e.Execute(ctx, caller, id)
		if err != nil {
			res.Err = err
			failed++
			log.ErrorContext(ctx, "execution failed",
				slog.Uint64("position_id", id),
				slog.String("error", err.Error()),
			)
		} else if res.Executed {
			executed++
		} else {
			skipped++
		}
		results = append(results, res)
	}

	log.InfoContext(ctx, "batch finished",
		slog.Int("executed", executed),
		slog.Int("skipped", skipped),
		slog.Int("failed", failed),
	)
	return results
}

// remitFees forwards the deducted fee units to their recipients: protocol
// and execution fees to the treasury, the referral share to the position's
// referrer, and the public tip to the executor. Custody transfers are
// best-effort; a failed transfer is logged and settlement proceeds.
func (e *Engine) remitFees(ctx context.Context, pos *domain.Position, id uint64, caller common.Address, b fees.Breakdown, total uint64, clamped bool, now time.Time) {
	asset := pos.ReceiveAsset()

	if clamped {
		// Fees consumed the whole fill, so the itemised split no longer
		// sums; the entire deduction settles into the treasury.
		if err := e.treasury.Collect(ctx, asset, total); err != nil {
			e.logger.ErrorContext(ctx, "treasury collect failed",
				slog.Uint64("position_id", id),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if protocol := b.Protocol + b.Execution; protocol > 0 {
		if err := e.treasury.Collect(ctx, asset, protocol); err != nil {
			e.logger.ErrorContext(ctx, "treasury collect failed",
				slog.Uint64("position_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	e.distribute(ctx, id, asset, pos.Referrer, "referral", b.Referral, now)
	e.distribute(ctx, id, asset, caller, "tip", b.PublicTip, now)
}

// distribute pays one fee share to an individual recipient and records it.
func (e *Engine) distribute(ctx context.Context, id uint64, asset string, to common.Address, kind string, amount uint64, now time.Time) {
	if amount == 0 || to == (common.Address{}) {
		return
	}
	if err := e.treasury.Distribute(ctx, asset, to, amount); err != nil {
		e.logger.ErrorContext(ctx, "fee distribution failed",
			slog.Uint64("position_id", id),
			slog.String("kind", kind),
			slog.String("recipient", to.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}
	e.emit(ctx, domain.Event{
		Name:       domain.EventFeeDistributed,
		At:         now,
		PositionID: id,
		Detail: map[string]any{
			"asset":     asset,
			"kind":      kind,
			"recipient": to.Hex(),
			"amount":    amount,
		},
	})
}

// skip emits the skip event and builds the skip result.
func (e *Engine) skip(ctx context.Context, id uint64, reason domain.SkipReason, now time.Time) Result {
	e.emit(ctx, domain.Event{
		Name:       domain.EventExecutionSkipped,
		At:         now,
		PositionID: id,
		Detail:     map[string]any{"reason": string(reason)},
	})
	return Result{PositionID: id, Reason: reason}
}

func (e *Engine) emit(ctx context.Context, ev domain.Event) {
	if e.sink != nil {
		e.sink.Emit(ctx, ev)
	}
}

// quoteNotional expresses an execution's size in quote-asset units for the
// breaker's volume window.
func quoteNotional(pos *domain.Position, spent, received uint64) uint64 {
	if pos.Direction == domain.DirectionBuy {
		return spent
	}
	return received
}

// minOutFor derives the swap's minimum acceptable output from the venue spot
// price and the position's slippage tolerance.
func minOutFor(pos *domain.Position, cfg *domain.ProtocolConfig, amountIn uint64, spot float64) uint64 {
	expected := expectedOut(pos, cfg, amountIn, spot)
	tolerated := expected * (1 - float64(pos.SlippageBps)/10_000)
	if tolerated <= 0 {
		return 0
	}
	if tolerated >= float64(math.MaxUint64) {
		return math.MaxUint64
	}
	return uint64(tolerated)
}

// expectedOut converts amountIn of the spend asset into receive-asset base
// units at the given spot price (quote units per whole base unit), adjusting
// for the decimal scales of both assets.
func expectedOut(pos *domain.Position, cfg *domain.ProtocolConfig, amountIn uint64, spot float64) float64 {
	if spot <= 0 {
		return 0
	}
	quote, _ := cfg.AssetBySymbol(pos.QuoteAsset)
	base, _ := cfg.AssetBySymbol(pos.BaseAsset)
	scale := math.Pow10(int(base.Decimals) - int(quote.Decimals))

	if pos.Direction == domain.DirectionBuy {
		return float64(amountIn) * scale / spot
	}
	return float64(amountIn) * spot / scale
}
