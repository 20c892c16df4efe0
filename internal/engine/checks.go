package engine

import (
	"context"
	"math"
	"time"

	"github.com/cadencefi/dcad/internal/domain"
	"github.com/cadencefi/dcad/internal/oracle"
)

// pipelineState carries the prices resolved while walking the guards so the
// routing and settlement steps do not re-query the oracle.
type pipelineState struct {
	quoteUSD      float64
	baseUSD       float64
	spot          float64 // latest venue observation, quote units per base unit
	twap          float64
	quoteDecimals uint8
	baseDecimals  uint8
}

// notionalUSD values amountIn of the spend asset in USD.
func (s *pipelineState) notionalUSD(amountIn uint64, spendIsQuote bool) float64 {
	if spendIsQuote {
		return float64(amountIn) / math.Pow10(int(s.quoteDecimals)) * s.quoteUSD
	}
	return float64(amountIn) / math.Pow10(int(s.baseDecimals)) * s.baseUSD
}

// evaluate walks the ordered guards for one position. The first failing guard
// decides the skip reason; later guards are not consulted. It has no side
// effects on the ledger, so eligibility queries share it with Execute.
func (e *Engine) evaluate(ctx context.Context, pos *domain.Position, cfg *domain.ProtocolConfig, now time.Time) (pipelineState, domain.CheckResult) {
	var state pipelineState

	checks := []func(context.Context, *domain.Position, *domain.ProtocolConfig, time.Time, *pipelineState) domain.CheckResult{
		e.checkSchedule,
		e.checkPause,
		e.checkBalance,
		e.checkOracleFreshness,
		e.checkTwap,
		e.checkDeviation,
		e.checkDepeg,
		e.checkPriceBound,
		e.checkGasCap,
	}
	for _, check := range checks {
		if res := check(ctx, pos, cfg, now, &state); !res.OK {
			return state, res
		}
	}
	return state, domain.Pass()
}

// checkSchedule passes when the slot is due and the position has not expired.
func (e *Engine) checkSchedule(_ context.Context, pos *domain.Position, _ *domain.ProtocolConfig, now time.Time, _ *pipelineState) domain.CheckResult {
	if now.Before(pos.NextExecAt) {
		return domain.Skip(domain.SkipNotDue)
	}
	if !pos.EndAt.IsZero() && now.After(pos.EndAt) {
		return domain.Skip(domain.SkipNotDue)
	}
	return domain.Pass()
}

// checkPause covers the position pause, the global pause, and the breaker
// latch, each with its own reason so skip telemetry stays diagnosable.
func (e *Engine) checkPause(_ context.Context, pos *domain.Position, cfg *domain.ProtocolConfig, _ time.Time, _ *pipelineState) domain.CheckResult {
	if pos.Paused || cfg.Paused {
		return domain.Skip(domain.SkipPaused)
	}
	if e.breaker.Tripped() {
		return domain.Skip(domain.SkipCircuitBreaker)
	}
	return domain.Pass()
}

func (e *Engine) checkBalance(_ context.Context, pos *domain.Position, _ *domain.ProtocolConfig, _ time.Time, _ *pipelineState) domain.CheckResult {
	if pos.IdleBalance(pos.SpendAsset()) < pos.AmountPerPeriod {
		return domain.Skip(domain.SkipInsufficientFunds)
	}
	return domain.Pass()
}

// checkOracleFreshness requires a fresh aggregated price for both legs. The
// oracle fails closed on staleness, so any error here is a staleness skip.
func (e *Engine) checkOracleFreshness(ctx context.Context, pos *domain.Position, cfg *domain.ProtocolConfig, _ time.Time, state *pipelineState) domain.CheckResult {
	quote, err := e.oracle.LatestPrice(ctx, pos.QuoteAsset)
	if err != nil {
		return domain.Skip(domain.SkipOracleStale)
	}
	base, err := e.oracle.LatestPrice(ctx, pos.BaseAsset)
	if err != nil {
		return domain.Skip(domain.SkipOracleStale)
	}
	state.quoteUSD = quote.Value
	state.baseUSD = base.Value

	if qa, ok := cfg.AssetBySymbol(pos.QuoteAsset); ok {
		state.quoteDecimals = qa.Decimals
	}
	if ba, ok := cfg.AssetBySymbol(pos.BaseAsset); ok {
		state.baseDecimals = ba.Decimals
	}
	return domain.Pass()
}

// checkTwap requires a usable TWAP over the position's window. A window
// shorter than the protocol minimum cannot smooth manipulation and counts as
// unavailable.
func (e *Engine) checkTwap(_ context.Context, pos *domain.Position, cfg *domain.ProtocolConfig, _ time.Time, state *pipelineState) domain.CheckResult {
	if pos.TwapWindow < cfg.MinTwapWindow {
		return domain.Skip(domain.SkipTwapUnavailable)
	}
	twap, err := e.oracle.TWAP(pos.Pair(), pos.TwapWindow)
	if err != nil {
		return domain.Skip(domain.SkipTwapUnavailable)
	}
	state.twap = twap
	return domain.Pass()
}

// checkDeviation bounds the venue spot against the TWAP, and the TWAP against
// the oracle's cross price, by the position's deviation tolerance.
func (e *Engine) checkDeviation(_ context.Context, pos *domain.Position, _ *domain.ProtocolConfig, _ time.Time, state *pipelineState) domain.CheckResult {
	spot, _, err := e.oracle.LatestObservation(pos.Pair())
	if err != nil {
		return domain.Skip(domain.SkipTwapUnavailable)
	}
	state.spot = spot

	if pos.MaxPriceDeviationBps > 0 {
		if oracle.DeviationBps(spot, state.twap) > pos.MaxPriceDeviationBps {
			return domain.Skip(domain.SkipPriceDeviation)
		}
		if state.quoteUSD > 0 {
			crossPrice := state.baseUSD / state.quoteUSD
			if oracle.DeviationBps(state.twap, crossPrice) > pos.MaxPriceDeviationBps {
				return domain.Skip(domain.SkipPriceDeviation)
			}
		}
	}
	return domain.Pass()
}

// checkDepeg skips when a pegged quote asset has drifted from its peg beyond
// the protocol threshold.
func (e *Engine) checkDepeg(_ context.Context, pos *domain.Position, cfg *domain.ProtocolConfig, _ time.Time, state *pipelineState) domain.CheckResult {
	asset, ok := cfg.AssetBySymbol(pos.QuoteAsset)
	if !ok || asset.PegUSD <= 0 || cfg.DepegThresholdBps == 0 {
		return domain.Pass()
	}
	if oracle.DeviationBps(state.quoteUSD, asset.PegUSD) > cfg.DepegThresholdBps {
		return domain.Skip(domain.SkipDepeg)
	}
	return domain.Pass()
}

// checkPriceBound enforces the owner's limit price on the venue spot: buys
// respect the cap, sells respect the floor.
func (e *Engine) checkPriceBound(_ context.Context, pos *domain.Position, _ *domain.ProtocolConfig, _ time.Time, state *pipelineState) domain.CheckResult {
	switch pos.Direction {
	case domain.DirectionBuy:
		if pos.PriceCapUSD > 0 && state.spot > pos.PriceCapUSD {
			return domain.Skip(domain.SkipPriceBound)
		}
	case domain.DirectionSell:
		if pos.PriceFloorUSD > 0 && state.spot < pos.PriceFloorUSD {
			return domain.Skip(domain.SkipPriceBound)
		}
	}
	return domain.Pass()
}

// checkGasCap skips when the network base fee exceeds the position's cap. An
// unreadable gas oracle fails closed for capped positions.
func (e *Engine) checkGasCap(ctx context.Context, pos *domain.Position, _ *domain.ProtocolConfig, _ time.Time, _ *pipelineState) domain.CheckResult {
	if pos.MaxBaseFeeGwei <= 0 || e.gas == nil {
		return domain.Pass()
	}
	fee, err := e.gas.BaseFeeGwei(ctx)
	if err != nil {
		return domain.Skip(domain.SkipGasCap)
	}
	if fee > pos.MaxBaseFeeGwei {
		return domain.Skip(domain.SkipGasCap)
	}
	return domain.Pass()
}
