package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cadencefi/dcad/internal/breaker"
	"github.com/cadencefi/dcad/internal/domain"
	"github.com/cadencefi/dcad/internal/fees"
	"github.com/cadencefi/dcad/internal/ledger"
	"github.com/cadencefi/dcad/internal/oracle"
	"github.com/cadencefi/dcad/internal/router"
)

var (
	owner     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	rando     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	keeperOne = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	startTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type capturingSink struct {
	events []domain.Event
}

func (c *capturingSink) Emit(_ context.Context, ev domain.Event) {
	c.events = append(c.events, ev)
}

func (c *capturingSink) named(name string) []domain.Event {
	var out []domain.Event
	for _, ev := range c.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// stubAdapter is a scriptable venue. Both legs fail when fail is set.
type stubAdapter struct {
	quoteOut uint64
	swapOut  uint64
	fail     bool
	swapFn   func(domain.SwapRequest) (uint64, error) // overrides swapOut when set
	swaps    []domain.SwapRequest
}

func (s *stubAdapter) Quote(_ context.Context, _ string, _ bool, _ uint64) (uint64, error) {
	if s.fail {
		return 0, errors.New("stub: venue down")
	}
	return s.quoteOut, nil
}

func (s *stubAdapter) Swap(_ context.Context, req domain.SwapRequest) (uint64, error) {
	if s.fail {
		return 0, errors.New("stub: venue down")
	}
	s.swaps = append(s.swaps, req)
	if s.swapFn != nil {
		return s.swapFn(req)
	}
	return s.swapOut, nil
}

type stubTreasury struct {
	asset   string
	amount  uint64
	calls   int
	paid    map[common.Address]uint64
	payouts int
}

func (s *stubTreasury) Collect(_ context.Context, asset string, amount uint64) error {
	s.asset = asset
	s.amount = amount
	s.calls++
	return nil
}

func (s *stubTreasury) Distribute(_ context.Context, _ string, to common.Address, amount uint64) error {
	if s.paid == nil {
		s.paid = make(map[common.Address]uint64)
	}
	s.paid[to] += amount
	s.payouts++
	return nil
}

type stubGas struct {
	fee float64
	err error
}

func (s *stubGas) BaseFeeGwei(context.Context) (float64, error) {
	return s.fee, s.err
}

// fixture wires a complete in-memory pipeline around one scriptable AMM venue.
// USDC has 6 decimals pegged at $1, WETH has 18; the venue trades at $2000.
type fixture struct {
	now      time.Time
	sink     *capturingSink
	ledger   *ledger.Ledger
	certs    *ledger.MemoryRegistry
	oracle   *oracle.Aggregator
	usdcFeed *oracle.PushFeed
	wethFeed *oracle.PushFeed
	breaker  *breaker.Breaker
	fees     *fees.Calculator
	amm      *stubAdapter
	router   *router.Selector
	engine   *Engine
	logger   *slog.Logger
}

func engineProtocolConfig() domain.ProtocolConfig {
	return domain.ProtocolConfig{
		MaxOracleStaleness: time.Minute,
		MinTwapWindow:      5 * time.Minute,
		DepegThresholdBps:  100,
		EmergencyDelay:     48 * time.Hour,
		GracePeriod:        15 * time.Minute,
		Keepers:            map[common.Address]bool{keeperOne: true},
		Assets: map[string]domain.Asset{
			"USDC": {Symbol: "USDC", Decimals: 6, PegUSD: 1},
			"WETH": {Symbol: "WETH", Decimals: 18},
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		now:    startTime,
		sink:   &capturingSink{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	clock := func() time.Time { return fx.now }
	ctx := context.Background()

	fx.certs = ledger.NewMemoryRegistry()
	fx.ledger = ledger.New(engineProtocolConfig(), fx.certs, nil, fx.sink, fx.logger)
	fx.ledger.SetClock(clock)
	fx.certs.SetTransferListener(fx.ledger.OnCertificateTransfer)

	fx.oracle = oracle.New(time.Minute, fx.sink, fx.logger)
	fx.oracle.SetClock(clock)
	fx.usdcFeed = oracle.NewPushFeed("stub")
	fx.wethFeed = oracle.NewPushFeed("stub")
	fx.oracle.AddFeed(ctx, "USDC", fx.usdcFeed)
	fx.oracle.AddFeed(ctx, "WETH", fx.wethFeed)
	fx.usdcFeed.Push(1.0, fx.now)
	fx.wethFeed.Push(2_000, fx.now)
	fx.oracle.RecordObservation("WETH/USDC", 2_000, fx.now.Add(-2*time.Minute))
	fx.oracle.RecordObservation("WETH/USDC", 2_000, fx.now)

	fx.breaker = breaker.New(domain.BreakerConfig{
		VolumeWindow: time.Hour,
		PriceWindow:  time.Hour,
	}, fx.sink, fx.logger)
	fx.breaker.SetClock(clock)

	fx.fees = fees.New(domain.FeeConfig{
		Tiers:        []domain.FeeTier{{NotionalCeiling: 0, Bps: 30}},
		ReferralBps:  50,
		ReferralMode: domain.ReferralAdditive,
		PublicTipBps: 10,
	}, fx.sink)

	fx.amm = &stubAdapter{quoteOut: 50_000_000_000_000_000, swapOut: 50_000_000_000_000_000}
	fx.router = router.New(domain.RouterConfig{}, map[domain.Venue]domain.RouteAdapter{
		domain.VenueAMM: fx.amm,
	}, fx.logger)

	fx.rebuild(nil, nil)
	return fx
}

// rebuild replaces the engine, optionally attaching treasury and gas stubs.
func (fx *fixture) rebuild(treasury domain.TreasurySink, gas domain.GasOracle) {
	fx.engine = New(fx.ledger, fx.oracle, fx.router, fx.fees, fx.breaker, treasury, gas, fx.sink, fx.logger)
	fx.engine.SetClock(func() time.Time { return fx.now })
}

// createFunded opens a position due at startTime with one period of USDC
// deposited.
func (fx *fixture) createFunded(t *testing.T, mutate ...func(*domain.CreateParams)) uint64 {
	t.Helper()
	params := domain.CreateParams{
		Owner:           owner,
		Beneficiary:     owner,
		QuoteAsset:      "USDC",
		BaseAsset:       "WETH",
		Direction:       domain.DirectionBuy,
		Frequency:       domain.FrequencyDaily,
		AmountPerPeriod: 100_000_000, // 100 USDC
		StartAt:         fx.now.Add(-time.Hour),
		SlippageBps:     50,
		TwapWindow:      10 * time.Minute,
		Venue:           domain.VenueAMMOnly,
		MEV:             domain.MEVPublic,
	}
	for _, m := range mutate {
		m(&params)
	}
	ctx := context.Background()
	id, err := fx.ledger.Create(ctx, params.Owner, params)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	spend := params.QuoteAsset
	if params.Direction == domain.DirectionSell {
		spend = params.BaseAsset
	}
	if err := fx.ledger.Deposit(ctx, params.Owner, id, spend, params.AmountPerPeriod); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	return id
}

func TestExecuteHappyPath(t *testing.T) {
	fx := newFixture(t)
	id := fx.createFunded(t)

	res, err := fx.engine.Execute(context.Background(), keeperOne, id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Executed {
		t.Fatalf("not executed, reason = %s", res.Reason)
	}
	if res.Spent != 100_000_000 {
		t.Errorf("Spent = %d, want 100000000", res.Spent)
	}

	// 0.05 WETH out, 30 bps protocol fee, no referrer, keeper caller.
	wantFees := uint64(150_000_000_000_000) // 5e16 * 30 / 10000
	if res.Fees != wantFees {
		t.Errorf("Fees = %d, want %d", res.Fees, wantFees)
	}
	wantNet := uint64(50_000_000_000_000_000) - wantFees
	if res.Received != wantNet {
		t.Errorf("Received = %d, want %d", res.Received, wantNet)
	}
	if res.Venue != domain.VenueAMM {
		t.Errorf("Venue = %s, want amm", res.Venue)
	}

	pos, _ := fx.ledger.Get(id)
	if pos.QuoteBalance != 0 {
		t.Errorf("QuoteBalance = %d, want 0", pos.QuoteBalance)
	}
	if pos.BaseBalance != wantNet {
		t.Errorf("BaseBalance = %d, want %d", pos.BaseBalance, wantNet)
	}
	if pos.PeriodsExecuted != 1 {
		t.Errorf("PeriodsExecuted = %d, want 1", pos.PeriodsExecuted)
	}
	if !pos.NextExecAt.After(fx.now) {
		t.Errorf("NextExecAt = %v, not advanced past %v", pos.NextExecAt, fx.now)
	}

	if got := len(fx.sink.named(domain.EventFeeCollected)); got != 1 {
		t.Errorf("fee events = %d, want 1", got)
	}
	if len(fx.amm.swaps) != 1 {
		t.Fatalf("swaps = %d, want 1", len(fx.amm.swaps))
	}
	// minOut reflects expected output less the 50 bps tolerance. The value
	// is float-derived, so allow a few base units of rounding.
	want := uint64(49_750_000_000_000_000)
	minOut := fx.amm.swaps[0].MinOut
	if minOut < want-64 || minOut > want+64 {
		t.Errorf("MinOut = %d, want about %d", minOut, want)
	}
}

func TestExecuteSkipReasons(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, fx *fixture) uint64
		reason domain.SkipReason
	}{
		{
			name: "unknown position",
			setup: func(t *testing.T, fx *fixture) uint64 {
				return 404
			},
			reason: domain.SkipNotFound,
		},
		{
			name: "not due",
			setup: func(t *testing.T, fx *fixture) uint64 {
				return fx.createFunded(t, func(p *domain.CreateParams) {
					p.StartAt = fx.now.Add(time.Hour)
				})
			},
			reason: domain.SkipNotDue,
		},
		{
			name: "past end of schedule",
			setup: func(t *testing.T, fx *fixture) uint64 {
				return fx.createFunded(t, func(p *domain.CreateParams) {
					p.StartAt = fx.now.AddDate(0, 0, -10)
					p.EndAt = fx.now.Add(-time.Hour)
				})
			},
			reason: domain.SkipNotDue,
		},
		{
			name: "paused",
			setup: func(t *testing.T, fx *fixture) uint64 {
				id := fx.createFunded(t)
				if err := fx.ledger.Pause(context.Background(), owner, id); err != nil {
					t.Fatalf("Pause: %v", err)
				}
				return id
			},
			reason: domain.SkipPaused,
		},
		{
			name: "breaker latched",
			setup: func(t *testing.T, fx *fixture) uint64 {
				fx.breaker.SetConfig(domain.BreakerConfig{VolumeWindow: time.Hour, MaxWindowVolume: 1})
				fx.breaker.RecordExecution(context.Background(), 2)
				return fx.createFunded(t)
			},
			reason: domain.SkipCircuitBreaker,
		},
		{
			name: "underfunded",
			setup: func(t *testing.T, fx *fixture) uint64 {
				id := fx.createFunded(t)
				if err := fx.ledger.Withdraw(context.Background(), owner, id, "USDC", 1, owner); err != nil {
					t.Fatalf("Withdraw: %v", err)
				}
				return id
			},
			reason: domain.SkipInsufficientFunds,
		},
		{
			name: "oracle stale",
			setup: func(t *testing.T, fx *fixture) uint64 {
				id := fx.createFunded(t)
				fx.now = fx.now.Add(2 * time.Minute) // past MaxOracleStaleness
				fx.oracle.RecordObservation("WETH/USDC", 2_000, fx.now)
				return id
			},
			reason: domain.SkipOracleStale,
		},
		{
			name: "spot deviates from twap",
			setup: func(t *testing.T, fx *fixture) uint64 {
				fx.oracle.RecordObservation("WETH/USDC", 3_000, fx.now) // >10% above the window average
				return fx.createFunded(t, func(p *domain.CreateParams) {
					p.MaxPriceDeviationBps = 100
				})
			},
			reason: domain.SkipPriceDeviation,
		},
		{
			name: "quote asset depegged",
			setup: func(t *testing.T, fx *fixture) uint64 {
				fx.usdcFeed.Push(0.97, fx.now) // 300 bps off peg, threshold 100
				return fx.createFunded(t)
			},
			reason: domain.SkipDepeg,
		},
		{
			name: "buy above price cap",
			setup: func(t *testing.T, fx *fixture) uint64 {
				return fx.createFunded(t, func(p *domain.CreateParams) {
					p.PriceCapUSD = 1_500 // spot is 2000
				})
			},
			reason: domain.SkipPriceBound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			id := tt.setup(t, fx)

			res, err := fx.engine.Execute(context.Background(), keeperOne, id)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.Executed {
				t.Fatal("executed, want skip")
			}
			if res.Reason != tt.reason {
				t.Errorf("Reason = %s, want %s", res.Reason, tt.reason)
			}
			skips := fx.sink.named(domain.EventExecutionSkipped)
			if len(skips) != 1 {
				t.Fatalf("skip events = %d, want 1", len(skips))
			}
			if got := skips[0].Detail["reason"]; got != string(tt.reason) {
				t.Errorf("skip event reason = %v, want %s", got, tt.reason)
			}
		})
	}
}

func TestExecuteTwapUnavailable(t *testing.T) {
	fx := newFixture(t)

	// A fresh aggregator has feed prices but no venue observations, so no
	// TWAP can be formed.
	fx.oracle = oracle.New(time.Minute, fx.sink, fx.logger)
	fx.oracle.SetClock(func() time.Time { return fx.now })
	ctx := context.Background()
	fx.oracle.AddFeed(ctx, "USDC", fx.usdcFeed)
	fx.oracle.AddFeed(ctx, "WETH", fx.wethFeed)
	fx.rebuild(nil, nil)

	id := fx.createFunded(t)
	res, err := fx.engine.Execute(ctx, keeperOne, id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Reason != domain.SkipTwapUnavailable {
		t.Errorf("Reason = %s, want TwapUnavailable", res.Reason)
	}
}

func TestExecuteSellBelowFloorSkips(t *testing.T) {
	fx := newFixture(t)
	id := fx.createFunded(t, func(p *domain.CreateParams) {
		p.Direction = domain.DirectionSell
		p.AmountPerPeriod = 50_000_000_000_000_000 // 0.05 WETH
		p.PriceFloorUSD = 2_500                    // spot is 2000
	})
	ctx := context.Background()

	res, err := fx.engine.Execute(ctx, keeperOne, id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Reason != domain.SkipPriceBound {
		t.Errorf("Reason = %s, want PriceBound", res.Reason)
	}
}

func TestExecuteGasCap(t *testing.T) {
	fx := newFixture(t)
	gas := &stubGas{fee: 80}
	fx.rebuild(nil, gas)
	id := fx.createFunded(t, func(p *domain.CreateParams) {
		p.MaxBaseFeeGwei = 50
	})
	ctx := context.Background()

	res, err := fx.engine.Execute(ctx, keeperOne, id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Reason != domain.SkipGasCap {
		t.Errorf("Reason = %s, want GasCap", res.Reason)
	}

	// An unreadable gas oracle fails closed for capped positions.
	gas.fee, gas.err = 0, errors.New("stub: rpc down")
	res, _ = fx.engine.Execute(ctx, keeperOne, id)
	if res.Reason != domain.SkipGasCap {
		t.Errorf("Reason = %s, want GasCap on oracle error", res.Reason)
	}

	// Below the cap the position executes.
	gas.fee, gas.err = 20, nil
	res, err = fx.engine.Execute(ctx, keeperOne, id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Executed {
		t.Errorf("not executed below gas cap, reason = %s", res.Reason)
	}
}

func TestExecuteRouteFailureRestoresBalance(t *testing.T) {
	fx := newFixture(t)
	fx.amm.fail = true
	id := fx.createFunded(t)
	ctx := context.Background()

	res, err := fx.engine.Execute(ctx, keeperOne, id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Reason != domain.SkipRouteFailed {
		t.Errorf("Reason = %s, want RouteFailed", res.Reason)
	}

	pos, _ := fx.ledger.Get(id)
	if pos.QuoteBalance != 100_000_000 {
		t.Errorf("QuoteBalance = %d, want 100000000 after release", pos.QuoteBalance)
	}
	if pos.PeriodsExecuted != 0 {
		t.Errorf("PeriodsExecuted = %d, want 0", pos.PeriodsExecuted)
	}
}

func TestPublicExecutionGraceWindow(t *testing.T) {
	fx := newFixture(t)
	id := fx.createFunded(t, func(p *domain.CreateParams) {
		p.StartAt = fx.now.Add(-10 * time.Minute) // inside the 15 minute grace
	})
	ctx := context.Background()

	_, err := fx.engine.Execute(ctx, rando, id)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("early public Execute err = %v, want ErrUnauthorized", err)
	}

	// Past the grace window the public caller executes and earns the tip.
	fx.now = fx.now.Add(10 * time.Minute)
	fx.usdcFeed.Push(1.0, fx.now)
	fx.wethFeed.Push(2_000, fx.now)
	fx.oracle.RecordObservation("WETH/USDC", 2_000, fx.now)

	res, err := fx.engine.Execute(ctx, rando, id)
	if err != nil {
		t.Fatalf("public Execute: %v", err)
	}
	if !res.Executed {
		t.Fatalf("not executed, reason = %s", res.Reason)
	}
	// 30 bps protocol plus 10 bps public tip.
	wantFees := uint64(150_000_000_000_000 + 50_000_000_000_000)
	if res.Fees != wantFees {
		t.Errorf("Fees = %d, want %d", res.Fees, wantFees)
	}
}

func TestKeeperIgnoresGraceWindow(t *testing.T) {
	fx := newFixture(t)
	id := fx.createFunded(t, func(p *domain.CreateParams) {
		p.StartAt = fx.now.Add(-time.Minute)
	})

	res, err := fx.engine.Execute(context.Background(), keeperOne, id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Executed {
		t.Errorf("keeper blocked inside grace window, reason = %s", res.Reason)
	}
}

func TestExecuteReferrerFee(t *testing.T) {
	fx := newFixture(t)
	id := fx.createFunded(t, func(p *domain.CreateParams) {
		p.Referrer = rando
	})

	res, err := fx.engine.Execute(context.Background(), keeperOne, id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// Additive mode: 30 bps protocol plus 50 bps referral.
	wantFees := uint64(150_000_000_000_000 + 250_000_000_000_000)
	if res.Fees != wantFees {
		t.Errorf("Fees = %d, want %d", res.Fees, wantFees)
	}
}

func TestExecuteTreasuryCollect(t *testing.T) {
	fx := newFixture(t)
	treasury := &stubTreasury{}
	fx.rebuild(treasury, nil)
	id := fx.createFunded(t)

	if _, err := fx.engine.Execute(context.Background(), keeperOne, id); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if treasury.calls != 1 {
		t.Fatalf("treasury calls = %d, want 1", treasury.calls)
	}
	if treasury.asset != "WETH" {
		t.Errorf("treasury asset = %s, want WETH", treasury.asset)
	}
	if treasury.amount != 150_000_000_000_000 {
		t.Errorf("treasury amount = %d, want protocol+execution fee", treasury.amount)
	}
	// A keeper execution with no referrer pays no individual shares.
	if treasury.payouts != 0 {
		t.Errorf("payouts = %d, want 0", treasury.payouts)
	}
}

func TestExecuteFeeRemittance(t *testing.T) {
	fx := newFixture(t)
	treasury := &stubTreasury{}
	fx.rebuild(treasury, nil)
	id := fx.createFunded(t, func(p *domain.CreateParams) {
		p.Referrer = rando
	})

	// A public executor past the grace window, with a referrer attached:
	// every fee component has a recipient.
	res, err := fx.engine.Execute(context.Background(), owner, id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Executed {
		t.Fatalf("not executed, reason = %s", res.Reason)
	}

	// 30 bps protocol to the treasury, 50 bps referral to the referrer,
	// 10 bps tip to the executor.
	if treasury.amount != 150_000_000_000_000 {
		t.Errorf("treasury share = %d, want 30 bps", treasury.amount)
	}
	if got := treasury.paid[rando]; got != 250_000_000_000_000 {
		t.Errorf("referral share = %d, want 50 bps", got)
	}
	if got := treasury.paid[owner]; got != 50_000_000_000_000 {
		t.Errorf("tip share = %d, want 10 bps", got)
	}

	// Every deducted unit lands somewhere.
	remitted := treasury.amount
	for _, amt := range treasury.paid {
		remitted += amt
	}
	if remitted != res.Fees {
		t.Errorf("remitted = %d, want deducted total %d", remitted, res.Fees)
	}

	if got := len(fx.sink.named(domain.EventFeeDistributed)); got != 2 {
		t.Errorf("FeeDistributed events = %d, want 2", got)
	}
}

func TestExecuteReentrancyRejected(t *testing.T) {
	fx := newFixture(t)
	id := fx.createFunded(t)
	ctx := context.Background()

	var nestedErr error
	fx.amm.swapFn = func(domain.SwapRequest) (uint64, error) {
		_, nestedErr = fx.engine.Execute(ctx, keeperOne, id)
		return 50_000_000_000_000_000, nil
	}

	res, err := fx.engine.Execute(ctx, keeperOne, id)
	if err != nil {
		t.Fatalf("outer Execute: %v", err)
	}
	if !res.Executed {
		t.Fatalf("outer not executed, reason = %s", res.Reason)
	}
	if !errors.Is(nestedErr, domain.ErrReentrantExecution) {
		t.Errorf("nested err = %v, want ErrReentrantExecution", nestedErr)
	}
}

func TestExecuteBatchIsolatesFailures(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	good := fx.createFunded(t)
	broke := fx.createFunded(t)
	if err := fx.ledger.Withdraw(ctx, owner, broke, "USDC", 100_000_000, owner); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	results := fx.engine.ExecuteBatch(ctx, keeperOne, []uint64{broke, good, 999})
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[0].Reason != domain.SkipInsufficientFunds {
		t.Errorf("broke reason = %s, want InsufficientFunds", results[0].Reason)
	}
	if !results[1].Executed {
		t.Errorf("good position not executed, reason = %s", results[1].Reason)
	}
	if results[2].Reason != domain.SkipNotFound {
		t.Errorf("missing reason = %s, want NotFound", results[2].Reason)
	}
}

func TestIsEligibleHasNoSideEffects(t *testing.T) {
	fx := newFixture(t)
	id := fx.createFunded(t)

	ok, reason := fx.engine.IsEligible(context.Background(), id)
	if !ok || reason != domain.SkipNone {
		t.Fatalf("IsEligible = %v/%s, want true", ok, reason)
	}

	pos, _ := fx.ledger.Get(id)
	if pos.QuoteBalance != 100_000_000 || pos.PeriodsExecuted != 0 {
		t.Errorf("eligibility query mutated position: balance=%d periods=%d",
			pos.QuoteBalance, pos.PeriodsExecuted)
	}
	if len(fx.amm.swaps) != 0 {
		t.Errorf("eligibility query reached the venue")
	}

	ok, reason = fx.engine.IsEligible(context.Background(), 404)
	if ok || reason != domain.SkipNotFound {
		t.Errorf("IsEligible(404) = %v/%s, want false/NotFound", ok, reason)
	}
}
