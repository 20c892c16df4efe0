package keeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cadencefi/dcad/internal/breaker"
	"github.com/cadencefi/dcad/internal/domain"
	"github.com/cadencefi/dcad/internal/engine"
	"github.com/cadencefi/dcad/internal/fees"
	"github.com/cadencefi/dcad/internal/ledger"
	"github.com/cadencefi/dcad/internal/oracle"
	"github.com/cadencefi/dcad/internal/router"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	identity = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	tickTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type stubLocks struct {
	err      error
	acquired int
	released int
}

func (s *stubLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if s.err != nil {
		return nil, s.err
	}
	s.acquired++
	return func() { s.released++ }, nil
}

type stubVenue struct {
	mu    sync.Mutex
	out   uint64
	swaps int
}

func (s *stubVenue) Quote(context.Context, string, bool, uint64) (uint64, error) {
	return s.out, nil
}

func (s *stubVenue) Swap(context.Context, domain.SwapRequest) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swaps++
	return s.out, nil
}

func (s *stubVenue) swapCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swaps
}

type harness struct {
	ledger *ledger.Ledger
	engine *engine.Engine
	venue  *stubVenue
	locks  *stubLocks
	keeper *Keeper
}

// newHarness builds a working pipeline with one funded position due at
// tickTime.
func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return tickTime }
	ctx := context.Background()

	cfg := domain.ProtocolConfig{
		MaxOracleStaleness: time.Minute,
		MinTwapWindow:      5 * time.Minute,
		EmergencyDelay:     48 * time.Hour,
		GracePeriod:        15 * time.Minute,
		Keepers:            map[common.Address]bool{identity: true},
		Assets: map[string]domain.Asset{
			"USDC": {Symbol: "USDC", Decimals: 6, PegUSD: 1},
			"WETH": {Symbol: "WETH", Decimals: 18},
		},
	}

	certs := ledger.NewMemoryRegistry()
	led := ledger.New(cfg, certs, nil, nil, logger)
	led.SetClock(clock)
	certs.SetTransferListener(led.OnCertificateTransfer)

	agg := oracle.New(time.Minute, nil, logger)
	agg.SetClock(clock)
	usdc := oracle.NewPushFeed("stub")
	usdc.Push(1, tickTime)
	weth := oracle.NewPushFeed("stub")
	weth.Push(2_000, tickTime)
	agg.AddFeed(ctx, "USDC", usdc)
	agg.AddFeed(ctx, "WETH", weth)
	agg.RecordObservation("WETH/USDC", 2_000, tickTime)

	brk := breaker.New(domain.BreakerConfig{}, nil, logger)
	brk.SetClock(clock)
	calc := fees.New(domain.FeeConfig{ReferralMode: domain.ReferralAdditive}, nil)

	venueStub := &stubVenue{out: 50_000_000_000_000_000}
	sel := router.New(domain.RouterConfig{}, map[domain.Venue]domain.RouteAdapter{
		domain.VenueAMM: venueStub,
	}, logger)

	eng := engine.New(led, agg, sel, calc, brk, nil, nil, nil, logger)
	eng.SetClock(clock)

	id, err := led.Create(ctx, owner, domain.CreateParams{
		Owner:           owner,
		Beneficiary:     owner,
		QuoteAsset:      "USDC",
		BaseAsset:       "WETH",
		Direction:       domain.DirectionBuy,
		Frequency:       domain.FrequencyDaily,
		AmountPerPeriod: 100_000_000,
		StartAt:         tickTime.Add(-time.Hour),
		SlippageBps:     50,
		TwapWindow:      10 * time.Minute,
		Venue:           domain.VenueAMMOnly,
		MEV:             domain.MEVPublic,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := led.Deposit(ctx, owner, id, "USDC", 100_000_000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	locks := &stubLocks{}
	k := New(Config{
		Identity: identity,
		Interval: time.Minute,
		LockKey:  "keeper:lock",
		LockTTL:  30 * time.Second,
	}, led, eng, locks, logger)
	k.SetClock(clock)

	return &harness{ledger: led, engine: eng, venue: venueStub, locks: locks, keeper: k}
}

func TestTickExecutesDuePositions(t *testing.T) {
	h := newHarness(t)

	h.keeper.Tick(context.Background())

	if h.venue.swapCount() != 1 {
		t.Fatalf("swaps = %d, want 1", h.venue.swapCount())
	}
	pos, _ := h.ledger.Get(1)
	if pos.PeriodsExecuted != 1 {
		t.Errorf("PeriodsExecuted = %d, want 1", pos.PeriodsExecuted)
	}
	if h.locks.acquired != 1 || h.locks.released != 1 {
		t.Errorf("lock acquire/release = %d/%d, want 1/1", h.locks.acquired, h.locks.released)
	}
}

func TestTickNothingDue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// First tick settles the only due position; the second finds nothing.
	h.keeper.Tick(ctx)
	h.keeper.Tick(ctx)

	if h.venue.swapCount() != 1 {
		t.Errorf("swaps = %d, want 1", h.venue.swapCount())
	}
}

func TestTickHeldLockIsSilentNoOp(t *testing.T) {
	h := newHarness(t)
	h.locks.err = domain.ErrLockHeld

	h.keeper.Tick(context.Background())

	if h.venue.swapCount() != 0 {
		t.Errorf("swaps = %d, want 0 while another instance holds the lock", h.venue.swapCount())
	}
}

func TestTickLockFailureSkipsPass(t *testing.T) {
	h := newHarness(t)
	h.locks.err = errors.New("redis: connection refused")

	h.keeper.Tick(context.Background())

	if h.venue.swapCount() != 0 {
		t.Errorf("swaps = %d, want 0 on lock backend failure", h.venue.swapCount())
	}
}

func TestTickWithoutLockManager(t *testing.T) {
	h := newHarness(t)
	h.keeper.locks = nil

	h.keeper.Tick(context.Background())

	if h.venue.swapCount() != 1 {
		t.Errorf("swaps = %d, want 1 without a lock manager", h.venue.swapCount())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.keeper.Run(ctx) }()

	// The first tick fires immediately, before the interval elapses.
	deadline := time.After(2 * time.Second)
	for h.venue.swapCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first tick never fired")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
