package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/cadencefi/dcad/internal/domain"
)

type scriptedVenue struct {
	quoteOut uint64
	swapOut  uint64
	quoteErr error
	swapErr  error
	quotes   int
	swaps    int
	lastSwap domain.SwapRequest
}

func (v *scriptedVenue) Quote(_ context.Context, _ string, _ bool, _ uint64) (uint64, error) {
	v.quotes++
	return v.quoteOut, v.quoteErr
}

func (v *scriptedVenue) Swap(_ context.Context, req domain.SwapRequest) (uint64, error) {
	v.swaps++
	v.lastSwap = req
	return v.swapOut, v.swapErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func cascadeConfig() domain.RouterConfig {
	return domain.RouterConfig{
		BatchNotionalThreshold: 1_000_000,
		TightSlippageBps:       20,
	}
}

func TestSelectRoute(t *testing.T) {
	s := New(cascadeConfig(), nil, testLogger())

	tests := []struct {
		name string
		req  Request
		want []domain.Venue
	}{
		{
			name: "auto small loose skips auction",
			req:  Request{Preference: domain.VenueAuto, AmountIn: 500, SlippageBps: 100},
			want: []domain.Venue{domain.VenueAMM, domain.VenueAggregator},
		},
		{
			name: "auto large notional leads with auction",
			req:  Request{Preference: domain.VenueAuto, AmountIn: 2_000_000, SlippageBps: 100},
			want: []domain.Venue{domain.VenueAuction, domain.VenueAMM, domain.VenueAggregator},
		},
		{
			name: "auto tight slippage leads with auction",
			req:  Request{Preference: domain.VenueAuto, AmountIn: 500, SlippageBps: 10},
			want: []domain.Venue{domain.VenueAuction, domain.VenueAMM, domain.VenueAggregator},
		},
		{
			name: "pinned auction",
			req:  Request{Preference: domain.VenueAuctionOnly, AmountIn: 500},
			want: []domain.Venue{domain.VenueAuction},
		},
		{
			name: "pinned amm",
			req:  Request{Preference: domain.VenueAMMOnly, AmountIn: 2_000_000},
			want: []domain.Venue{domain.VenueAMM},
		},
		{
			name: "pinned aggregator",
			req:  Request{Preference: domain.VenueAggregatorOnly, AmountIn: 500},
			want: []domain.Venue{domain.VenueAggregator},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.SelectRoute(tt.req)
			if len(got) != len(tt.want) {
				t.Fatalf("venues = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("venues = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSwapFallsThroughFailures(t *testing.T) {
	auction := &scriptedVenue{quoteErr: errors.New("venue: auction closed")}
	amm := &scriptedVenue{quoteOut: 100, swapErr: errors.New("venue: reverted")}
	agg := &scriptedVenue{quoteOut: 99, swapOut: 99}
	s := New(cascadeConfig(), map[domain.Venue]domain.RouteAdapter{
		domain.VenueAuction:    auction,
		domain.VenueAMM:        amm,
		domain.VenueAggregator: agg,
	}, testLogger())

	res, err := s.Swap(context.Background(), Request{
		Preference: domain.VenueAuto,
		AmountIn:   2_000_000,
		MinOut:     90,
	})
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if res.Venue != domain.VenueAggregator {
		t.Errorf("Venue = %s, want aggregator", res.Venue)
	}
	if res.AmountOut != 99 {
		t.Errorf("AmountOut = %d, want 99", res.AmountOut)
	}
	if auction.swaps != 0 || amm.swaps != 1 || agg.swaps != 1 {
		t.Errorf("swap calls = %d/%d/%d, want 0/1/1", auction.swaps, amm.swaps, agg.swaps)
	}
}

func TestSwapRejectsQuoteBelowMinOut(t *testing.T) {
	amm := &scriptedVenue{quoteOut: 80, swapOut: 80}
	agg := &scriptedVenue{quoteOut: 95, swapOut: 95}
	s := New(cascadeConfig(), map[domain.Venue]domain.RouteAdapter{
		domain.VenueAMM:        amm,
		domain.VenueAggregator: agg,
	}, testLogger())

	res, err := s.Swap(context.Background(), Request{
		Preference: domain.VenueAuto,
		AmountIn:   500,
		MinOut:     90,
	})
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if res.Venue != domain.VenueAggregator {
		t.Errorf("Venue = %s, want aggregator", res.Venue)
	}
	if amm.swaps != 0 {
		t.Errorf("amm swapped despite quote below min out")
	}
}

func TestSwapPinnedVenueNoFallback(t *testing.T) {
	auction := &scriptedVenue{quoteErr: errors.New("venue: auction closed")}
	amm := &scriptedVenue{quoteOut: 100, swapOut: 100}
	s := New(cascadeConfig(), map[domain.Venue]domain.RouteAdapter{
		domain.VenueAuction: auction,
		domain.VenueAMM:     amm,
	}, testLogger())

	_, err := s.Swap(context.Background(), Request{
		Preference: domain.VenueAuctionOnly,
		AmountIn:   500,
		MinOut:     90,
	})
	if !errors.Is(err, domain.ErrRouteFailed) {
		t.Fatalf("err = %v, want ErrRouteFailed", err)
	}
	if amm.quotes != 0 {
		t.Errorf("pinned preference fell through to amm")
	}
}

func TestSwapAllVenuesFail(t *testing.T) {
	amm := &scriptedVenue{quoteErr: errors.New("venue: down")}
	s := New(cascadeConfig(), map[domain.Venue]domain.RouteAdapter{
		domain.VenueAMM: amm,
	}, testLogger())

	_, err := s.Swap(context.Background(), Request{
		Preference: domain.VenueAuto,
		AmountIn:   500,
		SlippageBps: 100,
	})
	if !errors.Is(err, domain.ErrRouteFailed) {
		t.Fatalf("err = %v, want ErrRouteFailed", err)
	}
}

func TestSwapUnregisteredVenue(t *testing.T) {
	s := New(cascadeConfig(), nil, testLogger())
	_, err := s.Swap(context.Background(), Request{Preference: domain.VenueAMMOnly, AmountIn: 1})
	if !errors.Is(err, domain.ErrRouteFailed) {
		t.Fatalf("err = %v, want ErrRouteFailed", err)
	}
}

func TestSwapForwardsConstraints(t *testing.T) {
	amm := &scriptedVenue{quoteOut: 100, swapOut: 100}
	s := New(cascadeConfig(), map[domain.Venue]domain.RouteAdapter{
		domain.VenueAMM: amm,
	}, testLogger())

	_, err := s.Swap(context.Background(), Request{
		Pair:       "WETH/USDC",
		SellBase:   true,
		AmountIn:   500,
		MinOut:     90,
		Preference: domain.VenueAMMOnly,
		Private:    true,
	})
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	got := amm.lastSwap
	if got.Pair != "WETH/USDC" || !got.SellBase || got.AmountIn != 500 || got.MinOut != 90 || !got.Private {
		t.Errorf("forwarded request = %+v", got)
	}
}
