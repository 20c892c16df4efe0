package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Venue identifies an interchangeable execution backend.
type Venue string

const (
	VenueAuction    Venue = "auction"    // private batch-auction venue
	VenueAMM        Venue = "amm"        // primary AMM venue
	VenueAggregator Venue = "aggregator" // meta-aggregator fallback
)

// SwapRequest is the input to a route adapter's swap capability.
type SwapRequest struct {
	Pair     string // BASE/QUOTE
	SellBase bool   // true converts base into quote
	AmountIn uint64
	MinOut   uint64
	Private  bool // submit through a private relay when supported
}

// RouteAdapter is the capability interface every venue implements: given an
// input amount and constraints, produce an output amount or fail. New venues
// plug in behind this interface without touching the engine.
type RouteAdapter interface {
	// Quote returns the output amount the venue would currently deliver.
	Quote(ctx context.Context, pair string, sellBase bool, amountIn uint64) (uint64, error)
	// Swap executes the conversion. Implementations must be all-or-nothing:
	// on error no funds have moved.
	Swap(ctx context.Context, req SwapRequest) (uint64, error)
}

// RouteResult reports a completed swap.
type RouteResult struct {
	Venue     Venue
	AmountIn  uint64
	AmountOut uint64
}

// TreasurySink forwards fee transfers through the custody API. Collect
// settles into the treasury multisig; Distribute pays an individual
// recipient (a referrer's share, a public executor's tip).
type TreasurySink interface {
	Collect(ctx context.Context, asset string, amount uint64) error
	Distribute(ctx context.Context, asset string, to common.Address, amount uint64) error
}
