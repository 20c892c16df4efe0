// Package domain defines the core types, interfaces, and error taxonomy for
// the recurring-execution engine: positions, schedules, guard verdicts,
// telemetry events, and the capability surface shared by every component.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Direction is the side of a recurring position: buy accumulates the base
// asset with the quote asset, sell unwinds the base asset into the quote.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// Frequency is the schedule interval of a position.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Next returns the schedule slot one interval after t. Monthly schedules use
// calendar months so a position created on the 31st normalises per time.Time
// rules rather than drifting by a fixed number of days.
func (f Frequency) Next(t time.Time) time.Time {
	switch f {
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// VenuePreference selects how the router picks an execution venue.
// VenueAuto applies the configured cascade; the other values pin a single
// venue and fail the attempt if that venue cannot fill.
type VenuePreference string

const (
	VenueAuto           VenuePreference = "auto"
	VenueAuctionOnly    VenuePreference = "auction"
	VenueAMMOnly        VenuePreference = "amm"
	VenueAggregatorOnly VenuePreference = "aggregator"
)

// Valid reports whether v is a known venue preference.
func (v VenuePreference) Valid() bool {
	switch v {
	case VenueAuto, VenueAuctionOnly, VenueAMMOnly, VenueAggregatorOnly:
		return true
	}
	return false
}

// MEVPosture controls whether swaps are submitted through a private relay.
type MEVPosture string

const (
	MEVPrivate MEVPosture = "private"
	MEVPublic  MEVPosture = "public"
)

// Position is a single recurring-execution position. Identity fields are
// fixed at creation and never change; guard, venue, and fee-routing fields
// may be replaced through Modify. Ownership is not stored here: the current
// owner is always resolved through the certificate registry so the ledger
// cannot diverge from a transferred certificate.
type Position struct {
	ID uint64

	// Identity (immutable after creation).
	QuoteAsset      string
	BaseAsset       string
	Direction       Direction
	Frequency       Frequency
	AmountPerPeriod uint64 // spend-asset base units per execution
	StartAt         time.Time
	EndAt           time.Time // zero means open-ended

	// Guard / venue / fee routing (mutable through Modify).
	Beneficiary          common.Address
	Referrer             common.Address
	SlippageBps          uint32
	TwapWindow           time.Duration
	MaxPriceDeviationBps uint32
	PriceFloorUSD        float64 // sell-side lower bound, 0 = unset
	PriceCapUSD          float64 // buy-side upper bound, 0 = unset
	Venue                VenuePreference
	MEV                  MEVPosture
	MaxBaseFeeGwei       float64 // 0 = unset

	// Derived state, owned by the ledger.
	QuoteBalance     uint64
	BaseBalance      uint64
	PeriodsExecuted  uint64
	NextExecAt       time.Time
	Paused           bool
	Canceled         bool
	EmergencyArmedAt time.Time // zero = unarmed
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SpendAsset returns the asset debited on each execution.
func (p *Position) SpendAsset() string {
	if p.Direction == DirectionSell {
		return p.BaseAsset
	}
	return p.QuoteAsset
}

// ReceiveAsset returns the asset credited on each execution.
func (p *Position) ReceiveAsset() string {
	if p.Direction == DirectionSell {
		return p.QuoteAsset
	}
	return p.BaseAsset
}

// IdleBalance returns the idle balance of the given asset.
func (p *Position) IdleBalance(asset string) uint64 {
	switch asset {
	case p.QuoteAsset:
		return p.QuoteBalance
	case p.BaseAsset:
		return p.BaseBalance
	}
	return 0
}

// Pair renders the position's trading pair in BASE/QUOTE form.
func (p *Position) Pair() string {
	return p.BaseAsset + "/" + p.QuoteAsset
}

// CreateParams carries the full parameter set for opening a position.
type CreateParams struct {
	Owner           common.Address
	Beneficiary     common.Address
	Referrer        common.Address
	QuoteAsset      string
	BaseAsset       string
	Direction       Direction
	Frequency       Frequency
	AmountPerPeriod uint64
	StartAt         time.Time
	EndAt           time.Time

	SlippageBps          uint32
	TwapWindow           time.Duration
	MaxPriceDeviationBps uint32
	PriceFloorUSD        float64
	PriceCapUSD          float64
	Venue                VenuePreference
	MEV                  MEVPosture
	MaxBaseFeeGwei       float64
}

// Update carries the mutable fields for Modify. Nil pointers leave the
// corresponding field untouched; identity fields are deliberately absent so
// an immutable-field mutation cannot even be expressed here.
type Update struct {
	Beneficiary          *common.Address
	Referrer             *common.Address
	SlippageBps          *uint32
	TwapWindow           *time.Duration
	MaxPriceDeviationBps *uint32
	PriceFloorUSD        *float64
	PriceCapUSD          *float64
	Venue                *VenuePreference
	MEV                  *MEVPosture
	MaxBaseFeeGwei       *float64
}
