package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Asset describes a tradable asset known to the protocol. PegUSD is non-zero
// for pegged stable assets and enables the depeg guard for positions quoted
// in that asset.
type Asset struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
	PegUSD   float64
}

// ProtocolConfig is the process-wide configuration singleton. It is mutated
// only through the admin capability and read by every execution attempt.
type ProtocolConfig struct {
	MaxPositionsPerOwner int
	MaxPositions         int

	MaxOracleStaleness time.Duration
	MinTwapWindow      time.Duration
	DepegThresholdBps  uint32

	EmergencyDelay time.Duration
	GracePeriod    time.Duration

	// Paused halts every execution globally, independent of the breaker.
	Paused bool

	Treasury common.Address
	Admins   map[common.Address]bool
	Keepers  map[common.Address]bool
	Assets   map[string]Asset
}

// IsAdmin reports whether addr holds the admin capability.
func (c *ProtocolConfig) IsAdmin(addr common.Address) bool {
	return c.Admins[addr]
}

// IsKeeper reports whether addr is a registered primary keeper.
func (c *ProtocolConfig) IsKeeper(addr common.Address) bool {
	return c.Keepers[addr]
}

// AssetBySymbol returns the registered asset, or false if unknown.
func (c *ProtocolConfig) AssetBySymbol(symbol string) (Asset, bool) {
	a, ok := c.Assets[symbol]
	return a, ok
}

// Validate checks internal consistency of the protocol config.
func (c *ProtocolConfig) Validate() error {
	if c.MaxOracleStaleness <= 0 {
		return fmt.Errorf("%w: max oracle staleness must be positive", ErrInvalidParameter)
	}
	if c.MinTwapWindow <= 0 {
		return fmt.Errorf("%w: min twap window must be positive", ErrInvalidParameter)
	}
	if c.EmergencyDelay <= 0 {
		return fmt.Errorf("%w: emergency delay must be positive", ErrInvalidParameter)
	}
	return nil
}

// FeeTier maps a notional ceiling to a protocol fee in basis points. Tiers
// are evaluated in ascending ceiling order; the last tier's ceiling of zero
// means "no upper bound".
type FeeTier struct {
	NotionalCeiling uint64
	Bps             uint32
}

// ReferralMode selects how the referral fee interacts with the protocol fee.
type ReferralMode string

const (
	// ReferralAdditive charges the referral fee on top of the protocol fee.
	ReferralAdditive ReferralMode = "additive"
	// ReferralCarveOut pays the referral out of the protocol fee.
	ReferralCarveOut ReferralMode = "carve_out"
)

// FeeConfig is the fee-policy singleton consumed by the FeeCalculator.
// The tier table and referral formula are configurable policy, not hard-coded
// constants.
type FeeConfig struct {
	Tiers            []FeeTier
	ExecutionFeeBps  uint32
	ExecutionFeeFlat uint64
	GasPremiumBps    uint32
	ReferralBps      uint32
	ReferralMode     ReferralMode
	PublicTipBps     uint32
	PublicTipCap     uint64
}

// Validate checks the tier table is sorted and every rate stays below 100%.
func (c *FeeConfig) Validate() error {
	var prev uint64
	for i, t := range c.Tiers {
		if t.Bps >= 10_000 {
			return fmt.Errorf("%w: fee tier %d bps out of range", ErrInvalidParameter, i)
		}
		open := t.NotionalCeiling == 0
		if open && i != len(c.Tiers)-1 {
			return fmt.Errorf("%w: open-ended fee tier must be last", ErrInvalidParameter)
		}
		if !open && t.NotionalCeiling <= prev {
			return fmt.Errorf("%w: fee tiers must be sorted by ceiling", ErrInvalidParameter)
		}
		prev = t.NotionalCeiling
	}
	if c.ReferralMode != ReferralAdditive && c.ReferralMode != ReferralCarveOut {
		return fmt.Errorf("%w: unknown referral mode %q", ErrInvalidParameter, c.ReferralMode)
	}
	if c.ReferralBps >= 10_000 || c.PublicTipBps >= 10_000 || c.ExecutionFeeBps >= 10_000 {
		return fmt.Errorf("%w: fee bps out of range", ErrInvalidParameter)
	}
	return nil
}

// BreakerConfig holds the circuit-breaker thresholds.
type BreakerConfig struct {
	VolumeWindow    time.Duration
	MaxWindowVolume uint64 // notional base units over VolumeWindow, 0 disables
	PriceWindow     time.Duration
	MaxMoveBps      uint32 // max |price move| over PriceWindow, 0 disables
}

// RouterConfig is the AUTO-cascade policy table.
type RouterConfig struct {
	// BatchNotionalThreshold routes notional at or above this value to the
	// batch-auction venue first.
	BatchNotionalThreshold uint64
	// TightSlippageBps routes positions with a slippage tolerance at or
	// below this value to the batch-auction venue first.
	TightSlippageBps uint32
}
