// Package fees computes protocol, execution, referral, and public-tip fees
// from the configurable fee-policy tables.
package fees

import (
	"context"
	"sync"

	"github.com/cadencefi/dcad/internal/domain"
)

// Breakdown itemises the fees taken from one execution, in received-asset
// base units.
type Breakdown struct {
	Protocol  uint64
	Execution uint64
	Referral  uint64
	PublicTip uint64
}

// Total returns the sum of all components.
func (b Breakdown) Total() uint64 {
	return b.Protocol + b.Execution + b.Referral + b.PublicTip
}

// Calculator applies the fee configuration singleton. The config is replaced
// atomically through SetConfig under the admin capability.
type Calculator struct {
	mu   sync.Mutex
	cfg  domain.FeeConfig
	sink domain.EventSink
}

// New creates a Calculator with the given initial config.
func New(cfg domain.FeeConfig, sink domain.EventSink) *Calculator {
	return &Calculator{cfg: cfg, sink: sink}
}

// SetConfig replaces the fee configuration after validating it.
func (c *Calculator) SetConfig(ctx context.Context, cfg domain.FeeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	referralChanged := cfg.ReferralBps != c.cfg.ReferralBps || cfg.ReferralMode != c.cfg.ReferralMode
	c.cfg = cfg
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.Emit(ctx, domain.Event{Name: domain.EventProtocolFeeUpdated})
		if referralChanged {
			c.sink.Emit(ctx, domain.Event{Name: domain.EventReferralFeeUpdated})
		}
	}
	return nil
}

// Config returns a copy of the current fee configuration.
func (c *Calculator) Config() domain.FeeConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// ProtocolFee returns the tiered protocol fee for the given notional. The
// first tier whose ceiling covers the notional applies; an open-ended last
// tier (ceiling zero) catches the remainder.
func (c *Calculator) ProtocolFee(notional uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.BpsOf(notional, c.tierBps(notional))
}

func (c *Calculator) tierBps(notional uint64) uint32 {
	for _, t := range c.cfg.Tiers {
		if t.NotionalCeiling == 0 || notional <= t.NotionalCeiling {
			return t.Bps
		}
	}
	return 0
}

// ExecutionFee returns the fixed plus proportional execution fee, with the
// configured gas premium applied to the proportional part.
func (c *Calculator) ExecutionFee(notional uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	proportional := domain.BpsOf(notional, c.cfg.ExecutionFeeBps)
	premium := domain.BpsOf(proportional, c.cfg.GasPremiumBps)
	return c.cfg.ExecutionFeeFlat + proportional + premium
}

// ReferralFee returns the referral amount and the protocol fee remaining
// after it. In carve-out mode the referral comes out of the protocol fee; in
// additive mode it is charged on top.
func (c *Calculator) ReferralFee(notional uint64, protocolFee uint64, hasReferrer bool) (referral, protocol uint64) {
	if !hasReferrer {
		return 0, protocolFee
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	referral = domain.BpsOf(notional, c.cfg.ReferralBps)
	if c.cfg.ReferralMode == domain.ReferralCarveOut {
		if referral > protocolFee {
			referral = protocolFee
		}
		return referral, protocolFee - referral
	}
	return referral, protocolFee
}

// PublicExecutionTip returns the capped incentive paid to a public executor.
func (c *Calculator) PublicExecutionTip(notional uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := domain.BpsOf(notional, c.cfg.PublicTipBps)
	if c.cfg.PublicTipCap > 0 && tip > c.cfg.PublicTipCap {
		tip = c.cfg.PublicTipCap
	}
	return tip
}

// Quote computes the full breakdown for one execution.
func (c *Calculator) Quote(notional uint64, hasReferrer, publicExec bool) Breakdown {
	protocol := c.ProtocolFee(notional)
	referral, protocol := c.ReferralFee(notional, protocol, hasReferrer)

	b := Breakdown{
		Protocol:  protocol,
		Execution: c.ExecutionFee(notional),
		Referral:  referral,
	}
	if publicExec {
		b.PublicTip = c.PublicExecutionTip(notional)
	}
	return b
}
