// Package router selects an execution venue and drives its swap capability.
// Venues are opaque adapters; the selector only decides the order in which
// they are tried.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cadencefi/dcad/internal/domain"
)

// Request carries the swap parameters and the constraints that steer venue
// selection.
type Request struct {
	Pair        string
	SellBase    bool
	AmountIn    uint64
	MinOut      uint64
	NotionalUSD float64
	SlippageBps uint32
	Preference  domain.VenuePreference
	Private     bool
}

// Selector implements the venue cascade over a set of registered adapters.
type Selector struct {
	mu       sync.RWMutex
	cfg      domain.RouterConfig
	adapters map[domain.Venue]domain.RouteAdapter
	logger   *slog.Logger
}

// New creates a Selector with the given policy table and adapters.
func New(cfg domain.RouterConfig, adapters map[domain.Venue]domain.RouteAdapter, logger *slog.Logger) *Selector {
	return &Selector{
		cfg:      cfg,
		adapters: adapters,
		logger:   logger.With(slog.String("component", "router")),
	}
}

// Config returns the current cascade policy table.
func (s *Selector) Config() domain.RouterConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetConfig replaces the cascade policy table. Safe to call while swaps are
// in flight; each swap reads the policy once at selection time.
func (s *Selector) SetConfig(cfg domain.RouterConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// SelectRoute returns the venues to try, in order. AUTO preference applies
// the cascade: the batch-auction venue leads for large notional or tight
// slippage tolerance, then the primary AMM, then the aggregator. A manual
// preference pins exactly one venue with no fallback.
func (s *Selector) SelectRoute(req Request) []domain.Venue {
	switch req.Preference {
	case domain.VenueAuctionOnly:
		return []domain.Venue{domain.VenueAuction}
	case domain.VenueAMMOnly:
		return []domain.Venue{domain.VenueAMM}
	case domain.VenueAggregatorOnly:
		return []domain.Venue{domain.VenueAggregator}
	}

	cfg := s.Config()
	large := cfg.BatchNotionalThreshold > 0 && req.AmountIn >= cfg.BatchNotionalThreshold
	tight := cfg.TightSlippageBps > 0 && req.SlippageBps <= cfg.TightSlippageBps
	if large || tight {
		return []domain.Venue{domain.VenueAuction, domain.VenueAMM, domain.VenueAggregator}
	}
	return []domain.Venue{domain.VenueAMM, domain.VenueAggregator}
}

// Swap walks the selected venues in order and executes on the first one that
// can fill. Adapter failures on intermediate venues fall through to the next
// candidate; only when every candidate fails does the swap fail as a whole.
func (s *Selector) Swap(ctx context.Context, req Request) (domain.RouteResult, error) {
	venues := s.SelectRoute(req)

	var lastErr error
	for _, venue := range venues {
		adapter, ok := s.adapters[venue]
		if !ok {
			lastErr = fmt.Errorf("router: venue %s not registered", venue)
			continue
		}

		quoted, err := adapter.Quote(ctx, req.Pair, req.SellBase, req.AmountIn)
		if err != nil {
			s.logger.WarnContext(ctx, "venue quote failed",
				slog.String("venue", string(venue)),
				slog.String("pair", req.Pair),
				slog.String("error", err.Error()),
			)
			lastErr = err
			continue
		}
		if quoted < req.MinOut {
			s.logger.DebugContext(ctx, "venue quote below min out",
				slog.String("venue", string(venue)),
				slog.Uint64("quoted", quoted),
				slog.Uint64("min_out", req.MinOut),
			)
			lastErr = fmt.Errorf("router: venue %s quote %d below min out %d", venue, quoted, req.MinOut)
			continue
		}

		out, err := adapter.Swap(ctx, domain.SwapRequest{
			Pair:     req.Pair,
			SellBase: req.SellBase,
			AmountIn: req.AmountIn,
			MinOut:   req.MinOut,
			Private:  req.Private,
		})
		if err != nil {
			s.logger.WarnContext(ctx, "venue swap failed",
				slog.String("venue", string(venue)),
				slog.String("pair", req.Pair),
				slog.String("error", err.Error()),
			)
			lastErr = err
			continue
		}

		return domain.RouteResult{Venue: venue, AmountIn: req.AmountIn, AmountOut: out}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("router: no venue candidates")
	}
	return domain.RouteResult{}, fmt.Errorf("%w: %v", domain.ErrRouteFailed, lastErr)
}
