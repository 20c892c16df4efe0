package venue

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cadencefi/dcad/internal/domain"
)

// AggregatorAdapter fills through the meta-aggregator, which splits the
// order across whatever liquidity it finds. It is the last rung of the AUTO
// cascade.
type AggregatorAdapter struct {
	c *client
}

// NewAggregatorAdapter creates an adapter for the aggregator API at baseURL.
func NewAggregatorAdapter(baseURL, apiKey string) *AggregatorAdapter {
	return &AggregatorAdapter{c: newClient(baseURL, apiKey)}
}

type aggQuoteResponse struct {
	BuyAmount string `json:"buy_amount"`
	Sources   []struct {
		Name       string `json:"name"`
		Proportion string `json:"proportion"`
	} `json:"sources"`
}

// Quote returns the aggregated output for the given input.
func (a *AggregatorAdapter) Quote(ctx context.Context, pair string, sellBase bool, amountIn uint64) (uint64, error) {
	path := fmt.Sprintf("/swap/v1/quote?pair=%s&sell_base=%t&sell_amount=%d", pair, sellBase, amountIn)

	var resp aggQuoteResponse
	if err := a.c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("venue/aggregator: quote %s: %w", pair, err)
	}

	out, err := strconv.ParseUint(resp.BuyAmount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("venue/aggregator: quote %s: bad amount %q", pair, resp.BuyAmount)
	}
	return out, nil
}

type aggSwapResponse struct {
	Status    string `json:"status"`
	BuyAmount string `json:"buy_amount"`
}

// Swap executes the aggregated fill.
func (a *AggregatorAdapter) Swap(ctx context.Context, req domain.SwapRequest) (uint64, error) {
	body := map[string]any{
		"pair":        req.Pair,
		"sell_base":   req.SellBase,
		"sell_amount": strconv.FormatUint(req.AmountIn, 10),
		"min_buy":     strconv.FormatUint(req.MinOut, 10),
	}

	var resp aggSwapResponse
	if err := a.c.doJSON(ctx, http.MethodPost, "/swap/v1/execute", body, &resp); err != nil {
		return 0, fmt.Errorf("venue/aggregator: swap %s: %w", req.Pair, err)
	}
	if resp.Status != "filled" {
		return 0, fmt.Errorf("venue/aggregator: swap %s %s: %w", req.Pair, resp.Status, domain.ErrRouteFailed)
	}

	out, err := strconv.ParseUint(resp.BuyAmount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("venue/aggregator: swap %s: bad amount %q", req.Pair, resp.BuyAmount)
	}
	return out, nil
}

var _ domain.RouteAdapter = (*AggregatorAdapter)(nil)
