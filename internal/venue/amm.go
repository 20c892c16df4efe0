package venue

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cadencefi/dcad/internal/domain"
)

// AMMAdapter fills against the primary AMM through its execution API. The
// Private flag on a request routes the transaction through the venue's
// private relay instead of the public mempool.
type AMMAdapter struct {
	c *client
}

// NewAMMAdapter creates an adapter for the AMM execution API at baseURL.
func NewAMMAdapter(baseURL, apiKey string) *AMMAdapter {
	return &AMMAdapter{c: newClient(baseURL, apiKey)}
}

type ammQuoteResponse struct {
	AmountOut string `json:"amount_out"`
}

// Quote returns the AMM's current output for the given input.
func (a *AMMAdapter) Quote(ctx context.Context, pair string, sellBase bool, amountIn uint64) (uint64, error) {
	path := fmt.Sprintf("/v1/quote?pair=%s&sell_base=%t&amount_in=%d", pair, sellBase, amountIn)

	var resp ammQuoteResponse
	if err := a.c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, fmt.Errorf("venue/amm: quote %s: %w", pair, err)
	}

	out, err := strconv.ParseUint(resp.AmountOut, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("venue/amm: quote %s: bad amount %q", pair, resp.AmountOut)
	}
	return out, nil
}

type ammSwapResponse struct {
	Status    string `json:"status"` // confirmed, reverted
	AmountOut string `json:"amount_out"`
	TxHash    string `json:"tx_hash"`
}

// Swap executes the conversion. The API confirms the transaction before
// responding; a reverted transaction moved no funds.
func (a *AMMAdapter) Swap(ctx context.Context, req domain.SwapRequest) (uint64, error) {
	body := map[string]any{
		"pair":      req.Pair,
		"sell_base": req.SellBase,
		"amount_in": strconv.FormatUint(req.AmountIn, 10),
		"min_out":   strconv.FormatUint(req.MinOut, 10),
		"private":   req.Private,
	}

	var resp ammSwapResponse
	if err := a.c.doJSON(ctx, http.MethodPost, "/v1/swap", body, &resp); err != nil {
		return 0, fmt.Errorf("venue/amm: swap %s: %w", req.Pair, err)
	}
	if resp.Status != "confirmed" {
		return 0, fmt.Errorf("venue/amm: swap %s %s (tx %s): %w", req.Pair, resp.Status, resp.TxHash, domain.ErrRouteFailed)
	}

	out, err := strconv.ParseUint(resp.AmountOut, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("venue/amm: swap %s: bad amount %q", req.Pair, resp.AmountOut)
	}
	return out, nil
}

var _ domain.RouteAdapter = (*AMMAdapter)(nil)
