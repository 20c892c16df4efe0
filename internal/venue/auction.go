package venue

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cadencefi/dcad/internal/domain"
)

// AuctionAdapter fills through the private batch-auction venue. Orders join
// the next auction round; Swap blocks until the round settles or the context
// expires, so a fill is always all-or-nothing from the caller's view.
type AuctionAdapter struct {
	c            *client
	pollInterval time.Duration
	maxWait      time.Duration
}

// NewAuctionAdapter creates an adapter for the auction API at baseURL.
func NewAuctionAdapter(baseURL, apiKey string) *AuctionAdapter {
	return &AuctionAdapter{
		c:            newClient(baseURL, apiKey),
		pollInterval: 2 * time.Second,
		maxWait:      90 * time.Second,
	}
}

type auctionQuoteResponse struct {
	AmountOut string `json:"amount_out"`
	ValidTo   string `json:"valid_to"`
}

// Quote returns the output the next auction round would currently deliver.
func (a *AuctionAdapter) Quote(ctx context.Context, pair string, sellBase bool, amountIn uint64) (uint64, error) {
	req := map[string]any{
		"pair":      pair,
		"sell_base": sellBase,
		"amount_in": strconv.FormatUint(amountIn, 10),
	}

	var resp auctionQuoteResponse
	if err := a.c.doJSON(ctx, http.MethodPost, "/api/v1/quote", req, &resp); err != nil {
		return 0, fmt.Errorf("venue/auction: quote %s: %w", pair, err)
	}

	out, err := strconv.ParseUint(resp.AmountOut, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("venue/auction: quote %s: bad amount %q", pair, resp.AmountOut)
	}
	return out, nil
}

type auctionOrderResponse struct {
	OrderID string `json:"order_id"`
}

type auctionStatusResponse struct {
	Status    string `json:"status"` // pending, filled, expired, rejected
	AmountOut string `json:"amount_out"`
}

// Swap places an order for the next auction round and polls until it fills.
// Expired and rejected orders return ErrRouteFailed with no funds moved.
func (a *AuctionAdapter) Swap(ctx context.Context, req domain.SwapRequest) (uint64, error) {
	order := map[string]any{
		"pair":      req.Pair,
		"sell_base": req.SellBase,
		"amount_in": strconv.FormatUint(req.AmountIn, 10),
		"min_out":   strconv.FormatUint(req.MinOut, 10),
	}

	var placed auctionOrderResponse
	if err := a.c.doJSON(ctx, http.MethodPost, "/api/v1/orders", order, &placed); err != nil {
		return 0, fmt.Errorf("venue/auction: place order %s: %w", req.Pair, err)
	}
	if placed.OrderID == "" {
		return 0, fmt.Errorf("venue/auction: place order %s: empty order id", req.Pair)
	}

	deadline := time.Now().Add(a.maxWait)
	for {
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("venue/auction: order %s: %w", placed.OrderID, ctx.Err())
		case <-time.After(a.pollInterval):
		}

		var status auctionStatusResponse
		if err := a.c.doJSON(ctx, http.MethodGet, "/api/v1/orders/"+placed.OrderID, nil, &status); err != nil {
			return 0, fmt.Errorf("venue/auction: order status %s: %w", placed.OrderID, err)
		}

		switch status.Status {
		case "filled":
			out, err := strconv.ParseUint(status.AmountOut, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("venue/auction: order %s: bad amount %q", placed.OrderID, status.AmountOut)
			}
			return out, nil
		case "expired", "rejected":
			return 0, fmt.Errorf("venue/auction: order %s %s: %w", placed.OrderID, status.Status, domain.ErrRouteFailed)
		}

		if time.Now().After(deadline) {
			return 0, fmt.Errorf("venue/auction: order %s timed out: %w", placed.OrderID, domain.ErrRouteFailed)
		}
	}
}

var _ domain.RouteAdapter = (*AuctionAdapter)(nil)
