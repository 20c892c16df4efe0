package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cadencefi/dcad/internal/oracle"
)

// PriceService is the oracle surface the price handler requires.
type PriceService interface {
	LatestPrice(ctx context.Context, asset string) (oracle.Price, error)
	LatestObservation(pair string) (float64, time.Time, error)
	TWAP(pair string, window time.Duration) (float64, error)
}

// PricesHandler serves aggregated prices and venue observation reads.
type PricesHandler struct {
	oracle PriceService
	logger *slog.Logger
}

// NewPricesHandler creates a PricesHandler.
func NewPricesHandler(svc PriceService, logger *slog.Logger) *PricesHandler {
	return &PricesHandler{
		oracle: svc,
		logger: logger.With(slog.String("handler", "prices")),
	}
}

// Latest returns the aggregated USD price for an asset.
// GET /api/prices/{asset}
func (h *PricesHandler) Latest(w http.ResponseWriter, r *http.Request) {
	asset := r.PathValue("asset")
	if asset == "" {
		writeError(w, http.StatusBadRequest, "asset required")
		return
	}

	price, err := h.oracle.LatestPrice(r.Context(), asset)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"asset":      asset,
		"price_usd":  price.Value,
		"timestamp":  price.Timestamp,
		"confidence": price.Confidence,
	})
}

// Twap returns the time-weighted average venue price for a pair.
// GET /api/twap?pair=WETH/USDC&window_secs=1800
func (h *PricesHandler) Twap(w http.ResponseWriter, r *http.Request) {
	pair := r.URL.Query().Get("pair")
	if pair == "" {
		writeError(w, http.StatusBadRequest, "pair required")
		return
	}

	windowSecs := int64(1800)
	if v := r.URL.Query().Get("window_secs"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window_secs")
			return
		}
		windowSecs = n
	}
	window := time.Duration(windowSecs) * time.Second

	twap, err := h.oracle.TWAP(pair, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{
		"pair":        pair,
		"twap":        twap,
		"window_secs": windowSecs,
	}
	if spot, at, err := h.oracle.LatestObservation(pair); err == nil {
		resp["spot"] = spot
		resp["spot_at"] = at
	}

	writeJSON(w, http.StatusOK, resp)
}
