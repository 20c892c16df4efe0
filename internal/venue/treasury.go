package venue

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cadencefi/dcad/internal/domain"
)

// TreasuryClient forwards collected protocol fees to the custody API, which
// settles them into the treasury multisig.
type TreasuryClient struct {
	c *client
}

// NewTreasuryClient creates a client for the custody API at baseURL.
func NewTreasuryClient(baseURL, apiKey string) *TreasuryClient {
	return &TreasuryClient{c: newClient(baseURL, apiKey)}
}

type treasuryTransferResponse struct {
	TransferID string `json:"transfer_id"`
}

// Collect records a fee transfer of amount base units of asset.
func (t *TreasuryClient) Collect(ctx context.Context, asset string, amount uint64) error {
	body := map[string]any{
		"asset":       asset,
		"amount":      strconv.FormatUint(amount, 10),
		"destination": "treasury",
	}

	var resp treasuryTransferResponse
	if err := t.c.doJSON(ctx, http.MethodPost, "/v1/transfers", body, &resp); err != nil {
		return fmt.Errorf("venue/treasury: collect %d %s: %w", amount, asset, err)
	}
	return nil
}

// Distribute records a fee transfer of amount base units of asset to an
// individual recipient address.
func (t *TreasuryClient) Distribute(ctx context.Context, asset string, to common.Address, amount uint64) error {
	body := map[string]any{
		"asset":       asset,
		"amount":      strconv.FormatUint(amount, 10),
		"destination": to.Hex(),
	}

	var resp treasuryTransferResponse
	if err := t.c.doJSON(ctx, http.MethodPost, "/v1/transfers", body, &resp); err != nil {
		return fmt.Errorf("venue/treasury: distribute %d %s to %s: %w", amount, asset, to.Hex(), err)
	}
	return nil
}

var _ domain.TreasurySink = (*TreasuryClient)(nil)
