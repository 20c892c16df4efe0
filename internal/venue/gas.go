package venue

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/cadencefi/dcad/internal/domain"
)

const gasCacheTTL = 15 * time.Second

// EthGasOracle reads the current base fee from an Ethereum JSON-RPC node.
// Readings are cached briefly because the gas-cost guard runs on every
// execution attempt.
type EthGasOracle struct {
	client *ethclient.Client

	mu       sync.Mutex
	cached   float64
	cachedAt time.Time
}

// NewEthGasOracle connects to the JSON-RPC endpoint at rpcURL.
func NewEthGasOracle(ctx context.Context, rpcURL string) (*EthGasOracle, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("venue/gas: dial %s: %w", rpcURL, err)
	}
	return &EthGasOracle{client: client}, nil
}

// BaseFeeGwei returns the suggested gas price in gwei.
func (o *EthGasOracle) BaseFeeGwei(ctx context.Context) (float64, error) {
	o.mu.Lock()
	if !o.cachedAt.IsZero() && time.Since(o.cachedAt) < gasCacheTTL {
		cached := o.cached
		o.mu.Unlock()
		return cached, nil
	}
	o.mu.Unlock()

	wei, err := o.client.SuggestGasPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("venue/gas: suggest gas price: %w", err)
	}

	gweiFloat, _ := new(big.Float).Quo(
		new(big.Float).SetInt(wei),
		big.NewFloat(1e9),
	).Float64()

	o.mu.Lock()
	o.cached = gweiFloat
	o.cachedAt = time.Now()
	o.mu.Unlock()

	return gweiFloat, nil
}

// Close releases the underlying RPC connection.
func (o *EthGasOracle) Close() {
	o.client.Close()
}

var _ domain.GasOracle = (*EthGasOracle)(nil)
