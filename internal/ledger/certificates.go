package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cadencefi/dcad/internal/domain"
)

// MemoryRegistry is an in-process implementation of the ownership-certificate
// registry. Deployments backed by an on-chain NFT contract replace this with
// an adapter; the ledger only ever talks to the interface.
type MemoryRegistry struct {
	mu     sync.Mutex
	owners map[uint64]common.Address

	// onTransfer lets the ledger keep its reverse owner index in sync when
	// a certificate changes hands outside a ledger call.
	onTransfer func(id uint64, from, to common.Address)
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{owners: make(map[uint64]common.Address)}
}

// SetTransferListener registers the callback invoked after every successful
// Transfer. Must be set before the registry is shared.
func (r *MemoryRegistry) SetTransferListener(fn func(id uint64, from, to common.Address)) {
	r.onTransfer = fn
}

// Mint opens a certificate for id owned by owner.
func (r *MemoryRegistry) Mint(id uint64, owner common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owners[id]; ok {
		return fmt.Errorf("registry: certificate %d already minted", id)
	}
	r.owners[id] = owner
	return nil
}

// Burn releases the certificate for id.
func (r *MemoryRegistry) Burn(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owners[id]; !ok {
		return fmt.Errorf("registry: certificate %d: %w", id, domain.ErrNotFound)
	}
	delete(r.owners, id)
	return nil
}

// Transfer moves the certificate from one principal to another. Ownership
// transfer changes the effective owner and nothing else.
func (r *MemoryRegistry) Transfer(id uint64, from, to common.Address) error {
	r.mu.Lock()
	owner, ok := r.owners[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("registry: certificate %d: %w", id, domain.ErrNotFound)
	}
	if owner != from {
		r.mu.Unlock()
		return fmt.Errorf("registry: certificate %d: %w", id, domain.ErrUnauthorized)
	}
	r.owners[id] = to
	fn := r.onTransfer
	r.mu.Unlock()

	if fn != nil {
		fn(id, from, to)
	}
	return nil
}

// OwnerOf resolves the current owner of id.
func (r *MemoryRegistry) OwnerOf(id uint64) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[id]
	if !ok {
		return common.Address{}, fmt.Errorf("registry: certificate %d: %w", id, domain.ErrNotFound)
	}
	return owner, nil
}
