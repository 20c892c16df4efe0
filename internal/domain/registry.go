package domain

import "github.com/ethereum/go-ethereum/common"

// CertificateRegistry is the external transferable-certificate relation that
// represents position ownership. The ledger mints a certificate on create,
// burns it on cancel, and resolves the current owner through OwnerOf on every
// capability check; it never stores a duplicate owner field as ground truth.
type CertificateRegistry interface {
	Mint(id uint64, owner common.Address) error
	Burn(id uint64) error
	Transfer(id uint64, from, to common.Address) error
	OwnerOf(id uint64) (common.Address, error)
}
