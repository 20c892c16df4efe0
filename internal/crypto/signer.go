package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Settlement(uint256 positionId,uint256 period,uint256 spent,uint256 received,uint256 fees,string venue,uint256 executedAt)
	settlementTypeHash = ethcrypto.Keccak256(
		[]byte("Settlement(uint256 positionId,uint256 period,uint256 spent,uint256 received,uint256 fees,string venue,uint256 executedAt)"),
	)
)

// SettlementPayload is the attestation a keeper signs for each completed
// execution so downstream consumers can verify who produced the fill.
type SettlementPayload struct {
	PositionID uint64 `json:"position_id"`
	Period     uint64 `json:"period"`
	Spent      uint64 `json:"spent"`
	Received   uint64 `json:"received"`
	Fees       uint64 `json:"fees"`
	Venue      string `json:"venue"`
	ExecutedAt int64  `json:"executed_at"` // Unix seconds
}

// Signer produces EIP-712 settlement attestations with the keeper's key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
	domainSep  []byte // cached EIP-712 domain separator hash
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the target chain ID.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	addr := ethcrypto.PubkeyToAddress(pk.PublicKey)

	s := &Signer{
		privateKey: pk,
		address:    addr,
		chainID:    chainID,
	}
	s.domainSep = buildDomainSeparator("CadenceSettlement", "1", chainID)

	return s, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignSettlement signs a Settlement EIP-712 struct. It returns a hex-encoded
// 65-byte signature (r || s || v).
func (s *Signer) SignSettlement(p SettlementPayload) (string, error) {
	digest := eip712Hash(s.domainSep, settlementStructHash(p))
	return s.signDigest(digest)
}

// VerifySettlement recovers the signer address of a settlement signature
// produced by SignSettlement.
func VerifySettlement(p SettlementPayload, sigHex string, chainID int) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: expected 65-byte signature, got %d", len(sig))
	}

	// Normalise v back to {0,1} for recovery.
	recSig := make([]byte, 65)
	copy(recSig, sig)
	if recSig[64] >= 27 {
		recSig[64] -= 27
	}

	domainSep := buildDomainSeparator("CadenceSettlement", "1", chainID)
	digest := eip712Hash(domainSep, settlementStructHash(p))

	pub, err := ethcrypto.SigToPub(digest, recSig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func buildDomainSeparator(name, version string, chainID int) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(int64(chainID))),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// settlementStructHash encodes and hashes a SettlementPayload per EIP-712.
// Dynamic types (the venue string) are hashed before encoding.
func settlementStructHash(p SettlementPayload) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			settlementTypeHash,
			bigIntTo32Bytes(new(big.Int).SetUint64(p.PositionID)),
			bigIntTo32Bytes(new(big.Int).SetUint64(p.Period)),
			bigIntTo32Bytes(new(big.Int).SetUint64(p.Spent)),
			bigIntTo32Bytes(new(big.Int).SetUint64(p.Received)),
			bigIntTo32Bytes(new(big.Int).SetUint64(p.Fees)),
			ethcrypto.Keccak256([]byte(p.Venue)),
			bigIntTo32Bytes(big.NewInt(p.ExecutedAt)),
		),
	)
}

// signDigest signs a 32-byte digest using secp256k1 and returns the
// hex-encoded signature (r || s || v, 65 bytes).
func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
