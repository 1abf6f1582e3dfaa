package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math/big"
)

// DepositID derives the canonical deposit id as a pure function of
// (fundingTxHash, fundingOutputIndex): sha256(fundingTxHash ||
// big-endian-uint32(fundingOutputIndex)), hex-encoded. Invariant 1:
// repeated calls with the same inputs must yield byte-identical ids.
func DepositID(fundingTxHash []byte, fundingOutputIndex uint32) string {
	sum := depositIDBytes(fundingTxHash, fundingOutputIndex)
	return hex.EncodeToString(sum[:])
}

// DepositIDBigInt returns the same id expressed as a 256-bit unsigned
// big-endian integer, for on-chain calls that take a uint256 depositKey.
func DepositIDBigInt(fundingTxHash []byte, fundingOutputIndex uint32) *big.Int {
	sum := depositIDBytes(fundingTxHash, fundingOutputIndex)
	return new(big.Int).SetBytes(sum[:])
}

// RedemptionKeyBigInt derives the on-chain redemption key the bridge
// uses to look up a pending redemption request: sha256(walletPubKeyHash
// || redeemerOutputScript), expressed as a uint256 for contract calls.
func RedemptionKeyBigInt(walletPubKeyHash [20]byte, redeemerOutputScript []byte) *big.Int {
	h := sha256.New()
	h.Write(walletPubKeyHash[:])
	h.Write(redeemerOutputScript)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return new(big.Int).SetBytes(out[:])
}

func depositIDBytes(fundingTxHash []byte, fundingOutputIndex uint32) [32]byte {
	h := sha256.New()
	h.Write(fundingTxHash)
	var idxBuf [4]byte
	binary.BigEndian.PutUint32(idxBuf[:], fundingOutputIndex)
	h.Write(idxBuf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
