// Package crypto provides the hashing and signing primitives every other
// package builds on: block/transaction hashes, slip keys, golden-ticket
// proofs, and wallet addresses all reduce to the functions in this file.
package crypto

import (
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/zeebo/blake3"
)

// Hash computes a BLAKE3-256 hash of the input data. Every identity in this
// system — block hash, transaction hash, UTXO slip key, golden-ticket
// target — is a Hash produced here.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// DoubleHash computes Hash(Hash(data)).
func DoubleHash(data []byte) types.Hash {
	first := Hash(data)
	return Hash(first[:])
}

// AddressFromPubKey derives a wallet address from a compressed public key:
// Address = BLAKE3(compressed_pubkey)[:20].
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Hash(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}

// HashConcat hashes the concatenation of two hashes, the pairing step a
// merkle root is built from.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}
