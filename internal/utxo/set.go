// Package utxo implements the authoritative spend-state of the active chain:
// a mapping from slip key to spendable flag. A key never present means
// "unknown" — validation treats spending an unknown key as invalid.
package utxo

import "github.com/Klingon-tech/klingnet-chain/pkg/types"

// Set is the interface for UTXO set storage.
type Set interface {
	// Get reports whether key is known and, if so, whether it is currently
	// spendable on the active chain.
	Get(key types.Hash) (spendable bool, known bool, err error)
	// InsertSpendable marks key as a new spendable output.
	InsertSpendable(key types.Hash) error
	// MarkSpent flips a known key to false (spent, retained until pruning).
	MarkSpent(key types.Hash) error
	// Iter calls fn for every (key, spendable) pair in the set.
	Iter(fn func(key types.Hash, spendable bool) error) error
}
