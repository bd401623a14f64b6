package utxo

import (
	"sort"

	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Commitment computes a deterministic merkle root over every spendable key
// in the set. Spent (false) keys are excluded — the commitment describes
// the currently-spendable surface, not the full known-key history.
func Commitment(s *Store) (types.Hash, error) {
	var hashes []types.Hash
	err := s.Iter(func(key types.Hash, spendable bool) error {
		if spendable {
			hashes = append(hashes, key)
		}
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	if len(hashes) == 0 {
		return types.Hash{}, nil
	}
	sort.Slice(hashes, func(i, j int) bool {
		return hashLess(hashes[i], hashes[j])
	})
	return block.ComputeMerkleRoot(hashes), nil
}

func hashLess(a, b types.Hash) bool {
	for i := 0; i < types.HashSize; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
