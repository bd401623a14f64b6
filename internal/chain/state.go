package chain

import "github.com/Klingon-tech/klingnet-chain/pkg/types"

// State holds the chain's current tip and pruning bookkeeping. It is
// written through BlockStore.SetTip after each added block and loaded back
// from the store by New.
type State struct {
	LatestID       uint64
	LatestHash     types.Hash
	GenesisBlockID uint64 // Set to LatestID-GenesisPeriod each time pruning runs; downgradeOlderThan starts here.
	ForkID         [32]byte
}

// IsGenesis reports whether the chain has no blocks yet.
func (s *State) IsGenesis() bool {
	return s.LatestID == 0 && s.LatestHash.IsZero()
}
