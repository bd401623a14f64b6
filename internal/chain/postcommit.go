package chain

import (
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// addBlockSuccessLocked runs the post-commit protocol of §4.5.4. Caller
// must hold bc.mu.
func (bc *Blockchain) addBlockSuccessLocked(blk *block.Block) {
	if blk.Tier != block.HeaderOnly {
		_ = bc.store.PutBlock(blk)
	}

	if bc.mempool != nil {
		bc.mempool.RemoveConfirmed(blk.Transactions)
		bc.mempool.PruneInvalid(bc.utxoProviderLocked())
	}

	if blk.InLongestChain {
		bc.state.LatestID = blk.ID()
		bc.state.LatestHash = blk.Hash()
	}

	latestID := bc.state.LatestID

	if latestID > GenesisPeriod {
		bc.ensureFull(latestID - GenesisPeriod)
	}

	if latestID >= 2*GenesisPeriod+1 {
		pruneHeight := latestID - 2*GenesisPeriod
		bc.pruneHeight(pruneHeight)

		bc.state.GenesisBlockID = latestID - GenesisPeriod
		bc.state.ForkID = bc.generateForkID(latestID)

		if latestID > PruneAfterBlocks {
			bc.downgradeOlderThan(latestID - PruneAfterBlocks)
		}
	}

	_ = bc.store.SetTip(bc.state)
}

// addBlockFailureLocked runs §4.5.5. Caller must hold bc.mu.
func (bc *Blockchain) addBlockFailureLocked(blk *block.Block) {
	h := blk.Hash()
	delete(bc.blocks, h)
	bc.ring.DeleteBlock(blk.ID(), h)

	if bc.mempool != nil {
		bc.mempool.DeleteBlock(h)
	}

	// Any block carrying a Creator has its transactions offered back: the
	// Blockchain holds no node key, so blocks this node signed are not told
	// apart from blocks signed by peers.
	if blk.Header.Creator != nil && bc.mempool != nil {
		for _, t := range blk.Transactions {
			if t.Type != tx.Normal {
				continue // Special transaction types are not returned.
			}
			_, _ = bc.mempool.Add(t)
		}
		bc.mempool.PruneInvalid(bc.utxoProviderLocked())
	}
}

// ensureFull promotes the longest-chain block at height to Full tier so
// its outputs remain available as pruning reference data.
func (bc *Blockchain) ensureFull(height uint64) {
	hash := bc.ring.LongestHashAt(height)
	if hash.IsZero() {
		return
	}
	if blk, ok := bc.getBlockLocked(hash); ok {
		bc.promoteFull(blk)
	}
}

// pruneHeight destroys every block stored at height, across every fork.
func (bc *Blockchain) pruneHeight(height uint64) {
	for _, hash := range bc.ring.HashesAt(height) {
		blk, ok := bc.blocks[hash]
		if !ok {
			var err error
			blk, err = bc.store.GetBlock(hash)
			if err != nil {
				continue
			}
		}
		_ = bc.store.DeleteBlock(blk)
		delete(bc.blocks, hash)
		bc.ring.DeleteBlock(height, hash)
	}
}

// downgradeOlderThan drops the in-memory transaction payload (not the
// on-disk record) of every longest-chain block below the given height,
// tiering them Pruned. They reload transparently via BlockStore the next
// time a Slip lookup or wind/unwind needs them.
func (bc *Blockchain) downgradeOlderThan(height uint64) {
	if height == 0 {
		return
	}
	start := bc.state.GenesisBlockID // Never walk below what pruneHeight has already destroyed.
	if start > height {
		return
	}
	for h := start; h < height; h++ {
		hash := bc.ring.LongestHashAt(h)
		if hash.IsZero() {
			continue
		}
		if blk, ok := bc.blocks[hash]; ok && blk.Tier == block.Full {
			blk.Transactions = nil
			blk.Tier = block.Pruned
		}
	}
}
