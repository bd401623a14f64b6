// Package chain implements the reorg engine: block acceptance, fork
// detection, chain selection, and the wind/unwind algorithm that keeps the
// UTXO set, BlockRing, and wallet mirror consistent across reorganizations.
package chain

import (
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/ring"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// GenesisPeriod, RingBufferLength, PruneAfterBlocks and MaxStakerRecursion
// are the peer-visible constants of §6: every node on the network must
// agree on them.
const (
	GenesisPeriod     = ring.GenesisPeriod
	RingBufferLength  = ring.RingBufferLength
	PruneAfterBlocks  = 6
	MaxStakerRecursion = 3
)

// Blockchain is the block store, fork detector, and reorg engine. It owns
// the authoritative UtxoSet and drives the WalletMirror; Mempool and peer
// transport are external collaborators reached through narrow interfaces.
type Blockchain struct {
	mu sync.Mutex

	ring  *ring.Ring
	store *BlockStore
	utxos utxo.Set

	mempool Mempool
	wallet  WalletMirror
	peers   PeerRequester
	onReorg ReorgHook

	blocks map[types.Hash]*block.Block // content-addressed; mirrors store, may be a subset (Ghost/Pruned entries cache only the header)

	state State
}

// New creates a Blockchain over the given storage, UTXO set, and mempool.
// wallet and peers may be nil (a no-op mirror and best-effort-drop parent
// fetching, respectively).
func New(db storage.DB, utxos utxo.Set, mp Mempool, wallet WalletMirror, peers PeerRequester) (*Blockchain, error) {
	store := NewBlockStore(db)
	st, err := store.GetTip()
	if err != nil {
		return nil, fmt.Errorf("load tip: %w", err)
	}

	bc := &Blockchain{
		ring:    ring.New(),
		store:   store,
		utxos:   utxos,
		mempool: mp,
		wallet:  wallet,
		peers:   peers,
		blocks:  make(map[types.Hash]*block.Block),
		state:   st,
	}
	return bc, nil
}

// SetReorgHook installs the per-block notification callback used by
// subsystems (mining, network propagation) that need to react to every
// wind/unwind step, not just the final commit.
func (bc *Blockchain) SetReorgHook(hook ReorgHook) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.onReorg = hook
}

// SetMempool attaches the Mempool collaborator after construction. This
// exists because a Mempool is itself constructed from a Blockchain's
// UTXOProvider (§4.4's add_transaction_if_validates needs live chain state),
// so the two cannot be built in a single pass: callers build the Blockchain,
// derive a Mempool from its UTXOProvider, then attach it back here.
func (bc *Blockchain) SetMempool(mp Mempool) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.mempool = mp
}

// SetWallet attaches the WalletMirror collaborator after construction, for
// the same reason SetMempool exists: wiring order in internal/node builds
// the Blockchain before deciding which wallet (if any) to mirror.
func (bc *Blockchain) SetWallet(w WalletMirror) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.wallet = w
}

// LatestID returns the current tip height.
func (bc *Blockchain) LatestID() uint64 {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.state.LatestID
}

// LatestHash returns the current tip hash.
func (bc *Blockchain) LatestHash() types.Hash {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.state.LatestHash
}

// GetBlock returns a block by hash, loading it from storage if it is not
// resident in the in-memory cache.
func (bc *Blockchain) GetBlock(hash types.Hash) (*block.Block, bool) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.getBlockLocked(hash)
}

// GetBlockByHeight returns the longest-chain block at the given height.
func (bc *Blockchain) GetBlockByHeight(height uint64) (*block.Block, bool) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	hash := bc.ring.LongestHashAt(height)
	if hash.IsZero() {
		return nil, false
	}
	return bc.getBlockLocked(hash)
}

func (bc *Blockchain) getBlockLocked(hash types.Hash) (*block.Block, bool) {
	if blk, ok := bc.blocks[hash]; ok {
		return blk, true
	}
	blk, err := bc.store.GetBlock(hash)
	if err != nil {
		return nil, false
	}
	bc.blocks[hash] = blk
	return blk, true
}

// AddBlock runs the top-level add-block protocol (§4.5.1). sourcePeer is
// the peer id the block arrived from, or "" for locally-bundled blocks.
func (bc *Blockchain) AddBlock(blk *block.Block, sourcePeer string) (Result, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	// Step 1: recompute derived fields.
	h := blk.Hash()
	id := blk.ID()

	// Step 2.
	if _, exists := bc.blocks[h]; exists {
		return BlockAlreadyExists, nil
	}

	// Step 3: parent-not-yet-present.
	if !bc.ring.IsEmpty() {
		parentHash := blk.Header.PrevHash
		if _, known := bc.getBlockLocked(parentHash); !known && !parentHash.IsZero() {
			if sourcePeer != "" && bc.peers != nil {
				if bc.mempool == nil || !bc.mempool.HasQueuedBlock(parentHash) {
					_ = bc.peers.RequestBlock(parentHash, sourcePeer)
				}
				if bc.mempool != nil {
					bc.mempool.AddBlock(blk)
				}
				return FailedButRetry, nil
			}
			// No source peer attached: drop the fetch attempt silently and
			// fall through, treating the block like an orphan-of-genesis —
			// it is re-attempted if the parent shows up later.
		}
	}

	// Step 4.
	if !bc.ring.Contains(id, h) {
		bc.ring.AddBlock(id, h)
	}
	bc.blocks[h] = blk

	// Step 5: fork geometry.
	newChain, commonAncestor, found := bc.walkNewChain(h)
	oldChain := bc.walkOldChain(commonAncestor)
	amILongest := false

	tipHash := bc.ring.LatestHash()
	if !found && blk.Header.PrevHash == tipHash {
		latestID := bc.state.LatestID
		for height := id + 1; height <= latestID; height++ {
			hh := bc.ring.LongestHashAt(height)
			if hh.IsZero() {
				continue
			}
			if b2, ok := bc.blocks[hh]; ok {
				b2.InLongestChain = false
			}
			bc.ring.OnChainReorganization(height, hh, false)
		}
		newChain = []*block.Block{blk}
		amILongest = true
	}

	// Step 6.
	if !amILongest {
		if len(newChain) > len(oldChain) &&
			sumBurnFee(newChain) >= sumBurnFee(oldChain) &&
			id > bc.state.LatestID {
			amILongest = true
		}
	}

	// Step 7.
	if !amILongest {
		bc.addBlockSuccessLocked(blk)
		return BlockAdded, nil
	}

	// Step 8: golden-ticket density precheck.
	if !bc.goldenTicketDensityOK(blk.Header.PrevHash, blk.Header.HasGoldenTicket) {
		delete(bc.blocks, h)
		bc.ring.DeleteBlock(id, h)
		return FailedNotValid, nil
	}

	// Step 9: reorg.
	blk.InLongestChain = true
	if bc.validateChain(newChain, oldChain) {
		bc.addBlockSuccessLocked(blk)
		return BlockAdded, nil
	}

	blk.InLongestChain = false
	bc.addBlockFailureLocked(blk)
	return FailedButRetry, nil
}

// walkNewChain walks predecessors of h, collecting every block not yet on
// the longest chain, stopping at the first ancestor that is (the common
// ancestor, excluded and returned separately) or at a missing/zero
// predecessor (found=false).
func (bc *Blockchain) walkNewChain(h types.Hash) (chain []*block.Block, commonAncestor types.Hash, found bool) {
	cur := h
	for {
		blk, ok := bc.blocks[cur]
		if !ok {
			return chain, types.Hash{}, false
		}
		if blk.InLongestChain {
			return chain, cur, true
		}
		chain = append(chain, blk)
		if blk.Header.PrevHash.IsZero() {
			return chain, types.Hash{}, false
		}
		cur = blk.Header.PrevHash
	}
}

// walkOldChain walks predecessors of the current tip until reaching
// commonAncestor (or the zero hash), collecting every block to be unwound.
func (bc *Blockchain) walkOldChain(commonAncestor types.Hash) []*block.Block {
	var chain []*block.Block
	cur := bc.ring.LatestHash()
	for {
		if cur.IsZero() || cur == commonAncestor {
			return chain
		}
		blk, ok := bc.blocks[cur]
		if !ok {
			return chain
		}
		chain = append(chain, blk)
		cur = blk.Header.PrevHash
	}
}

func sumBurnFee(chain []*block.Block) uint64 {
	var total uint64
	for _, b := range chain {
		total += b.Header.BurnFee
	}
	return total
}
