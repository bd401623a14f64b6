package mempool

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-chain/internal/burnfee"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// ErrCannotBundle is returned by BundleBlock when CanBundleBlock's
// preconditions are not currently met.
var ErrCannotBundle = errors.New("mempool cannot bundle a block right now")

// ChainTip is the narrow view of Blockchain that bundling needs: the
// current tip (to root the new block and read its burnfee/timestamp for
// BurnFee.WorkNeeded) and the golden-ticket density precheck AddBlock will
// itself run. Satisfied by *chain.Blockchain without an import — chain
// depends on this package's Mempool shape, not the reverse.
type ChainTip interface {
	LatestHash() types.Hash
	GetBlock(hash types.Hash) (*block.Block, bool)
	GoldenTicketDensityOK(candidateHasTicket bool) bool
}

// CanBundleBlock reports whether every precondition of can_bundle_block
// holds, and if so the routing work currently available. A chain with no
// tip yet (genesis not created) is never bundle-ready here — callers use
// BundleGenesisBlock for that.
func (p *Pool) CanBundleBlock(tip ChainTip, currentTS uint64) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canBundleBlockLocked(tip, currentTS)
}

func (p *Pool) canBundleBlockLocked(tip ChainTip, currentTS uint64) (uint64, bool) {
	tipHash := tip.LatestHash()
	if tipHash.IsZero() {
		return 0, false
	}
	if len(p.blocksQueue) > 0 {
		return 0, false
	}
	if len(p.transactions) == 0 || !p.newTxAdded {
		return 0, false
	}

	_, gtTarget := p.bestGoldenTicketLocked(tipHash)
	if !tip.GoldenTicketDensityOK(gtTarget != (types.Hash{})) {
		return 0, false
	}

	tipBlock, ok := tip.GetBlock(tipHash)
	if !ok {
		return 0, false
	}
	needed := burnfee.WorkNeeded(tipBlock.Header.BurnFee, currentTS, tipBlock.Header.Timestamp)
	if p.routingWorkInMempool < needed {
		return 0, false
	}
	return p.routingWorkInMempool, true
}

// BundleBlock drains the mempool into a new block rooted at the current
// tip, iff CanBundleBlock holds, then resets the running counter and
// new_tx_added. creatorKey may be nil for an unsigned draft (e.g. tests);
// a real node always signs.
func (p *Pool) BundleBlock(tip ChainTip, currentTS uint64, creatorKey *crypto.PrivateKey) (*block.Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.canBundleBlockLocked(tip, currentTS); !ok {
		return nil, ErrCannotBundle
	}

	tipHash := tip.LatestHash()
	tipBlock, ok := tip.GetBlock(tipHash)
	if !ok {
		return nil, fmt.Errorf("tip block %s not resident", tipHash)
	}

	return p.bundleLocked(tipBlock.ID()+1, tipHash, tipBlock.Header.BurnFee, tipBlock.Header.Difficulty, currentTS, tipBlock.Header.Timestamp, creatorKey)
}

// BundleGenesisBlock builds the first block: parent [0;32], otherwise
// identical to BundleBlock. It does not consult CanBundleBlock — a chain
// of zero blocks has no tip to read a prior burnfee/timestamp from.
func (p *Pool) BundleGenesisBlock(currentTS uint64, creatorKey *crypto.PrivateKey) (*block.Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bundleLocked(0, types.Hash{}, 0, block.DefaultDifficulty, currentTS, currentTS, creatorKey)
}

func (p *Pool) bundleLocked(height uint64, prevHash types.Hash, prevBurnFee, prevDifficulty, currentTS, prevTS uint64, creatorKey *crypto.PrivateKey) (*block.Block, error) {
	gtTx, gtTarget := p.bestGoldenTicketLocked(prevHash)

	txs := make([]*tx.Transaction, 0, len(p.transactions)+1)
	for _, t := range p.transactions {
		txs = append(txs, t)
	}
	if gtTx != nil {
		txs = append(txs, gtTx)
	}
	sort.Slice(txs, func(i, j int) bool {
		hi, hj := txs[i].Hash(), txs[j].Hash()
		return bytes.Compare(hi[:], hj[:]) < 0
	})

	txHashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		txHashes[i] = t.Hash()
	}

	header := &block.Header{
		Version:         block.CurrentVersion,
		Height:          height,
		PrevHash:        prevHash,
		Timestamp:       currentTS,
		BurnFee:         burnfee.NextBurnFee(prevBurnFee, saturatingSub(currentTS, prevTS)),
		Difficulty:      prevDifficulty,
		HasGoldenTicket: gtTx != nil,
		MerkleRoot:      block.ComputeMerkleRoot(txHashes),
	}

	if creatorKey != nil {
		header.Creator = creatorKey.PublicKey()
		preHash := header.PreHash()
		sig, err := creatorKey.Sign(preHash[:])
		if err != nil {
			return nil, fmt.Errorf("sign block: %w", err)
		}
		header.Signature = sig
	}

	blk := block.NewBlock(header, txs)

	p.routingWorkInMempool = 0
	p.newTxAdded = false
	if gtTarget != (types.Hash{}) {
		if e, ok := p.goldenTickets[gtTarget]; ok {
			e.consumed = true
		}
	}

	return blk, nil
}

// bestGoldenTicketLocked returns the unconsumed golden ticket targeting
// parentHash, if any. A ticket targeting any other block cannot extend this
// parent and must never be embedded alongside it, no matter how favorable
// its own target hash looks.
func (p *Pool) bestGoldenTicketLocked(parentHash types.Hash) (*tx.Transaction, types.Hash) {
	e, ok := p.goldenTickets[parentHash]
	if !ok || e.consumed {
		return nil, types.Hash{}
	}
	return e.tx, parentHash
}

func saturatingSub(a, b uint64) uint64 {
	if a <= b {
		return 0
	}
	return a - b
}
