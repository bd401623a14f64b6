package chain

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// validateChain runs the wind/unwind reorg (§4.5.3) and reports whether
// new_chain is now active. On false, UtxoSet/BlockRing/WalletMirror have
// all been rolled back to reflect old_chain — the atomicity contract holds
// because every failure branch below unwinds exactly what it wound before
// returning.
func (bc *Blockchain) validateChain(newChain, oldChain []*block.Block) bool {
	if len(oldChain) == 0 {
		return bc.windChain(newChain, nil, len(newChain)-1, false)
	}
	return bc.unwindChain(newChain, oldChain, 0, true)
}

// unwindChain unwinds old[start:] in order — an iterative translation of
// the source's per-block recursion, so a deep reorg never grows the Go
// call stack. Once every old block is unwound it begins winding new_chain.
func (bc *Blockchain) unwindChain(newChain, oldChain []*block.Block, start int, windFailure bool) bool {
	for i := start; i < len(oldChain); i++ {
		blk := oldChain[i]
		bc.promoteFull(blk)

		if err := bc.unwindBlockTxs(blk); err != nil {
			// The chain being unwound was, by construction, already valid
			// when it was wound; a failure here means corrupted local
			// state, not a bad block. Nothing safe to do but stop here —
			// propagate upward as a non-fatal failure of this attempt.
			return false
		}

		blk.InLongestChain = false
		bc.ring.OnChainReorganization(blk.ID(), blk.Hash(), false)
		if bc.wallet != nil {
			bc.wallet.OnChainReorganization(blk, false)
		}
		if bc.onReorg != nil {
			bc.onReorg(blk, false)
		}
	}

	return bc.windChain(newChain, oldChain, len(newChain)-1, windFailure)
}

// windChain winds new[start:0] in decreasing order — the mirror iterative
// translation of wind_chain's per-block recursion.
func (bc *Blockchain) windChain(newChain, oldChain []*block.Block, start int, windFailure bool) bool {
	if windFailure && len(newChain) == 0 {
		return false
	}

	for j := start; j >= 0; j-- {
		blk := newChain[j]
		bc.promoteFullWithPredecessors(blk, MaxStakerRecursion)

		if err := bc.validateBlockForWind(blk); err != nil {
			if j == len(newChain)-1 {
				// First attempt, nothing wound yet: try to rewind old_chain
				// back onto the tip instead.
				if len(oldChain) > 0 {
					bc.windChain(oldChain, newChain, len(oldChain)-1, true)
				}
				return false
			}
			// Partially wound: unwind what we already committed of
			// new_chain, then rewind old_chain back onto the tip.
			chainToUnwind := append([]*block.Block(nil), newChain[j+1:]...)
			bc.unwindChain(oldChain, chainToUnwind, 0, true)
			return false
		}

		blk.InLongestChain = true
		bc.ring.OnChainReorganization(blk.ID(), blk.Hash(), true)
		if bc.wallet != nil {
			bc.wallet.OnChainReorganization(blk, true)
		}
		if err := bc.windBlockTxs(blk); err != nil {
			// Should not happen after validateBlockForWind passed; treat
			// as a validation failure using the same rollback paths.
			blk.InLongestChain = false
			bc.ring.OnChainReorganization(blk.ID(), blk.Hash(), false)
			if bc.wallet != nil {
				bc.wallet.OnChainReorganization(blk, false)
			}
			if j == len(newChain)-1 {
				if len(oldChain) > 0 {
					bc.windChain(oldChain, newChain, len(oldChain)-1, true)
				}
				return false
			}
			chainToUnwind := append([]*block.Block(nil), newChain[j+1:]...)
			bc.unwindChain(oldChain, chainToUnwind, 0, true)
			return false
		}
		if bc.onReorg != nil {
			bc.onReorg(blk, true)
		}

		if j == 0 {
			return !windFailure
		}
		windFailure = false
	}
	return !windFailure
}

// promoteFull loads a block's transaction data if it is not resident,
// marking it Full tier.
func (bc *Blockchain) promoteFull(blk *block.Block) {
	if blk.Transactions == nil {
		if loaded, err := bc.store.GetBlock(blk.Hash()); err == nil {
			blk.Transactions = loaded.Transactions
		}
	}
	blk.Tier = block.Full
}

// promoteFullWithPredecessors promotes blk and up to depth ancestors on the
// active chain to Full tier (§4.5.3 step 2), so their outputs are available
// for UTXO lookups during the wind that follows.
func (bc *Blockchain) promoteFullWithPredecessors(blk *block.Block, depth int) {
	cur := blk
	for i := 0; i <= depth && cur != nil; i++ {
		bc.promoteFull(cur)
		if cur.Header.PrevHash.IsZero() {
			return
		}
		cur = bc.blocks[cur.Header.PrevHash]
	}
}

// validateBlockForWind performs the checks of step 3 of wind_chain:
// structural validity, signatures, input existence in the UtxoSet,
// value-conservation across ordinary (non-issuance) transactions, and the
// golden-ticket mining proof (§1/§3: H(target‖random‖public_key) must meet
// the target block's difficulty — the density check in goldenticket.go
// only counts tickets that pass this).
func (bc *Blockchain) validateBlockForWind(blk *block.Block) error {
	if err := blk.Validate(); err != nil {
		return fmt.Errorf("structural: %w", err)
	}

	var parent *block.Block
	if !blk.Header.PrevHash.IsZero() {
		parent = bc.blocks[blk.Header.PrevHash]
	}

	adapter := &utxoProviderAdapter{bc: bc}
	sawValidGoldenTicket := false
	for _, t := range blk.Transactions {
		if err := t.VerifySignatures(); err != nil {
			return fmt.Errorf("tx %s signature: %w", t.Hash(), err)
		}

		for _, in := range t.Inputs {
			if in.PrevOut.IsZero() {
				continue
			}
			slip, err := bc.slipForOutpoint(in.PrevOut)
			if err != nil {
				return fmt.Errorf("input %s: %w", in.PrevOut, err)
			}
			spendable, known, err := bc.utxos.Get(slip.UtxoKey())
			if err != nil {
				return fmt.Errorf("input %s: %w", in.PrevOut, err)
			}
			if !known || !spendable {
				return fmt.Errorf("input %s: not spendable", in.PrevOut)
			}
		}

		switch t.Type {
		case tx.GoldenTicket:
			target, _, err := t.TargetOf()
			if err != nil {
				return fmt.Errorf("tx %s: %w", t.Hash(), err)
			}
			if target != blk.Header.PrevHash {
				return fmt.Errorf("tx %s: golden ticket targets %s, not parent %s", t.Hash(), target, blk.Header.PrevHash)
			}
			if parent == nil {
				return fmt.Errorf("tx %s: golden ticket target block not resident", t.Hash())
			}
			if err := t.VerifyGoldenTicket(parent.Header.Difficulty); err != nil {
				return fmt.Errorf("tx %s: %w", t.Hash(), err)
			}
			sawValidGoldenTicket = true
		case tx.Vip, tx.Issuance:
			// Zero-input by construction: no conservation check.
		default:
			if _, err := t.ValidateWithUTXOs(adapter); err != nil {
				return fmt.Errorf("tx %s: %w", t.Hash(), err)
			}
		}
	}

	if blk.Header.HasGoldenTicket != sawValidGoldenTicket {
		return fmt.Errorf("header has_golden_ticket=%v but block carries no matching valid ticket", blk.Header.HasGoldenTicket)
	}
	return nil
}

// windBlockTxs flips UtxoSet state for every transaction in blk: inputs
// become spent, outputs become spendable.
func (bc *Blockchain) windBlockTxs(blk *block.Block) error {
	for i, t := range blk.Transactions {
		for _, in := range t.Inputs {
			if in.PrevOut.IsZero() {
				continue
			}
			slip, err := bc.slipForOutpoint(in.PrevOut)
			if err != nil {
				return err
			}
			if err := bc.utxos.MarkSpent(slip.UtxoKey()); err != nil {
				return err
			}
		}
		for idx, out := range t.Outputs {
			slip := types.Slip{
				PublicKey: out.Script.Data,
				Amount:    out.Value,
				BlockID:   blk.ID(),
				TxOrdinal: uint64(i),
				SlipIndex: uint32(idx),
			}
			if err := bc.utxos.InsertSpendable(slip.UtxoKey()); err != nil {
				return err
			}
		}
	}
	return nil
}

// unwindBlockTxs is the inverse of windBlockTxs, applied to every
// transaction in reverse order: inputs return to spendable, outputs
// return to spent.
func (bc *Blockchain) unwindBlockTxs(blk *block.Block) error {
	for i := len(blk.Transactions) - 1; i >= 0; i-- {
		t := blk.Transactions[i]
		for _, in := range t.Inputs {
			if in.PrevOut.IsZero() {
				continue
			}
			slip, err := bc.slipForOutpoint(in.PrevOut)
			if err != nil {
				return err
			}
			if err := bc.utxos.InsertSpendable(slip.UtxoKey()); err != nil {
				return err
			}
		}
		for idx, out := range t.Outputs {
			slip := types.Slip{
				PublicKey: out.Script.Data,
				Amount:    out.Value,
				BlockID:   blk.ID(),
				TxOrdinal: uint64(i),
				SlipIndex: uint32(idx),
			}
			if err := bc.utxos.MarkSpent(slip.UtxoKey()); err != nil {
				return err
			}
		}
	}
	return nil
}
