package chain

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// outputForOutpoint locates the output an outpoint references: the
// transaction's containing height, its ordinal position within that
// block, and the output itself. It consults the in-memory block cache
// first and falls back to storage, so it still works once the containing
// block has been downgraded to Pruned tier and evicted from memory.
func (bc *Blockchain) outputForOutpoint(op types.Outpoint) (out tx.Output, height uint64, ordinal uint64, err error) {
	height, blockHash, err := bc.store.GetTxLocation(op.TxID)
	if err != nil {
		return tx.Output{}, 0, 0, fmt.Errorf("locate tx %s: %w", op.TxID, err)
	}

	blk := bc.blocks[blockHash]
	if blk == nil || blk.Transactions == nil {
		loaded, lerr := bc.store.GetBlock(blockHash)
		if lerr != nil {
			return tx.Output{}, 0, 0, fmt.Errorf("load block %s: %w", blockHash, lerr)
		}
		blk = loaded
	}

	idx := -1
	for i, t := range blk.Transactions {
		if t.Hash() == op.TxID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return tx.Output{}, 0, 0, fmt.Errorf("tx %s not found in block %s", op.TxID, blockHash)
	}

	txn := blk.Transactions[idx]
	if int(op.Index) >= len(txn.Outputs) {
		return tx.Output{}, 0, 0, fmt.Errorf("outpoint index %d out of range for tx %s", op.Index, op.TxID)
	}

	return txn.Outputs[op.Index], height, uint64(idx), nil
}

// slipForOutpoint reconstructs the Slip a wire-level Outpoint addresses,
// so the UtxoSet (keyed by slip, per §3) can be consulted or flipped for an
// input addressed the Bitcoin-style way a transaction actually spends it.
func (bc *Blockchain) slipForOutpoint(op types.Outpoint) (types.Slip, error) {
	out, height, ordinal, err := bc.outputForOutpoint(op)
	if err != nil {
		return types.Slip{}, err
	}
	return types.Slip{
		PublicKey: out.Script.Data,
		Amount:    out.Value,
		BlockID:   height,
		TxOrdinal: ordinal,
		SlipIndex: op.Index,
	}, nil
}

// utxoProviderAdapter implements tx.UTXOProvider over the Blockchain's
// transaction-location index, used by ValidateWithUTXOs during wind-time
// consensus checks (§4.5.3 step 3d).
type utxoProviderAdapter struct {
	bc *Blockchain
}

func (a *utxoProviderAdapter) GetUTXO(op types.Outpoint) (uint64, types.Script, error) {
	out, _, _, err := a.bc.outputForOutpoint(op)
	if err != nil {
		return 0, types.Script{}, err
	}
	return out.Value, out.Script, nil
}

func (a *utxoProviderAdapter) HasUTXO(op types.Outpoint) bool {
	_, _, _, err := a.bc.outputForOutpoint(op)
	return err == nil
}

// utxoProviderLocked returns an adapter for callers that already hold
// bc.mu (the reorg engine itself, and the post-commit mempool
// reconciliation it drives while still inside AddBlock's critical
// section).
func (bc *Blockchain) utxoProviderLocked() tx.UTXOProvider {
	return &utxoProviderAdapter{bc: bc}
}

// UTXOProvider exposes the Blockchain's transaction-location index as a
// tx.UTXOProvider for external collaborators — notably Mempool validating
// an incoming transaction outside of AddBlock — that do not hold bc.mu.
// Per §5's lock order, a caller holding only the Mempool lock must not
// already hold the Blockchain lock when it calls into this adapter.
func (bc *Blockchain) UTXOProvider() tx.UTXOProvider {
	return &lockingUTXOProviderAdapter{bc: bc}
}

type lockingUTXOProviderAdapter struct {
	bc *Blockchain
}

func (a *lockingUTXOProviderAdapter) GetUTXO(op types.Outpoint) (uint64, types.Script, error) {
	a.bc.mu.Lock()
	defer a.bc.mu.Unlock()
	out, _, _, err := a.bc.outputForOutpoint(op)
	if err != nil {
		return 0, types.Script{}, err
	}
	return out.Value, out.Script, nil
}

func (a *lockingUTXOProviderAdapter) HasUTXO(op types.Outpoint) bool {
	a.bc.mu.Lock()
	defer a.bc.mu.Unlock()
	_, _, _, err := a.bc.outputForOutpoint(op)
	return err == nil
}
