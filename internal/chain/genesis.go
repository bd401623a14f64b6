package chain

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// CreateGenesisBlock builds the genesis block from the genesis configuration.
// The genesis block has height 0, a zero PrevHash, and one zero-input Vip
// transaction per allocation entry, rather than a single multi-output
// coinbase — each VIP recipient gets its own issuance transaction so the
// chain can be replayed and audited allocation-by-allocation.
func CreateGenesisBlock(gen *config.Genesis) (*block.Block, error) {
	if gen == nil {
		return nil, fmt.Errorf("genesis config is nil")
	}

	txs, err := buildVipTxs(gen.Alloc, gen.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("build vip txs: %w", err)
	}

	txHashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		txHashes[i] = t.Hash()
	}
	merkle := block.ComputeMerkleRoot(txHashes)

	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   types.Hash{}, // Zero for genesis.
		MerkleRoot: merkle,
		Timestamp:  gen.Timestamp,
		Height:     0,
	}

	return block.NewBlock(header, txs), nil
}

// buildVipTxs creates one zero-input Vip issuance transaction per allocation
// entry. Addresses may be bech32 or raw hex. Transactions are returned in
// canonical (ascending tx-hash) order so the resulting block passes
// Block.Validate without a separate sort pass downstream.
func buildVipTxs(alloc map[string]uint64, timestamp uint64) ([]*tx.Transaction, error) {
	addrs := make([]string, 0, len(alloc))
	for addr := range alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	txs := make([]*tx.Transaction, 0, len(addrs))
	for _, addrStr := range addrs {
		addr, err := types.ParseAddress(addrStr)
		if err != nil {
			return nil, fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}

		vip := &tx.Transaction{
			Version:   1,
			Type:      tx.Vip,
			Timestamp: timestamp,
			Inputs: []tx.Input{{
				PrevOut: types.Outpoint{}, // Zero outpoint marks issuance.
			}},
			Outputs: []tx.Output{{
				Value: alloc[addrStr],
				Script: types.Script{
					Type: types.ScriptTypeP2PKH,
					Data: addr.Bytes(),
				},
			}},
		}
		txs = append(txs, vip)
	}

	if len(txs) == 0 {
		return nil, fmt.Errorf("genesis allocation is empty")
	}

	sort.Slice(txs, func(i, j int) bool {
		hi, hj := txs[i].Hash(), txs[j].Hash()
		return bytes.Compare(hi[:], hj[:]) < 0
	})

	return txs, nil
}
