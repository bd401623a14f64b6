// Package block defines block types and validation.
package block

import "github.com/Klingon-tech/klingnet-chain/pkg/tx"

// Tier identifies how much of a block's data is resident in memory: the
// full transaction set, just the header, or neither (pruned).
type Tier uint8

const (
	Ghost      Tier = iota // Known to exist (referenced by a child) but never loaded.
	HeaderOnly             // Header loaded, transaction data discarded.
	Pruned                 // Was Full once; transaction data dropped after PRUNE_AFTER_BLOCKS.
	Full                   // Header and transaction data both resident.
)

func (t Tier) String() string {
	switch t {
	case Ghost:
		return "Ghost"
	case HeaderOnly:
		return "Header"
	case Pruned:
		return "Pruned"
	case Full:
		return "Full"
	default:
		return "Unknown"
	}
}

// Block represents a block in the chain.
//
// Tier, InLongestChain, and ForceLoaded are runtime bookkeeping the reorg
// engine mutates as a block moves on or off the canonical chain and as
// storage promotes or prunes it; they are not part of the signed payload.
type Block struct {
	Header       *Header           `json:"header"`
	Transactions []*tx.Transaction `json:"transactions"`

	Tier           Tier `json:"tier"`
	InLongestChain bool `json:"in_longest_chain"`
	ForceLoaded    bool `json:"force_loaded"`
}

// NewBlock creates a new block with the given header and transactions.
func NewBlock(header *Header, txs []*tx.Transaction) *Block {
	return &Block{
		Header:       header,
		Transactions: txs,
		Tier:         Full,
	}
}

// ID returns the block's height, used as its "id" per chain terminology.
func (b *Block) ID() uint64 {
	return b.Header.Height
}
