package chain

import (
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Result is the outcome of AddBlock.
type Result int

const (
	BlockAdded Result = iota
	BlockAlreadyExists
	FailedButRetry
	FailedNotValid
)

func (r Result) String() string {
	switch r {
	case BlockAdded:
		return "BlockAdded"
	case BlockAlreadyExists:
		return "BlockAlreadyExists"
	case FailedButRetry:
		return "FailedButRetry"
	case FailedNotValid:
		return "FailedNotValid"
	default:
		return "Unknown"
	}
}

// Mempool is the narrow slice of the mempool's surface the reorg engine
// drives: queuing blocks awaiting a missing parent, and reconciling
// transactions after a block commits or is rejected.
//
// PruneInvalid takes a tx.UTXOProvider (outpoint-keyed), not the raw
// utxo.Set: a mempool transaction only knows the Outpoint it spends, and
// resolving that to a UtxoSet slip-key requires the Blockchain's
// transaction-location index, which utxoProviderAdapter wraps. See
// Blockchain.UTXOProvider.
type Mempool interface {
	AddBlock(blk *block.Block)
	HasQueuedBlock(hash types.Hash) bool
	DeleteBlock(hash types.Hash)
	RemoveConfirmed(txs []*tx.Transaction)
	PruneInvalid(validator tx.UTXOProvider)
	Add(t *tx.Transaction) (uint64, error)
}

// WalletMirror observes wind/unwind steps so a node's own balance tracks
// the active chain without re-scanning the UTXO set from scratch.
type WalletMirror interface {
	OnChainReorganization(blk *block.Block, longest bool)
}

// PeerRequester fetches a missing parent block from the network. The core
// only names the interface; transport is an external collaborator.
type PeerRequester interface {
	RequestBlock(hash types.Hash, fromPeer string) error
}

// ReorgHook is notified once per block as it winds onto or unwinds off the
// active chain, after UtxoSet/BlockRing/WalletMirror have been updated.
type ReorgHook func(blk *block.Block, longest bool)
