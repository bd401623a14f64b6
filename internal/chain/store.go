package chain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Key prefixes for the block store. Blocks are content-addressed by hash;
// BlockRing (not this store) is the height-indexed view of the chain, since
// more than one block may share a height across competing forks.
var (
	prefixBlock = []byte("b/") // b/<hash(32)> -> block JSON
	prefixTx    = []byte("x/") // x/<txhash(32)> -> height(8) + blockHash(32)

	keyLatestID       = []byte("s/latest_id")
	keyLatestHash     = []byte("s/latest_hash")
	keyGenesisBlockID = []byte("s/genesis_block_id")
	keyForkID         = []byte("s/fork_id")
)

// BlockStore persists blocks, their transaction index, and chain tip
// bookkeeping to a storage.DB.
type BlockStore struct {
	db storage.DB
}

// NewBlockStore creates a block store backed by the given database.
func NewBlockStore(db storage.DB) *BlockStore {
	return &BlockStore{db: db}
}

// PutBlock stores a block by hash and indexes each of its transactions.
func (bs *BlockStore) PutBlock(blk *block.Block) error {
	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("block marshal: %w", err)
	}

	hash := blk.Hash()
	if err := bs.db.Put(blockKey(hash), data); err != nil {
		return fmt.Errorf("block put: %w", err)
	}

	for _, t := range blk.Transactions {
		txHash := t.Hash()
		val := make([]byte, 8+types.HashSize)
		binary.BigEndian.PutUint64(val[:8], blk.Header.Height)
		copy(val[8:], hash[:])
		if err := bs.db.Put(txKey(txHash), val); err != nil {
			return fmt.Errorf("tx index put %s: %w", txHash, err)
		}
	}

	return nil
}

// GetBlock retrieves a block by its hash.
func (bs *BlockStore) GetBlock(hash types.Hash) (*block.Block, error) {
	data, err := bs.db.Get(blockKey(hash))
	if err != nil {
		return nil, fmt.Errorf("block get: %w", err)
	}
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("block unmarshal: %w", err)
	}
	return &blk, nil
}

// HasBlock checks if a block exists by hash.
func (bs *BlockStore) HasBlock(hash types.Hash) (bool, error) {
	return bs.db.Has(blockKey(hash))
}

// DeleteBlock removes a block and its transaction index entries.
// Used by pruning (§4.5.4): the height remains addressable through
// BlockRing history, but the payload is gone.
func (bs *BlockStore) DeleteBlock(blk *block.Block) error {
	for _, t := range blk.Transactions {
		if err := bs.db.Delete(txKey(t.Hash())); err != nil {
			return fmt.Errorf("delete tx index: %w", err)
		}
	}
	return bs.db.Delete(blockKey(blk.Hash()))
}

// GetTxLocation returns the block height and hash that contain the given transaction.
func (bs *BlockStore) GetTxLocation(txHash types.Hash) (uint64, types.Hash, error) {
	data, err := bs.db.Get(txKey(txHash))
	if err != nil {
		return 0, types.Hash{}, fmt.Errorf("tx index get: %w", err)
	}
	if len(data) != 8+types.HashSize {
		return 0, types.Hash{}, fmt.Errorf("corrupt tx index: got %d bytes, want %d", len(data), 8+types.HashSize)
	}
	height := binary.BigEndian.Uint64(data[:8])
	var blockHash types.Hash
	copy(blockHash[:], data[8:])
	return height, blockHash, nil
}

// SetTip persists the chain's tip bookkeeping.
func (bs *BlockStore) SetTip(st State) error {
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], st.LatestID)
	if err := bs.db.Put(keyLatestID, idBuf[:]); err != nil {
		return fmt.Errorf("set latest id: %w", err)
	}
	if err := bs.db.Put(keyLatestHash, st.LatestHash[:]); err != nil {
		return fmt.Errorf("set latest hash: %w", err)
	}
	var genBuf [8]byte
	binary.BigEndian.PutUint64(genBuf[:], st.GenesisBlockID)
	if err := bs.db.Put(keyGenesisBlockID, genBuf[:]); err != nil {
		return fmt.Errorf("set genesis block id: %w", err)
	}
	if err := bs.db.Put(keyForkID, st.ForkID[:]); err != nil {
		return fmt.Errorf("set fork id: %w", err)
	}
	return nil
}

// GetTip returns the persisted chain tip state. Returns the zero State if
// none is set (fresh chain).
func (bs *BlockStore) GetTip() (State, error) {
	var st State

	idBytes, err := bs.db.Get(keyLatestID)
	if err != nil {
		return st, nil // Fresh chain.
	}
	if len(idBytes) == 8 {
		st.LatestID = binary.BigEndian.Uint64(idBytes)
	}

	hashBytes, err := bs.db.Get(keyLatestHash)
	if err == nil && len(hashBytes) == types.HashSize {
		copy(st.LatestHash[:], hashBytes)
	}

	genBytes, err := bs.db.Get(keyGenesisBlockID)
	if err == nil && len(genBytes) == 8 {
		st.GenesisBlockID = binary.BigEndian.Uint64(genBytes)
	}

	forkBytes, err := bs.db.Get(keyForkID)
	if err == nil && len(forkBytes) == 32 {
		copy(st.ForkID[:], forkBytes)
	}

	return st, nil
}

func blockKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixBlock)+types.HashSize)
	copy(key, prefixBlock)
	copy(key[len(prefixBlock):], hash[:])
	return key
}

func txKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixTx)+types.HashSize)
	copy(key, prefixTx)
	copy(key[len(prefixTx):], hash[:])
	return key
}
