// Package blockfile implements the on-disk block-file layout: a fixed
// header (the fields pkg/block.Header.MarshalBinary covers, plus the
// transaction count) followed by concatenated, length-prefixed serialized
// transactions. It stores records under internal/storage.DB keyed by each
// block's deterministic filename, since the storage interface is already
// the teacher's key-value abstraction over Badger.
package blockfile

import (
	"encoding/binary"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// keyPrefix namespaces block-file records within the shared storage.DB,
// the same isolation pattern storage.PrefixDB already provides for
// sub-chain data.
var keyPrefix = []byte("blkfile/")

// Filename derives a block's stable on-disk identifier from its timestamp
// and hash, matching spec's "filename is deterministically derived from
// (timestamp, block_hash)".
func Filename(timestamp uint64, hash [32]byte) string {
	return fmt.Sprintf("%d-%x.block", timestamp, hash)
}

// Store persists and retrieves full blocks in the block-file binary format.
type Store struct {
	db storage.DB
}

// New creates a block-file store over db.
func New(db storage.DB) *Store {
	return &Store{db: storage.NewPrefixDB(db, keyPrefix)}
}

// Write encodes blk and persists it under its deterministic filename,
// returning that filename.
func (s *Store) Write(blk *block.Block) (string, error) {
	data, err := Encode(blk)
	if err != nil {
		return "", fmt.Errorf("encode block: %w", err)
	}

	hash := blk.Header.Hash()
	name := Filename(blk.Header.Timestamp, hash)
	if err := s.db.Put([]byte(name), data); err != nil {
		return "", fmt.Errorf("write block file %s: %w", name, err)
	}
	return name, nil
}

// Read loads and decodes the block stored under filename.
func (s *Store) Read(filename string) (*block.Block, error) {
	data, err := s.db.Get([]byte(filename))
	if err != nil {
		return nil, fmt.Errorf("read block file %s: %w", filename, err)
	}
	return Decode(data)
}

// Delete removes the block file named filename. Missing files are not an
// error — callers prune blocks whose retention the reorg engine has already
// forgotten.
func (s *Store) Delete(filename string) error {
	return s.db.Delete([]byte(filename))
}

// Has reports whether a block file named filename exists.
func (s *Store) Has(filename string) (bool, error) {
	return s.db.Has([]byte(filename))
}

// Encode serializes blk into the block-file binary layout: header, tx
// count, then length-prefixed transactions.
func Encode(blk *block.Block) ([]byte, error) {
	if blk.Header == nil {
		return nil, fmt.Errorf("block has nil header")
	}

	headerBytes, err := blk.Header.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal header: %w", err)
	}

	buf := make([]byte, 0, len(headerBytes)+4+len(blk.Transactions)*128)
	buf = append(buf, headerBytes...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(blk.Transactions)))

	for i, t := range blk.Transactions {
		txBytes, err := t.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal transaction %d: %w", i, err)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(txBytes)))
		buf = append(buf, txBytes...)
	}

	return buf, nil
}

// Decode parses a block-file record produced by Encode.
func Decode(data []byte) (*block.Block, error) {
	hdr := &block.Header{}
	headerLen, err := headerByteLen(data)
	if err != nil {
		return nil, err
	}
	if err := hdr.UnmarshalBinary(data[:headerLen]); err != nil {
		return nil, fmt.Errorf("unmarshal header: %w", err)
	}

	off := headerLen
	if off+4 > len(data) {
		return nil, fmt.Errorf("block file truncated before transaction count")
	}
	txCount := binary.LittleEndian.Uint32(data[off:])
	off += 4

	txs := make([]*tx.Transaction, txCount)
	for i := range txs {
		if off+4 > len(data) {
			return nil, fmt.Errorf("block file truncated before transaction %d length", i)
		}
		txLen := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if off+txLen > len(data) {
			return nil, fmt.Errorf("block file truncated in transaction %d", i)
		}

		t := &tx.Transaction{}
		if err := t.UnmarshalBinary(data[off : off+txLen]); err != nil {
			return nil, fmt.Errorf("unmarshal transaction %d: %w", i, err)
		}
		txs[i] = t
		off += txLen
	}

	return &block.Block{
		Header:       hdr,
		Transactions: txs,
		Tier:         block.Full,
	}, nil
}

// headerByteLen scans data for the end of the fixed header: the fixed
// fields up to and including the creator-key length prefix, then the
// creator key itself, then the signature length prefix, then the
// signature. Header.UnmarshalBinary re-parses the same bytes to populate
// the struct; this just needs to know where the header record ends.
func headerByteLen(data []byte) (int, error) {
	const fixedLen = 4 + 8 + 32 + 8 + 8 + 8 + 1 + 8 + 8 + 32 // up to and incl. merkle root
	if len(data) < fixedLen+4 {
		return 0, fmt.Errorf("block file too short for header")
	}
	off := fixedLen
	creatorLen := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4 + creatorLen
	if off+4 > len(data) {
		return 0, fmt.Errorf("block file truncated in header creator key")
	}
	sigLen := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4 + sigLen
	if off > len(data) {
		return 0, fmt.Errorf("block file truncated in header signature")
	}
	return off, nil
}
