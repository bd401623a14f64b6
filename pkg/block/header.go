package block

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// DefaultDifficulty seeds Header.Difficulty at genesis, where there is no
// parent block to carry a value forward from. Golden-ticket difficulty has
// no spec-defined retarget schedule (unlike BurnFee); a block's bundler
// carries its parent's difficulty forward unchanged.
const DefaultDifficulty uint64 = 1 << 20

// Header contains block metadata.
//
// PreHash is the hash of every field below except Signature — it is what
// Creator signs. Hash (see Hash()) covers PreHash plus Signature, so the
// block's stable identifier changes if it is ever re-signed.
type Header struct {
	Version         uint32     `json:"version"`
	Height          uint64     `json:"height"` // block id
	PrevHash        types.Hash `json:"prev_hash"`
	Timestamp       uint64     `json:"timestamp"`
	BurnFee         uint64     `json:"burnfee"`
	Difficulty      uint64     `json:"difficulty"`
	HasGoldenTicket bool       `json:"has_golden_ticket"`
	Treasury        uint64     `json:"treasury"`
	StakingTreasury uint64     `json:"staking_treasury"`
	MerkleRoot      types.Hash `json:"merkle_root"`
	Creator         []byte     `json:"creator,omitempty"`   // 33-byte compressed pubkey
	Signature       []byte     `json:"signature,omitempty"` // 64-byte Schnorr signature over PreHash
}

// headerJSON is the JSON representation of Header with hex-encoded byte fields.
type headerJSON struct {
	Version         uint32     `json:"version"`
	Height          uint64     `json:"height"`
	PrevHash        types.Hash `json:"prev_hash"`
	Timestamp       uint64     `json:"timestamp"`
	BurnFee         uint64     `json:"burnfee"`
	Difficulty      uint64     `json:"difficulty"`
	HasGoldenTicket bool       `json:"has_golden_ticket"`
	Treasury        uint64     `json:"treasury"`
	StakingTreasury uint64     `json:"staking_treasury"`
	MerkleRoot      types.Hash `json:"merkle_root"`
	Creator         string     `json:"creator,omitempty"`
	Signature       string     `json:"signature,omitempty"`
}

// MarshalJSON encodes the header with hex-encoded byte fields.
func (h *Header) MarshalJSON() ([]byte, error) {
	j := headerJSON{
		Version:         h.Version,
		Height:          h.Height,
		PrevHash:        h.PrevHash,
		Timestamp:       h.Timestamp,
		BurnFee:         h.BurnFee,
		Difficulty:      h.Difficulty,
		HasGoldenTicket: h.HasGoldenTicket,
		Treasury:        h.Treasury,
		StakingTreasury: h.StakingTreasury,
		MerkleRoot:      h.MerkleRoot,
	}
	if h.Creator != nil {
		j.Creator = hex.EncodeToString(h.Creator)
	}
	if h.Signature != nil {
		j.Signature = hex.EncodeToString(h.Signature)
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a header with hex-encoded byte fields.
func (h *Header) UnmarshalJSON(data []byte) error {
	var j headerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	h.Version = j.Version
	h.Height = j.Height
	h.PrevHash = j.PrevHash
	h.Timestamp = j.Timestamp
	h.BurnFee = j.BurnFee
	h.Difficulty = j.Difficulty
	h.HasGoldenTicket = j.HasGoldenTicket
	h.Treasury = j.Treasury
	h.StakingTreasury = j.StakingTreasury
	h.MerkleRoot = j.MerkleRoot
	if j.Creator != "" {
		b, err := hex.DecodeString(j.Creator)
		if err != nil {
			return err
		}
		h.Creator = b
	}
	if j.Signature != "" {
		b, err := hex.DecodeString(j.Signature)
		if err != nil {
			return err
		}
		h.Signature = b
	}
	return nil
}

// Hash computes the block's stable identifier: H(pre_hash ‖ signature).
func (h *Header) Hash() types.Hash {
	buf := make([]byte, 0, 32+len(h.Signature))
	preHash := h.PreHash()
	buf = append(buf, preHash[:]...)
	buf = append(buf, h.Signature...)
	return crypto.Hash(buf)
}

// PreHash returns the hash of every signable field, excluding Signature.
// This is what Creator signs.
func (h *Header) PreHash() types.Hash {
	return crypto.Hash(h.SigningBytes())
}

// SigningBytes returns the canonical bytes covered by PreHash.
func (h *Header) SigningBytes() []byte {
	buf := make([]byte, 0, 150)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = binary.LittleEndian.AppendUint64(buf, h.Height)
	buf = append(buf, h.PrevHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint64(buf, h.BurnFee)
	buf = binary.LittleEndian.AppendUint64(buf, h.Difficulty)
	if h.HasGoldenTicket {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint64(buf, h.Treasury)
	buf = binary.LittleEndian.AppendUint64(buf, h.StakingTreasury)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(h.Creator)))
	buf = append(buf, h.Creator...)
	return buf
}

// MarshalBinary encodes the fixed block-file header: every field
// SigningBytes covers, plus the Signature SigningBytes deliberately
// excludes. The block-file record's transaction count is appended by the
// caller (internal/blockfile), since it isn't a Header field.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := h.SigningBytes()
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(h.Signature)))
	buf = append(buf, h.Signature...)
	return buf, nil
}

// UnmarshalBinary decodes a header encoded by MarshalBinary.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < 4+8+types.HashSize+8+8+8+1+8+8+types.HashSize+4 {
		return fmt.Errorf("header data too short: %d bytes", len(data))
	}

	off := 0
	h.Version = binary.LittleEndian.Uint32(data[off:])
	off += 4
	h.Height = binary.LittleEndian.Uint64(data[off:])
	off += 8
	copy(h.PrevHash[:], data[off:off+types.HashSize])
	off += types.HashSize
	h.Timestamp = binary.LittleEndian.Uint64(data[off:])
	off += 8
	h.BurnFee = binary.LittleEndian.Uint64(data[off:])
	off += 8
	h.Difficulty = binary.LittleEndian.Uint64(data[off:])
	off += 8
	h.HasGoldenTicket = data[off] == 1
	off++
	h.Treasury = binary.LittleEndian.Uint64(data[off:])
	off += 8
	h.StakingTreasury = binary.LittleEndian.Uint64(data[off:])
	off += 8
	copy(h.MerkleRoot[:], data[off:off+types.HashSize])
	off += types.HashSize

	if off+4 > len(data) {
		return fmt.Errorf("header data truncated before creator length")
	}
	creatorLen := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	if creatorLen > 0 {
		if off+creatorLen > len(data) {
			return fmt.Errorf("header data truncated in creator key")
		}
		h.Creator = append([]byte(nil), data[off:off+creatorLen]...)
		off += creatorLen
	} else {
		h.Creator = nil
	}

	if off+4 > len(data) {
		return fmt.Errorf("header data truncated before signature length")
	}
	sigLen := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	if sigLen > 0 {
		if off+sigLen > len(data) {
			return fmt.Errorf("header data truncated in signature")
		}
		h.Signature = append([]byte(nil), data[off:off+sigLen]...)
		off += sigLen
	} else {
		h.Signature = nil
	}

	return nil
}
