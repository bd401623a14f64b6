package types

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// Slip locates one UTXO: the output at SlipIndex of the TxOrdinal-th
// transaction of block BlockID, owned by PublicKey and worth Amount.
type Slip struct {
	PublicKey []byte `json:"public_key"`
	Amount    uint64 `json:"amount"`
	BlockID   uint64 `json:"block_id"`
	TxOrdinal uint64 `json:"tx_ordinal"`
	SlipIndex uint32 `json:"slip_index"`
}

// UtxoKey returns the composite key identifying this slip in the UtxoSet.
// It is a pure function of the three locator fields (BlockID, TxOrdinal,
// SlipIndex) plus public key and amount: two slips with equal key are the
// same UTXO.
func (s Slip) UtxoKey() Hash {
	buf := make([]byte, 0, 8+8+4+8+len(s.PublicKey))
	buf = binary.LittleEndian.AppendUint64(buf, s.BlockID)
	buf = binary.LittleEndian.AppendUint64(buf, s.TxOrdinal)
	buf = binary.LittleEndian.AppendUint32(buf, s.SlipIndex)
	buf = binary.LittleEndian.AppendUint64(buf, s.Amount)
	buf = append(buf, s.PublicKey...)
	return blake3.Sum256(buf)
}
