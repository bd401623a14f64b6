package tx

import (
	"fmt"
	"math/big"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// maxUint256 is 2^256 - 1, the proof-of-work target base MeetsDifficulty
// divides by the difficulty.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// GoldenTicketPayload is the mining-proof payload carried in the Message
// field of a Type==GoldenTicket transaction: a proof of work performed on
// top of an earlier block (Target), consisting of a random nonce and the
// public key claiming the proof (the first input's PubKey).
type GoldenTicketPayload struct {
	Target types.Hash
	Random [32]byte
}

// Encode packs the payload into a transaction Message.
func (p GoldenTicketPayload) Encode() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, p.Target[:]...)
	buf = append(buf, p.Random[:]...)
	return buf
}

// DecodeGoldenTicketPayload unpacks a GoldenTicket transaction's Message.
func DecodeGoldenTicketPayload(msg []byte) (GoldenTicketPayload, error) {
	if len(msg) != 64 {
		return GoldenTicketPayload{}, fmt.Errorf("golden ticket message must be 64 bytes, got %d", len(msg))
	}
	var p GoldenTicketPayload
	copy(p.Target[:], msg[:32])
	copy(p.Random[:], msg[32:64])
	return p, nil
}

// TargetOf returns the golden ticket's target block hash and claiming
// public key, or an error if tx is not a well-formed GoldenTicket.
func (tx *Transaction) TargetOf() (types.Hash, []byte, error) {
	if tx.Type != GoldenTicket {
		return types.Hash{}, nil, fmt.Errorf("not a golden ticket transaction")
	}
	if len(tx.Inputs) == 0 {
		return types.Hash{}, nil, fmt.Errorf("golden ticket has no claiming input")
	}
	payload, err := DecodeGoldenTicketPayload(tx.Message)
	if err != nil {
		return types.Hash{}, nil, err
	}
	return payload.Target, tx.Inputs[0].PubKey, nil
}

// MeetsDifficulty reports whether H(target‖random‖public_key), read as a
// 256-bit big-endian integer, falls within maxUint256/difficulty.
func (p GoldenTicketPayload) MeetsDifficulty(pubKey []byte, difficulty uint64) bool {
	if difficulty == 0 {
		return false
	}
	buf := make([]byte, 0, 64+len(pubKey))
	buf = append(buf, p.Target[:]...)
	buf = append(buf, p.Random[:]...)
	buf = append(buf, pubKey...)
	h := crypto.Hash(buf)
	hashInt := new(big.Int).SetBytes(h[:])
	target := new(big.Int).Div(maxUint256, new(big.Int).SetUint64(difficulty))
	return hashInt.Cmp(target) <= 0
}

// VerifyGoldenTicket checks that tx is a well-formed GoldenTicket whose
// proof meets difficulty — the difficulty recorded in the target block's
// header. This is the check §4.5.2's density count is only meaningful
// once every counted ticket has passed.
func (tx *Transaction) VerifyGoldenTicket(difficulty uint64) error {
	if tx.Type != GoldenTicket {
		return fmt.Errorf("not a golden ticket transaction")
	}
	if len(tx.Inputs) == 0 {
		return fmt.Errorf("golden ticket has no claiming input")
	}
	payload, err := DecodeGoldenTicketPayload(tx.Message)
	if err != nil {
		return err
	}
	if !payload.MeetsDifficulty(tx.Inputs[0].PubKey, difficulty) {
		return fmt.Errorf("golden ticket does not meet target difficulty %d", difficulty)
	}
	return nil
}
