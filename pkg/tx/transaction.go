// Package tx defines transaction types and validation.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Type identifies the semantic role of a transaction.
type Type uint8

const (
	Normal       Type = iota // ordinary value transfer
	Fee                      // block reward / fee-collection transaction
	GoldenTicket             // mining-proof transaction gating block acceptance
	Issuance                 // token issuance
	Vip                      // genesis VIP allocation
)

// String returns a human-readable transaction type name.
func (t Type) String() string {
	switch t {
	case Normal:
		return "Normal"
	case Fee:
		return "Fee"
	case GoldenTicket:
		return "GoldenTicket"
	case Issuance:
		return "Issuance"
	case Vip:
		return "Vip"
	default:
		return "Unknown"
	}
}

// Transaction represents a blockchain transaction.
//
// TotalFees and TotalWorkForMe are derived fields: they are not part of the
// signed/hashed payload. TotalWorkForMe is populated by Generate, which every
// transaction must pass through once before being admitted to the mempool
// or a block (spec: "derived on generate(public_key)"). Nothing in this
// package sets TotalFees; it stays zero unless a caller assigns it.
type Transaction struct {
	Version   uint32   `json:"version"`
	Type      Type     `json:"type"`
	Timestamp uint64   `json:"timestamp"`
	Inputs    []Input  `json:"inputs"`
	Outputs   []Output `json:"outputs"`
	LockTime  uint64   `json:"locktime"`
	Message   []byte   `json:"message,omitempty"`

	TotalFees      uint64 `json:"-"`
	TotalWorkForMe uint64 `json:"-"`
}

// Generate recomputes TotalWorkForMe relative to nodePublicKey: the sum of
// output values addressed to nodePublicKey (script data beginning with it),
// which is what Mempool.routing_work_in_mempool accumulates. TotalFees is
// left unchanged.
func (tx *Transaction) Generate(nodePublicKey []byte) {
	var workForMe uint64
	for _, out := range tx.Outputs {
		if len(out.Script.Data) >= len(nodePublicKey) && bytesEqual(out.Script.Data[:len(nodePublicKey)], nodePublicKey) {
			workForMe += out.Value
		}
	}
	tx.TotalWorkForMe = workForMe
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Input references a UTXO being spent.
type Input struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature []byte         `json:"signature"`
	PubKey    []byte         `json:"pubkey"`
}

// inputJSON is the JSON representation of Input with hex-encoded byte fields.
type inputJSON struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature *string        `json:"signature"`
	PubKey    *string        `json:"pubkey"`
}

// MarshalJSON encodes the input with hex-encoded signature and pubkey.
func (in Input) MarshalJSON() ([]byte, error) {
	j := inputJSON{PrevOut: in.PrevOut}
	if in.Signature != nil {
		s := hex.EncodeToString(in.Signature)
		j.Signature = &s
	}
	if in.PubKey != nil {
		p := hex.EncodeToString(in.PubKey)
		j.PubKey = &p
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes an input with hex-encoded signature and pubkey.
func (in *Input) UnmarshalJSON(data []byte) error {
	var j inputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	in.PrevOut = j.PrevOut
	if j.Signature != nil {
		b, err := hex.DecodeString(*j.Signature)
		if err != nil {
			return err
		}
		in.Signature = b
	}
	if j.PubKey != nil {
		b, err := hex.DecodeString(*j.PubKey)
		if err != nil {
			return err
		}
		in.PubKey = b
	}
	return nil
}

// Output defines a new UTXO.
type Output struct {
	Value  uint64           `json:"value"`
	Script types.Script     `json:"script"`
	Token  *types.TokenData `json:"token,omitempty"`
}

// Hash computes the transaction ID (BLAKE3 hash of the serialized signing data).
// This excludes signatures to avoid circular dependency.
func (tx *Transaction) Hash() types.Hash {
	return crypto.Hash(tx.SigningBytes())
}

// SigningBytes returns the canonical byte representation used for signing.
// Format: version(4) | type(1) | timestamp(8) | input_count(4) | [prevout(36) (+ sig_len(4) + sig for a zero-outpoint input carrying one)]... | output_count(4) | [value(8) + script_type(1) + script_data_len(4) + script_data (+ token_id(32) + token_amount(8))]... | locktime(8) | message_len(4) | message
func (tx *Transaction) SigningBytes() []byte {
	var buf []byte

	// Version, type, timestamp.
	buf = binary.LittleEndian.AppendUint32(buf, tx.Version)
	buf = append(buf, byte(tx.Type))
	buf = binary.LittleEndian.AppendUint64(buf, tx.Timestamp)

	// Input count + prevouts (no signatures, except coinbase data).
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
		// Include coinbase data (height) in the hash so each coinbase tx
		// has a unique ID. Regular inputs skip this (signature is excluded
		// to avoid circular dependency during signing).
		if in.PrevOut.IsZero() && len(in.Signature) > 0 {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(in.Signature)))
			buf = append(buf, in.Signature...)
		}
	}

	// Output count + outputs.
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Value)
		buf = append(buf, byte(out.Script.Type))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(out.Script.Data)))
		buf = append(buf, out.Script.Data...)
		if out.Token != nil {
			buf = append(buf, out.Token.ID[:]...)
			buf = binary.LittleEndian.AppendUint64(buf, out.Token.Amount)
		}
	}

	// Locktime, message.
	buf = binary.LittleEndian.AppendUint64(buf, tx.LockTime)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Message)))
	buf = append(buf, tx.Message...)

	return buf
}

// MarshalBinary encodes the full transaction (including input signatures and
// pubkeys, which SigningBytes omits) for on-disk block-file storage. Layout
// mirrors SigningBytes' manual little-endian idiom: type tag, timestamp,
// version, locktime, inputs (prevout, signature, pubkey), outputs (value,
// script, token), message. The caller (blockfile) is responsible for the
// length-prefix that precedes each transaction's record.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	var buf []byte

	buf = append(buf, byte(tx.Type))
	buf = binary.LittleEndian.AppendUint64(buf, tx.Timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, tx.Version)
	buf = binary.LittleEndian.AppendUint64(buf, tx.LockTime)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(in.Signature)))
		buf = append(buf, in.Signature...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(in.PubKey)))
		buf = append(buf, in.PubKey...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Value)
		buf = append(buf, byte(out.Script.Type))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(out.Script.Data)))
		buf = append(buf, out.Script.Data...)
		if out.Token != nil {
			buf = append(buf, 1)
			buf = append(buf, out.Token.ID[:]...)
			buf = binary.LittleEndian.AppendUint64(buf, out.Token.Amount)
		} else {
			buf = append(buf, 0)
		}
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(tx.Message)))
	buf = append(buf, tx.Message...)

	return buf, nil
}

// UnmarshalBinary decodes a transaction encoded by MarshalBinary.
func (tx *Transaction) UnmarshalBinary(data []byte) error {
	r := &byteReader{buf: data}

	typeTag, err := r.readByte()
	if err != nil {
		return fmt.Errorf("read type tag: %w", err)
	}
	tx.Type = Type(typeTag)

	tx.Timestamp, err = r.readUint64()
	if err != nil {
		return fmt.Errorf("read timestamp: %w", err)
	}
	ver32, err := r.readUint32()
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	tx.Version = ver32
	tx.LockTime, err = r.readUint64()
	if err != nil {
		return fmt.Errorf("read locktime: %w", err)
	}

	inCount, err := r.readUint32()
	if err != nil {
		return fmt.Errorf("read input count: %w", err)
	}
	tx.Inputs = make([]Input, inCount)
	for i := range tx.Inputs {
		txid, err := r.readN(32)
		if err != nil {
			return fmt.Errorf("read input %d txid: %w", i, err)
		}
		copy(tx.Inputs[i].PrevOut.TxID[:], txid)
		idx, err := r.readUint32()
		if err != nil {
			return fmt.Errorf("read input %d index: %w", i, err)
		}
		tx.Inputs[i].PrevOut.Index = idx

		sigLen, err := r.readUint32()
		if err != nil {
			return fmt.Errorf("read input %d signature length: %w", i, err)
		}
		sig, err := r.readN(int(sigLen))
		if err != nil {
			return fmt.Errorf("read input %d signature: %w", i, err)
		}
		if sigLen > 0 {
			tx.Inputs[i].Signature = sig
		}

		pubLen, err := r.readUint32()
		if err != nil {
			return fmt.Errorf("read input %d pubkey length: %w", i, err)
		}
		pub, err := r.readN(int(pubLen))
		if err != nil {
			return fmt.Errorf("read input %d pubkey: %w", i, err)
		}
		if pubLen > 0 {
			tx.Inputs[i].PubKey = pub
		}
	}

	outCount, err := r.readUint32()
	if err != nil {
		return fmt.Errorf("read output count: %w", err)
	}
	tx.Outputs = make([]Output, outCount)
	for i := range tx.Outputs {
		val, err := r.readUint64()
		if err != nil {
			return fmt.Errorf("read output %d value: %w", i, err)
		}
		tx.Outputs[i].Value = val

		scriptType, err := r.readByte()
		if err != nil {
			return fmt.Errorf("read output %d script type: %w", i, err)
		}
		tx.Outputs[i].Script.Type = types.ScriptType(scriptType)

		dataLen, err := r.readUint32()
		if err != nil {
			return fmt.Errorf("read output %d script data length: %w", i, err)
		}
		data, err := r.readN(int(dataLen))
		if err != nil {
			return fmt.Errorf("read output %d script data: %w", i, err)
		}
		tx.Outputs[i].Script.Data = data

		hasToken, err := r.readByte()
		if err != nil {
			return fmt.Errorf("read output %d token flag: %w", i, err)
		}
		if hasToken == 1 {
			tokenIDBytes, err := r.readN(32)
			if err != nil {
				return fmt.Errorf("read output %d token id: %w", i, err)
			}
			var tokenID types.TokenID
			copy(tokenID[:], tokenIDBytes)
			amount, err := r.readUint64()
			if err != nil {
				return fmt.Errorf("read output %d token amount: %w", i, err)
			}
			tx.Outputs[i].Token = &types.TokenData{ID: tokenID, Amount: amount}
		}
	}

	msgLen, err := r.readUint32()
	if err != nil {
		return fmt.Errorf("read message length: %w", err)
	}
	msg, err := r.readN(int(msgLen))
	if err != nil {
		return fmt.Errorf("read message: %w", err)
	}
	if msgLen > 0 {
		tx.Message = msg
	}

	return nil
}

// byteReader is a minimal sequential reader over a byte slice, tracking an
// offset and erroring on short reads instead of panicking.
type byteReader struct {
	buf []byte
	off int
}

func (r *byteReader) readN(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, fmt.Errorf("unexpected end of data (want %d bytes, have %d)", n, len(r.buf)-r.off)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *byteReader) readByte() (byte, error) {
	b, err := r.readN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) readUint32() (uint32, error) {
	b, err := r.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *byteReader) readUint64() (uint64, error) {
	b, err := r.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// TotalOutputValue returns the sum of all output values.
// Returns an error if the sum overflows uint64.
func (tx *Transaction) TotalOutputValue() (uint64, error) {
	var total uint64
	for _, out := range tx.Outputs {
		if total > math.MaxUint64-out.Value {
			return 0, fmt.Errorf("output value overflow")
		}
		total += out.Value
	}
	return total, nil
}
