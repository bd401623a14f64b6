package chain

import (
	"encoding/binary"
	"sort"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// newTestChain builds a Blockchain over fresh in-memory storage, with no
// mempool, wallet mirror, or peer requester attached.
func newTestChain(t *testing.T) *Blockchain {
	t.Helper()
	db := storage.NewMemory()
	t.Cleanup(func() { db.Close() })

	utxos, err := utxo.NewStore(db)
	if err != nil {
		t.Fatalf("utxo.NewStore() error: %v", err)
	}

	bc, err := New(db, utxos, nil, nil, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return bc
}

// genKey generates a fresh signing key and its P2PKH address.
func genKey(t *testing.T) (*crypto.PrivateKey, types.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	return key, crypto.AddressFromPubKey(key.PublicKey())
}

// sealBlock computes the merkle root, sorts transactions into canonical
// (ascending hash) order, and returns the assembled block. height 0 gets a
// zero PrevHash; non-zero heights chain off prev.
func sealBlock(prev *block.Block, burnFee uint64, timestamp uint64, hasGoldenTicket bool, txs []*tx.Transaction) *block.Block {
	sort.Slice(txs, func(i, j int) bool {
		hi, hj := txs[i].Hash(), txs[j].Hash()
		for k := range hi {
			if hi[k] != hj[k] {
				return hi[k] < hj[k]
			}
		}
		return false
	})

	txHashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		txHashes[i] = t.Hash()
	}

	var height uint64
	var prevHash types.Hash
	if prev != nil {
		height = prev.ID() + 1
		prevHash = prev.Hash()
	}

	header := &block.Header{
		Version:         block.CurrentVersion,
		Height:          height,
		PrevHash:        prevHash,
		Timestamp:       timestamp,
		BurnFee:         burnFee,
		Difficulty:      block.DefaultDifficulty,
		HasGoldenTicket: hasGoldenTicket,
		MerkleRoot:      block.ComputeMerkleRoot(txHashes),
	}
	return block.NewBlock(header, txs)
}

// mineGoldenTicket brute-forces a random nonce that meets difficulty against
// target — the test-side equivalent of the mining loop a real node runs.
func mineGoldenTicket(t *testing.T, target types.Hash, pubKey []byte, difficulty uint64) *tx.Transaction {
	t.Helper()
	for i := uint32(0); ; i++ {
		var random [32]byte
		binary.LittleEndian.PutUint32(random[:4], i)
		payload := tx.GoldenTicketPayload{Target: target, Random: random}
		if payload.MeetsDifficulty(pubKey, difficulty) {
			return &tx.Transaction{
				Type:    tx.GoldenTicket,
				Inputs:  []tx.Input{{PubKey: pubKey}},
				Message: payload.Encode(),
			}
		}
		if i == ^uint32(0) {
			t.Fatalf("mineGoldenTicket: no solution found under difficulty %d", difficulty)
		}
	}
}

// vipTx builds a single zero-input issuance transaction paying amount to addr.
func vipTx(addr types.Address, amount uint64, timestamp uint64) *tx.Transaction {
	return &tx.Transaction{
		Version:   1,
		Type:      tx.Vip,
		Timestamp: timestamp,
		Inputs:    []tx.Input{{PrevOut: types.Outpoint{}}},
		Outputs: []tx.Output{{
			Value:  amount,
			Script: types.Script{Type: types.ScriptTypeP2PKH, Data: addr.Bytes()},
		}},
	}
}

// spendTx builds a single-input, single-output P2PKH transfer spending
// prevOut (owned by key/fromAddr) and paying amount to toAddr.
func spendTx(t *testing.T, key *crypto.PrivateKey, prevOut types.Outpoint, toAddr types.Address, amount uint64, timestamp uint64) *tx.Transaction {
	t.Helper()
	txn := &tx.Transaction{
		Version:   1,
		Type:      tx.Normal,
		Timestamp: timestamp,
		Inputs:    []tx.Input{{PrevOut: prevOut}},
		Outputs: []tx.Output{{
			Value:  amount,
			Script: types.Script{Type: types.ScriptTypeP2PKH, Data: toAddr.Bytes()},
		}},
	}
	hash := txn.Hash()
	sig, err := key.Sign(hash[:])
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	txn.Inputs[0].Signature = sig
	txn.Inputs[0].PubKey = key.PublicKey()
	return txn
}

// buildGenesis returns a single-allocation genesis block paying amount to addr.
func buildGenesis(addr types.Address, amount uint64, timestamp uint64) *block.Block {
	return sealBlock(nil, 0, timestamp, false, []*tx.Transaction{vipTx(addr, amount, timestamp)})
}
