package chain

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// TestAddBlock_BasicReorg builds a 2-block side chain (A) off genesis, then
// a heavier 3-block chain (B) off the same genesis, and checks that B wins
// the tip once its third block arrives, with A's blocks rolled back.
func TestAddBlock_BasicReorg(t *testing.T) {
	bc := newTestChain(t)
	_, genAddr := genKey(t)

	genesis := buildGenesis(genAddr, 1_000_000, 1000)
	if res, err := bc.AddBlock(genesis, ""); err != nil || res != BlockAdded {
		t.Fatalf("AddBlock(genesis) = %v, %v", res, err)
	}

	mk := func(prev *block.Block, burnFee uint64, ts uint64, seed byte) *block.Block {
		_, addr := genKey(t)
		v := vipTx(addr, 1, ts)
		v.Message = []byte{seed}
		return sealBlock(prev, burnFee, ts, false, []*tx.Transaction{v})
	}

	a1 := mk(genesis, 10, 1001, 0xA1)
	if res, err := bc.AddBlock(a1, ""); err != nil || res != BlockAdded {
		t.Fatalf("AddBlock(a1) = %v, %v", res, err)
	}
	a2 := mk(a1, 10, 1002, 0xA2)
	if res, err := bc.AddBlock(a2, ""); err != nil || res != BlockAdded {
		t.Fatalf("AddBlock(a2) = %v, %v", res, err)
	}
	if got := bc.LatestHash(); got != a2.Hash() {
		t.Fatalf("LatestHash() after a2 = %s, want a2", got)
	}

	b1 := mk(genesis, 20, 1003, 0xB1)
	if res, err := bc.AddBlock(b1, ""); err != nil || res != BlockAdded {
		t.Fatalf("AddBlock(b1) = %v, %v", res, err)
	}
	if got := bc.LatestHash(); got != a2.Hash() {
		t.Fatalf("LatestHash() after b1 should still be a2 (shorter side chain), got %s", got)
	}

	b2 := mk(b1, 20, 1004, 0xB2)
	if res, err := bc.AddBlock(b2, ""); err != nil || res != BlockAdded {
		t.Fatalf("AddBlock(b2) = %v, %v", res, err)
	}
	if got := bc.LatestHash(); got != a2.Hash() {
		t.Fatalf("LatestHash() after b2 should still be a2 (equal length), got %s", got)
	}

	b3 := mk(b2, 20, 1005, 0xB3)
	if res, err := bc.AddBlock(b3, ""); err != nil || res != BlockAdded {
		t.Fatalf("AddBlock(b3) = %v, %v", res, err)
	}

	if got := bc.LatestHash(); got != b3.Hash() {
		t.Fatalf("LatestHash() after b3 = %s, want b3 (reorg should have won)", got)
	}
	if got := bc.LatestID(); got != 3 {
		t.Fatalf("LatestID() after reorg = %d, want 3", got)
	}

	if gotA1, _ := bc.GetBlock(a1.Hash()); gotA1 == nil || gotA1.InLongestChain {
		t.Error("a1 should no longer be on the longest chain")
	}
	if gotB1, _ := bc.GetBlock(b1.Hash()); gotB1 == nil || !gotB1.InLongestChain {
		t.Error("b1 should now be on the longest chain")
	}

	a1Out := slipKeyFor(t, a1)
	if spendable, known, err := bc.utxos.Get(a1Out); err != nil || !known || spendable {
		t.Errorf("a1's output should be known and no longer spendable after unwind, got known=%v spendable=%v err=%v", known, spendable, err)
	}
	b1Out := slipKeyFor(t, b1)
	if spendable, known, err := bc.utxos.Get(b1Out); err != nil || !known || !spendable {
		t.Errorf("b1's output should be known and spendable after wind, got known=%v spendable=%v err=%v", known, spendable, err)
	}
}

// slipKeyFor computes the UtxoSet key for the single output of blk's sole
// transaction.
func slipKeyFor(t *testing.T, blk *block.Block) types.Hash {
	t.Helper()
	txn := blk.Transactions[0]
	slip := types.Slip{
		PublicKey: txn.Outputs[0].Script.Data,
		Amount:    txn.Outputs[0].Value,
		BlockID:   blk.ID(),
		TxOrdinal: 0,
		SlipIndex: 0,
	}
	return slip.UtxoKey()
}
