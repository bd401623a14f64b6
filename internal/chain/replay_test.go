package chain

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// TestAddBlock_CrossInstanceReplay feeds the identical sequence of blocks —
// including a reorg — into two independent Blockchain instances and checks
// they converge on the same tip and UTXO view, since AddBlock is meant to be
// a deterministic function of the block sequence alone.
func TestAddBlock_CrossInstanceReplay(t *testing.T) {
	bcA := newTestChain(t)
	bcB := newTestChain(t)
	_, genAddr := genKey(t)

	genesis := buildGenesis(genAddr, 1_000_000, 9000)

	mk := func(prev *block.Block, burnFee uint64, ts uint64, seed byte) *block.Block {
		_, addr := genKey(t)
		v := vipTx(addr, 1, ts)
		v.Message = []byte{seed}
		return sealBlock(prev, burnFee, ts, false, []*tx.Transaction{v})
	}

	a1 := mk(genesis, 10, 9001, 0x01)
	a2 := mk(a1, 10, 9002, 0x02)
	b1 := mk(genesis, 20, 9003, 0x11)
	b2 := mk(b1, 20, 9004, 0x12)
	b3 := mk(b2, 20, 9005, 0x13)

	sequence := []*block.Block{genesis, a1, a2, b1, b2, b3}

	for _, bc := range []*Blockchain{bcA, bcB} {
		for _, blk := range sequence {
			if _, err := bc.AddBlock(blk, ""); err != nil {
				t.Fatalf("AddBlock(%s) error: %v", blk.Hash(), err)
			}
		}
	}

	if bcA.LatestHash() != bcB.LatestHash() {
		t.Fatalf("LatestHash() diverged: %s vs %s", bcA.LatestHash(), bcB.LatestHash())
	}
	if bcA.LatestID() != bcB.LatestID() {
		t.Fatalf("LatestID() diverged: %d vs %d", bcA.LatestID(), bcB.LatestID())
	}
	if bcA.LatestHash() != b3.Hash() {
		t.Fatalf("LatestHash() = %s, want b3 on both instances", bcA.LatestHash())
	}

	for _, blk := range []*block.Block{a1, b1} {
		key := slipKeyFor(t, blk)
		spendableA, knownA, errA := bcA.utxos.Get(key)
		spendableB, knownB, errB := bcB.utxos.Get(key)
		if errA != nil || errB != nil {
			t.Fatalf("utxos.Get() error: %v / %v", errA, errB)
		}
		if knownA != knownB || spendableA != spendableB {
			t.Errorf("UTXO state diverged for %s: (known=%v spendable=%v) vs (known=%v spendable=%v)",
				blk.Hash(), knownA, spendableA, knownB, spendableB)
		}
	}
}
