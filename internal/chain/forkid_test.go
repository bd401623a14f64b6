package chain

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// TestGenerateForkID_BelowOrigin checks the stated boundary behavior:
// a reference height below the first non-zero offset produces an all-zero
// fork id, since every sampled height would be 0 (genesis) or underflow.
func TestGenerateForkID_BelowOrigin(t *testing.T) {
	bc := newTestChain(t)
	for _, h := range []uint64{0, 1, 5, 9} {
		got := bc.generateForkID(h)
		if got != [32]byte{} {
			t.Errorf("generateForkID(%d) = %x, want all-zero", h, got)
		}
	}
}

// TestGenerateForkID_SamplesLongestChain builds a short chain and checks
// that each non-skipped offset's two bytes in the fork id are copied from
// the longest-chain hash actually stored at the sampled height.
func TestGenerateForkID_SamplesLongestChain(t *testing.T) {
	bc := newTestChain(t)
	_, addr := genKey(t)

	genesis := buildGenesis(addr, 1_000_000, 3000)
	if res, err := bc.AddBlock(genesis, ""); err != nil || res != BlockAdded {
		t.Fatalf("AddBlock(genesis) = %v, %v", res, err)
	}

	prev := genesis
	var hashes = map[uint64][32]byte{0: genesis.Hash()}
	for i := uint64(1); i <= 20; i++ {
		key, a := genKey(t)
		// Each block carries a golden ticket on its parent so the chain keeps
		// passing the density check past height 6.
		gt := mineGoldenTicket(t, prev.Hash(), key.PublicKey(), prev.Header.Difficulty)
		blk := sealBlock(prev, 10, 3000+i, true, []*tx.Transaction{vipTx(a, 1, 3000+i), gt})
		if res, err := bc.AddBlock(blk, ""); err != nil || res != BlockAdded {
			t.Fatalf("AddBlock(block %d) = %v, %v", i, res, err)
		}
		hashes[i] = blk.Hash()
		prev = blk
	}

	got := bc.generateForkID(20)

	// Origin for height 20 is 20 itself (20/10*10). Offset 0 samples height
	// 20, offset 10 samples height 10; both are within range and non-zero.
	wantAt := func(offset uint64, i int) {
		h := hashes[20-offset]
		if got[2*i] != h[2*i] || got[2*i+1] != h[2*i+1] {
			t.Errorf("forkID[%d:%d] = %x, want %x (height %d)", 2*i, 2*i+2, got[2*i:2*i+2], h[2*i:2*i+2], 20-offset)
		}
	}
	wantAt(0, 0)
	wantAt(10, 1)

	// Offset 20 samples height 0 (genesis) — excluded, so those bytes stay zero.
	if got[4] != 0 || got[5] != 0 {
		t.Errorf("forkID[4:6] = %x, want zero (genesis sample excluded)", got[4:6])
	}
}
