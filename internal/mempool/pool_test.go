package mempool

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// fakeUTXO is one entry of a fakeProvider.
type fakeUTXO struct {
	value  uint64
	script types.Script
}

// fakeProvider is a minimal tx.UTXOProvider over an explicit map, standing
// in for Blockchain.UTXOProvider in these package-local tests.
type fakeProvider struct {
	utxos map[types.Outpoint]fakeUTXO
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{utxos: make(map[types.Outpoint]fakeUTXO)}
}

func (p *fakeProvider) GetUTXO(op types.Outpoint) (uint64, types.Script, error) {
	u, ok := p.utxos[op]
	if !ok {
		return 0, types.Script{}, tx.ErrInputNotFound
	}
	return u.value, u.script, nil
}

func (p *fakeProvider) HasUTXO(op types.Outpoint) bool {
	_, ok := p.utxos[op]
	return ok
}

func genKey(t *testing.T) (*crypto.PrivateKey, types.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	return key, crypto.AddressFromPubKey(key.PublicKey())
}

// spendTx builds a signed Normal transaction spending prevOut (registered
// in provider) and paying toAddr.
func spendTx(t *testing.T, provider *fakeProvider, key *crypto.PrivateKey, fromAddr types.Address, inputValue uint64, toAddr types.Address, outputValue uint64, ts uint64) *tx.Transaction {
	t.Helper()
	prevOut := types.Outpoint{TxID: types.Hash{byte(ts)}, Index: 0}
	provider.utxos[prevOut] = fakeUTXO{
		value:  inputValue,
		script: types.Script{Type: types.ScriptTypeP2PKH, Data: fromAddr.Bytes()},
	}

	txn := &tx.Transaction{
		Version:   1,
		Type:      tx.Normal,
		Timestamp: ts,
		Inputs:    []tx.Input{{PrevOut: prevOut}},
		Outputs: []tx.Output{{
			Value:  outputValue,
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

func TestPool_AddAndDuplicate(t *testing.T) {
	provider := newFakeProvider()
	key, addr := genKey(t)
	pool := New(provider, nil, nil, 0)

	txn := spendTx(t, provider, key, addr, 100, addr, 90, 1000)

	fee, err := pool.Add(txn)
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if fee != 10 {
		t.Errorf("fee = %d, want 10", fee)
	}
	if pool.Count() != 1 {
		t.Errorf("Count() = %d, want 1", pool.Count())
	}

	if _, err := pool.Add(txn); err != ErrAlreadyExists {
		t.Errorf("Add(duplicate) = %v, want ErrAlreadyExists", err)
	}
}

func TestPool_AddRejectsGoldenTicket(t *testing.T) {
	provider := newFakeProvider()
	pool := New(provider, nil, nil, 0)

	key, _ := genKey(t)
	payload := tx.GoldenTicketPayload{Target: types.Hash{1}, Random: [32]byte{2}}
	gt := &tx.Transaction{
		Type:    tx.GoldenTicket,
		Inputs:  []tx.Input{{PubKey: key.PublicKey()}},
		Message: payload.Encode(),
	}
	if _, err := pool.Add(gt); err != ErrWrongPath {
		t.Errorf("Add(golden ticket) = %v, want ErrWrongPath", err)
	}
}

func TestPool_AddGoldenTicket_FirstWins(t *testing.T) {
	pool := New(newFakeProvider(), nil, nil, 0)
	key, _ := genKey(t)

	payload := tx.GoldenTicketPayload{Target: types.Hash{9}, Random: [32]byte{1}}
	first := &tx.Transaction{
		Type:    tx.GoldenTicket,
		Inputs:  []tx.Input{{PubKey: key.PublicKey()}},
		Message: payload.Encode(),
	}
	payload2 := tx.GoldenTicketPayload{Target: types.Hash{9}, Random: [32]byte{2}}
	second := &tx.Transaction{
		Type:    tx.GoldenTicket,
		Inputs:  []tx.Input{{PubKey: key.PublicKey()}},
		Message: payload2.Encode(),
	}

	if err := pool.AddGoldenTicket(first); err != nil {
		t.Fatalf("AddGoldenTicket(first) error: %v", err)
	}
	if err := pool.AddGoldenTicket(second); err != nil {
		t.Fatalf("AddGoldenTicket(second) error: %v", err)
	}

	got, target := pool.bestGoldenTicketLocked(types.Hash{9})
	if target != (types.Hash{9}) {
		t.Fatalf("target = %x, want {9}", target)
	}
	if got != first {
		t.Errorf("AddGoldenTicket should keep the first ticket per target")
	}

	if got, _ := pool.bestGoldenTicketLocked(types.Hash{7}); got != nil {
		t.Errorf("bestGoldenTicketLocked(unrelated parent) = %v, want nil", got)
	}
}

func TestPool_RemoveConfirmed_RebuildsWork(t *testing.T) {
	provider := newFakeProvider()
	key, addr := genKey(t)
	pool := New(provider, addr.Bytes(), nil, 0)

	t1 := spendTx(t, provider, key, addr, 100, addr, 90, 1000)
	t2 := spendTx(t, provider, key, addr, 200, addr, 190, 1001)

	if _, err := pool.Add(t1); err != nil {
		t.Fatalf("Add(t1) error: %v", err)
	}
	if _, err := pool.Add(t2); err != nil {
		t.Fatalf("Add(t2) error: %v", err)
	}
	if got := pool.RoutingWork(); got != 90+190 {
		t.Fatalf("RoutingWork() = %d, want %d", got, 90+190)
	}

	pool.RemoveConfirmed([]*tx.Transaction{t1})
	if pool.Count() != 1 {
		t.Fatalf("Count() after RemoveConfirmed = %d, want 1", pool.Count())
	}
	if got := pool.RoutingWork(); got != 190 {
		t.Fatalf("RoutingWork() after RemoveConfirmed = %d, want 190", got)
	}
}

func TestPool_PruneInvalid(t *testing.T) {
	provider := newFakeProvider()
	key, addr := genKey(t)
	pool := New(provider, nil, nil, 0)

	txn := spendTx(t, provider, key, addr, 100, addr, 90, 1000)
	if _, err := pool.Add(txn); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	// Simulate the input being spent elsewhere (wound off the active
	// chain): remove it from the provider's known set.
	delete(provider.utxos, txn.Inputs[0].PrevOut)

	pool.PruneInvalid(provider)
	if pool.Count() != 0 {
		t.Errorf("Count() after PruneInvalid = %d, want 0", pool.Count())
	}
	if got := pool.RoutingWork(); got != 0 {
		t.Errorf("RoutingWork() after PruneInvalid = %d, want 0", got)
	}
}

// fakeChainTip implements ChainTip over an explicit tip block.
type fakeChainTip struct {
	tip       *block.Block
	densityOK bool
}

func (f *fakeChainTip) LatestHash() types.Hash {
	if f.tip == nil {
		return types.Hash{}
	}
	return f.tip.Hash()
}

func (f *fakeChainTip) GetBlock(hash types.Hash) (*block.Block, bool) {
	if f.tip != nil && f.tip.Hash() == hash {
		return f.tip, true
	}
	return nil, false
}

func (f *fakeChainTip) GoldenTicketDensityOK(bool) bool {
	return f.densityOK
}

func genesisTip(t *testing.T) *block.Block {
	t.Helper()
	header := &block.Header{
		Version:    block.CurrentVersion,
		Height:     0,
		Timestamp:  1000,
		BurnFee:    1_000_000,
		MerkleRoot: block.ComputeMerkleRoot(nil),
	}
	return block.NewBlock(header, nil)
}

func TestPool_CanBundleAndBundleBlock(t *testing.T) {
	provider := newFakeProvider()
	key, addr := genKey(t)
	pool := New(provider, addr.Bytes(), nil, 0)

	// HeartbeatMS elapsed with a tip burnfee low enough that a single
	// transaction's work clears WorkNeeded.
	tip := genesisTip(t)
	tipView := &fakeChainTip{tip: tip, densityOK: true}

	txn := spendTx(t, provider, key, addr, 2_000_000, addr, 1_000_000, 1001)
	if _, err := pool.Add(txn); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	currentTS := tip.Header.Timestamp + 30_000 // one heartbeat later
	work, ok := pool.CanBundleBlock(tipView, currentTS)
	if !ok {
		t.Fatalf("CanBundleBlock() = (_, false), want true")
	}
	if work != 1_000_000 {
		t.Fatalf("CanBundleBlock() work = %d, want 1000000", work)
	}

	blk, err := pool.BundleBlock(tipView, currentTS, nil)
	if err != nil {
		t.Fatalf("BundleBlock() error: %v", err)
	}
	if blk.ID() != tip.ID()+1 {
		t.Errorf("bundled block id = %d, want %d", blk.ID(), tip.ID()+1)
	}
	if blk.Header.PrevHash != tip.Hash() {
		t.Errorf("bundled block PrevHash mismatch")
	}
	if len(blk.Transactions) != 1 || blk.Transactions[0].Hash() != txn.Hash() {
		t.Errorf("bundled block should contain exactly the pending transaction")
	}
	if pool.RoutingWork() != 0 {
		t.Errorf("RoutingWork() after bundling = %d, want 0", pool.RoutingWork())
	}
	if pool.newTxAdded {
		t.Errorf("newTxAdded should be cleared after bundling")
	}
}

func TestPool_BundleGenesisBlock(t *testing.T) {
	pool := New(newFakeProvider(), nil, nil, 0)
	blk, err := pool.BundleGenesisBlock(5000, nil)
	if err != nil {
		t.Fatalf("BundleGenesisBlock() error: %v", err)
	}
	if blk.ID() != 0 {
		t.Errorf("genesis bundle id = %d, want 0", blk.ID())
	}
	if !blk.Header.PrevHash.IsZero() {
		t.Errorf("genesis bundle PrevHash should be zero")
	}
}

func TestPool_BlockQueue(t *testing.T) {
	pool := New(newFakeProvider(), nil, nil, 0)

	h1 := &block.Header{Version: block.CurrentVersion, Height: 5, Timestamp: 1, MerkleRoot: block.ComputeMerkleRoot(nil)}
	b1 := block.NewBlock(h1, nil)
	h2 := &block.Header{Version: block.CurrentVersion, Height: 2, Timestamp: 2, MerkleRoot: block.ComputeMerkleRoot(nil)}
	b2 := block.NewBlock(h2, nil)

	pool.AddBlock(b1)
	pool.AddBlock(b2)
	pool.AddBlock(b1) // duplicate, ignored

	if !pool.HasQueuedBlock(b1.Hash()) {
		t.Fatal("b1 should be queued")
	}

	drained := pool.DrainQueuedBlocks()
	if len(drained) != 2 {
		t.Fatalf("DrainQueuedBlocks() len = %d, want 2", len(drained))
	}
	if drained[0].ID() != 2 || drained[1].ID() != 5 {
		t.Errorf("DrainQueuedBlocks() not sorted ascending by id: got ids %d, %d", drained[0].ID(), drained[1].ID())
	}
	if pool.HasQueuedBlock(b1.Hash()) {
		t.Error("queue should be empty after draining")
	}
}
