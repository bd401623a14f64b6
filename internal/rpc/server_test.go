package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-chain/config"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/mempool"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"

	"github.com/Klingon-tech/klingnet-chain/internal/chain"
)

type testEnv struct {
	server *Server
	chain  *chain.Blockchain
	pool   *mempool.Pool
	url    string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	db := storage.NewMemory()
	t.Cleanup(func() { db.Close() })

	utxos, err := utxo.NewStore(db)
	if err != nil {
		t.Fatalf("utxo.NewStore: %v", err)
	}

	bc, err := chain.New(db, utxos, nil, nil, nil)
	if err != nil {
		t.Fatalf("chain.New: %v", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	addr := crypto.AddressFromPubKey(key.PublicKey())

	genesisTxs := []*tx.Transaction{{
		Version:   1,
		Type:      tx.Vip,
		Timestamp: uint64(time.Now().Unix()),
		Inputs:    []tx.Input{{PrevOut: types.Outpoint{}}},
		Outputs: []tx.Output{{
			Value:  1_000_000,
			Script: types.Script{Type: types.ScriptTypeP2PKH, Data: addr.Bytes()},
		}},
	}}
	hashes := []types.Hash{genesisTxs[0].Hash()}
	genesisBlock := block.NewBlock(&block.Header{
		Version:    block.CurrentVersion,
		Height:     0,
		Timestamp:  genesisTxs[0].Timestamp,
		MerkleRoot: block.ComputeMerkleRoot(hashes),
	}, genesisTxs)

	if _, err := bc.AddBlock(genesisBlock, ""); err != nil {
		t.Fatalf("AddBlock(genesis): %v", err)
	}

	pool := mempool.New(bc.UTXOProvider(), nil, mempool.DefaultPolicy(), 100)
	bc.SetMempool(pool)

	srv := New("127.0.0.1:0", "testnet", "klingnet-test", bc, pool, nil, nil, config.RPCConfig{})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		server: srv,
		chain:  bc,
		pool:   pool,
		url:    fmt.Sprintf("http://%s", srv.Addr()),
	}
}

func (e *testEnv) call(t *testing.T, method string, params interface{}) Response {
	t.Helper()

	req := Request{JSONRPC: "2.0", Method: method, Params: params, ID: 1}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := http.Post(e.url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestChainGetInfo(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.call(t, "chain_getInfo", nil)
	if resp.Error != nil {
		t.Fatalf("chain_getInfo error: %+v", resp.Error)
	}

	var result ChainInfoResult
	data, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Height != 0 {
		t.Errorf("Height = %d, want 0", result.Height)
	}
	if result.TipHash == "" {
		t.Error("TipHash should not be empty")
	}
}

func TestChainGetBlockByHeight(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.call(t, "chain_getBlockByHeight", HeightParam{Height: 0})
	if resp.Error != nil {
		t.Fatalf("chain_getBlockByHeight error: %+v", resp.Error)
	}

	var result BlockResult
	data, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(result.Transactions) != 1 {
		t.Errorf("got %d transactions, want 1", len(result.Transactions))
	}
}

func TestChainGetBlockByHeight_NotFound(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.call(t, "chain_getBlockByHeight", HeightParam{Height: 99})
	if resp.Error == nil {
		t.Fatal("expected error for missing block")
	}
	if resp.Error.Code != CodeNotFound {
		t.Errorf("Code = %d, want %d", resp.Error.Code, CodeNotFound)
	}
}

func TestChainGetBlockByHash_InvalidHash(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.call(t, "chain_getBlockByHash", HashParam{Hash: "not-hex"})
	if resp.Error == nil {
		t.Fatal("expected error for malformed hash")
	}
	if resp.Error.Code != CodeInvalidParams {
		t.Errorf("Code = %d, want %d", resp.Error.Code, CodeInvalidParams)
	}
}

func TestMempoolGetInfo_Empty(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.call(t, "mempool_getInfo", nil)
	if resp.Error != nil {
		t.Fatalf("mempool_getInfo error: %+v", resp.Error)
	}

	var result MempoolInfoResult
	data, _ := json.Marshal(resp.Result)
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Count != 0 {
		t.Errorf("Count = %d, want 0", result.Count)
	}
}

func TestWalletGetBalance_Disabled(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.call(t, "wallet_getBalance", nil)
	if resp.Error == nil {
		t.Fatal("expected error when wallet mirror is not attached")
	}
}

func TestMethodNotFound(t *testing.T) {
	env := setupTestEnv(t)

	resp := env.call(t, "bogus_method", nil)
	if resp.Error == nil {
		t.Fatal("expected method-not-found error")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("Code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}
