package rpcclient

import (
	"fmt"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/chain"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/mempool"
	"github.com/Klingon-tech/klingnet-chain/internal/rpc"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func setupTestServer(t *testing.T) (*Client, *chain.Blockchain) {
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

	srv := rpc.New("127.0.0.1:0", "testnet", "klingnet-test", bc, pool, nil, nil, config.RPCConfig{})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return New(fmt.Sprintf("http://%s", srv.Addr())), bc
}

func TestClient_ChainGetInfo(t *testing.T) {
	client, bc := setupTestServer(t)

	info, err := client.ChainGetInfo()
	if err != nil {
		t.Fatalf("ChainGetInfo: %v", err)
	}
	if info.Height != bc.LatestID() {
		t.Errorf("Height = %d, want %d", info.Height, bc.LatestID())
	}
	if info.TipHash != bc.LatestHash().String() {
		t.Errorf("TipHash = %s, want %s", info.TipHash, bc.LatestHash().String())
	}
}

func TestClient_ChainGetBlockByHeight(t *testing.T) {
	client, _ := setupTestServer(t)

	blk, err := client.ChainGetBlockByHeight(0)
	if err != nil {
		t.Fatalf("ChainGetBlockByHeight: %v", err)
	}
	if len(blk.Transactions) != 1 {
		t.Errorf("got %d transactions, want 1", len(blk.Transactions))
	}
}

func TestClient_ChainGetBlockByHeight_NotFound(t *testing.T) {
	client, _ := setupTestServer(t)

	if _, err := client.ChainGetBlockByHeight(42); err == nil {
		t.Fatal("expected error for missing block")
	}
}

func TestClient_MempoolGetInfo(t *testing.T) {
	client, _ := setupTestServer(t)

	info, err := client.MempoolGetInfo()
	if err != nil {
		t.Fatalf("MempoolGetInfo: %v", err)
	}
	if info.Count != 0 {
		t.Errorf("Count = %d, want 0", info.Count)
	}
}

func TestClient_WalletGetBalance_Disabled(t *testing.T) {
	client, _ := setupTestServer(t)

	if _, err := client.WalletGetBalance(); err == nil {
		t.Fatal("expected error when wallet mirror is not attached")
	}
}
