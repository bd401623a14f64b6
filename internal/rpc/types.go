package rpc

import (
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// HashParam is used by endpoints that take a single block or transaction hash.
type HashParam struct {
	Hash string `json:"hash"`
}

// HeightParam is used by chain_getBlockByHeight.
type HeightParam struct {
	Height uint64 `json:"height"`
}

// TxSubmitParam is used by tx_submit.
type TxSubmitParam struct {
	Transaction *tx.Transaction `json:"transaction"`
}

// BlockResult wraps a block with its precomputed hash for RPC responses.
type BlockResult struct {
	Hash         string        `json:"hash"`
	Header       *block.Header `json:"header"`
	Transactions []*TxResult   `json:"transactions"`
}

// TxResult wraps a transaction with its precomputed hash for RPC responses.
type TxResult struct {
	Hash      string      `json:"hash"`
	Type      tx.Type     `json:"type"`
	Version   uint32      `json:"version"`
	Timestamp uint64      `json:"timestamp"`
	Inputs    []tx.Input  `json:"inputs"`
	Outputs   []tx.Output `json:"outputs"`
}

// NewBlockResult creates a BlockResult from a block, precomputing all hashes.
func NewBlockResult(b *block.Block) *BlockResult {
	txResults := make([]*TxResult, len(b.Transactions))
	for i, t := range b.Transactions {
		txResults[i] = NewTxResult(t)
	}
	return &BlockResult{
		Hash:         b.Hash().String(),
		Header:       b.Header,
		Transactions: txResults,
	}
}

// NewTxResult creates a TxResult from a transaction, precomputing its hash.
func NewTxResult(t *tx.Transaction) *TxResult {
	return &TxResult{
		Hash:      t.Hash().String(),
		Type:      t.Type,
		Version:   t.Version,
		Timestamp: t.Timestamp,
		Inputs:    t.Inputs,
		Outputs:   t.Outputs,
	}
}

// ChainInfoResult is returned by chain_getInfo.
type ChainInfoResult struct {
	ChainID string `json:"chain_id"`
	Network string `json:"network"`
	Height  uint64 `json:"height"`
	TipHash string `json:"tip_hash"`
}

// TxSubmitResult is returned by tx_submit.
type TxSubmitResult struct {
	TxHash string `json:"tx_hash"`
	Fee    uint64 `json:"fee"`
}

// MempoolInfoResult is returned by mempool_getInfo.
type MempoolInfoResult struct {
	Count      int    `json:"count"`
	RoutingWork uint64 `json:"routing_work"`
}

// NodeWalletBalanceResult is returned by wallet_getBalance. It reports this
// node's own mirrored balance (internal/walletmirror), not an arbitrary
// address — the node tracks one public key, the one it was started with.
type NodeWalletBalanceResult struct {
	PubKey  string `json:"pubkey"`
	Balance uint64 `json:"balance"`
}

// PeerInfoResult is returned by net_getPeerInfo.
type PeerInfoResult struct {
	Count int      `json:"count"`
	Peers []string `json:"peers"`
}
