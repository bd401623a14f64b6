package rpcclient

import (
	"github.com/Klingon-tech/klingnet-chain/internal/rpc"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// ChainGetInfo fetches the node's chain height and tip hash.
func (c *Client) ChainGetInfo() (*rpc.ChainInfoResult, error) {
	var result rpc.ChainInfoResult
	if err := c.Call("chain_getInfo", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ChainGetBlockByHash fetches a block by its hex-encoded hash.
func (c *Client) ChainGetBlockByHash(hash string) (*rpc.BlockResult, error) {
	var result rpc.BlockResult
	if err := c.Call("chain_getBlockByHash", rpc.HashParam{Hash: hash}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ChainGetBlockByHeight fetches a block by height.
func (c *Client) ChainGetBlockByHeight(height uint64) (*rpc.BlockResult, error) {
	var result rpc.BlockResult
	if err := c.Call("chain_getBlockByHeight", rpc.HeightParam{Height: height}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// MempoolGetInfo fetches mempool size and routing-work total.
func (c *Client) MempoolGetInfo() (*rpc.MempoolInfoResult, error) {
	var result rpc.MempoolInfoResult
	if err := c.Call("mempool_getInfo", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TxSubmit broadcasts a signed transaction to the node's mempool.
func (c *Client) TxSubmit(t *tx.Transaction) (*rpc.TxSubmitResult, error) {
	var result rpc.TxSubmitResult
	if err := c.Call("tx_submit", rpc.TxSubmitParam{Transaction: t}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// WalletGetBalance fetches the node's own mirrored wallet balance.
func (c *Client) WalletGetBalance() (*rpc.NodeWalletBalanceResult, error) {
	var result rpc.NodeWalletBalanceResult
	if err := c.Call("wallet_getBalance", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// NetGetPeerInfo fetches the node's currently connected peer list.
func (c *Client) NetGetPeerInfo() (*rpc.PeerInfoResult, error) {
	var result rpc.PeerInfoResult
	if err := c.Call("net_getPeerInfo", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
