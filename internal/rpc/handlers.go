package rpc

import (
	"encoding/hex"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func (s *Server) handleChainGetInfo(req *Request) (interface{}, *Error) {
	return &ChainInfoResult{
		ChainID: s.chainID,
		Network: s.network,
		Height:  s.chain.LatestID(),
		TipHash: s.chain.LatestHash().String(),
	}, nil
}

func (s *Server) handleChainGetBlockByHash(req *Request) (interface{}, *Error) {
	var p HashParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}

	hash, perr := parseHash(p.Hash)
	if perr != nil {
		return nil, perr
	}

	blk, ok := s.chain.GetBlock(hash)
	if !ok {
		return nil, &Error{Code: CodeNotFound, Message: "block not found"}
	}
	return NewBlockResult(blk), nil
}

func (s *Server) handleChainGetBlockByHeight(req *Request) (interface{}, *Error) {
	var p HeightParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}

	blk, ok := s.chain.GetBlockByHeight(p.Height)
	if !ok {
		return nil, &Error{Code: CodeNotFound, Message: "block not found"}
	}
	return NewBlockResult(blk), nil
}

func (s *Server) handleMempoolGetInfo(req *Request) (interface{}, *Error) {
	return &MempoolInfoResult{
		Count:       s.pool.Count(),
		RoutingWork: s.pool.RoutingWork(),
	}, nil
}

func (s *Server) handleTxSubmit(req *Request) (interface{}, *Error) {
	var p TxSubmitParam
	if err := parseParams(req, &p); err != nil {
		return nil, err
	}
	if p.Transaction == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "transaction required"}
	}

	fee, err := s.pool.Add(p.Transaction)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: err.Error()}
	}

	return &TxSubmitResult{TxHash: p.Transaction.Hash().String(), Fee: fee}, nil
}

func (s *Server) handleWalletGetBalance(req *Request) (interface{}, *Error) {
	if s.mirror == nil {
		return nil, &Error{Code: CodeNotFound, Message: "wallet mirror not enabled on this node"}
	}
	return &NodeWalletBalanceResult{
		PubKey:  hex.EncodeToString(s.mirror.PubKey()),
		Balance: s.mirror.AvailableBalance(),
	}, nil
}

func (s *Server) handleNetGetPeerInfo(req *Request) (interface{}, *Error) {
	if s.p2pNode == nil {
		return nil, &Error{Code: CodeNotFound, Message: "p2p not enabled on this node"}
	}
	peers := s.p2pNode.PeerList()
	ids := make([]string, len(peers))
	for i, p := range peers {
		ids[i] = p.ID.String()
	}
	return &PeerInfoResult{Count: len(ids), Peers: ids}, nil
}

func parseHash(hexStr string) (types.Hash, *Error) {
	h, err := types.HexToHash(hexStr)
	if err != nil {
		return types.Hash{}, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid hash: %v", err)}
	}
	return h, nil
}
