// Package rpc implements a minimal JSON-RPC 2.0 read/submit surface over a
// running node: chain height and block lookup, mempool size, transaction
// submission, and this node's own mirrored wallet balance. It is
// deliberately thin — peer management, staking, and wallet key custody stay
// out of process, reachable only through internal/walletfile and direct
// chain reads, not RPC.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/chain"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/mempool"
	"github.com/Klingon-tech/klingnet-chain/internal/p2p"
	"github.com/Klingon-tech/klingnet-chain/internal/walletmirror"
	"github.com/rs/zerolog"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	addr    string
	network string
	chainID string

	chain   *chain.Blockchain
	pool    *mempool.Pool
	mirror  *walletmirror.Mirror // nil = wallet_getBalance disabled
	p2pNode *p2p.Node            // nil = net_getPeerInfo disabled

	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet
	corsOrigins []string
}

// New creates a new RPC server over the given chain, mempool and genesis.
// mirror and p2pNode are optional; passing nil disables the endpoints that
// depend on them.
func New(addr, network, chainID string, bc *chain.Blockchain, pool *mempool.Pool, mirror *walletmirror.Mirror, p2pNode *p2p.Node, rpcCfg config.RPCConfig) *Server {
	s := &Server{
		addr:    addr,
		network: network,
		chainID: chainID,
		chain:   bc,
		pool:    pool,
		mirror:  mirror,
		p2pNode: p2pNode,
		logger:  klog.WithComponent("rpc"),
	}

	s.allowedNets = parseAllowedIPs(rpcCfg.AllowedIPs)
	s.corsOrigins = rpcCfg.CORSOrigins

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Start begins listening and serving in a background goroutine. It returns
// immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("RPC server listening")
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if len(s.allowedNets) > 0 {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ip := net.ParseIP(host)
		if ip == nil || !s.isIPAllowed(ip) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	s.setCORSHeaders(w, r)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, `jsonrpc must be "2.0"`)
		return
	}

	result, rpcErr := s.dispatch(&req)
	if rpcErr != nil {
		writeJSON(w, Response{JSONRPC: "2.0", Error: rpcErr, ID: req.ID})
		return
	}
	writeJSON(w, Response{JSONRPC: "2.0", Result: result, ID: req.ID})
}

func (s *Server) dispatch(req *Request) (interface{}, *Error) {
	switch req.Method {
	case "chain_getInfo":
		return s.handleChainGetInfo(req)
	case "chain_getBlockByHash":
		return s.handleChainGetBlockByHash(req)
	case "chain_getBlockByHeight":
		return s.handleChainGetBlockByHeight(req)
	case "mempool_getInfo":
		return s.handleMempoolGetInfo(req)
	case "tx_submit":
		return s.handleTxSubmit(req)
	case "wallet_getBalance":
		return s.handleWalletGetBalance(req)
	case "net_getPeerInfo":
		return s.handleNetGetPeerInfo(req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, Response{JSONRPC: "2.0", Error: &Error{Code: code, Message: message}, ID: id})
}

func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(s.corsOrigins) == 0 {
		return
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	for _, o := range s.corsOrigins {
		if o == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			return
		}
		if o == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			return
		}
	}
}

func parseParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}
	data, err := json.Marshal(req.Params)
	if err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params"}
	}
	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}
