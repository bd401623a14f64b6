// Package node provides a reusable blockchain node that can be embedded
// in any binary (daemon, wallet, etc.).
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/chain"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/mempool"
	"github.com/Klingon-tech/klingnet-chain/internal/p2p"
	"github.com/Klingon-tech/klingnet-chain/internal/rpc"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/internal/walletmirror"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"
)

// Node is a fully-initialized blockchain node: BlockRing + UtxoSet +
// BurnFee (all internal to Blockchain), Mempool, WalletMirror and the P2P
// transport, wired in the lock order Configuration -> Blockchain ->
// Mempool -> Wallet (SPEC_FULL.md §5).
type Node struct {
	cfg     *config.Config
	genesis *config.Genesis
	logger  zerolog.Logger

	db         storage.DB
	utxoStore  *utxo.Store
	blockchain *chain.Blockchain
	pool       *mempool.Pool
	wallet     *walletmirror.Mirror

	p2pNode *p2p.Node
	syncer  *p2p.Syncer
	rpc     *rpc.Server

	creatorKey *crypto.PrivateKey

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// peerRequester adapts a Node to chain.PeerRequester. It is constructed
// before the Node's own fields are fully populated and before p2pNode.Start()
// has run; RequestBlock is only ever called later, during normal operation,
// by which point n.syncer is live. This breaks the otherwise-circular
// dependency between chain.New (which wants a PeerRequester) and p2p.Syncer
// (whose host is only valid after p2pNode.Start()).
type peerRequester struct {
	n *Node
}

func (r *peerRequester) RequestBlock(hash types.Hash, fromPeer string) error {
	if r.n.syncer == nil {
		return fmt.Errorf("p2p not enabled, cannot request block from peer")
	}
	pid, err := peer.Decode(fromPeer)
	if err != nil {
		return fmt.Errorf("invalid peer id %q: %w", fromPeer, err)
	}

	reqCtx, cancel := context.WithTimeout(r.n.ctx, 10*time.Second)
	defer cancel()

	blk, err := r.n.syncer.RequestBlockByHash(reqCtx, pid, hash)
	if err != nil {
		return err
	}

	go func() {
		if _, err := r.n.blockchain.AddBlock(blk, fromPeer); err != nil {
			r.n.logger.Debug().Err(err).Str("hash", hash.String()[:16]+"...").Msg("Failed to add fetched parent block")
		}
	}()
	return nil
}

// New creates and initializes a new Node. It performs all setup steps
// (logger, genesis, storage, chain, mempool, wallet mirror, P2P) but does
// not start background goroutines. Call Start() for that.
func New(cfg *config.Config) (*Node, error) {
	// ── 1. Address HRP ──────────────────────────────────────────────
	if cfg.Network == config.Testnet {
		types.SetAddressHRP(types.TestnetHRP)
	} else {
		types.SetAddressHRP(types.MainnetHRP)
	}

	// ── 2. Logger ────────────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = cfg.LogsDir() + "/klingnet.log"
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("node")

	// ── 3. Genesis ───────────────────────────────────────────────────
	genesis := config.GenesisFor(cfg.Network)
	logger.Info().
		Str("chain_id", genesis.ChainID).
		Str("network", string(cfg.Network)).
		Msg("Starting Klingnet Chain Node")

	// ── 4. Storage ───────────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.ChainDataDir())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.ChainDataDir(), err)
	}

	utxoStore, err := utxo.NewStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open utxo set: %w", err)
	}
	logger.Info().Str("path", cfg.ChainDataDir()).Msg("Database opened")

	// ── 5. Creator key ───────────────────────────────────────────────
	var creatorKey *crypto.PrivateKey
	if cfg.Mining.CreatorKey != "" {
		creatorKey, err = loadCreatorKey(cfg.Mining.CreatorKey)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("load creator key %s: %w", cfg.Mining.CreatorKey, err)
		}
		logger.Info().Msg("Creator key loaded")
	}
	if cfg.Mining.Enabled && creatorKey == nil {
		db.Close()
		return nil, fmt.Errorf("mining requires mining.creatorkey")
	}

	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		cfg:        cfg,
		genesis:    genesis,
		logger:     logger,
		db:         db,
		utxoStore:  utxoStore,
		creatorKey: creatorKey,
		ctx:        ctx,
		cancel:     cancel,
	}

	// ── 6. Blockchain (peers attached now via the forward-declared Node,
	// mempool/wallet attached below once they exist) ────────────────
	bc, err := chain.New(db, utxoStore, nil, nil, &peerRequester{n: n})
	if err != nil {
		cancel()
		db.Close()
		return nil, fmt.Errorf("create blockchain: %w", err)
	}
	n.blockchain = bc

	if bc.LatestID() == 0 && bc.LatestHash().IsZero() {
		genesisBlk, err := chain.CreateGenesisBlock(genesis)
		if err != nil {
			cancel()
			db.Close()
			return nil, fmt.Errorf("create genesis block: %w", err)
		}
		if _, err := bc.AddBlock(genesisBlk, ""); err != nil {
			cancel()
			db.Close()
			return nil, fmt.Errorf("add genesis block: %w", err)
		}
		logger.Info().Msg("Chain initialized from genesis")
	} else {
		logger.Info().
			Uint64("height", bc.LatestID()).
			Str("tip", bc.LatestHash().String()[:16]+"...").
			Msg("Chain resumed from database")
	}

	// ── 7. Mempool ───────────────────────────────────────────────────
	var nodePubKey []byte
	if creatorKey != nil {
		nodePubKey = creatorKey.PublicKey()
	}
	policy := mempool.DefaultPolicy()
	pool := mempool.New(bc.UTXOProvider(), nodePubKey, policy, 5000)
	bc.SetMempool(pool)
	n.pool = pool
	logger.Info().Msg("Mempool ready")

	// ── 8. Wallet mirror ─────────────────────────────────────────────
	if cfg.Wallet.Enabled && nodePubKey != nil {
		mirror := walletmirror.New(nodePubKey)
		bc.SetWallet(mirror)
		n.wallet = mirror
		logger.Info().Msg("Wallet mirror attached")
	}

	// ── 9. P2P ───────────────────────────────────────────────────────
	if cfg.P2P.Enabled {
		p2pNode := p2p.New(p2p.Config{
			ListenAddr: cfg.P2P.ListenAddr,
			Port:       cfg.P2P.Port,
			Seeds:      cfg.P2P.Seeds,
			MaxPeers:   cfg.P2P.MaxPeers,
			NoDiscover: cfg.P2P.NoDiscover,
			DB:         db,
			DHTServer:  cfg.P2P.DHTServer,
			NetworkID:  genesis.ChainID,
			DataDir:    cfg.ChainDataDir(),
		})
		n.p2pNode = p2pNode

		genesisHash, _ := genesis.Hash()
		p2pNode.SetGenesisHash(genesisHash)
		p2pNode.SetHeightFn(func() uint64 { return bc.LatestID() })

		// The handshake's challenge/response needs a signing identity
		// distinct from libp2p's own transport key. A mining node uses its
		// creator key; a non-mining node gets an ephemeral one, since the
		// handshake only proves liveness of a keypair, not chain authority.
		identityKey := creatorKey
		if identityKey == nil {
			identityKey, err = crypto.GenerateKey()
			if err != nil {
				cancel()
				db.Close()
				return nil, fmt.Errorf("generate handshake identity key: %w", err)
			}
		}
		p2pNode.SetIdentityKey(identityKey)

		p2pNode.SetBlockHandler(func(from peer.ID, data []byte) {
			var blk block.Block
			if err := json.Unmarshal(data, &blk); err != nil {
				logger.Debug().Err(err).Msg("Failed to unmarshal block")
				return
			}
			result, err := bc.AddBlock(&blk, from.String())
			if err != nil {
				logger.Debug().Err(err).Msg("Failed to add block")
				return
			}
			if result == chain.FailedNotValid {
				p2pNode.BanManager.RecordOffense(from, p2p.PenaltyInvalidBlock, "block failed validation")
				return
			}
			if result != chain.BlockAlreadyExists {
				logger.Info().
					Uint64("height", blk.Header.Height).
					Str("hash", blk.Hash().String()[:16]+"...").
					Str("result", result.String()).
					Msg("Block received")
			}
		})

		p2pNode.SetTxHandler(func(from peer.ID, data []byte) {
			var t tx.Transaction
			if err := json.Unmarshal(data, &t); err != nil {
				logger.Debug().Err(err).Msg("Failed to unmarshal transaction")
				return
			}
			fee, err := pool.Add(&t)
			if err != nil {
				logger.Debug().Err(err).Msg("Rejected transaction")
				p2pNode.BanManager.RecordOffense(from, p2p.PenaltyInvalidTx, err.Error())
				return
			}
			logger.Info().Str("tx", t.Hash().String()[:16]+"...").Uint64("fee", fee).Msg("Transaction added to mempool")
		})

		if err := p2pNode.Start(); err != nil {
			cancel()
			db.Close()
			return nil, fmt.Errorf("start P2P: %w", err)
		}
		logger.Info().Str("id", p2pNode.ID().String()).Int("port", cfg.P2P.Port).Msg("P2P node started")

		syncer := p2p.NewSyncer(p2pNode)
		syncer.RegisterHandler(func(fromHeight uint64, max uint32) []*block.Block {
			var blocks []*block.Block
			for h := fromHeight; h < fromHeight+uint64(max); h++ {
				blk, ok := bc.GetBlockByHeight(h)
				if !ok {
					break
				}
				blocks = append(blocks, blk)
			}
			return blocks
		})
		syncer.RegisterHeightHandler(func() (uint64, string) {
			return bc.LatestID(), bc.LatestHash().String()
		})
		syncer.RegisterBlockByHashHandler(func(hash types.Hash) (*block.Block, bool) {
			return bc.GetBlock(hash)
		})
		n.syncer = syncer
		logger.Info().Msg("Chain sync protocol registered")
	} else {
		logger.Warn().Msg("P2P disabled by config; node will run offline")
	}

	// ── 10. RPC ──────────────────────────────────────────────────────
	if cfg.RPC.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
		n.rpc = rpc.New(addr, string(cfg.Network), genesis.ChainID, bc, pool, n.wallet, n.p2pNode, cfg.RPC)
	}

	return n, nil
}

// Start launches background goroutines: the consensus loop that drains
// blocks queued by the mempool (§4.5's add_blocks_from_mempool) and, if
// enabled, the bundling loop.
func (n *Node) Start() error {
	if n.rpc != nil {
		if err := n.rpc.Start(); err != nil {
			return fmt.Errorf("start rpc server: %w", err)
		}
	}

	if n.p2pNode != nil && n.syncer != nil {
		n.runHeightSync()
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.runSyncLoop()
		}()
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.runConsensusLoop()
	}()

	if n.cfg.Mining.Enabled {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.runBundlingLoop()
		}()
	}

	n.logger.Info().
		Uint64("height", n.blockchain.LatestID()).
		Bool("mining", n.cfg.Mining.Enabled).
		Msg("Node started successfully")
	return nil
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()

	if n.rpc != nil {
		if err := n.rpc.Stop(); err != nil {
			n.logger.Warn().Err(err).Msg("RPC server shutdown error")
		}
	}
	if n.p2pNode != nil {
		n.p2pNode.Stop()
	}
	if n.creatorKey != nil {
		n.creatorKey.Zero()
	}
	if n.db != nil {
		n.db.Close()
	}
	n.logger.Info().Msg("Goodbye!")
}

// Height returns the current chain height.
func (n *Node) Height() uint64 {
	return n.blockchain.LatestID()
}

// runSyncLoop periodically re-runs height sync while peers are connected.
func (n *Node) runSyncLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if len(n.p2pNode.PeerList()) == 0 {
				continue
			}
			n.runHeightSync()
		}
	}
}

// runHeightSync asks the best-known peer for its height and pulls any
// blocks this node is missing. Blockchain.AddBlock resolves fork geometry
// on its own (§4.5.1) as long as every intermediate block is supplied in
// order, so no separate fork-search step is needed here.
func (n *Node) runHeightSync() {
	peers := n.p2pNode.PeerList()
	if len(peers) == 0 {
		return
	}

	var bestPeer peer.ID
	var bestHeight uint64
	limit := 3
	if len(peers) < limit {
		limit = len(peers)
	}
	for _, p := range peers[:limit] {
		reqCtx, cancel := context.WithTimeout(n.ctx, 5*time.Second)
		resp, err := n.syncer.RequestHeight(reqCtx, p.ID)
		cancel()
		if err != nil {
			continue
		}
		if resp.Height > bestHeight {
			bestHeight = resp.Height
			bestPeer = p.ID
		}
	}

	localHeight := n.blockchain.LatestID()
	if bestHeight <= localHeight {
		return
	}

	total := bestHeight - localHeight
	n.logger.Info().Uint64("local", localHeight).Uint64("remote", bestHeight).Msg("Syncing chain")

	for from := localHeight + 1; from <= bestHeight; from += 500 {
		max := uint32(500)
		if from+uint64(max)-1 > bestHeight {
			max = uint32(bestHeight - from + 1)
		}

		reqCtx, cancel := context.WithTimeout(n.ctx, 30*time.Second)
		blocks, err := n.syncer.RequestBlocks(reqCtx, bestPeer, from, max)
		cancel()
		if err != nil {
			n.logger.Warn().Err(err).Uint64("from", from).Msg("Sync request failed")
			return
		}

		for _, blk := range blocks {
			if _, err := n.blockchain.AddBlock(blk, bestPeer.String()); err != nil {
				n.logger.Warn().Err(err).Uint64("height", blk.Header.Height).Msg("Sync block failed")
				return
			}
		}
	}

	n.logger.Info().Uint64("height", n.blockchain.LatestID()).Uint64("target", total+localHeight).Msg("Sync complete")
}

// runConsensusLoop periodically drains blocks the mempool has queued while
// waiting for a missing parent (§4.5.1 step 3) and retries them against the
// Blockchain now that the parent may have arrived.
func (n *Node) runConsensusLoop() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			for _, blk := range n.pool.DrainQueuedBlocks() {
				if _, err := n.blockchain.AddBlock(blk, ""); err != nil {
					n.logger.Debug().Err(err).Msg("Requeued block failed")
				}
			}
		}
	}
}

// runBundlingLoop produces blocks from the mempool whenever the burn-fee
// work target and golden-ticket density allow it (§4.4's CanBundleBlock).
func (n *Node) runBundlingLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			n.logger.Info().Msg("Block bundling stopped")
			return
		case <-ticker.C:
			now := uint64(time.Now().Unix())

			var blk *block.Block
			var err error
			if n.blockchain.LatestID() == 0 && n.blockchain.LatestHash().IsZero() {
				continue // Genesis already created in New(); nothing to bundle yet.
			}
			if _, ok := n.pool.CanBundleBlock(n.blockchain, now); !ok {
				continue
			}
			blk, err = n.pool.BundleBlock(n.blockchain, now, n.creatorKey)
			if err != nil {
				if err != mempool.ErrCannotBundle {
					n.logger.Error().Err(err).Msg("Failed to bundle block")
				}
				continue
			}

			result, err := n.blockchain.AddBlock(blk, "")
			if err != nil || result == chain.FailedNotValid {
				n.logger.Error().Err(err).Str("result", result.String()).Msg("Failed to add own bundled block")
				continue
			}

			if n.p2pNode != nil {
				if err := n.p2pNode.BroadcastBlock(blk); err != nil {
					n.logger.Error().Err(err).Msg("Failed to broadcast block")
				}
			}

			n.logger.Info().
				Uint64("height", blk.Header.Height).
				Str("hash", blk.Hash().String()[:16]+"...").
				Int("txs", len(blk.Transactions)).
				Msg("Block bundled")
		}
	}
}
