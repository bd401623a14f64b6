// Klingnet full node daemon.
//
// Usage:
//
//	klingnetd [--mine --creator-key=...] Run node
//	klingnetd --help                     Show help
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/node"
)

func main() {
	// ── 1. Load config (defaults → file → flags) ────────────────────────
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Build and start the node. All setup (logger, genesis, storage,
	// chain, mempool, wallet mirror, P2P) happens inside node.New/Start. ──
	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting node: %v\n", err)
		os.Exit(1)
	}

	// ── 3. Wait for shutdown ─────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}
