// klingnet-cli is a command-line client for interacting with a klingnetd node.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/rpc"
	"github.com/Klingon-tech/klingnet-chain/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-chain/internal/wallet"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"golang.org/x/term"
)

// keystoreDir returns the keystore path matching klingnetd's layout:
// <datadir>/<network>/keystore
func keystoreDir(dataDir, network string) string {
	return filepath.Join(dataDir, network, "keystore")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Parse global flags that appear before the subcommand.
	rpcURL := "http://127.0.0.1:8645"
	dataDir := defaultDataDir()
	network := "mainnet"

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--datadir" && len(args) > 1:
			dataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			dataDir = args[0][len("--datadir="):]
			args = args[1:]
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if network == "testnet" {
		types.SetAddressHRP(types.TestnetHRP)
	} else {
		types.SetAddressHRP(types.MainnetHRP)
	}

	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	ksDir := keystoreDir(dataDir, network)
	client := rpcclient.New(rpcURL)
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "status":
		cmdStatus(client)
	case "block":
		cmdBlock(client, cmdArgs)
	case "mempool":
		cmdMempool(client)
	case "peers":
		cmdPeers(client)
	case "balance":
		cmdBalance(client)
	case "tx":
		cmdTx(client, cmdArgs)
	case "wallet":
		cmdWallet(cmdArgs, ksDir)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: klingnet-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         RPC endpoint (default: http://127.0.0.1:8645)
  --datadir <path>    Data directory (default: ~/.klingnet)
  --network <net>     mainnet (default) or testnet

Commands:
  status                          Show chain height, tip, and peer count
  block <hash|height>             Show block details
  mempool                         Show mempool stats
  peers                           Show connected peers
  balance                         Show this node's mirrored wallet balance
  tx submit <file.json>           Submit a signed transaction from a JSON file

  wallet create --name <n>        Create a new wallet
  wallet import --name <n> --mnemonic "..."
                                  Import wallet from mnemonic
  wallet list                     List wallets
  wallet address --wallet <w>     List wallet addresses
  wallet new-address --wallet <w> Generate a new address
  wallet export-key --wallet <w>  Export a derived private key
`)
}

func defaultDataDir() string {
	return config.DefaultDataDir()
}

// ── status ──────────────────────────────────────────────────────────────

func cmdStatus(client *rpcclient.Client) {
	info, err := client.ChainGetInfo()
	if err != nil {
		fatal("chain_getInfo: %v", err)
	}

	fmt.Printf("Chain:   %s\n", info.ChainID)
	fmt.Printf("Network: %s\n", info.Network)
	fmt.Printf("Height:  %d\n", info.Height)
	fmt.Printf("Tip:     %s\n", info.TipHash)

	peers, err := client.NetGetPeerInfo()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: net_getPeerInfo: %v\n", err)
		return
	}
	fmt.Printf("Peers:   %d\n", peers.Count)
}

// ── block ───────────────────────────────────────────────────────────────

func cmdBlock(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingnet-cli block <hash|height>")
	}

	arg := args[0]
	var blk *rpc.BlockResult
	var err error

	if height, perr := strconv.ParseUint(arg, 10, 64); perr == nil {
		blk, err = client.ChainGetBlockByHeight(height)
	} else {
		blk, err = client.ChainGetBlockByHash(arg)
	}
	if err != nil {
		fatal("fetch block: %v", err)
	}

	fmt.Printf("Hash:         %s\n", blk.Hash)
	fmt.Printf("Height:       %d\n", blk.Header.Height)
	fmt.Printf("Prev:         %s\n", blk.Header.PrevHash)
	fmt.Printf("Merkle Root:  %s\n", blk.Header.MerkleRoot)
	ts := time.Unix(int64(blk.Header.Timestamp), 0).UTC()
	fmt.Printf("Timestamp:    %s\n", ts.Format("2006-01-02 15:04:05 UTC"))
	fmt.Printf("Transactions: %d\n", len(blk.Transactions))
	for i, t := range blk.Transactions {
		fmt.Printf("  [%d] %s\n", i, t.Hash)
	}
}

// ── mempool ─────────────────────────────────────────────────────────────

func cmdMempool(client *rpcclient.Client) {
	info, err := client.MempoolGetInfo()
	if err != nil {
		fatal("mempool_getInfo: %v", err)
	}

	fmt.Printf("Transactions: %d\n", info.Count)
	fmt.Printf("Routing work: %d\n", info.RoutingWork)
}

// ── peers ───────────────────────────────────────────────────────────────

func cmdPeers(client *rpcclient.Client) {
	info, err := client.NetGetPeerInfo()
	if err != nil {
		fatal("net_getPeerInfo: %v", err)
	}

	fmt.Printf("Connected peers: %d\n", info.Count)
	for _, p := range info.Peers {
		fmt.Printf("  %s\n", p)
	}
}

// ── balance ─────────────────────────────────────────────────────────────

// cmdBalance reports the connected node's own mirrored wallet balance. The
// minimal RPC surface tracks spendability per key, not value per address, so
// there is no address-scoped balance lookup here — run the node with
// --wallet and a creator key to get a balance at all.
func cmdBalance(client *rpcclient.Client) {
	bal, err := client.WalletGetBalance()
	if err != nil {
		fatal("wallet_getBalance: %v", err)
	}
	fmt.Printf("Balance: %s\n", formatAmount(bal.Balance))
}

// ── tx ──────────────────────────────────────────────────────────────────

func cmdTx(client *rpcclient.Client, args []string) {
	if len(args) < 2 || args[0] != "submit" {
		fatal("Usage: klingnet-cli tx submit <file.json>")
	}

	data, err := os.ReadFile(args[1])
	if err != nil {
		fatal("read transaction file: %v", err)
	}

	var t tx.Transaction
	if err := json.Unmarshal(data, &t); err != nil {
		fatal("invalid transaction JSON: %v", err)
	}

	result, err := client.TxSubmit(&t)
	if err != nil {
		fatal("tx_submit: %v", err)
	}

	fmt.Printf("Submitted: %s\n", result.TxHash)
	fmt.Printf("Fee:       %s\n", formatAmount(result.Fee))
}

// ── wallet ──────────────────────────────────────────────────────────────
//
// Wallet commands operate entirely on the local keystore directory; they
// never touch the RPC surface. Building and broadcasting a transaction from
// wallet funds is an external-wallet concern (see "tx submit" above), not
// something this CLI assembles on the user's behalf.

func cmdWallet(args []string, ksDir string) {
	if len(args) < 1 {
		fatal("Usage: klingnet-cli wallet <create|import|list|address|new-address|export-key> [flags]")
	}

	switch args[0] {
	case "create":
		cmdWalletCreate(args[1:], ksDir)
	case "import":
		cmdWalletImport(args[1:], ksDir)
	case "list":
		cmdWalletList(ksDir)
	case "address":
		cmdWalletAddress(args[1:], ksDir)
	case "new-address":
		cmdWalletNewAddress(args[1:], ksDir)
	case "export-key":
		cmdWalletExportKey(args[1:], ksDir)
	default:
		fatal("Unknown wallet command: %s\nUsage: klingnet-cli wallet <create|import|list|address|new-address|export-key> [flags]", args[0])
	}
}

func cmdWalletCreate(args []string, ksDir string) {
	fs := flag.NewFlagSet("wallet create", flag.ExitOnError)
	name := fs.String("name", "", "Wallet name")
	fs.Parse(args)

	if *name == "" {
		fatal("Usage: klingnet-cli wallet create --name <name>")
	}

	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		fatal("generate mnemonic: %v", err)
	}

	fmt.Println("Mnemonic (write this down!):")
	fmt.Printf("  %s\n\n", mnemonic)

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}

	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		fatal("derive seed: %v", err)
	}

	master, err := wallet.NewMasterKey(seed)
	if err != nil {
		fatal("derive master key: %v", err)
	}
	hdKey, err := master.DeriveAddress(0, wallet.ChangeExternal, 0)
	if err != nil {
		fatal("derive address: %v", err)
	}
	addr := hdKey.Address()

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("create keystore: %v", err)
	}

	if err := ks.Create(*name, seed, password, wallet.DefaultParams()); err != nil {
		fatal("create wallet: %v", err)
	}

	for i := range seed {
		seed[i] = 0
	}

	if err := ks.AddAccount(*name, wallet.AccountEntry{
		Index:   0,
		Name:    "Default",
		Address: addr.String(),
	}); err != nil {
		fatal("add account: %v", err)
	}

	fmt.Printf("\nWallet created: %s\n", *name)
	fmt.Printf("Address: %s\n", addr.String())
}

func cmdWalletImport(args []string, ksDir string) {
	fs := flag.NewFlagSet("wallet import", flag.ExitOnError)
	name := fs.String("name", "", "Wallet name")
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic (24 words)")
	fs.Parse(args)

	if *name == "" || *mnemonic == "" {
		fatal("Usage: klingnet-cli wallet import --name <name> --mnemonic \"word1 word2 ...\"")
	}

	if !wallet.ValidateMnemonic(*mnemonic) {
		fatal("invalid mnemonic")
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}

	seed, err := wallet.SeedFromMnemonic(*mnemonic, "")
	if err != nil {
		fatal("derive seed: %v", err)
	}

	master, err := wallet.NewMasterKey(seed)
	if err != nil {
		fatal("derive master key: %v", err)
	}
	hdKey, err := master.DeriveAddress(0, wallet.ChangeExternal, 0)
	if err != nil {
		fatal("derive address: %v", err)
	}
	addr := hdKey.Address()

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("create keystore: %v", err)
	}

	if err := ks.Create(*name, seed, password, wallet.DefaultParams()); err != nil {
		fatal("create wallet: %v", err)
	}

	for i := range seed {
		seed[i] = 0
	}

	if err := ks.AddAccount(*name, wallet.AccountEntry{
		Index:   0,
		Name:    "Default",
		Address: addr.String(),
	}); err != nil {
		fatal("add account: %v", err)
	}

	fmt.Printf("Wallet imported: %s\n", *name)
	fmt.Printf("Address: %s\n", addr.String())
}

func cmdWalletList(ksDir string) {
	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}

	names, err := ks.List()
	if err != nil {
		fatal("list wallets: %v", err)
	}

	if len(names) == 0 {
		fmt.Println("No wallets found.")
		return
	}

	for _, name := range names {
		fmt.Println(name)
	}
}

func cmdWalletAddress(args []string, ksDir string) {
	fs := flag.NewFlagSet("wallet address", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	fs.Parse(args)

	if *walletName == "" {
		fatal("Usage: klingnet-cli wallet address --wallet <name>")
	}

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}

	accounts, err := ks.ListAccounts(*walletName)
	if err != nil {
		fatal("list accounts: %v", err)
	}

	if len(accounts) == 0 {
		fmt.Println("No addresses found.")
		return
	}

	for _, acct := range accounts {
		fmt.Printf("  [%d] %s\n", acct.Index, acct.Address)
	}
}

func cmdWalletNewAddress(args []string, ksDir string) {
	fs := flag.NewFlagSet("wallet new-address", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	fs.Parse(args)

	if *walletName == "" {
		fatal("Usage: klingnet-cli wallet new-address --wallet <name>")
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}

	seed, err := ks.Load(*walletName, password)
	if err != nil {
		fatal("load wallet: %v", err)
	}

	master, err := wallet.NewMasterKey(seed)
	for i := range seed {
		seed[i] = 0
	}
	if err != nil {
		fatal("derive master key: %v", err)
	}

	nextIdx, err := ks.GetExternalIndex(*walletName)
	if err != nil {
		fatal("get external index: %v", err)
	}
	// Index 0 is the default account, new addresses start at 1.
	if nextIdx == 0 {
		nextIdx = 1
	}

	hdKey, err := master.DeriveAddress(0, wallet.ChangeExternal, nextIdx)
	if err != nil {
		fatal("derive address: %v", err)
	}
	addr := hdKey.Address()

	if err := ks.AddAccount(*walletName, wallet.AccountEntry{
		Index:   nextIdx,
		Name:    fmt.Sprintf("Address %d", nextIdx),
		Address: addr.String(),
	}); err != nil {
		fatal("add account: %v", err)
	}

	if err := ks.IncrementExternalIndex(*walletName); err != nil {
		fatal("increment index: %v", err)
	}

	fmt.Printf("New address [%d]: %s\n", nextIdx, addr.String())
}

func cmdWalletExportKey(args []string, ksDir string) {
	fs := flag.NewFlagSet("wallet export-key", flag.ExitOnError)
	walletName := fs.String("wallet", "", "Wallet name")
	output := fs.String("output", "", "Output file path (default: <name>.key)")
	account := fs.Uint("account", 0, "BIP-44 account index")
	index := fs.Uint("index", 0, "BIP-44 address index")
	fs.Parse(args)

	if *walletName == "" {
		fatal("Usage: klingnet-cli wallet export-key --wallet <name> [--output path] [--account 0] [--index 0]")
	}

	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}

	ks, err := wallet.NewKeystore(ksDir)
	if err != nil {
		fatal("open keystore: %v", err)
	}

	seed, err := ks.Load(*walletName, password)
	if err != nil {
		fatal("load wallet: %v", err)
	}

	master, err := wallet.NewMasterKey(seed)
	for i := range seed {
		seed[i] = 0
	}
	if err != nil {
		fatal("derive master key: %v", err)
	}

	hdKey, err := master.DeriveAddress(uint32(*account), wallet.ChangeExternal, uint32(*index))
	if err != nil {
		fatal("derive address key: %v", err)
	}

	privBytes := hdKey.PrivateKeyBytes()
	if privBytes == nil {
		fatal("no private key available")
	}

	pubBytes := hdKey.PublicKeyBytes()
	addr := hdKey.Address()

	privHex := hex.EncodeToString(privBytes)
	for i := range privBytes {
		privBytes[i] = 0
	}

	outPath := *output
	if outPath == "" {
		outPath = *walletName + ".key"
	}

	if err := os.WriteFile(outPath, []byte(privHex+"\n"), 0600); err != nil {
		fatal("write key file: %v", err)
	}

	fmt.Printf("Exported key to: %s\n", outPath)
	fmt.Printf("  Path:    m/44'/8888'/%d'/0/%d\n", *account, *index)
	fmt.Printf("  PubKey:  %s\n", hex.EncodeToString(pubBytes))
	fmt.Printf("  Address: %s\n", addr.String())
	fmt.Println("\nUse with: klingnetd --wallet --creator-key", outPath)
}

// ── amount formatting ───────────────────────────────────────────────────

func formatAmount(units uint64) string {
	whole := units / config.Coin
	frac := units % config.Coin
	return fmt.Sprintf("%d.%012d", whole, frac)
}

// ── Password helper ─────────────────────────────────────────────────────

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return password, nil
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
