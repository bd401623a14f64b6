package node

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// loadCreatorKey reads a hex-encoded 32-byte private key from a file. This
// is the block-signing key a bundling node presents as the header's
// Creator; it is deliberately separate from the HD keystore the wallet CLI
// manages.
func loadCreatorKey(path string) (*crypto.PrivateKey, error) {
	path = expandHome(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("creator key file not found: %s (use 'klingnet-cli wallet export-key' to generate one)", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading creator key file: %s", path)
		}
		return nil, fmt.Errorf("read creator key file %s: %w", path, err)
	}

	hexStr := strings.TrimSpace(string(data))
	if len(hexStr) == 0 {
		return nil, fmt.Errorf("creator key file %s is empty", path)
	}

	keyBytes, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("creator key file %s contains invalid hex (expected 64-char hex-encoded private key): %w", path, err)
	}

	pk, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid creator key in %s (expected 32-byte secp256k1 private key): %w", path, err)
	}
	return pk, nil
}

// resolveCoinbase determines the coinbase address from a string or creator key.
func resolveCoinbase(coinbaseStr string, creatorKey *crypto.PrivateKey) (types.Address, error) {
	if coinbaseStr != "" {
		addr, err := types.ParseAddress(coinbaseStr)
		if err != nil {
			return types.Address{}, fmt.Errorf("invalid coinbase address: %w", err)
		}
		return addr, nil
	}

	if creatorKey != nil {
		return crypto.AddressFromPubKey(creatorKey.PublicKey()), nil
	}

	return types.Address{}, fmt.Errorf("--mine requires --coinbase address or --creator-key (to derive coinbase from public key)")
}
