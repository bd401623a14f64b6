// Package walletfile implements the single-key wallet file contract: a
// 32-byte private key followed by a 33-byte public key, the whole payload
// encrypted with the wallet password via authenticated encryption. This is
// distinct from internal/wallet's BIP-39/BIP-32 HD keystore, which manages
// a mnemonic-derived account tree; walletfile persists the one signing key
// a node or WalletMirror user holds directly.
package walletfile

import (
	"fmt"
	"os"

	"github.com/Klingon-tech/klingnet-chain/internal/wallet"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
)

const (
	privateKeySize = 32
	publicKeySize  = 33
	payloadSize    = privateKeySize + publicKeySize
)

// Save encrypts key's private‖public key payload with password and writes
// it to path, using Argon2id + XChaCha20-Poly1305 (internal/wallet.Encrypt).
func Save(path string, key *crypto.PrivateKey, password []byte, params wallet.EncryptionParams) error {
	payload := make([]byte, 0, payloadSize)
	payload = append(payload, key.Serialize()...)
	payload = append(payload, key.PublicKey()...)

	encrypted, err := wallet.Encrypt(payload, password, params)
	if err != nil {
		return fmt.Errorf("encrypt wallet file: %w", err)
	}

	if err := os.WriteFile(path, encrypted, 0600); err != nil {
		return fmt.Errorf("write wallet file %s: %w", path, err)
	}
	return nil
}

// Load reads and decrypts the wallet file at path, returning its private
// key. The public key in the payload is verified to match the private
// key's own derived public key, guarding against truncated or corrupted
// files that still happen to decrypt successfully.
func Load(path string, password []byte) (*crypto.PrivateKey, error) {
	encrypted, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wallet file %s: %w", path, err)
	}

	payload, err := wallet.Decrypt(encrypted, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt wallet file: %w", err)
	}
	if len(payload) != payloadSize {
		return nil, fmt.Errorf("wallet file payload is %d bytes, want %d", len(payload), payloadSize)
	}

	key, err := crypto.PrivateKeyFromBytes(payload[:privateKeySize])
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	storedPub := payload[privateKeySize:]
	derivedPub := key.PublicKey()
	if !bytesEqual(storedPub, derivedPub) {
		return nil, fmt.Errorf("wallet file public key does not match its private key")
	}

	return key, nil
}

// Exists reports whether a wallet file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
