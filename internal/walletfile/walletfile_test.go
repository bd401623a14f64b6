package walletfile

import (
	"path/filepath"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/wallet"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
)

func fastParams() wallet.EncryptionParams {
	return wallet.EncryptionParams{Memory: 8 * 1024, Iterations: 1, Parallelism: 1}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	path := filepath.Join(t.TempDir(), "node.wallet")
	password := []byte("correct horse battery staple")

	if err := Save(path, key, password, fastParams()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if !Exists(path) {
		t.Fatal("Exists should report true after Save")
	}

	loaded, err := Load(path, password)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if string(loaded.PublicKey()) != string(key.PublicKey()) {
		t.Error("loaded public key does not match original")
	}
	if string(loaded.Serialize()) != string(key.Serialize()) {
		t.Error("loaded private key does not match original")
	}
}

func TestLoad_WrongPassword(t *testing.T) {
	key, _ := crypto.GenerateKey()
	path := filepath.Join(t.TempDir(), "node.wallet")

	if err := Save(path, key, []byte("password1"), fastParams()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := Load(path, []byte("password2")); err == nil {
		t.Error("Load with wrong password should fail")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.wallet")
	if _, err := Load(path, []byte("password")); err == nil {
		t.Error("Load of a missing file should fail")
	}
}

func TestExists_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.wallet")
	if Exists(path) {
		t.Error("Exists should report false for a missing file")
	}
}
