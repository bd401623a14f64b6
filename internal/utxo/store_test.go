package utxo

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func key(b byte) types.Hash {
	var h types.Hash
	h[0] = b
	return h
}

func TestStoreInsertAndGet(t *testing.T) {
	s, err := NewStore(storage.NewMemory())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	k := key(1)
	if _, known, _ := s.Get(k); known {
		t.Fatalf("unknown key reported known")
	}

	if err := s.InsertSpendable(k); err != nil {
		t.Fatalf("InsertSpendable: %v", err)
	}
	spendable, known, err := s.Get(k)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !known || !spendable {
		t.Fatalf("got known=%v spendable=%v, want true/true", known, spendable)
	}
}

func TestStoreMarkSpent(t *testing.T) {
	s, _ := NewStore(storage.NewMemory())
	k := key(2)
	s.InsertSpendable(k)
	if err := s.MarkSpent(k); err != nil {
		t.Fatalf("MarkSpent: %v", err)
	}
	spendable, known, _ := s.Get(k)
	if !known || spendable {
		t.Fatalf("got known=%v spendable=%v, want true/false", known, spendable)
	}
}

func TestStorePersistsAcrossReload(t *testing.T) {
	db := storage.NewMemory()
	s1, _ := NewStore(db)
	k := key(3)
	s1.InsertSpendable(k)

	s2, err := NewStore(db)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	spendable, known, _ := s2.Get(k)
	if !known || !spendable {
		t.Fatalf("reloaded store lost key: known=%v spendable=%v", known, spendable)
	}
}

func TestStoreClearAll(t *testing.T) {
	s, _ := NewStore(storage.NewMemory())
	s.InsertSpendable(key(4))
	s.InsertSpendable(key(5))
	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	count := 0
	s.Iter(func(types.Hash, bool) error { count++; return nil })
	if count != 0 {
		t.Fatalf("got %d entries after ClearAll, want 0", count)
	}
}
