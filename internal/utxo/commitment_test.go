package utxo

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
)

func TestCommitmentEmpty(t *testing.T) {
	s, _ := NewStore(storage.NewMemory())
	root, err := Commitment(s)
	if err != nil {
		t.Fatalf("Commitment: %v", err)
	}
	if !root.IsZero() {
		t.Fatalf("empty set commitment = %s, want zero", root)
	}
}

func TestCommitmentDeterministic(t *testing.T) {
	s1, _ := NewStore(storage.NewMemory())
	s2, _ := NewStore(storage.NewMemory())

	// Insert in different orders.
	s1.InsertSpendable(key(1))
	s1.InsertSpendable(key(2))
	s2.InsertSpendable(key(2))
	s2.InsertSpendable(key(1))

	r1, _ := Commitment(s1)
	r2, _ := Commitment(s2)
	if r1 != r2 {
		t.Fatalf("commitment depends on insertion order: %s != %s", r1, r2)
	}
}

func TestCommitmentExcludesSpent(t *testing.T) {
	s, _ := NewStore(storage.NewMemory())
	s.InsertSpendable(key(1))
	before, _ := Commitment(s)

	s.InsertSpendable(key(2))
	s.MarkSpent(key(2))
	after, _ := Commitment(s)

	if before != after {
		t.Fatalf("spent key changed commitment: %s != %s", before, after)
	}
}
