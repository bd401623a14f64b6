package utxo

import (
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// prefixUTXO namespaces UTXO keys in the backing store: "u/" + key(32) -> [0 or 1].
var prefixUTXO = []byte("u/")

// Store implements Set backed by a storage.DB, with an in-memory mirror for
// fast reads (UtxoSet.get is on the hot path of every wind/unwind step).
type Store struct {
	mu sync.RWMutex
	db storage.DB
	m  map[types.Hash]bool
}

// NewStore creates a UTXO set backed by the given database, loading any
// persisted state into the in-memory mirror.
func NewStore(db storage.DB) (*Store, error) {
	s := &Store{db: db, m: make(map[types.Hash]bool)}
	if db == nil {
		return s, nil
	}
	err := db.ForEach(prefixUTXO, func(key, value []byte) error {
		k, err := keyFromStorage(key)
		if err != nil {
			return err
		}
		s.m[k] = len(value) > 0 && value[0] == 1
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load utxo set: %w", err)
	}
	return s, nil
}

func storageKey(key types.Hash) []byte {
	out := make([]byte, 0, len(prefixUTXO)+types.HashSize)
	out = append(out, prefixUTXO...)
	out = append(out, key[:]...)
	return out
}

func keyFromStorage(storageKey []byte) (types.Hash, error) {
	if len(storageKey) != len(prefixUTXO)+types.HashSize {
		return types.Hash{}, fmt.Errorf("malformed utxo key length %d", len(storageKey))
	}
	var k types.Hash
	copy(k[:], storageKey[len(prefixUTXO):])
	return k, nil
}

func (s *Store) persist(key types.Hash, spendable bool) error {
	if s.db == nil {
		return nil
	}
	v := byte(0)
	if spendable {
		v = 1
	}
	return s.db.Put(storageKey(key), []byte{v})
}

// Get reports whether key is known and, if so, whether it is spendable.
func (s *Store) Get(key types.Hash) (bool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spendable, known := s.m[key]
	return spendable, known, nil
}

// InsertSpendable marks key as a new spendable output.
func (s *Store) InsertSpendable(key types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = true
	return s.persist(key, true)
}

// MarkSpent flips a known key to false.
func (s *Store) MarkSpent(key types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = false
	return s.persist(key, false)
}

// Iter calls fn for every (key, spendable) pair. Iteration order is
// unspecified; callers needing determinism (e.g. Commitment) must sort.
func (s *Store) Iter(fn func(key types.Hash, spendable bool) error) error {
	s.mu.RLock()
	snapshot := make(map[types.Hash]bool, len(s.m))
	for k, v := range s.m {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	for k, v := range snapshot {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

// ClearAll removes every entry, in memory and in the backing store. Used to
// recover from a crash mid-reorg by replaying blocks from genesis.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		var keys [][]byte
		err := s.db.ForEach(prefixUTXO, func(key, _ []byte) error {
			k := make([]byte, len(key))
			copy(k, key)
			keys = append(keys, k)
			return nil
		})
		if err != nil {
			return fmt.Errorf("scan utxo set: %w", err)
		}
		for _, k := range keys {
			if err := s.db.Delete(k); err != nil {
				return fmt.Errorf("delete utxo key: %w", err)
			}
		}
	}
	s.m = make(map[types.Hash]bool)
	return nil
}
