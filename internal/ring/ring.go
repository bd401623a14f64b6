// Package ring implements BlockRing: a fixed-capacity ring-indexed view of
// chain history supporting O(1) random access by height, plus a per-slot
// longest-chain pointer. Ported from the upstream Rust BlockRing
// (blockring.rs) in the teacher's idiom: fixed-size backing array of slots,
// each slot holding parallel slices of (block id, block hash) for every
// block whose id mod RingBufferLength lands in that slot.
package ring

import (
	"sync"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// GenesisPeriod is the pruning window size, in blocks (spec.md §6 constant).
const GenesisPeriod = 100_000

// RingBufferLength is the number of slots in the ring (2·GenesisPeriod).
const RingBufferLength = 2 * GenesisPeriod

// slot holds every candidate block seen at heights congruent to this slot's
// index modulo RingBufferLength, plus which of them (if any) is currently
// on the longest chain.
type slot struct {
	blockIDs    []uint64
	blockHashes []types.Hash
	lcPos       int // index into the parallel slices above, or -1 if unset
}

func newSlot() slot {
	return slot{lcPos: -1}
}

// Ring is the BlockRing: a fixed array of RingBufferLength slots plus a
// top-level pointer to the slot holding the current tip.
type Ring struct {
	mu    sync.RWMutex
	slots [RingBufferLength]slot
	lcPos int // index into slots, or -1 if unset
	empty bool
}

// New creates an empty BlockRing.
func New() *Ring {
	r := &Ring{lcPos: -1, empty: true}
	for i := range r.slots {
		r.slots[i] = newSlot()
	}
	return r
}

func slotIndex(id uint64) uint64 {
	return id % RingBufferLength
}

// AddBlock appends (id, hash) to the slot for id. Does not set the
// longest-chain pointer. The caller must not add the same (id, hash) twice;
// the ring does not deduplicate.
func (r *Ring) AddBlock(id uint64, hash types.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slotIndex(id)
	r.slots[i].blockIDs = append(r.slots[i].blockIDs, id)
	r.slots[i].blockHashes = append(r.slots[i].blockHashes, hash)
	r.empty = false
}

// Contains reports whether (id, hash) is present in the ring.
func (r *Ring) Contains(id uint64, hash types.Hash) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := &r.slots[slotIndex(id)]
	for i, h := range s.blockHashes {
		if h == hash && s.blockIDs[i] == id {
			return true
		}
	}
	return false
}

// LongestHashAt returns the longest-chain hash stored at height id, or the
// zero hash if none is selected there.
func (r *Ring) LongestHashAt(id uint64) types.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := &r.slots[slotIndex(id)]
	if s.lcPos < 0 || s.lcPos >= len(s.blockHashes) {
		return types.Hash{}
	}
	return s.blockHashes[s.lcPos]
}

// LatestID returns the height of the current tip, or 0 if unset.
func (r *Ring) LatestID() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lcPos < 0 {
		return 0
	}
	s := &r.slots[r.lcPos]
	if s.lcPos < 0 || s.lcPos >= len(s.blockIDs) {
		return 0
	}
	return s.blockIDs[s.lcPos]
}

// LatestHash returns the hash of the current tip, or the zero hash if unset.
func (r *Ring) LatestHash() types.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lcPos < 0 {
		return types.Hash{}
	}
	s := &r.slots[r.lcPos]
	if s.lcPos < 0 || s.lcPos >= len(s.blockHashes) {
		return types.Hash{}
	}
	return s.blockHashes[s.lcPos]
}

// IsEmpty reports whether no block has ever been added to the ring.
func (r *Ring) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.empty
}

// HashesAt returns every hash stored in the slot for id whose stored id
// equals id exactly (a slot may also hold entries from other heights that
// share the same modulus).
func (r *Ring) HashesAt(id uint64) []types.Hash {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := &r.slots[slotIndex(id)]
	var out []types.Hash
	for i, bid := range s.blockIDs {
		if bid == id {
			out = append(out, s.blockHashes[i])
		}
	}
	return out
}

// OnChainReorganization toggles the slot for id to select hash as the
// longest chain (longest=true) or to clear that selection (longest=false).
// It reports whether (id, hash) was found in the slot.
//
// When clearing the current tip's slot, the ring attempts to step its
// top-level pointer back to (slot-1) mod RingBufferLength, adopting that
// slot's selection only if its stored id is exactly id-1; otherwise the
// top-level pointer becomes unknown. This mirrors blockring.rs's
// best-effort rollback: it is not guaranteed to find the true new tip, only
// a good guess for the common single-block-unwind case.
func (r *Ring) OnChainReorganization(id uint64, hash types.Hash, longest bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := slotIndex(id)
	s := &r.slots[i]

	pos := -1
	for idx, h := range s.blockHashes {
		if h == hash && s.blockIDs[idx] == id {
			pos = idx
			break
		}
	}
	if pos < 0 {
		return false
	}

	if longest {
		s.lcPos = pos
		r.lcPos = int(i)
		return true
	}

	// Unsetting a selection: clear it, and if it was the ring's own tip
	// pointer, try to step back one slot.
	if s.lcPos == pos {
		s.lcPos = -1
	}
	if r.lcPos == int(i) {
		r.lcPos = -1
		prevSlot := int(i) - 1
		if prevSlot < 0 {
			prevSlot = RingBufferLength - 1
		}
		ps := &r.slots[prevSlot]
		if ps.lcPos >= 0 && ps.lcPos < len(ps.blockIDs) && ps.blockIDs[ps.lcPos] == id-1 {
			r.lcPos = prevSlot
		}
	}
	return true
}

// DeleteBlock removes the matching (id, hash) entry from its slot,
// rebuilding the slot's longest-chain pointer if the deleted entry was
// selected.
func (r *Ring) DeleteBlock(id uint64, hash types.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &r.slots[slotIndex(id)]
	pos := -1
	for idx, h := range s.blockHashes {
		if h == hash && s.blockIDs[idx] == id {
			pos = idx
			break
		}
	}
	if pos < 0 {
		return
	}

	wasSelected := s.lcPos == pos
	s.blockIDs = append(s.blockIDs[:pos], s.blockIDs[pos+1:]...)
	s.blockHashes = append(s.blockHashes[:pos], s.blockHashes[pos+1:]...)

	switch {
	case wasSelected:
		s.lcPos = -1
	case s.lcPos > pos:
		s.lcPos--
	}
}
