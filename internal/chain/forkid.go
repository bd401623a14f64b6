package chain

// forkIDOffsets are the sampling offsets of §4.5.6, back from the origin
// height (height rounded down to the nearest multiple of 10).
var forkIDOffsets = [16]uint64{
	0, 10, 20, 30, 40, 50, 75, 100, 200, 500, 1000, 5000, 15000, 35000, 85000, 185000,
}

// generateForkID builds the fork-id peers use to find a last-shared
// ancestor: 16 two-byte samples of the longest-chain hash at decreasing
// heights back from height (rounded down to a multiple of 10). A sampled
// height of exactly 0 is genesis and carries no discriminating information,
// so it is skipped like an underflow.
func (bc *Blockchain) generateForkID(height uint64) [32]byte {
	origin := (height / 10) * 10

	var forkID [32]byte
	for i, offset := range forkIDOffsets {
		if offset > origin {
			continue // Underflow.
		}
		h := origin - offset
		if h == 0 || h > height {
			continue
		}
		hash := bc.ring.LongestHashAt(h)
		if hash.IsZero() {
			continue
		}
		copy(forkID[2*i:2*i+2], hash[2*i:2*i+2])
	}
	return forkID
}
