// Package burnfee implements the pure functions computing the dynamic
// "burn fee" work target: the quantity of routing work a child block must
// accumulate in its mempool before it may be bundled.
//
// Grounded in the clamp-and-scale technique of the teacher's proof-of-work
// difficulty retarget (internal/consensus/pow.go's CalcNextDifficulty):
// safe big.Int multiply/divide, with a floor so the result never collapses
// to zero. Burn fee and PoW difficulty move in opposite directions — burn
// fee drops as elapsed time grows, difficulty classically rises — so the
// scaling ratio here is inverted relative to that source.
package burnfee

import "math/big"

// HeartbeatMS is the target milliseconds between blocks. At exactly this
// elapsed time, work_needed returns the parent's burn fee unchanged.
const HeartbeatMS = 30_000

// maxBurnFee is the saturating value returned when elapsed time is zero
// (an immediate second block would otherwise require infinite work).
const maxBurnFee = ^uint64(0)

// WorkNeeded computes the routing work required of a block produced at
// currentTS given the parent's burn fee and timestamp. Monotone decreasing
// in elapsed time: returns previousBurnFee at elapsed == HeartbeatMS, and
// scales as previousBurnFee * HeartbeatMS / elapsed otherwise.
func WorkNeeded(previousBurnFee uint64, currentTS, previousTS uint64) uint64 {
	if currentTS <= previousTS {
		return maxBurnFee
	}
	elapsed := currentTS - previousTS
	return scale(previousBurnFee, elapsed)
}

// NextBurnFee computes the burn fee value to carry into the child block,
// given the parent's burn fee and the elapsed time between the parent and
// the child.
func NextBurnFee(previousBurnFee uint64, elapsedBetweenBlocks uint64) uint64 {
	if elapsedBetweenBlocks == 0 {
		return maxBurnFee
	}
	return scale(previousBurnFee, elapsedBetweenBlocks)
}

// scale computes previousBurnFee * HeartbeatMS / elapsed using big.Int to
// avoid overflow, flooring the result at 1 so a long quiet period never
// drives the requirement to zero (which would admit blocks with no work at
// all).
func scale(previousBurnFee, elapsed uint64) uint64 {
	if elapsed == HeartbeatMS {
		return previousBurnFee
	}
	num := new(big.Int).Mul(big.NewInt(0).SetUint64(previousBurnFee), big.NewInt(HeartbeatMS))
	den := big.NewInt(0).SetUint64(elapsed)
	result := num.Div(num, den)
	if !result.IsUint64() {
		return maxBurnFee
	}
	v := result.Uint64()
	if v == 0 {
		return 1
	}
	return v
}
