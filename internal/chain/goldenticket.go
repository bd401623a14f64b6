package chain

import "github.com/Klingon-tech/klingnet-chain/pkg/types"

// Golden-ticket density window (§4.5.2, §6).
const (
	goldenTicketDenominator = 6
	goldenTicketNumerator   = 2
)

// GoldenTicketDensityOK reports whether a block extending the current tip
// with candidateHasTicket would satisfy the golden-ticket density
// requirement (§4.5.2). Exposed so Mempool.CanBundleBlock can apply the
// same precheck AddBlock will, rather than bundling a block doomed to
// FailedNotValid.
func (bc *Blockchain) GoldenTicketDensityOK(candidateHasTicket bool) bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.goldenTicketDensityOK(bc.state.LatestHash, candidateHasTicket)
}

// goldenTicketDensityOK reports whether the density requirement is
// satisfied for a candidate block extending parentHash: in the
// goldenTicketDenominator blocks terminating at the parent, at least
// goldenTicketNumerator must carry a golden ticket, with a special
// allowance for the candidate block's own ticket when the window is full.
func (bc *Blockchain) goldenTicketDensityOK(parentHash types.Hash, candidateHasTicket bool) bool {
	parent, ok := bc.blocks[parentHash]
	if !ok {
		return true // Genesis or unknown parent: nothing to check yet.
	}
	if parent.ID() < goldenTicketDenominator {
		return true
	}

	count := 0
	depth := 0
	cur := parent
	for depth < goldenTicketDenominator {
		if cur.Header.HasGoldenTicket {
			count++
		}
		depth++
		if cur.Header.PrevHash.IsZero() {
			break
		}
		next, ok := bc.blocks[cur.Header.PrevHash]
		if !ok {
			break
		}
		cur = next
	}

	if count >= goldenTicketNumerator {
		return true
	}
	if candidateHasTicket && depth >= goldenTicketDenominator {
		return true
	}
	return false
}
