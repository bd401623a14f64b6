// Package walletmirror tracks a single node's own spendable slips as the
// active chain winds and unwinds, without re-scanning the UTXO set from
// scratch on every reorg.
package walletmirror

import (
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/wallet"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// record is one slip the node has ever owned: its value and script (for
// coin selection) plus whether it is currently spendable or known-spent,
// mirroring UtxoSet's own spendable/known shape so the same wind/unwind
// toggle logic applies.
type record struct {
	value     uint64
	script    types.Script
	spendable bool
}

// Mirror is the node's own observed slip set. It is registered with
// Blockchain as a WalletMirror and is driven exclusively by
// OnChainReorganization, called once per block as it winds onto or unwinds
// off the active chain while the Blockchain write lock is held.
type Mirror struct {
	mu      sync.Mutex
	pubKey  []byte
	entries map[types.Outpoint]*record
	balance uint64
}

// New creates a Mirror that watches for outputs and inputs addressed to
// pubKey — the node's own public key, compared against Script.Data and
// Input.PubKey the same way Transaction.Generate compares them against
// TotalWorkForMe's target key.
func New(pubKey []byte) *Mirror {
	return &Mirror{
		pubKey:  pubKey,
		entries: make(map[types.Outpoint]*record),
	}
}

// OnChainReorganization implements chain.WalletMirror. On longest=true
// (winding), outputs addressed to the node become spendable and its inputs
// spending a previously-owned slip become known-spent. On longest=false
// (unwinding), both are reverted: a contract that for any block pair
// (b, true) followed immediately by (b, false) the mirror returns to the
// state before the first call.
func (m *Mirror) OnChainReorganization(blk *block.Block, longest bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range blk.Transactions {
		txHash := t.Hash()

		for i, out := range t.Outputs {
			if !m.owns(out.Script.Data) {
				continue
			}
			op := types.Outpoint{TxID: txHash, Index: uint32(i)}
			if longest {
				m.entries[op] = &record{value: out.Value, script: out.Script, spendable: true}
				m.balance += out.Value
			} else if rec, ok := m.entries[op]; ok && rec.spendable {
				delete(m.entries, op)
				m.balance -= rec.value
			}
		}

		for _, in := range t.Inputs {
			if !m.owns(in.PubKey) {
				continue
			}
			rec, ok := m.entries[in.PrevOut]
			if !ok {
				continue // Slip predates this mirror's attachment; nothing to toggle.
			}
			if longest && rec.spendable {
				rec.spendable = false
				m.balance -= rec.value
			} else if !longest && !rec.spendable {
				rec.spendable = true
				m.balance += rec.value
			}
		}
	}
}

func (m *Mirror) owns(data []byte) bool {
	if len(m.pubKey) == 0 || len(data) < len(m.pubKey) {
		return false
	}
	for i, b := range m.pubKey {
		if data[i] != b {
			return false
		}
	}
	return true
}

// AvailableBalance returns the sum of currently spendable slip values.
func (m *Mirror) AvailableBalance() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}

// PubKey returns the public key this mirror watches for.
func (m *Mirror) PubKey() []byte {
	return m.pubKey
}

// SpendableUTXOs returns every slip the mirror currently considers
// spendable, in the shape wallet.SelectCoins consumes.
func (m *Mirror) SpendableUTXOs() []wallet.UTXO {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]wallet.UTXO, 0, len(m.entries))
	for op, rec := range m.entries {
		if !rec.spendable {
			continue
		}
		out = append(out, wallet.UTXO{
			Outpoint: op,
			Value:    rec.value,
			Script:   rec.script,
		})
	}
	return out
}
