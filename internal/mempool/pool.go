// Package mempool holds pending transactions, queued inbound blocks, and
// golden tickets, and decides when the node has accumulated enough routing
// work to bundle a new block.
package mempool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Mempool errors.
var (
	ErrAlreadyExists = errors.New("transaction already in mempool")
	ErrPoolFull      = errors.New("mempool is full")
	ErrValidation    = errors.New("transaction failed validation")
	ErrWrongPath     = errors.New("golden ticket transactions must use AddGoldenTicket")
)

// goldenTicketEntry is a ticket held against its target block hash, kept
// even after being bundled until the block it targets confirms or is
// dropped (DeleteBlock clears it explicitly, matching delete_block).
type goldenTicketEntry struct {
	tx       *tx.Transaction
	consumed bool
}

// Pool is the mempool: pending transactions keyed by hash (standing in
// for the source's signature key — Transaction here carries its
// signatures per-input rather than a single top-level signature field, so
// Hash plays the same "unique key" role; see DESIGN.md), queued inbound
// blocks awaiting processing, and golden tickets keyed by target.
type Pool struct {
	mu sync.Mutex

	blocksQueue []*block.Block
	queued      map[types.Hash]bool

	transactions  map[types.Hash]*tx.Transaction
	goldenTickets map[types.Hash]*goldenTicketEntry // keyed by target block hash

	routingWorkInMempool uint64
	newTxAdded           bool

	policy        *Policy
	validator     tx.UTXOProvider
	nodePublicKey []byte
	maxSize       int
}

// New creates an empty mempool. validator resolves a transaction's inputs
// against live chain state for admission (Blockchain.UTXOProvider);
// nodePublicKey is passed to Transaction.Generate so routing_work_in_mempool
// tracks only work addressed to this node. maxSize <= 0 disables the
// capacity cap.
func New(validator tx.UTXOProvider, nodePublicKey []byte, policy *Policy, maxSize int) *Pool {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Pool{
		queued:        make(map[types.Hash]bool),
		transactions:  make(map[types.Hash]*tx.Transaction),
		goldenTickets: make(map[types.Hash]*goldenTicketEntry),
		policy:        policy,
		validator:     validator,
		nodePublicKey: nodePublicKey,
		maxSize:       maxSize,
	}
}

// AddBlock enqueues an inbound block unless one with the same hash is
// already queued.
func (p *Pool) AddBlock(blk *block.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := blk.Hash()
	if p.queued[h] {
		return
	}
	p.queued[h] = true
	p.blocksQueue = append(p.blocksQueue, blk)
}

// HasQueuedBlock reports whether a block with the given hash is already
// queued, so AddBlock's parent-fetch step does not request it twice.
func (p *Pool) HasQueuedBlock(hash types.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queued[hash]
}

// DeleteBlock drops a queued block by hash and any golden ticket targeting
// it (delete_block).
func (p *Pool) DeleteBlock(hash types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queued[hash] {
		delete(p.queued, hash)
		for i, b := range p.blocksQueue {
			if b.Hash() == hash {
				p.blocksQueue = append(p.blocksQueue[:i], p.blocksQueue[i+1:]...)
				break
			}
		}
	}
	delete(p.goldenTickets, hash)
}

// DrainQueuedBlocks removes and returns every queued block in ascending id
// order, for the consensus task's add_blocks_from_mempool batch (§5): drain
// queue, sort by id, feed into AddBlock one at a time.
func (p *Pool) DrainQueuedBlocks() []*block.Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.blocksQueue
	p.blocksQueue = nil
	p.queued = make(map[types.Hash]bool)
	sortBlocksByID(out)
	return out
}

func sortBlocksByID(blocks []*block.Block) {
	for i := 1; i < len(blocks); i++ {
		for j := i; j > 0 && blocks[j-1].ID() > blocks[j].ID(); j-- {
			blocks[j-1], blocks[j] = blocks[j], blocks[j-1]
		}
	}
}

// AddTransaction registers an already-validated, non-GoldenTicket
// transaction unconditionally (add_transaction): new entries add
// total_work_for_me to the running counter and set new_tx_added.
func (p *Pool) AddTransaction(t *tx.Transaction) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addTransactionLocked(t)
}

func (p *Pool) addTransactionLocked(t *tx.Transaction) bool {
	if t.Type == tx.GoldenTicket {
		return false
	}
	key := t.Hash()
	if _, exists := p.transactions[key]; exists {
		return false
	}
	p.transactions[key] = t
	p.routingWorkInMempool += t.TotalWorkForMe
	p.newTxAdded = true
	return true
}

// AddGoldenTicket extracts the ticket's target from its payload and keeps
// one ticket per target, first-wins (§9 Open Question, decided in
// DESIGN.md).
func (p *Pool) AddGoldenTicket(t *tx.Transaction) error {
	target, _, err := t.TargetOf()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.goldenTickets[target]; exists {
		return nil
	}
	p.goldenTickets[target] = &goldenTicketEntry{tx: t}
	return nil
}

// Add implements add_transaction_if_validates: it runs Generate against
// the node's public key, checks policy, validates against live chain
// state, and admits the transaction iff all of that succeeds. Returns the
// computed fee. GoldenTicket transactions are rejected — they use
// AddGoldenTicket instead, per add_transaction's own type restriction.
func (p *Pool) Add(t *tx.Transaction) (uint64, error) {
	if t.Type == tx.GoldenTicket {
		return 0, ErrWrongPath
	}

	t.Generate(p.nodePublicKey)

	if err := p.policy.Check(t); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	fee, err := t.ValidateWithUTXOs(p.validator)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.transactions[t.Hash()]; exists {
		return 0, ErrAlreadyExists
	}
	if p.maxSize > 0 && len(p.transactions) >= p.maxSize {
		return 0, ErrPoolFull
	}

	p.addTransactionLocked(t)
	return fee, nil
}

// RemoveConfirmed drops every listed transaction (now included in a
// committed block) and any golden ticket it was carrying, then rebuilds
// routing_work_in_mempool over what remains (delete_transactions).
func (p *Pool) RemoveConfirmed(txs []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range txs {
		delete(p.transactions, t.Hash())
		if t.Type == tx.GoldenTicket {
			if target, _, err := t.TargetOf(); err == nil {
				delete(p.goldenTickets, target)
			}
		}
	}
	p.rebuildRoutingWorkLocked()
}

// PruneInvalid drops every transaction whose inputs no longer validate
// against validator (§4.5.4's "drop from Mempool every transaction whose
// inputs no longer validate", run after every commit and after a failed
// block's transactions are returned).
func (p *Pool) PruneInvalid(validator tx.UTXOProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, t := range p.transactions {
		if !stillValid(t, validator) {
			delete(p.transactions, key)
		}
	}
	p.rebuildRoutingWorkLocked()
}

func stillValid(t *tx.Transaction, validator tx.UTXOProvider) bool {
	for _, in := range t.Inputs {
		if in.PrevOut.IsZero() {
			continue
		}
		if !validator.HasUTXO(in.PrevOut) {
			return false
		}
	}
	return true
}

func (p *Pool) rebuildRoutingWorkLocked() {
	var total uint64
	for _, t := range p.transactions {
		total += t.TotalWorkForMe
	}
	p.routingWorkInMempool = total
}

// Count returns the number of pending transactions.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transactions)
}

// RoutingWork returns the current routing_work_in_mempool counter.
func (p *Pool) RoutingWork() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.routingWorkInMempool
}
