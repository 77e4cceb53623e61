// Package mempool holds admitted transactions until the engine drains them
// into a block.
package mempool

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"pos-ledger/logger"
	"pos-ledger/metrics"
	"pos-ledger/models"
	"pos-ledger/txvalidator"
)

// DefaultMaxSize bounds the number of pending transactions.
const DefaultMaxSize = 10000

var (
	ErrDuplicate = errors.New("transaction already pending")
	ErrFull      = errors.New("mempool is full")
)

// Mempool is a FIFO of pending transactions keyed by hash.
type Mempool struct {
	mu      sync.Mutex
	pending []*models.Transaction
	known   map[models.Hash]struct{}
	maxSize int
	metrics *metrics.Metrics
}

// New returns an empty pool; maxSize <= 0 uses DefaultMaxSize.
func New(maxSize int, m *metrics.Metrics) *Mempool {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Mempool{
		known:   make(map[models.Hash]struct{}),
		maxSize: maxSize,
		metrics: m,
	}
}

// Add admits tx after the content check. Balance and nonce are checked when
// the block is built, against the state at that height.
func (p *Mempool) Add(tx *models.Transaction) error {
	if res := txvalidator.Validate(tx); !res.Valid {
		p.metrics.TxRejected(txvalidator.Code(res.Err))
		return res.Err
	}
	hash := tx.Hash()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.known[hash]; ok {
		return ErrDuplicate
	}
	if len(p.pending) >= p.maxSize {
		return ErrFull
	}
	p.pending = append(p.pending, tx)
	p.known[hash] = struct{}{}
	p.metrics.SetMempoolSize(len(p.pending))

	logger.Logger.Debug("Transaction pending",
		zap.String("hash", hash.String()),
		zap.String("sender", tx.Sender),
		zap.Uint64("nonce", tx.Nonce))
	return nil
}

func (p *Mempool) Has(hash models.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.known[hash]
	return ok
}

func (p *Mempool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Peek returns up to n pending transactions without removing them.
func (p *Mempool) Peek(n int) []*models.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n <= 0 || n > len(p.pending) {
		n = len(p.pending)
	}
	return append([]*models.Transaction(nil), p.pending[:n]...)
}

// Drain removes and returns up to max transactions in arrival order.
// max <= 0 drains everything.
func (p *Mempool) Drain(max int) []*models.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	if max <= 0 || max > len(p.pending) {
		max = len(p.pending)
	}
	out := make([]*models.Transaction, max)
	copy(out, p.pending[:max])
	p.pending = append(p.pending[:0:0], p.pending[max:]...)
	for _, tx := range out {
		delete(p.known, tx.Hash())
	}
	p.metrics.SetMempoolSize(len(p.pending))
	return out
}

// Requeue puts transactions from a block that did not commit back at the
// front, keeping their order. It ignores the size bound so nothing admitted
// is lost.
func (p *Mempool) Requeue(txs []*models.Transaction) {
	if len(txs) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	front := make([]*models.Transaction, 0, len(txs)+len(p.pending))
	for _, tx := range txs {
		hash := tx.Hash()
		if _, ok := p.known[hash]; ok {
			continue
		}
		p.known[hash] = struct{}{}
		front = append(front, tx)
	}
	p.pending = append(front, p.pending...)
	p.metrics.SetMempoolSize(len(p.pending))
}

// Remove drops the given transactions if pending, typically because an
// imported block already included them.
func (p *Mempool) Remove(txs ...*models.Transaction) {
	if len(txs) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	drop := make(map[models.Hash]struct{}, len(txs))
	for _, tx := range txs {
		hash := tx.Hash()
		if _, ok := p.known[hash]; ok {
			drop[hash] = struct{}{}
			delete(p.known, hash)
		}
	}
	if len(drop) == 0 {
		return
	}
	kept := p.pending[:0]
	for _, tx := range p.pending {
		if _, ok := drop[tx.Hash()]; !ok {
			kept = append(kept, tx)
		}
	}
	p.pending = kept
	p.metrics.SetMempoolSize(len(p.pending))
}
