// Package txgen is the transaction ingestion front-end: a transient
// producer of opaque filler transactions, external to the consensus core.
// It exists only to give the engine something to propose; the core never
// looks inside what it hands over.
package txgen

import (
	"crypto/rand"
	"time"
)

// Generator fills batches of random TRANSACTION_SIZE-byte records and hands
// them to the engine through a bounded channel. It never blocks the
// consensus loop: if the channel is full, a tick is simply dropped.
type Generator struct {
	txSize   int
	txCount  int
	interval time.Duration

	batches chan [][]byte
	stopCh  chan struct{}
}

// New creates a Generator producing batches of txCount transactions of
// txSize bytes each, roughly once per interval (typically the epoch
// duration, so a fresh batch is usually ready by the time a replica next
// leads).
func New(txSize, txCount int, interval time.Duration) *Generator {
	return &Generator{
		txSize:   txSize,
		txCount:  txCount,
		interval: interval,
		batches:  make(chan [][]byte, 4),
		stopCh:   make(chan struct{}),
	}
}

// Start begins producing batches in the background.
func (g *Generator) Start() {
	go g.run()
}

// Stop ends production.
func (g *Generator) Stop() {
	close(g.stopCh)
}

func (g *Generator) run() {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			batch := g.fill()
			select {
			case g.batches <- batch:
			default:
				// Queue full: the engine hasn't consumed the last batch yet.
				// Drop this tick rather than block production.
			}
		}
	}
}

func (g *Generator) fill() [][]byte {
	batch := make([][]byte, g.txCount)
	for i := range batch {
		tx := make([]byte, g.txSize)
		_, _ = rand.Read(tx)
		batch[i] = tx
	}
	return batch
}

// Next implements the engine's txSource signature: it returns whatever
// transactions are immediately available, up to max, never blocking. If no
// batch is ready it returns an empty slice — an epoch can still produce an
// empty block.
func (g *Generator) Next(max int) [][]byte {
	select {
	case batch := <-g.batches:
		if len(batch) > max {
			return batch[:max]
		}
		return batch
	default:
		return nil
	}
}
