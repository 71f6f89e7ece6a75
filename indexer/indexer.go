// Package indexer maintains a rebuildable secondary index over finalized
// blocks so RPC queries can look blocks up by epoch or hash without going
// through the in-memory consensus store directly. It is never the
// authoritative record of the chain — consensus.Store is — so if its
// database is lost or corrupted it can always be rebuilt by replaying
// FinalizedBlocks() from the store.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/tolelom/streamlet/consensus"
	"github.com/tolelom/streamlet/events"
	"github.com/tolelom/streamlet/storage"
)

const (
	prefixEpochHash = "idx:epoch:"
	prefixHashBlock = "idx:block:"
	keyBenchmark    = "idx:benchmark:count"
)

// Indexer subscribes to finalization events and updates the lookup tables.
type Indexer struct {
	db    storage.DB
	store *consensus.Store
}

// New creates an Indexer backed by db, subscribing to finalized-block
// events from emitter. store supplies the full block for an epoch the
// event only names by hash.
func New(db storage.DB, store *consensus.Store, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, store: store}
	emitter.Subscribe(events.EventBlockFinalized, idx.onBlockFinalized)
	return idx
}

// GetBlockByEpoch returns the indexed finalized block at epoch.
func (idx *Indexer) GetBlockByEpoch(epoch int64) (*consensus.Block, error) {
	hash, err := idx.db.Get([]byte(prefixEpochHash + strconv.FormatInt(epoch, 10)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("indexer: no finalized block at epoch %d", epoch)
		}
		return nil, err
	}
	return idx.GetBlockByHash(string(hash))
}

// GetBlockByHash returns the indexed finalized block with the given hash.
func (idx *Indexer) GetBlockByHash(hash string) (*consensus.Block, error) {
	data, err := idx.db.Get([]byte(prefixHashBlock + hash))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("indexer: unknown block hash %q", hash)
		}
		return nil, err
	}
	var b consensus.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return &b, nil
}

// BenchmarkCount returns the persisted running total of finalized
// transactions, surviving restarts independently of the engine's
// in-memory counter.
func (idx *Indexer) BenchmarkCount() (int, error) {
	data, err := idx.db.Get([]byte(keyBenchmark))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("indexer: malformed benchmark counter: %w", err)
	}
	return n, nil
}

func (idx *Indexer) onBlockFinalized(ev events.Event) {
	hash, _ := ev.Data["hash"].(string)
	if hash == "" {
		return
	}
	b, ok := idx.store.GetBlock(ev.Epoch)
	if !ok || b.Hash != hash {
		log.Printf("[indexer] finalized event for epoch %d but store has no matching block", ev.Epoch)
		return
	}
	data, err := json.Marshal(b)
	if err != nil {
		log.Printf("[indexer] marshal block at epoch %d: %v", ev.Epoch, err)
		return
	}
	if err := idx.db.Set([]byte(prefixHashBlock+hash), data); err != nil {
		log.Printf("[indexer] store block at epoch %d: %v", ev.Epoch, err)
		return
	}
	if err := idx.db.Set([]byte(prefixEpochHash+strconv.FormatInt(ev.Epoch, 10)), []byte(hash)); err != nil {
		log.Printf("[indexer] store epoch index at %d: %v", ev.Epoch, err)
		return
	}

	count, _ := idx.BenchmarkCount()
	count += len(b.Transactions)
	if err := idx.db.Set([]byte(keyBenchmark), []byte(strconv.Itoa(count))); err != nil {
		log.Printf("[indexer] store benchmark counter: %v", err)
	}
}
