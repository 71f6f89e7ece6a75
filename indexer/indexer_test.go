package indexer

import (
	"testing"

	"github.com/tolelom/streamlet/consensus"
	"github.com/tolelom/streamlet/events"
	"github.com/tolelom/streamlet/internal/testutil"
)

func finalizedBlock(epoch int64, txs [][]byte) *consensus.Block {
	b := consensus.NewBlock(epoch, consensus.Genesis(), txs)
	b.Notarize()
	b.Finalize()
	return b
}

// TestIndexerPersistsOnFinalize checks the indexer writes both the
// hash->block and epoch->hash entries when a finalization event fires.
func TestIndexerPersistsOnFinalize(t *testing.T) {
	store := consensus.NewStore()
	b := finalizedBlock(1, [][]byte{[]byte("tx1")})
	if err := store.AddBlock(b); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}

	db := testutil.NewMemDB()
	emitter := events.NewEmitter()
	idx := New(db, store, emitter)

	emitter.Emit(events.Event{
		Type:  events.EventBlockFinalized,
		Epoch: b.Epoch,
		Data:  map[string]any{"hash": b.Hash, "tx_count": 1},
	})

	got, err := idx.GetBlockByEpoch(1)
	if err != nil {
		t.Fatalf("GetBlockByEpoch: %v", err)
	}
	if got.Hash != b.Hash {
		t.Errorf("indexed block hash mismatch: got %s want %s", got.Hash, b.Hash)
	}

	byHash, err := idx.GetBlockByHash(b.Hash)
	if err != nil {
		t.Fatalf("GetBlockByHash: %v", err)
	}
	if byHash.Epoch != 1 {
		t.Errorf("GetBlockByHash epoch: got %d want 1", byHash.Epoch)
	}
}

// TestIndexerBenchmarkCountAccumulates checks the persisted transaction
// counter accumulates across multiple finalization events.
func TestIndexerBenchmarkCountAccumulates(t *testing.T) {
	store := consensus.NewStore()
	b1 := finalizedBlock(1, [][]byte{[]byte("a"), []byte("b")})
	b2 := finalizedBlock(2, [][]byte{[]byte("c")})
	store.AddBlock(b1)
	store.AddBlock(b2)

	db := testutil.NewMemDB()
	emitter := events.NewEmitter()
	idx := New(db, store, emitter)

	emitter.Emit(events.Event{Type: events.EventBlockFinalized, Epoch: 1, Data: map[string]any{"hash": b1.Hash}})
	emitter.Emit(events.Event{Type: events.EventBlockFinalized, Epoch: 2, Data: map[string]any{"hash": b2.Hash}})

	count, err := idx.BenchmarkCount()
	if err != nil {
		t.Fatalf("BenchmarkCount: %v", err)
	}
	if count != 3 {
		t.Errorf("benchmark count: got %d want 3", count)
	}
}

// TestGetBlockByEpochUnknown checks a miss returns an error rather than a
// zero-value block.
func TestGetBlockByEpochUnknown(t *testing.T) {
	store := consensus.NewStore()
	db := testutil.NewMemDB()
	idx := New(db, store, events.NewEmitter())

	if _, err := idx.GetBlockByEpoch(42); err == nil {
		t.Error("expected an error for an unindexed epoch")
	}
}

// TestOnBlockFinalizedIgnoresMismatchedHash checks a finalized event whose
// hash doesn't match what the store holds at that epoch is dropped rather
// than indexing the wrong block.
func TestOnBlockFinalizedIgnoresMismatchedHash(t *testing.T) {
	store := consensus.NewStore()
	b := finalizedBlock(1, nil)
	store.AddBlock(b)

	db := testutil.NewMemDB()
	emitter := events.NewEmitter()
	idx := New(db, store, emitter)

	emitter.Emit(events.Event{Type: events.EventBlockFinalized, Epoch: 1, Data: map[string]any{"hash": "bogus-hash"}})

	if _, err := idx.GetBlockByEpoch(1); err == nil {
		t.Error("mismatched-hash event should not have been indexed")
	}
}
