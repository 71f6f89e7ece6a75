package rpc

import (
	"encoding/json"
	"testing"

	"github.com/tolelom/streamlet/consensus"
	"github.com/tolelom/streamlet/events"
	"github.com/tolelom/streamlet/indexer"
	"github.com/tolelom/streamlet/internal/testutil"
)

func newTestHandler() (*Handler, *consensus.Store) {
	store := consensus.NewStore()
	db := testutil.NewMemDB()
	idx := indexer.New(db, store, events.NewEmitter())
	epoch := func() int64 { return 7 }
	return NewHandler(store, idx, epoch), store
}

func reqFor(method string, params any) Request {
	var raw json.RawMessage
	if params != nil {
		raw, _ = json.Marshal(params)
	}
	return Request{JSONRPC: "2.0", ID: 1, Method: method, Params: raw}
}

// TestDispatchGetEpoch checks getEpoch returns the value reported by the
// handler's epoch callback.
func TestDispatchGetEpoch(t *testing.T) {
	h, _ := newTestHandler()
	resp := h.Dispatch(reqFor("getEpoch", nil))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	if resp.Result.(int64) != 7 {
		t.Errorf("getEpoch: got %v want 7", resp.Result)
	}
}

// TestDispatchUnknownMethod checks an unrecognized method yields a
// MethodNotFound JSON-RPC error.
func TestDispatchUnknownMethod(t *testing.T) {
	h, _ := newTestHandler()
	resp := h.Dispatch(reqFor("doSomethingElse", nil))
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected CodeMethodNotFound, got %+v", resp.Error)
	}
}

// TestGetBlockByEpochFromLiveStore checks a block still in the live store
// (not yet indexed) is served without going through the indexer.
func TestGetBlockByEpochFromLiveStore(t *testing.T) {
	h, store := newTestHandler()
	b := consensus.NewBlock(1, consensus.Genesis(), nil)
	if err := store.AddBlock(b); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}

	resp := h.Dispatch(reqFor("getBlock", map[string]any{"epoch": 1}))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	got := resp.Result.(*consensus.Block)
	if got.Hash != b.Hash {
		t.Errorf("hash mismatch: got %s want %s", got.Hash, b.Hash)
	}
}

// TestGetBlockMissingParams checks getBlock requires epoch or hash.
func TestGetBlockMissingParams(t *testing.T) {
	h, _ := newTestHandler()
	resp := h.Dispatch(reqFor("getBlock", map[string]any{}))
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected CodeInvalidParams, got %+v", resp.Error)
	}
}

// TestGetBlockUnknownEpochFallsBackToIndexer checks a request for an epoch
// absent from both the live store and the index surfaces an internal error
// rather than a panic.
func TestGetBlockUnknownEpochFallsBackToIndexer(t *testing.T) {
	h, _ := newTestHandler()
	resp := h.Dispatch(reqFor("getBlock", map[string]any{"epoch": 99}))
	if resp.Error == nil {
		t.Fatal("expected an error for an unknown epoch")
	}
}
