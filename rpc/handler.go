package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/streamlet/consensus"
	"github.com/tolelom/streamlet/indexer"
)

// Handler holds all dependencies needed to serve RPC methods. Every method
// is read-only: there is no sendTx equivalent here, since transactions are
// generated locally per the configured benchmark knobs (see package txgen),
// not submitted by RPC clients.
type Handler struct {
	store *consensus.Store
	idx   *indexer.Indexer
	epoch func() int64
}

// NewHandler creates an RPC Handler. epoch reports the engine's current
// epoch number; passed as a func rather than a snapshot since the engine
// keeps running after the handler is constructed.
func NewHandler(store *consensus.Store, idx *indexer.Indexer, epoch func() int64) *Handler {
	return &Handler{store: store, idx: idx, epoch: epoch}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getEpoch":
		return okResponse(req.ID, h.epoch())

	case "getBlock":
		return h.getBlock(req)

	case "getFreshestChain":
		return okResponse(req.ID, h.store.FreshestNotarizedChain())

	case "getFinalized":
		return okResponse(req.ID, h.store.FinalizedBlocks())

	case "getBenchmark":
		return h.getBenchmark(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Epoch *int64  `json:"epoch"`
		Hash  *string `json:"hash"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}

	if params.Epoch != nil {
		if b, ok := h.store.GetBlock(*params.Epoch); ok {
			return okResponse(req.ID, b)
		}
		b, err := h.idx.GetBlockByEpoch(*params.Epoch)
		if err != nil {
			return errResponse(req.ID, CodeInternalError, err.Error())
		}
		return okResponse(req.ID, b)
	}
	if params.Hash != nil {
		b, err := h.idx.GetBlockByHash(*params.Hash)
		if err != nil {
			return errResponse(req.ID, CodeInternalError, err.Error())
		}
		return okResponse(req.ID, b)
	}
	return errResponse(req.ID, CodeInvalidParams, "one of epoch or hash is required")
}

func (h *Handler) getBenchmark(req Request) Response {
	persisted, err := h.idx.BenchmarkCount()
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{
		"finalized_transactions": persisted,
		"epoch":                  h.epoch(),
	})
}
