package consensus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/tolelom/streamlet/config"
	"github.com/tolelom/streamlet/crypto"
	"github.com/tolelom/streamlet/events"
	"github.com/tolelom/streamlet/usig"
)

// timeoutError is raised internally to end an epoch's message-processing
// loop once its time budget is exhausted. It never escapes Run.
type timeoutError struct{ epoch int64 }

func (e timeoutError) Error() string { return fmt.Sprintf("epoch %d timed out", e.epoch) }

// Engine drives the per-replica Streamlet state machine: propose, vote,
// notarize, finalize, recover. One Engine owns one Store; nothing else
// writes to that Store.
type Engine struct {
	cfg       *config.Config
	store     *Store
	schedule  *Schedule
	transport Transport
	recoverer Recoverer
	emitter   *events.Emitter

	selfID int
	priv   crypto.PrivateKey
	peers  map[int]crypto.PublicKey // classical: signing keys; usig: USIG keys

	usigGen      *usig.USIG  // nil in the classical variant
	uiTracker    *usig.Tracker

	quorum int
	window int

	epoch int64

	earlyQueue   map[int64][]Envelope
	timeoutVotes map[int64]map[int]bool // next-epoch -> distinct senders who timed out

	txSource func(max int) [][]byte

	finalizedCount int // total transactions finalized, for benchmarking
}

// NewEngine builds an Engine for the local replica. peers maps every replica
// id (including selfID) to its verification key: signing key in the
// classical variant, USIG key in the usig variant.
func NewEngine(
	cfg *config.Config,
	selfID int,
	priv crypto.PrivateKey,
	peers map[int]crypto.PublicKey,
	usigGen *usig.USIG,
	transport Transport,
	recoverer Recoverer,
	emitter *events.Emitter,
	txSource func(max int) [][]byte,
) *Engine {
	return &Engine{
		cfg:          cfg,
		store:        NewStore(),
		schedule:     NewSchedule(cfg.N()),
		transport:    transport,
		recoverer:    recoverer,
		emitter:      emitter,
		selfID:       selfID,
		priv:         priv,
		peers:        peers,
		usigGen:      usigGen,
		uiTracker:    usig.NewTracker(),
		quorum:       cfg.Quorum(),
		window:       cfg.FinalizationWindow(),
		earlyQueue:   make(map[int64][]Envelope),
		timeoutVotes: make(map[int64]map[int]bool),
		txSource:     txSource,
	}
}

// Store exposes the blockchain store for read-only consumers (RPC, indexer).
func (e *Engine) Store() *Store { return e.store }

// Epoch returns the current epoch number. Safe to call from other
// goroutines for reporting purposes; it is not synchronized against the
// engine's own loop, so it may be off by one around an epoch boundary.
func (e *Engine) Epoch() int64 { return e.epoch }

// FinalizedCount returns the running total of finalized transactions,
// for benchmarking and RPC status reporting.
func (e *Engine) FinalizedCount() int { return e.finalizedCount }

// Run drives the epoch loop until done is closed.
func (e *Engine) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		e.runEpoch(done)
	}
}

func (e *Engine) runEpoch(done <-chan struct{}) {
	start := time.Now()
	e.epoch++
	e.drainEarly()
	leader := e.schedule.LeaderFor(e.epoch)

	if leader == e.selfID {
		if err := e.propose(); err != nil {
			log.Printf("[consensus] epoch %d: propose failed: %v", e.epoch, err)
		}
	}

	if err := e.processMessages(start, done); err != nil {
		log.Printf("[consensus] epoch %d: %v", e.epoch, err)
	}
	e.padEpoch(start, done)
}

// padEpoch sleeps out whatever remains of the epoch's time budget. An
// epoch that ends early — a USIG quorum observed before the deadline —
// would otherwise let a fast replica run
// ahead of its peers' wall-clock epoch cadence, so every epoch takes at
// least EpochDuration regardless of how quickly it was decided.
func (e *Engine) padEpoch(start time.Time, done <-chan struct{}) {
	remaining := e.deadline(start)
	if remaining <= 0 {
		return
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	}
}

func (e *Engine) deadline(start time.Time) time.Duration {
	elapsed := time.Since(start)
	remaining := e.cfg.EpochDuration - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// propose builds, signs/binds, and broadcasts a new block extending the
// freshest notarized chain, then records the leader's own vote locally.
func (e *Engine) propose() error {
	parent := e.store.FreshestNotarizedBlock()
	if parent == nil {
		return fmt.Errorf("no freshest notarized block (store corrupt)")
	}

	txs := e.txSource(e.cfg.TransactionNumber)
	block := NewBlock(e.epoch, parent, txs)

	var cert *Certificate
	if e.epoch > 1 {
		c := CertificateFrom(parent)
		cert = &c
	}

	msg := Propose{Sender: e.selfID, Block: block, Cert: cert}

	if e.usigGen != nil {
		ui := e.usigGen.CreateUI(e.epoch, block.Hash)
		msg.UI = &ui
	} else {
		block.Signature = crypto.Sign(e.priv, []byte(block.Hash))
	}

	if err := e.store.AddBlock(block); err != nil {
		return err
	}
	// Broadcast the PROPOSE before the leader's own VOTE: in the usig variant
	// the proposal's UI counter precedes the vote's, and peers accept UIs
	// only in strict counter order.
	err := e.transport.BroadcastPropose(msg)
	e.recordOwnVote(block)
	return err
}

// recordOwnVote adds the leader's or a voter's own endorsement to a block it
// already holds, and broadcasts the corresponding VOTE.
func (e *Engine) recordOwnVote(block *Block) {
	var endorsement string
	if e.usigGen != nil {
		u := e.usigGen.CreateUI(block.Epoch, block.Hash)
		data, _ := json.Marshal(u)
		endorsement = string(data)
	} else {
		endorsement = crypto.Sign(e.priv, []byte(block.Hash))
	}
	count, added, _ := e.store.AddVote(block.Epoch, e.selfID, endorsement)
	if added && count >= e.quorum {
		e.notarizeAndFinalize(block.Epoch)
	}
	vote := Vote{Sender: e.selfID, Epoch: block.Epoch, BlockHash: block.Hash, Endorsement: endorsement}
	if err := e.transport.BroadcastVote(vote); err != nil {
		log.Printf("[consensus] epoch %d: broadcast vote: %v", block.Epoch, err)
	}
}

// processMessages consumes inbound envelopes until the epoch's time budget
// is exhausted, or — in the USIG variant — the current epoch's block
// reaches quorum. Halfway through the epoch, the USIG variant broadcasts
// its own TIMEOUT for the next epoch so replicas that never see a
// current-epoch PROPOSE can still make collective progress.
func (e *Engine) processMessages(start time.Time, done <-chan struct{}) error {
	halfSent := e.usigGen == nil // classical variant never sends TIMEOUT
	for {
		remaining := e.deadline(start)
		if remaining <= 0 {
			return timeoutError{epoch: e.epoch}
		}

		waitFor := remaining
		if !halfSent {
			if half := e.cfg.EpochDuration/2 - time.Since(start); half > 0 && half < waitFor {
				waitFor = half
			}
		}

		timer := time.NewTimer(waitFor)
		select {
		case <-done:
			timer.Stop()
			return nil
		case <-timer.C:
			if !halfSent && e.deadline(start) > 0 {
				e.sendOwnTimeout()
				halfSent = true
				continue
			}
			return timeoutError{epoch: e.epoch}
		case env := <-e.transport.Inbox():
			timer.Stop()
			e.dispatch(env)
			// Only the USIG variant is allowed to end an epoch early on
			// quorum: the classical variant must keep consuming messages
			// for the full epoch budget so every replica stays in lockstep
			// on wall-clock epoch cadence (see the padding in runEpoch).
			if e.usigGen != nil {
				if b, ok := e.store.GetBlock(e.epoch); ok && b.Status != Proposed {
					return nil
				}
			}
		}
	}
}

func (e *Engine) sendOwnTimeout() {
	next := e.epoch + 1
	t := Timeout{Sender: e.selfID, NextEpoch: next}
	ui := e.usigGen.CreateUI(next, "")
	t.UI = &ui
	if err := e.transport.BroadcastTimeout(t); err != nil {
		log.Printf("[consensus] epoch %d: broadcast timeout: %v", e.epoch, err)
	}
	e.handleTimeout(e.selfID, t)
}

func (e *Engine) dispatch(env Envelope) {
	switch env.Kind {
	case KindPropose:
		e.handlePropose(env.From, *env.Propose)
	case KindVote:
		e.handleVote(env.From, *env.Vote)
	case KindTimeout:
		e.handleTimeout(env.From, *env.Timeout)
	case KindPKExchange:
		// Key exchange is handled during startup (see cmd/replica); a
		// stray one mid-run is logged and dropped.
		log.Printf("[consensus] unexpected PK exchange from %d mid-run", env.From)
	}
}

func (e *Engine) handlePropose(from int, p Propose) {
	b := p.Block
	if b.Epoch > e.epoch {
		e.buffer(b.Epoch, Envelope{Kind: KindPropose, From: from, Propose: &p})
		return
	}
	if e.store.Has(b.Epoch) {
		return
	}
	if expected := e.schedule.LeaderFor(b.Epoch); from != expected {
		log.Printf("[consensus] epoch %d: proposal from %d, expected leader %d", b.Epoch, from, expected)
		return
	}

	if b.Epoch > 1 {
		if p.Cert == nil {
			log.Printf("[consensus] epoch %d: propose missing certificate", b.Epoch)
			return
		}
		if err := e.verifyCertificate(*p.Cert); err != nil {
			log.Printf("[consensus] epoch %d: invalid certificate: %v", b.Epoch, err)
			return
		}
		if ownFreshest := e.store.FreshestNotarizedBlock(); ownFreshest != nil && p.Cert.Epoch < ownFreshest.Epoch {
			log.Printf("[consensus] epoch %d: certificate epoch %d older than our freshest %d", b.Epoch, p.Cert.Epoch, ownFreshest.Epoch)
			return
		}
		if err := e.ensureKnown(p.Cert.Epoch); err != nil {
			log.Printf("[consensus] epoch %d: recovery for certified epoch %d failed: %v", b.Epoch, p.Cert.Epoch, err)
			return
		}
	}

	parent := e.store.FreshestNotarizedBlock()
	if parent == nil || !b.IsChildOf(parent) {
		log.Printf("[consensus] epoch %d: proposal does not extend freshest chain", b.Epoch)
		return
	}

	if err := e.verifyProposal(from, p); err != nil {
		log.Printf("[consensus] epoch %d: proposal authentication failed: %v", b.Epoch, err)
		return
	}

	if err := e.store.AddBlock(b); err != nil {
		log.Printf("[consensus] epoch %d: %v", b.Epoch, err)
		return
	}

	if b.Epoch == e.epoch {
		e.recordOwnVote(b)
	}
}

func (e *Engine) handleVote(from int, v Vote) {
	if v.Epoch > e.epoch {
		e.buffer(v.Epoch, Envelope{Kind: KindVote, From: from, Vote: &v})
		return
	}
	block, ok := e.store.GetBlock(v.Epoch)
	if !ok {
		// Block not seen yet; drop — it will arrive with the PROPOSE or via
		// recovery, and the voter's endorsement is not essential to retain.
		return
	}
	if block.Hash != v.BlockHash {
		log.Printf("[consensus] epoch %d: vote block hash mismatch from %d", v.Epoch, from)
		return
	}
	if err := e.verifyEndorsement(from, v.Epoch, v.BlockHash, v.Endorsement); err != nil {
		log.Printf("[consensus] epoch %d: vote verification failed from %d: %v", v.Epoch, from, err)
		return
	}
	count, added, _ := e.store.AddVote(v.Epoch, from, v.Endorsement)
	if added && count >= e.quorum {
		e.notarizeAndFinalize(v.Epoch)
	}
}

func (e *Engine) handleTimeout(from int, t Timeout) {
	if e.usigGen == nil {
		return // classical variant has no TIMEOUT message
	}
	if from != e.selfID {
		pub, ok := e.peers[from]
		if !ok || t.UI == nil {
			return
		}
		if err := usig.VerifyUI(pub, t.NextEpoch, "", *t.UI); err != nil {
			log.Printf("[consensus] timeout from %d: invalid UI: %v", from, err)
			return
		}
		if !e.uiTracker.Accept(from, t.UI.Counter) {
			log.Printf("[consensus] timeout from %d: UI counter out of order", from)
			return
		}
	}
	if e.timeoutVotes[t.NextEpoch] == nil {
		e.timeoutVotes[t.NextEpoch] = make(map[int]bool)
	}
	e.timeoutVotes[t.NextEpoch][from] = true
	if len(e.timeoutVotes[t.NextEpoch]) >= e.quorum && t.NextEpoch-1 > e.epoch {
		e.epoch = t.NextEpoch - 1
	}
}

func (e *Engine) buffer(epoch int64, env Envelope) {
	e.earlyQueue[epoch] = append(e.earlyQueue[epoch], env)
}

// drainEarly replays any messages buffered for the epoch that just became
// current.
func (e *Engine) drainEarly() {
	queued := e.earlyQueue[e.epoch]
	delete(e.earlyQueue, e.epoch)
	for _, env := range queued {
		e.dispatch(env)
	}
}

func (e *Engine) notarizeAndFinalize(epoch int64) {
	e.store.MarkNotarized(epoch)
	b, _ := e.store.GetBlock(epoch)
	e.emitter.Emit(events.Event{Type: events.EventBlockNotarized, Epoch: epoch, Data: map[string]any{"hash": b.Hash}})

	newly := e.store.Finalize(e.window)
	for _, fb := range newly {
		e.finalizedCount += len(fb.Transactions)
		e.emitter.Emit(events.Event{Type: events.EventBlockFinalized, Epoch: fb.Epoch, Data: map[string]any{
			"hash": fb.Hash, "tx_count": len(fb.Transactions),
		}})
		e.logBenchmark()
	}
}

func (e *Engine) logBenchmark() {
	if e.cfg.BenchmarkThreshold <= 0 {
		return
	}
	if e.finalizedCount >= e.cfg.BenchmarkTotal {
		return
	}
	if e.finalizedCount%e.cfg.BenchmarkThreshold < 1 {
		log.Printf("[consensus] benchmark: %d transactions finalized", e.finalizedCount)
	}
}
