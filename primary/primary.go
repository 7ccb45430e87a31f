// Package primary implements the per-validator DAG mempool coordinator: the
// proposal tick, the five inbound message handlers, missing-data backfill,
// and committee round advancement. It treats the Gateway, the worker pool,
// and durable storage purely as collaborators reached through interfaces.
package primary

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tolelom/tolchain/batch"
	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/ids"
	"github.com/tolelom/tolchain/network"
	"github.com/tolelom/tolchain/storage"
)

// Primary is one validator's DAG mempool coordinator.
type Primary struct {
	cfg     Config
	self    ids.Address
	priv    crypto.PrivateKey
	gateway Gateway
	workers WorkerPool
	store   storage.Store
	emitter *events.Emitter

	committeeMu sync.RWMutex
	committee   *batch.Committee

	slotMu sync.RWMutex
	slot   *proposedSlot

	equivMu      sync.Mutex
	equivocation map[roundAuthorKey]ids.BatchID

	pending *pendingTable

	proposeCh   chan proposeEvent
	signatureCh chan signatureEvent
	certifiedCh chan certifiedEvent
	certReqCh   chan certRequestEvent
	certRespCh  chan certResponseEvent
	solutionCh  chan unconfirmedSolutionEvent
	txCh        chan unconfirmedTxEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Primary for validator self, signing with priv, starting
// from genesisCommittee (round 1). emitter receives a typed Event after
// every observable state change; it may be nil, in which case events are
// silently dropped.
func New(cfg Config, self ids.Address, priv crypto.PrivateKey, gateway Gateway, workers WorkerPool, store storage.Store, genesisCommittee *batch.Committee, emitter *events.Emitter) *Primary {
	store.InsertCommittee(genesisCommittee)
	ctx, cancel := context.WithCancel(context.Background())
	p := &Primary{
		cfg:          cfg,
		self:         self,
		priv:         priv,
		gateway:      gateway,
		workers:      workers,
		store:        store,
		emitter:      emitter,
		committee:    genesisCommittee,
		equivocation: make(map[roundAuthorKey]ids.BatchID),
		pending:      newPendingTable(),
		proposeCh:    make(chan proposeEvent, channelCapacity),
		signatureCh:  make(chan signatureEvent, channelCapacity),
		certifiedCh:  make(chan certifiedEvent, channelCapacity),
		certReqCh:    make(chan certRequestEvent, channelCapacity),
		certRespCh:   make(chan certResponseEvent, channelCapacity),
		solutionCh:   make(chan unconfirmedSolutionEvent, channelCapacity),
		txCh:         make(chan unconfirmedTxEvent, channelCapacity),
		ctx:          ctx,
		cancel:       cancel,
	}
	p.registerHandlers()
	return p
}

// registerHandlers wires the Gateway's wire-format callbacks to this
// Primary's internal, typed event channels. Decoding happens here, on the
// Gateway's own per-peer goroutine; everything past the channel send runs
// on this Primary's dedicated per-channel goroutine, started by Run.
func (p *Primary) registerHandlers() {
	p.gateway.Handle(network.MsgBatchPropose, p.onBatchPropose)
	p.gateway.Handle(network.MsgBatchSignature, p.onBatchSignature)
	p.gateway.Handle(network.MsgBatchCertified, p.onBatchCertified)
	p.gateway.Handle(network.MsgCertificateRequest, p.onCertificateRequest)
	p.gateway.Handle(network.MsgCertificateResponse, p.onCertificateResponse)
	p.gateway.Handle(network.MsgUnconfirmedSolution, p.onUnconfirmedSolution)
	p.gateway.Handle(network.MsgUnconfirmedTransaction, p.onUnconfirmedTransaction)
}

// Run spawns the proposal ticker and one long-running goroutine per inbound
// channel, then returns immediately; it does not block. ShutDown stops them.
func (p *Primary) Run() {
	p.spawn(p.runProposalTicker)
	p.spawn(p.runProposeLoop)
	p.spawn(p.runSignatureLoop)
	p.spawn(p.runCertifiedLoop)
	p.spawn(p.runCertRequestLoop)
	p.spawn(p.runCertResponseLoop)
	p.spawn(p.runSolutionLoop)
	p.spawn(p.runTxLoop)
}

func (p *Primary) spawn(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// ShutDown cancels every running goroutine, stops the worker pool, and
// closes the Gateway, then waits for everything to exit.
func (p *Primary) ShutDown() {
	p.cancel()
	p.workers.ShutDown()
	p.gateway.ShutDown()
	p.wg.Wait()
}

func (p *Primary) runProposalTicker() {
	ticker := time.NewTicker(p.cfg.MaxBatchDelay)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.ProposeBatch(); err != nil {
				log.Printf("[primary] propose batch: %v", err)
			}
		}
	}
}

func (p *Primary) runProposeLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-p.proposeCh:
			if err := p.ProcessBatchProposeFromPeer(ev.peerID, ev.header); err != nil {
				log.Printf("[primary] batch propose from %s: %v", ev.peerID, err)
			}
		}
	}
}

func (p *Primary) runSignatureLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-p.signatureCh:
			if err := p.ProcessBatchSignatureFromPeer(ev.peerID, ev.sig); err != nil {
				log.Printf("[primary] batch signature from %s: %v", ev.peerID, err)
			}
		}
	}
}

func (p *Primary) runCertifiedLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-p.certifiedCh:
			if err := p.ProcessBatchCertifiedFromPeer(ev.peerID, ev.cert); err != nil {
				log.Printf("[primary] batch certified from %s: %v", ev.peerID, err)
			}
		}
	}
}

func (p *Primary) runCertRequestLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-p.certReqCh:
			p.ProcessCertificateRequest(ev.peerID, ev.id)
		}
	}
}

func (p *Primary) runCertResponseLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-p.certRespCh:
			p.ProcessCertificateResponse(ev.peerID, ev.cert)
		}
	}
}

func (p *Primary) runSolutionLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-p.solutionCh:
			if err := p.workers.ProcessUnconfirmedSolution(ev.commitment, ev.payload); err != nil {
				log.Printf("[primary] unconfirmed solution %s: %v", ev.commitment, err)
			}
		}
	}
}

func (p *Primary) runTxLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-p.txCh:
			if err := p.workers.ProcessUnconfirmedTransaction(ev.txID, ev.payload); err != nil {
				log.Printf("[primary] unconfirmed transaction %s: %v", ev.txID, err)
			}
		}
	}
}

// emit delivers ev to the configured Emitter, if any; a nil emitter (e.g. in
// tests that don't care about observability) silently drops the event.
func (p *Primary) emit(typ events.EventType, round uint64, data map[string]any) {
	if p.emitter == nil {
		return
	}
	p.emitter.Emit(events.Event{Type: typ, Round: round, Data: data})
}

// currentCommittee returns a snapshot of the in-memory committee view. Per
// the resolved Open Question, membership/round-window checks always use
// this snapshot, never a fresh per-round lookup.
func (p *Primary) currentCommittee() *batch.Committee {
	p.committeeMu.RLock()
	defer p.committeeMu.RUnlock()
	return p.committee
}

// PendingCount reports the number of certificate ids currently awaited,
// exposed for the RPC query surface.
func (p *Primary) PendingCount() int { return p.pending.count() }

// Round returns the current committee round, exposed for the RPC query
// surface.
func (p *Primary) Round() uint64 { return p.currentCommittee().Round }

// ProposedSlot returns a snapshot of the in-flight proposal, if any.
func (p *Primary) ProposedSlot() (*batch.Batch, int, bool) {
	p.slotMu.RLock()
	defer p.slotMu.RUnlock()
	if p.slot == nil {
		return nil, 0, false
	}
	return p.slot.batch, len(p.slot.signatures), true
}

var errUnknownPreviousCommittee = fmt.Errorf("unknown previous-round committee")
