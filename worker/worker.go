// Package worker implements the fixed-shard transmission mempool that the
// Primary coordinator treats as an external collaborator: each Worker owns
// a hash-partitioned subset of pending transmissions and can be asked to
// drain them, fetch one by id from a peer, or accept an unconfirmed
// solution/transaction from the embedding node.
package worker

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/tolelom/tolchain/batch"
	"github.com/tolelom/tolchain/ids"
	"github.com/tolelom/tolchain/network"
	"github.com/tolelom/tolchain/storage"
)

// transmissionWire is the wire format for a transmission request/response.
type transmissionWire struct {
	ID ids.TransmissionID `json:"id"`
}

// Worker is one shard of the transmission mempool.
type Worker struct {
	id      uint8
	gateway *network.Gateway
	store   storage.Store

	mu  sync.Mutex
	txs map[ids.TransmissionID]batch.Transmission
	ord []ids.TransmissionID

	pendingMu sync.Mutex
	pending   map[ids.TransmissionID][]chan<- error

	stopped bool
}

// New creates Worker id and registers its wire handlers on gw.
func New(id uint8, gw *network.Gateway, store storage.Store) *Worker {
	w := &Worker{
		id:      id,
		gateway: gw,
		store:   store,
		txs:     make(map[ids.TransmissionID]batch.Transmission),
		pending: make(map[ids.TransmissionID][]chan<- error),
	}
	gw.Handle(network.MsgTransmissionRequest, w.handleTransmissionRequest)
	gw.Handle(network.MsgTransmissionResponse, w.handleTransmissionResponse)
	return w
}

// ID returns the worker's shard id.
func (w *Worker) ID() uint8 { return w.id }

// QueueSize reports how many transmissions are currently queued, without
// draining them.
func (w *Worker) QueueSize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ord)
}

// Drain removes and returns every pending transmission, in the order it was
// inserted. Deduplication across workers is left to the caller
// (Pool.DrainAll).
func (w *Worker) Drain() []batch.Transmission {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]batch.Transmission, 0, len(w.ord))
	for _, id := range w.ord {
		if t, ok := w.txs[id]; ok {
			out = append(out, t)
		}
	}
	w.txs = make(map[ids.TransmissionID]batch.Transmission)
	w.ord = nil
	return out
}

// insert adds t to the mempool if not already present; idempotent on
// duplicate ids.
func (w *Worker) insert(t batch.Transmission) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.txs[t.ID]; exists {
		return
	}
	w.txs[t.ID] = t
	w.ord = append(w.ord, t.ID)
}

// ProcessUnconfirmedSolution accepts a prover solution from the embedding
// node, keyed by its puzzle commitment.
func (w *Worker) ProcessUnconfirmedSolution(commitment ids.TransmissionID, solution []byte) error {
	w.insert(batch.Transmission{ID: commitment, Kind: batch.TransmissionSolution, Payload: solution})
	return nil
}

// ProcessUnconfirmedTransaction accepts a transaction from the embedding
// node, keyed by its transaction id.
func (w *Worker) ProcessUnconfirmedTransaction(txID ids.TransmissionID, tx []byte) error {
	w.insert(batch.Transmission{ID: txID, Kind: batch.TransmissionTransaction, Payload: tx})
	return nil
}

// ProcessTransmissionID asks peer for transmission id if this worker and
// storage don't already have it, and arranges for done to be signaled
// exactly once when the transmission arrives (or the request fails). done
// may be nil, in which case the check-and-request still happens but no
// notification is delivered.
func (w *Worker) ProcessTransmissionID(peerID string, id ids.TransmissionID, done chan<- error) {
	w.mu.Lock()
	_, have := w.txs[id]
	w.mu.Unlock()
	if !have {
		have = w.store.ContainsTransmission(id)
	}
	if have {
		if done != nil {
			done <- nil
		}
		return
	}

	w.pendingMu.Lock()
	w.pending[id] = append(w.pending[id], done)
	w.pendingMu.Unlock()

	if err := w.gateway.Send(peerID, network.MsgTransmissionRequest, transmissionWire{ID: id}); err != nil {
		w.fulfill(id, fmt.Errorf("request transmission %s from %s: %w", id, peerID, err))
	}
}

func (w *Worker) fulfill(id ids.TransmissionID, err error) {
	w.pendingMu.Lock()
	waiters := w.pending[id]
	delete(w.pending, id)
	w.pendingMu.Unlock()
	for _, ch := range waiters {
		if ch != nil {
			ch <- err
		}
	}
}

func (w *Worker) handleTransmissionRequest(peerID string, msg network.Message) {
	var req transmissionWire
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		log.Printf("[worker %d] unmarshal transmission request: %v", w.id, err)
		return
	}
	w.mu.Lock()
	t, ok := w.txs[req.ID]
	w.mu.Unlock()
	if !ok {
		if stored, sok := w.store.GetTransmission(req.ID); sok {
			t, ok = stored, true
		}
	}
	if !ok {
		return // silently drop, matching the Primary's own cert-request semantics
	}
	if err := w.gateway.Send(peerID, network.MsgTransmissionResponse, t); err != nil {
		log.Printf("[worker %d] send transmission response to %s: %v", w.id, peerID, err)
	}
}

func (w *Worker) handleTransmissionResponse(_ string, msg network.Message) {
	var t batch.Transmission
	if err := json.Unmarshal(msg.Payload, &t); err != nil {
		log.Printf("[worker %d] unmarshal transmission response: %v", w.id, err)
		return
	}
	if computed := ids.TransmissionIDFromBytes(t.Payload); computed != t.ID {
		log.Printf("[worker %d] transmission payload does not hash to claimed id %s", w.id, t.ID)
		w.fulfill(t.ID, fmt.Errorf("transmission %s failed hash verification", t.ID))
		return
	}
	if err := w.store.InsertTransmission(t); err != nil {
		log.Printf("[worker %d] persist transmission %s: %v", w.id, t.ID, err)
		w.fulfill(t.ID, err)
		return
	}
	w.fulfill(t.ID, nil)
}

// ShutDown marks the worker stopped. Outstanding waiters are left to the
// Primary's own cancellation (context.Context) rather than force-fulfilled
// here.
func (w *Worker) ShutDown() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
}
