package worker

import (
	"encoding/json"

	"github.com/tolelom/tolchain/batch"
	"github.com/tolelom/tolchain/ids"
	"github.com/tolelom/tolchain/network"
	"github.com/tolelom/tolchain/storage"
)

// Pool is the fixed set of worker shards a node runs. Transmissions are
// hash-partitioned across shards via ids.AssignToWorker so that every
// validator in the committee routes a given transmission id to the same
// shard index.
type Pool struct {
	workers []*Worker
}

// NewPool creates n worker shards sharing the same durable store, and
// routes every transmission request/response arriving on gw to the shard
// that owns its id.
func NewPool(n uint8, gw *network.Gateway, store storage.Store) *Pool {
	ws := make([]*Worker, n)
	for i := uint8(0); i < n; i++ {
		ws[i] = New(i, gw, store)
	}
	p := &Pool{workers: ws}
	// gw keeps one handler per message type, so dispatch by owning shard.
	route := func(handle func(*Worker, string, network.Message)) network.MessageHandler {
		return func(peerID string, msg network.Message) {
			var probe transmissionWire
			if json.Unmarshal(msg.Payload, &probe) == nil {
				if w, err := p.WorkerFor(probe.ID); err == nil {
					handle(w, peerID, msg)
				}
			}
		}
	}
	gw.Handle(network.MsgTransmissionRequest, route((*Worker).handleTransmissionRequest))
	gw.Handle(network.MsgTransmissionResponse, route((*Worker).handleTransmissionResponse))
	return p
}

// NumWorkers returns the shard count.
func (p *Pool) NumWorkers() uint8 { return uint8(len(p.workers)) }

// Worker returns the shard at id, if in range.
func (p *Pool) Worker(id uint8) (*Worker, bool) {
	if int(id) < len(p.workers) {
		return p.workers[id], true
	}
	return nil, false
}

// WorkerFor returns the shard that owns id.
func (p *Pool) WorkerFor(id ids.TransmissionID) (*Worker, error) {
	idx, err := ids.AssignToWorker(id, p.NumWorkers())
	if err != nil {
		return nil, err
	}
	return p.workers[idx], nil
}

// DrainAll drains every shard and returns the union as an insertion-ordered
// slice. A transmission id queued on more than one shard (which should not
// happen under correct hash partitioning, but can after a partition-size
// change) resolves to its first occurrence, scanning shards in ascending
// id order, a first-worker-wins tie break for duplicate transmission ids.
func (p *Pool) DrainAll() []batch.Transmission {
	seen := make(map[ids.TransmissionID]struct{})
	var out []batch.Transmission
	for _, w := range p.workers {
		for _, t := range w.Drain() {
			if _, dup := seen[t.ID]; dup {
				continue
			}
			seen[t.ID] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// ProcessTransmissionID routes to the owning shard.
func (p *Pool) ProcessTransmissionID(peerID string, id ids.TransmissionID, done chan<- error) {
	w, err := p.WorkerFor(id)
	if err != nil {
		if done != nil {
			done <- err
		}
		return
	}
	w.ProcessTransmissionID(peerID, id, done)
}

// ProcessUnconfirmedSolution routes to the owning shard.
func (p *Pool) ProcessUnconfirmedSolution(commitment ids.TransmissionID, solution []byte) error {
	w, err := p.WorkerFor(commitment)
	if err != nil {
		return err
	}
	return w.ProcessUnconfirmedSolution(commitment, solution)
}

// ProcessUnconfirmedTransaction routes to the owning shard.
func (p *Pool) ProcessUnconfirmedTransaction(txID ids.TransmissionID, tx []byte) error {
	w, err := p.WorkerFor(txID)
	if err != nil {
		return err
	}
	return w.ProcessUnconfirmedTransaction(txID, tx)
}

// ShutDown stops every shard.
func (p *Pool) ShutDown() {
	for _, w := range p.workers {
		w.ShutDown()
	}
}
