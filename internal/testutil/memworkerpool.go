package testutil

import (
	"sync"

	"github.com/tolelom/tolchain/batch"
	"github.com/tolelom/tolchain/ids"
)

// MemWorkerPool is an in-memory double for primary.WorkerPool. It has no
// shards: every transmission lives in one map, and DrainAll empties it in
// insertion order, which is all the Primary's proposal logic relies on.
type MemWorkerPool struct {
	numWorkers uint8

	mu  sync.Mutex
	txs map[ids.TransmissionID]batch.Transmission
	ord []ids.TransmissionID

	// Have lets a test pre-seed which transmission ids are already known,
	// so ProcessTransmissionID resolves them; any other unknown id fails
	// immediately with an error.
	Have map[ids.TransmissionID]batch.Transmission
}

// NewMemWorkerPool creates a MemWorkerPool reporting numWorkers shards.
func NewMemWorkerPool(numWorkers uint8) *MemWorkerPool {
	return &MemWorkerPool{
		numWorkers: numWorkers,
		txs:        make(map[ids.TransmissionID]batch.Transmission),
		Have:       make(map[ids.TransmissionID]batch.Transmission),
	}
}

func (p *MemWorkerPool) NumWorkers() uint8 { return p.numWorkers }

func (p *MemWorkerPool) DrainAll() []batch.Transmission {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]batch.Transmission, 0, len(p.ord))
	for _, id := range p.ord {
		if t, ok := p.txs[id]; ok {
			out = append(out, t)
		}
	}
	p.txs = make(map[ids.TransmissionID]batch.Transmission)
	p.ord = nil
	return out
}

func (p *MemWorkerPool) ProcessTransmissionID(peerID string, id ids.TransmissionID, done chan<- error) {
	p.mu.Lock()
	_, have := p.txs[id]
	if !have {
		if t, ok := p.Have[id]; ok {
			p.txs[id] = t
			p.ord = append(p.ord, id)
			have = true
		}
	}
	p.mu.Unlock()
	if done != nil {
		if have {
			done <- nil
		} else {
			done <- errTransmissionUnavailable(id.String())
		}
	}
}

func (p *MemWorkerPool) ProcessUnconfirmedSolution(commitment ids.TransmissionID, payload []byte) error {
	return p.insert(commitment, batch.TransmissionSolution, payload)
}

func (p *MemWorkerPool) ProcessUnconfirmedTransaction(txID ids.TransmissionID, payload []byte) error {
	return p.insert(txID, batch.TransmissionTransaction, payload)
}

func (p *MemWorkerPool) insert(id ids.TransmissionID, kind batch.TransmissionKind, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.txs[id]; exists {
		return nil
	}
	p.txs[id] = batch.Transmission{ID: id, Kind: kind, Payload: payload}
	p.ord = append(p.ord, id)
	return nil
}

func (p *MemWorkerPool) ShutDown() {}

type errTransmissionUnavailable string

func (e errTransmissionUnavailable) Error() string {
	return "transmission " + string(e) + " unavailable"
}
