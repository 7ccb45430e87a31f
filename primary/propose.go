package primary

import (
	"fmt"
	"log"
	"time"

	"github.com/tolelom/tolchain/batch"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/ids"
	"github.com/tolelom/tolchain/network"
)

// ProposeBatch runs one proposal-tick cycle: expire a stale slot, check
// readiness, drain the worker pool, sign a new header, broadcast it, and
// occupy the slot. A non-ready tick (slot occupied, or the previous round
// has not reached quorum) is not an error; it returns nil.
func (p *Primary) ProposeBatch() error {
	p.checkProposedBatchForExpiration()

	p.slotMu.RLock()
	occupied := p.slot != nil
	p.slotMu.RUnlock()
	if occupied {
		return nil
	}

	committee := p.currentCommittee()
	round := committee.Round
	var prev uint64
	if round > 0 {
		prev = round - 1
	}

	ready, err := p.readyToPropose(prev, committee)
	if err != nil {
		return err
	}
	if !ready {
		return nil
	}

	transmissions := p.workers.DrainAll()
	txIDs := make([]ids.TransmissionID, 0, len(transmissions))
	txByID := make(map[ids.TransmissionID]batch.Transmission, len(transmissions))
	for _, t := range transmissions {
		txIDs = append(txIDs, t.ID)
		txByID[t.ID] = t
	}

	var prevCerts []ids.CertificateID
	if prev > 0 {
		for _, c := range p.store.CertificatesForRound(prev) {
			prevCerts = append(prevCerts, c.ID())
		}
	}

	header, err := batch.NewHeader(p.self, p.priv, round, time.Now().Unix(), txIDs, prevCerts)
	if err != nil {
		return fmt.Errorf("build batch header: %w", err)
	}
	b := batch.NewBatch(header, txByID)

	p.gateway.Broadcast(network.MsgBatchPropose, batchProposeWire{Header: header})

	p.slotMu.Lock()
	p.slot = &proposedSlot{batch: b, signatures: make(map[ids.Address]batch.BatchSignature), createdAt: time.Now()}
	p.slotMu.Unlock()

	log.Printf("[primary] proposed batch %s for round %d with %d transmissions", header.ID, round, len(txIDs))
	p.emit(events.EventBatchProposed, round, map[string]any{"batch_id": header.ID.String(), "num_transmissions": len(txIDs)})
	return nil
}

// readyToPropose implements the ready test: round 1 is always ready;
// otherwise the authors of every stored certificate for prev must meet the
// quorum threshold of the committee stored for prev.
func (p *Primary) readyToPropose(prev uint64, current *batch.Committee) (bool, error) {
	if prev == 0 {
		return true, nil
	}
	prevCommittee, ok := p.store.GetCommitteeForRound(prev)
	if !ok {
		return false, fmt.Errorf("%w: round %d", errUnknownPreviousCommittee, prev)
	}
	authors := make(map[ids.Address]struct{})
	for _, cert := range p.store.CertificatesForRound(prev) {
		authors[cert.Author()] = struct{}{}
	}
	return prevCommittee.IsQuorumThresholdReached(authors), nil
}

// checkProposedBatchForExpiration clears the proposed slot if it has been
// open longer than MaxExpirationTimeSecs. Called before any signature is
// added and on every proposal tick.
func (p *Primary) checkProposedBatchForExpiration() {
	p.slotMu.Lock()
	var expired *batch.Batch
	if p.slot != nil && time.Since(p.slot.createdAt) > time.Duration(p.cfg.MaxExpirationTimeSecs)*time.Second {
		expired = p.slot.batch
		p.slot = nil
	}
	p.slotMu.Unlock()

	if expired != nil {
		log.Printf("[primary] proposed batch %s expired without quorum", expired.ID())
		p.emit(events.EventBatchExpired, expired.Round(), map[string]any{"batch_id": expired.ID().String()})
	}
}
