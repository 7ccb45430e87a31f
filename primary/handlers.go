package primary

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/tolelom/tolchain/batch"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/ids"
	"github.com/tolelom/tolchain/network"
)

// --- Gateway wire callbacks: decode and hand off to this Primary's own
// per-channel goroutine, never doing protocol work on the Gateway's
// per-peer goroutine. ---

func (p *Primary) onBatchPropose(peerID string, msg network.Message) {
	var w batchProposeWire
	if err := json.Unmarshal(msg.Payload, &w); err != nil {
		log.Printf("[primary] unmarshal batch propose from %s: %v", peerID, err)
		return
	}
	select {
	case p.proposeCh <- proposeEvent{peerID: peerID, header: w.Header}:
	case <-p.ctx.Done():
	}
}

func (p *Primary) onBatchSignature(peerID string, msg network.Message) {
	var w batchSignatureWire
	if err := json.Unmarshal(msg.Payload, &w); err != nil {
		log.Printf("[primary] unmarshal batch signature from %s: %v", peerID, err)
		return
	}
	select {
	case p.signatureCh <- signatureEvent{peerID: peerID, sig: w.Signature}:
	case <-p.ctx.Done():
	}
}

func (p *Primary) onBatchCertified(peerID string, msg network.Message) {
	var w batchCertifiedWire
	if err := json.Unmarshal(msg.Payload, &w); err != nil {
		log.Printf("[primary] unmarshal batch certified from %s: %v", peerID, err)
		return
	}
	select {
	case p.certifiedCh <- certifiedEvent{peerID: peerID, cert: w.Certificate}:
	case <-p.ctx.Done():
	}
}

func (p *Primary) onCertificateRequest(peerID string, msg network.Message) {
	var w certificateRequestWire
	if err := json.Unmarshal(msg.Payload, &w); err != nil {
		log.Printf("[primary] unmarshal certificate request from %s: %v", peerID, err)
		return
	}
	select {
	case p.certReqCh <- certRequestEvent{peerID: peerID, id: w.ID}:
	case <-p.ctx.Done():
	}
}

func (p *Primary) onCertificateResponse(peerID string, msg network.Message) {
	var w certificateResponseWire
	if err := json.Unmarshal(msg.Payload, &w); err != nil {
		log.Printf("[primary] unmarshal certificate response from %s: %v", peerID, err)
		return
	}
	select {
	case p.certRespCh <- certResponseEvent{peerID: peerID, cert: w.Certificate}:
	case <-p.ctx.Done():
	}
}

func (p *Primary) onUnconfirmedSolution(peerID string, msg network.Message) {
	var w unconfirmedSolutionWire
	if err := json.Unmarshal(msg.Payload, &w); err != nil {
		log.Printf("[primary] unmarshal unconfirmed solution from %s: %v", peerID, err)
		return
	}
	select {
	case p.solutionCh <- unconfirmedSolutionEvent{commitment: w.Commitment, payload: w.Solution}:
	case <-p.ctx.Done():
	}
}

func (p *Primary) onUnconfirmedTransaction(peerID string, msg network.Message) {
	var w unconfirmedTransactionWire
	if err := json.Unmarshal(msg.Payload, &w); err != nil {
		log.Printf("[primary] unmarshal unconfirmed transaction from %s: %v", peerID, err)
		return
	}
	select {
	case p.txCh <- unconfirmedTxEvent{txID: w.TransactionID, payload: w.Transaction}:
	case <-p.ctx.Done():
	}
}

// ProcessBatchProposeFromPeer validates and co-signs a peer's proposed
// batch header.
func (p *Primary) ProcessBatchProposeFromPeer(peerID string, header *batch.BatchHeader) error {
	if header == nil {
		return fmt.Errorf("nil batch header from %s", peerID)
	}
	committee := p.currentCommittee()

	if p.store.ContainsBatch(header.ID) {
		if diff := absDiff(committee.Round, header.Round); diff > 2 {
			return fmt.Errorf("batch %s already stored, but round drift %d exceeds tolerance", header.ID, diff)
		}
		return nil // silent ack: already certified, nothing to do
	}

	if committee.Round+p.store.MaxGCRounds() <= header.Round {
		return fmt.Errorf("batch %s round %d too far in future of committee round %d", header.ID, header.Round, committee.Round)
	}

	if committee.Round < header.Round {
		if err := p.fetchMissingCertificates(peerID, header); err != nil {
			return fmt.Errorf("fetch missing certificates while behind: %w", err)
		}
		committee = p.currentCommittee()
	}

	if committee.Round > header.Round+1 {
		return fmt.Errorf("batch %s round %d too far in past of committee round %d", header.ID, header.Round, committee.Round)
	}

	authorKey, ok := committee.PublicKey(header.Author)
	if !ok {
		return fmt.Errorf("batch %s author %s is not a committee member", header.ID, header.Author)
	}
	if err := header.Verify(authorKey); err != nil {
		return fmt.Errorf("batch %s header self-signature invalid: %w", header.ID, err)
	}

	now := time.Now().Unix()
	if header.Timestamp > now+p.cfg.MaxTimestampDeltaSecs {
		return fmt.Errorf("batch %s timestamp %d too far in the future (now %d)", header.ID, header.Timestamp, now)
	}

	if header.Round > 1 {
		if err := p.fetchMissingTransmissions(peerID, header); err != nil {
			return fmt.Errorf("fetch missing transmissions: %w", err)
		}
		if err := p.fetchMissingCertificates(peerID, header); err != nil {
			return fmt.Errorf("fetch missing previous certificates: %w", err)
		}
		if err := p.verifyPreviousQuorum(header); err != nil {
			return err
		}
	}

	key := roundAuthorKey{round: header.Round, author: header.Author}
	p.equivMu.Lock()
	if existing, seen := p.equivocation[key]; seen && existing != header.ID {
		p.equivMu.Unlock()
		return fmt.Errorf("equivocation: author %s already proposed %s for round %d, rejecting %s", header.Author, existing, header.Round, header.ID)
	}
	p.equivocation[key] = header.ID
	p.equivMu.Unlock()

	sig := batch.SignBatch(p.priv, p.self, header.ID, header.Timestamp)
	if err := p.gateway.Send(peerID, network.MsgBatchSignature, batchSignatureWire{Signature: sig}); err != nil {
		return fmt.Errorf("send batch signature to %s: %w", peerID, err)
	}
	return nil
}

// verifyPreviousQuorum checks that every previous-certificate-id in header
// resolves to a stored certificate at exactly round-1, and that those
// certificates' authors meet quorum of the committee stored for round-1.
func (p *Primary) verifyPreviousQuorum(header *batch.BatchHeader) error {
	prevRound := header.Round - 1
	prevCommittee, ok := p.store.GetCommitteeForRound(prevRound)
	if !ok {
		return fmt.Errorf("%w: round %d", errUnknownPreviousCommittee, prevRound)
	}
	authors := make(map[ids.Address]struct{}, len(header.PreviousCertificateIDs))
	for _, id := range header.PreviousCertificateIDs {
		cert, ok := p.store.GetCertificate(id)
		if !ok {
			return fmt.Errorf("previous certificate %s not found", id)
		}
		if cert.Round() != prevRound {
			return fmt.Errorf("previous certificate %s is at round %d, want %d", id, cert.Round(), prevRound)
		}
		authors[cert.Author()] = struct{}{}
	}
	if !prevCommittee.IsQuorumThresholdReached(authors) {
		return fmt.Errorf("previous certificates for round %d do not meet quorum", prevRound)
	}
	return nil
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// ProcessBatchSignatureFromPeer validates a peer's co-signature, inserts it
// into the proposed slot, and certifies once quorum is reached.
func (p *Primary) ProcessBatchSignatureFromPeer(peerID string, sig batch.BatchSignature) error {
	p.slotMu.RLock()
	slot := p.slot
	p.slotMu.RUnlock()
	if slot == nil || slot.batch.ID() != sig.BatchID {
		if p.store.ContainsBatch(sig.BatchID) {
			return nil // late signature for an already-certified batch, harmless
		}
		return fmt.Errorf("signature for unknown or mismatched batch %s", sig.BatchID)
	}

	addr, ok := p.gateway.Resolver().GetAddress(peerID)
	if !ok {
		return fmt.Errorf("signature from unresolved peer %s", peerID)
	}
	if sig.SignerAddress != addr {
		return fmt.Errorf("signature claims signer %s but peer resolves to %s", sig.SignerAddress, addr)
	}

	committee := p.currentCommittee()
	pub, ok := committee.PublicKey(addr)
	if !ok {
		return fmt.Errorf("signature from non-member %s", addr)
	}
	if err := sig.Verify(pub); err != nil {
		return fmt.Errorf("signature from %s invalid: %w", addr, err)
	}

	p.checkProposedBatchForExpiration()

	p.slotMu.Lock()
	if p.slot == nil || p.slot.batch.ID() != sig.BatchID {
		p.slotMu.Unlock()
		return nil // expired between the checks above and now
	}
	p.slot.signatures[addr] = sig

	signers := make(map[ids.Address]struct{}, len(p.slot.signatures)+1)
	for a := range p.slot.signatures {
		signers[a] = struct{}{}
	}
	signers[p.slot.batch.Author()] = struct{}{}

	if !committee.IsQuorumThresholdReached(signers) {
		p.slotMu.Unlock()
		return nil
	}

	certifying := p.slot
	p.slot = nil
	p.slotMu.Unlock()

	cert, err := batch.NewCertificate(certifying.batch.Header, certifying.signatures)
	if err != nil {
		log.Printf("[primary] certificate construction failed for batch %s: %v", certifying.batch.ID(), err)
		return nil
	}
	if err := p.store.InsertCertificate(cert); err != nil {
		return fmt.Errorf("insert certificate %s: %w", cert.ID(), err)
	}
	p.emit(events.EventCertificateStored, cert.Round(), map[string]any{"certificate_id": cert.ID().String(), "self_certified": true})
	p.gateway.Broadcast(network.MsgBatchCertified, batchCertifiedWire{Certificate: cert})
	p.emit(events.EventBatchCertified, cert.Round(), map[string]any{"certificate_id": cert.ID().String(), "num_signers": len(cert.Signatures)})
	p.updateCommitteeToNextRound()
	log.Printf("[primary] certified batch %s at round %d", cert.ID(), cert.Round())
	return nil
}

// ProcessBatchCertifiedFromPeer ingests a peer-certified certificate into
// the DAG, backfilling whatever it references that is still missing.
func (p *Primary) ProcessBatchCertifiedFromPeer(peerID string, cert *batch.BatchCertificate) error {
	if cert == nil {
		return fmt.Errorf("nil certificate from %s", peerID)
	}
	gc := p.store.GCRound()
	if cert.Round() <= gc {
		return nil // stale, already discarded
	}

	if err := p.fetchMissingTransmissions(peerID, cert.Header); err != nil {
		return fmt.Errorf("fetch missing transmissions for certificate %s: %w", cert.ID(), err)
	}
	if cert.Round() > gc+1 {
		if err := p.fetchMissingCertificates(peerID, cert.Header); err != nil {
			return fmt.Errorf("fetch missing previous certificates for %s: %w", cert.ID(), err)
		}
	}

	if p.store.ContainsCertificate(cert.ID()) {
		return nil
	}

	if err := p.verifyCertificateForIngestion(cert); err != nil {
		return fmt.Errorf("certificate %s failed ingestion checks: %w", cert.ID(), err)
	}

	if err := p.store.InsertCertificate(cert); err != nil {
		return fmt.Errorf("insert certificate %s: %w", cert.ID(), err)
	}
	p.emit(events.EventCertificateStored, cert.Round(), map[string]any{"certificate_id": cert.ID().String(), "self_certified": false})

	for p.currentCommittee().Round < cert.Round() {
		p.updateCommitteeToNextRound()
	}
	return nil
}

// verifyCertificateForIngestion runs every check a conforming
// implementation must perform before InsertCertificate: well-formedness,
// author membership, and (for rounds beyond the first) previous-quorum.
func (p *Primary) verifyCertificateForIngestion(cert *batch.BatchCertificate) error {
	committee := p.currentCommittee()
	if !committee.IsCommitteeMember(cert.Author()) {
		return fmt.Errorf("author %s is not a committee member at round %d", cert.Author(), committee.Round)
	}
	if err := cert.VerifyWellFormed(committee); err != nil {
		return err
	}
	if cert.Round() > 1 {
		return p.verifyPreviousQuorum(cert.Header)
	}
	return nil
}

// ProcessCertificateRequest answers a peer asking for a certificate by id,
// silently dropping the request if this node doesn't have it.
func (p *Primary) ProcessCertificateRequest(peerID string, id ids.CertificateID) {
	cert, ok := p.store.GetCertificate(id)
	if !ok {
		return
	}
	if err := p.gateway.Send(peerID, network.MsgCertificateResponse, certificateResponseWire{Certificate: cert}); err != nil {
		log.Printf("[primary] send certificate response to %s: %v", peerID, err)
	}
}

// ProcessCertificateResponse fulfils a pending fetch and spawns ingestion
// asynchronously, so this handler's own goroutine isn't blocked by
// ingestion's further backfill.
func (p *Primary) ProcessCertificateResponse(peerID string, cert *batch.BatchCertificate) {
	if cert == nil {
		return
	}
	waiters, ok := p.pending.resolve(cert.ID(), peerID)
	if !ok {
		log.Printf("[primary] unsolicited certificate response for %s from %s, dropping", cert.ID(), peerID)
		return
	}
	for _, w := range waiters {
		if w != nil {
			w <- nil
		}
	}
	p.spawn(func() {
		if err := p.ProcessBatchCertifiedFromPeer(peerID, cert); err != nil {
			log.Printf("[primary] ingest certificate %s from response: %v", cert.ID(), err)
		}
	})
}
