package primary

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tolelom/tolchain/batch"
	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/events"
	"github.com/tolelom/tolchain/ids"
	"github.com/tolelom/tolchain/internal/testutil"
	"github.com/tolelom/tolchain/network"
)

// validator bundles one committee member's identity and signing key for
// test fixtures.
type validator struct {
	addr ids.Address
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

func newValidator(t *testing.T, addr string) validator {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return validator{addr: ids.Address(addr), priv: priv, pub: pub}
}

// fixture wires a Primary for v0 against a four-member, equal-stake
// committee (quorum 3 of 4), with an in-memory gateway and worker pool.
type fixture struct {
	p       *Primary
	gw      *testutil.MemGateway
	workers *testutil.MemWorkerPool
	vs      []validator // v0..v3, v0 is this Primary's own identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	vs := []validator{
		newValidator(t, "v0"),
		newValidator(t, "v1"),
		newValidator(t, "v2"),
		newValidator(t, "v3"),
	}
	members := make(map[ids.Address]batch.Member, len(vs))
	for _, v := range vs {
		members[v.addr] = batch.Member{PublicKey: v.pub, Stake: 25}
	}
	genesis := batch.NewCommittee(members)

	gw := testutil.NewMemGateway(vs[0].addr, 1)
	workers := testutil.NewMemWorkerPool(1)
	store := testutil.NewMemStore(50)

	cfg := Config{
		MaxWorkers:            1,
		MaxBatchDelay:         time.Hour, // the ticker is never started in these tests
		MaxExpirationTimeSecs: 30,
		MaxTimestampDeltaSecs: 10,
	}
	p := New(cfg, vs[0].addr, vs[0].priv, gw, workers, store, genesis, events.NewEmitter())
	return &fixture{p: p, gw: gw, workers: workers, vs: vs}
}

// sentOfType returns every message of typ recorded on the MemGateway, most
// recent last.
func (f *fixture) sentOfType(typ network.MsgType) []testutil.SentMessage {
	f.gw.SentMu.Lock()
	defer f.gw.SentMu.Unlock()
	var out []testutil.SentMessage
	for _, m := range f.gw.Sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// TestProposeBatchOccupiesSlotAndBroadcasts checks the happy path of one
// proposal tick: round 1 is always ready, so a header is built, signed, and
// broadcast, and the slot becomes occupied.
func TestProposeBatchOccupiesSlotAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	if err := f.p.ProposeBatch(); err != nil {
		t.Fatalf("ProposeBatch: %v", err)
	}
	b, numSigs, ok := f.p.ProposedSlot()
	if !ok {
		t.Fatal("expected an occupied slot after proposing")
	}
	if numSigs != 0 {
		t.Errorf("numSigs: got %d want 0", numSigs)
	}
	if b.Round() != 1 {
		t.Errorf("round: got %d want 1", b.Round())
	}
	proposals := f.sentOfType(network.MsgBatchPropose)
	if len(proposals) != 1 {
		t.Fatalf("expected exactly one broadcast batch_propose, got %d", len(proposals))
	}
}

// TestProposeBatchIsExclusive checks that a second tick while the slot is
// still occupied does not replace it with a new proposal.
func TestProposeBatchIsExclusive(t *testing.T) {
	f := newFixture(t)
	if err := f.p.ProposeBatch(); err != nil {
		t.Fatal(err)
	}
	first, _, _ := f.p.ProposedSlot()
	if err := f.p.ProposeBatch(); err != nil {
		t.Fatal(err)
	}
	second, _, _ := f.p.ProposedSlot()
	if first.ID() != second.ID() {
		t.Error("a second proposal tick should not replace an occupied slot")
	}
	if len(f.sentOfType(network.MsgBatchPropose)) != 1 {
		t.Error("expected only one broadcast across two ticks while occupied")
	}
}

// TestProcessBatchProposeFromPeerSignsValidHeader checks the full
// acceptance path: a validly authored, validly signed, on-time header from
// a committee member is answered with a co-signature sent back to that peer.
func TestProcessBatchProposeFromPeerSignsValidHeader(t *testing.T) {
	f := newFixture(t)
	v1 := f.vs[1]
	header, err := batch.NewHeader(v1.addr, v1.priv, 1, time.Now().Unix(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.p.ProcessBatchProposeFromPeer("peer-v1", header); err != nil {
		t.Fatalf("ProcessBatchProposeFromPeer: %v", err)
	}
	sigs := f.sentOfType(network.MsgBatchSignature)
	if len(sigs) != 1 {
		t.Fatalf("expected exactly one batch_signature reply, got %d", len(sigs))
	}
	if sigs[0].PeerID != "peer-v1" {
		t.Errorf("reply peer: got %s want peer-v1", sigs[0].PeerID)
	}
	var w batchSignatureWire
	if err := json.Unmarshal(sigs[0].Payload, &w); err != nil {
		t.Fatal(err)
	}
	if w.Signature.BatchID != header.ID {
		t.Error("co-signature should reference the proposed batch's id")
	}
}

// TestProcessBatchProposeFromPeerRejectsNonMemberAuthor checks that a
// header from an address outside the committee is rejected before any
// signature work happens.
func TestProcessBatchProposeFromPeerRejectsNonMemberAuthor(t *testing.T) {
	f := newFixture(t)
	outsider := newValidator(t, "outsider")
	header, err := batch.NewHeader(outsider.addr, outsider.priv, 1, time.Now().Unix(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.p.ProcessBatchProposeFromPeer("peer-outsider", header); err == nil {
		t.Error("expected rejection of a header from a non-member author")
	}
	if len(f.sentOfType(network.MsgBatchSignature)) != 0 {
		t.Error("a rejected header should never be co-signed")
	}
}

// TestProcessBatchProposeFromPeerRejectsEquivocation checks that a second,
// different batch id from the same author in the same round is rejected
// even though both are otherwise well-formed.
func TestProcessBatchProposeFromPeerRejectsEquivocation(t *testing.T) {
	f := newFixture(t)
	v1 := f.vs[1]
	now := time.Now().Unix()
	h1, err := batch.NewHeader(v1.addr, v1.priv, 1, now, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := batch.NewHeader(v1.addr, v1.priv, 1, now, []ids.TransmissionID{ids.TransmissionIDFromBytes([]byte("x"))}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if h1.ID == h2.ID {
		t.Fatal("fixture bug: the two headers must differ")
	}
	if err := f.p.ProcessBatchProposeFromPeer("peer-v1", h1); err != nil {
		t.Fatalf("first proposal should be accepted: %v", err)
	}
	if err := f.p.ProcessBatchProposeFromPeer("peer-v1", h2); err == nil {
		t.Error("expected rejection of a second, conflicting batch from the same author/round")
	}
}

// TestProcessBatchProposeFromPeerRejectsFutureTimestamp checks the timestamp
// delta bound.
func TestProcessBatchProposeFromPeerRejectsFutureTimestamp(t *testing.T) {
	f := newFixture(t)
	v1 := f.vs[1]
	farFuture := time.Now().Unix() + 10_000
	header, err := batch.NewHeader(v1.addr, v1.priv, 1, farFuture, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.p.ProcessBatchProposeFromPeer("peer-v1", header); err == nil {
		t.Error("expected rejection of a header timestamped far in the future")
	}
}

// signAs has v co-sign header and delivers the signature through
// ProcessBatchSignatureFromPeer, resolving peerID to v's address first as
// the Hello handshake would.
func (f *fixture) signAs(t *testing.T, v validator, peerID string, header *batch.BatchHeader) error {
	t.Helper()
	f.gw.Resolver().Set(peerID, v.addr)
	sig := batch.SignBatch(v.priv, v.addr, header.ID, header.Timestamp)
	return f.p.ProcessBatchSignatureFromPeer(peerID, sig)
}

// TestProcessBatchSignatureFromPeerCertifiesAtQuorum checks the full
// certification path: once enough co-signers (author plus 2 others reaches
// 75 of 100 stake, above the 67 threshold) have signed, a certificate is
// built, stored, and broadcast, and the round advances.
func TestProcessBatchSignatureFromPeerCertifiesAtQuorum(t *testing.T) {
	f := newFixture(t)
	if err := f.p.ProposeBatch(); err != nil {
		t.Fatal(err)
	}
	b, _, _ := f.p.ProposedSlot()
	header := b.Header

	if err := f.signAs(t, f.vs[1], "peer-v1", header); err != nil {
		t.Fatalf("signature from v1: %v", err)
	}
	if _, _, ok := f.p.ProposedSlot(); !ok {
		t.Fatal("slot should still be occupied before quorum")
	}
	if err := f.signAs(t, f.vs[2], "peer-v2", header); err != nil {
		t.Fatalf("signature from v2: %v", err)
	}

	if _, _, ok := f.p.ProposedSlot(); ok {
		t.Error("slot should be cleared once quorum certifies the batch")
	}
	if f.p.Round() != 2 {
		t.Errorf("Round: got %d want 2 after certification", f.p.Round())
	}
	certified := f.sentOfType(network.MsgBatchCertified)
	if len(certified) != 1 {
		t.Fatalf("expected exactly one batch_certified broadcast, got %d", len(certified))
	}
}

// TestProcessBatchSignatureFromPeerLateAfterCertify checks that a
// signature arriving for an already-certified batch is accepted silently
// rather than treated as an error.
func TestProcessBatchSignatureFromPeerLateAfterCertify(t *testing.T) {
	f := newFixture(t)
	if err := f.p.ProposeBatch(); err != nil {
		t.Fatal(err)
	}
	b, _, _ := f.p.ProposedSlot()
	header := b.Header
	if err := f.signAs(t, f.vs[1], "peer-v1", header); err != nil {
		t.Fatal(err)
	}
	if err := f.signAs(t, f.vs[2], "peer-v2", header); err != nil {
		t.Fatal(err)
	}
	// v3's signature now arrives after the batch is already certified.
	if err := f.signAs(t, f.vs[3], "peer-v3", header); err != nil {
		t.Errorf("a late signature for a certified batch should not error: %v", err)
	}
}

// TestProcessBatchSignatureFromPeerRejectsUnresolvedPeer checks that a
// signature from a socket the Resolver has no address for is rejected.
func TestProcessBatchSignatureFromPeerRejectsUnresolvedPeer(t *testing.T) {
	f := newFixture(t)
	if err := f.p.ProposeBatch(); err != nil {
		t.Fatal(err)
	}
	b, _, _ := f.p.ProposedSlot()
	sig := batch.SignBatch(f.vs[1].priv, f.vs[1].addr, b.ID(), b.Header.Timestamp)
	if err := f.p.ProcessBatchSignatureFromPeer("never-said-hello", sig); err == nil {
		t.Error("expected rejection of a signature from an unresolved peer")
	}
}

// TestProcessCertificateResponseDropsUnsolicited checks that a certificate
// response the Primary never asked for is logged and discarded, not
// ingested into storage.
func TestProcessCertificateResponseDropsUnsolicited(t *testing.T) {
	f := newFixture(t)
	v1 := f.vs[1]
	header, err := batch.NewHeader(v1.addr, v1.priv, 1, time.Now().Unix(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	sig := batch.SignBatch(v1.priv, v1.addr, header.ID, header.Timestamp)
	cert, err := batch.NewCertificate(header, map[ids.Address]batch.BatchSignature{v1.addr: sig})
	if err != nil {
		t.Fatal(err)
	}
	f.p.ProcessCertificateResponse("peer-v1", cert)
	// An unresolved pending entry means ProcessCertificateResponse returns
	// before ever spawning ingestion, so there is nothing to race here.
	if f.p.store.ContainsCertificate(cert.ID()) {
		t.Error("an unsolicited certificate response must not be ingested")
	}
}
