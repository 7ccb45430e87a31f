package primary

import (
	"fmt"
	"sync"

	"github.com/tolelom/tolchain/ids"
)

// pendingEntry tracks every peer asked for a certificate and every waiter
// awaiting its arrival. round is the entry's own round (the requested
// certificate's expected round), used only for GC below the watermark.
type pendingEntry struct {
	round   uint64
	peers   map[string]struct{}
	waiters []chan<- error
}

// pendingTable is the Primary's Pending collaborator: CertificateId -> set
// of peers asked, plus one-shot completion waiters. Entries live only until
// the certificate is received or GCed.
type pendingTable struct {
	mu      sync.Mutex
	entries map[ids.CertificateID]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[ids.CertificateID]*pendingEntry)}
}

// request records that peer was asked for id (at the given round), and
// registers waiter (which may be nil) to be notified once. Safe to call
// more than once for the same id with different peers/waiters. Reports
// whether id was not already pending before this call, i.e. whether the
// caller is the one that should actually send the wire request: a
// concurrent fetch for the same id joins the existing entry instead of
// triggering a second CertificateRequest.
func (t *pendingTable) request(id ids.CertificateID, round uint64, peer string, waiter chan<- error) (isNew bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		e = &pendingEntry{round: round, peers: make(map[string]struct{})}
		t.entries[id] = e
	}
	e.peers[peer] = struct{}{}
	if waiter != nil {
		e.waiters = append(e.waiters, waiter)
	}
	return !ok
}

// resolve fulfils and removes the pending entry for id if peer is among the
// peers it was requested from, returning the waiters to notify. Reports
// false (no removal, no waiters) for an unsolicited response.
func (t *pendingTable) resolve(id ids.CertificateID, peer string) ([]chan<- error, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	if _, asked := e.peers[peer]; !asked {
		return nil, false
	}
	delete(t.entries, id)
	return e.waiters, true
}

// fail fulfils every waiter for id with err without requiring a response,
// used when the request itself could not be sent.
func (t *pendingTable) fail(id ids.CertificateID, err error) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	for _, w := range e.waiters {
		if w != nil {
			w <- err
		}
	}
}

// gc drops every entry whose round is at or below gcRound, failing any
// waiters so a fetch blocked on a GCed id does not hang forever.
func (t *pendingTable) gc(gcRound uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.entries {
		if e.round > gcRound {
			continue
		}
		for _, w := range e.waiters {
			if w != nil {
				w <- fmt.Errorf("certificate %s garbage collected before fetch completed", id)
			}
		}
		delete(t.entries, id)
	}
}

// count returns the number of distinct certificate ids currently pending.
func (t *pendingTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
