package primary

import (
	"testing"

	"github.com/tolelom/tolchain/ids"
)

// TestPendingTableResolveRequiresAskedPeer checks that resolve only
// succeeds for a peer the table actually recorded a request to.
func TestPendingTableResolveRequiresAskedPeer(t *testing.T) {
	pt := newPendingTable()
	id := ids.CertificateID(ids.BatchIDFromBytes([]byte("cert-1")))
	waiter := make(chan error, 1)
	pt.request(id, 5, "peer-a", waiter)

	if _, ok := pt.resolve(id, "peer-b"); ok {
		t.Error("resolve should fail for a peer never asked")
	}
	if pt.count() != 1 {
		t.Fatalf("count: got %d want 1 after a failed resolve", pt.count())
	}

	waiters, ok := pt.resolve(id, "peer-a")
	if !ok {
		t.Fatal("resolve should succeed for the peer that was asked")
	}
	if len(waiters) != 1 {
		t.Fatalf("expected exactly one waiter, got %d", len(waiters))
	}
	if pt.count() != 0 {
		t.Errorf("count: got %d want 0 after resolve", pt.count())
	}
}

// TestPendingTableRequestIsIdempotentAcrossPeers checks that asking
// several peers for the same id keeps one entry with multiple waiters.
func TestPendingTableRequestIsIdempotentAcrossPeers(t *testing.T) {
	pt := newPendingTable()
	id := ids.CertificateID(ids.BatchIDFromBytes([]byte("cert-2")))
	w1 := make(chan error, 1)
	w2 := make(chan error, 1)
	pt.request(id, 5, "peer-a", w1)
	pt.request(id, 5, "peer-b", w2)

	if pt.count() != 1 {
		t.Fatalf("count: got %d want 1", pt.count())
	}
	waiters, ok := pt.resolve(id, "peer-b")
	if !ok {
		t.Fatal("resolve by the second asked peer should still succeed")
	}
	if len(waiters) != 2 {
		t.Errorf("expected both waiters, got %d", len(waiters))
	}
}

// TestPendingTableFailNotifiesWaitersWithoutAResponse checks fail's
// use when the outbound request itself could not be sent.
func TestPendingTableFailNotifiesWaitersWithoutAResponse(t *testing.T) {
	pt := newPendingTable()
	id := ids.CertificateID(ids.BatchIDFromBytes([]byte("cert-3")))
	waiter := make(chan error, 1)
	pt.request(id, 5, "peer-a", waiter)

	sentinel := errSend{}
	pt.fail(id, sentinel)

	select {
	case err := <-waiter:
		if err != sentinel {
			t.Errorf("waiter error: got %v want sentinel", err)
		}
	default:
		t.Fatal("expected fail to notify the waiter immediately")
	}
	if pt.count() != 0 {
		t.Error("fail should remove the entry")
	}
}

type errSend struct{}

func (errSend) Error() string { return "send failed" }

// TestPendingTableGCDropsAtOrBelowWatermark checks GC only removes entries
// whose round has been passed, failing their waiters so a fetch blocked on
// a GCed id does not hang forever.
func TestPendingTableGCDropsAtOrBelowWatermark(t *testing.T) {
	pt := newPendingTable()
	stale := ids.CertificateID(ids.BatchIDFromBytes([]byte("stale")))
	fresh := ids.CertificateID(ids.BatchIDFromBytes([]byte("fresh")))
	staleWaiter := make(chan error, 1)
	pt.request(stale, 3, "peer-a", staleWaiter)
	pt.request(fresh, 10, "peer-a", nil)

	pt.gc(5)

	select {
	case err := <-staleWaiter:
		if err == nil {
			t.Error("expected a GC error for the stale waiter")
		}
	default:
		t.Error("expected the stale entry's waiter to be notified by gc")
	}
	if pt.count() != 1 {
		t.Fatalf("count: got %d want 1 (fresh entry only)", pt.count())
	}
}
