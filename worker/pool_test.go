package worker

import (
	"testing"

	"github.com/tolelom/tolchain/batch"
	"github.com/tolelom/tolchain/ids"
	"github.com/tolelom/tolchain/internal/testutil"
	"github.com/tolelom/tolchain/network"
	"github.com/tolelom/tolchain/storage"
)

func newTestPool(t *testing.T, n uint8) *Pool {
	t.Helper()
	gw := network.NewGateway("self", ":0", nil, n)
	store := storage.NewLevelStore(testutil.NewMemDB(), 50)
	return NewPool(n, gw, store)
}

// TestPoolRoutesConsistently checks the same transmission id always maps to
// the same shard, so every validator partitions it identically.
func TestPoolRoutesConsistently(t *testing.T) {
	p := newTestPool(t, 4)
	id := ids.TransmissionIDFromBytes([]byte("route-me"))
	first, err := p.WorkerFor(id)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		w, err := p.WorkerFor(id)
		if err != nil {
			t.Fatal(err)
		}
		if w.ID() != first.ID() {
			t.Errorf("routing changed across calls: got shard %d want %d", w.ID(), first.ID())
		}
	}
}

// TestPoolDrainAllUnionsShards checks DrainAll aggregates transmissions
// inserted directly into distinct shards.
func TestPoolDrainAllUnionsShards(t *testing.T) {
	p := newTestPool(t, 2)
	t1 := batch.Transmission{ID: ids.TransmissionIDFromBytes([]byte("a")), Kind: batch.TransmissionTransaction}
	t2 := batch.Transmission{ID: ids.TransmissionIDFromBytes([]byte("b")), Kind: batch.TransmissionTransaction}
	p.workers[0].insert(t1)
	p.workers[1].insert(t2)

	drained := p.DrainAll()
	if len(drained) != 2 {
		t.Fatalf("DrainAll: got %d items want 2", len(drained))
	}
}

// TestPoolDrainAllDedupsFirstWorkerWins checks that if the same id somehow
// ends up queued on two shards, the lowest-indexed shard's copy wins and
// only one copy is returned.
func TestPoolDrainAllDedupsFirstWorkerWins(t *testing.T) {
	p := newTestPool(t, 3)
	dup := batch.Transmission{ID: ids.TransmissionIDFromBytes([]byte("dup")), Kind: batch.TransmissionTransaction, Payload: []byte("from-shard-0")}
	dupElsewhere := batch.Transmission{ID: dup.ID, Kind: batch.TransmissionTransaction, Payload: []byte("from-shard-2")}
	p.workers[0].insert(dup)
	p.workers[2].insert(dupElsewhere)

	drained := p.DrainAll()
	count := 0
	var winner batch.Transmission
	for _, t2 := range drained {
		if t2.ID == dup.ID {
			count++
			winner = t2
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one copy of the duplicated id, got %d", count)
	}
	if string(winner.Payload) != "from-shard-0" {
		t.Errorf("expected shard-0's copy to win, got payload %q", winner.Payload)
	}
}

// TestPoolProcessUnconfirmedTransactionRoutesToOwningShard verifies the
// transaction lands in the shard WorkerFor would compute for it.
func TestPoolProcessUnconfirmedTransactionRoutesToOwningShard(t *testing.T) {
	p := newTestPool(t, 4)
	id := ids.TransmissionIDFromBytes([]byte("route-check"))
	if err := p.ProcessUnconfirmedTransaction(id, []byte("route-check")); err != nil {
		t.Fatal(err)
	}
	owner, err := p.WorkerFor(id)
	if err != nil {
		t.Fatal(err)
	}
	if owner.QueueSize() != 1 {
		t.Errorf("expected the transaction to land on its owning shard, queue size %d", owner.QueueSize())
	}
}
