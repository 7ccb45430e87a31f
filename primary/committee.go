package primary

import (
	"log"

	"github.com/tolelom/tolchain/events"
)

// updateCommitteeToNextRound advances the in-memory committee by one round
// under a single write lock (snapshot-then-mutate), persists it keyed by
// the new round, and clears any in-flight proposal: a batch proposed for
// the old round is no longer valid once the round has moved on.
func (p *Primary) updateCommitteeToNextRound() uint64 {
	p.committeeMu.Lock()
	next := p.committee.ToNextRound()
	p.committee = next
	p.committeeMu.Unlock()

	p.store.InsertCommittee(next)

	p.slotMu.Lock()
	p.slot = nil
	p.slotMu.Unlock()

	maxGC := p.store.MaxGCRounds()
	var gcRound uint64
	if next.Round > maxGC {
		gcRound = next.Round - maxGC
	}
	p.store.AdvanceGC(gcRound)
	p.pending.gc(gcRound)

	log.Printf("[primary] advanced to round %d", next.Round)
	p.emit(events.EventRoundAdvanced, next.Round, map[string]any{"num_members": len(next.Members)})
	return next.Round
}
