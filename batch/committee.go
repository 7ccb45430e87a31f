package batch

import (
	"fmt"
	"sort"

	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/ids"
)

// Member is a single committee member's verification key and stake weight.
type Member struct {
	PublicKey crypto.PublicKey `json:"public_key"`
	Stake     uint64           `json:"stake"`
}

// Committee is the stake-weighted validator set authoritative at Round.
type Committee struct {
	Round   uint64                 `json:"round"`
	Members map[ids.Address]Member `json:"members"`
}

// NewCommittee builds a Committee for round 1 from a set of members.
func NewCommittee(members map[ids.Address]Member) *Committee {
	cp := make(map[ids.Address]Member, len(members))
	for k, v := range members {
		cp[k] = v
	}
	return &Committee{Round: 1, Members: cp}
}

// TotalStake sums the stake of every member.
func (c *Committee) TotalStake() uint64 {
	var total uint64
	for _, m := range c.Members {
		total += m.Stake
	}
	return total
}

// IsCommitteeMember reports whether addr is a member of c.
func (c *Committee) IsCommitteeMember(addr ids.Address) bool {
	_, ok := c.Members[addr]
	return ok
}

// PublicKey returns the verification key for addr, if addr is a member.
func (c *Committee) PublicKey(addr ids.Address) (crypto.PublicKey, bool) {
	m, ok := c.Members[addr]
	if !ok {
		return nil, false
	}
	return m.PublicKey, true
}

// QuorumThreshold returns the smallest stake total that is safe against f
// Byzantine members out of a 3f+1 stake-weighted committee: total - f,
// which is strictly greater than 2f out of 3f+1 total stake.
func (c *Committee) QuorumThreshold() uint64 {
	total := c.TotalStake()
	if total == 0 {
		return 0
	}
	f := (total - 1) / 3
	return total - f
}

// IsQuorumThresholdReached reports whether the combined stake of addrs (only
// counting addresses that are members of c) meets or exceeds QuorumThreshold.
func (c *Committee) IsQuorumThresholdReached(addrs map[ids.Address]struct{}) bool {
	var sum uint64
	for addr := range addrs {
		if m, ok := c.Members[addr]; ok {
			sum += m.Stake
		}
	}
	return sum >= c.QuorumThreshold()
}

// ToNextRound returns a copy of c advanced to the next round. The member set
// and stakes are unchanged; a real deployment would fold in stake updates
// computed by the downstream consensus layer, which this Primary does not
// implement (leader election / fork-choice are out of scope).
func (c *Committee) ToNextRound() *Committee {
	cp := make(map[ids.Address]Member, len(c.Members))
	for k, v := range c.Members {
		cp[k] = v
	}
	return &Committee{Round: c.Round + 1, Members: cp}
}

// SortedAddresses returns committee member addresses in a stable order,
// useful for deterministic logging and tests.
func (c *Committee) SortedAddresses() []ids.Address {
	out := make([]ids.Address, 0, len(c.Members))
	for addr := range c.Members {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String renders a short committee summary for logs.
func (c *Committee) String() string {
	return fmt.Sprintf("committee(round=%d, members=%d, stake=%d)", c.Round, len(c.Members), c.TotalStake())
}
