package config

import (
	"fmt"

	"github.com/tolelom/tolchain/batch"
	"github.com/tolelom/tolchain/crypto"
	"github.com/tolelom/tolchain/ids"
)

// BuildGenesisCommittee constructs the round-1 committee this node
// bootstraps from: the DAG mempool has no application state to seed, only
// an initial validator set and their stakes.
func BuildGenesisCommittee(cfg *Config) (*batch.Committee, error) {
	members := make(map[ids.Address]batch.Member, len(cfg.Committee.Members))
	for _, m := range cfg.Committee.Members {
		pub, err := crypto.PubKeyFromHex(m.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("committee member %s: %w", m.Address, err)
		}
		members[ids.Address(m.Address)] = batch.Member{PublicKey: pub, Stake: m.Stake}
	}
	return batch.NewCommittee(members), nil
}
