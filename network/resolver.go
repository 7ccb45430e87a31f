package network

import (
	"sync"

	"github.com/tolelom/tolchain/ids"
)

// Resolver maps a connected peer's socket id to its validator address,
// learned from the MsgHello handshake. Lookups for peers that have not
// completed the handshake return (_, false).
type Resolver struct {
	mu   sync.RWMutex
	byID map[string]ids.Address
}

// NewResolver creates an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{byID: make(map[string]ids.Address)}
}

// Set records peerID's validator address.
func (r *Resolver) Set(peerID string, addr ids.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[peerID] = addr
}

// GetAddress returns the validator address for peerID.
func (r *Resolver) GetAddress(peerID string) (ids.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.byID[peerID]
	return addr, ok
}

// Remove forgets peerID, called when a connection closes.
func (r *Resolver) Remove(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, peerID)
}
