package testutil

import (
	"encoding/json"
	"sync"

	"github.com/tolelom/tolchain/ids"
	"github.com/tolelom/tolchain/network"
)

// MemGateway is an in-memory double for primary.Gateway. Unlike the real
// network.Gateway it never touches a socket: Send/Broadcast deliver straight
// into the Sent log, and tests drive inbound traffic by calling Deliver
// themselves.
type MemGateway struct {
	account    ids.Address
	numWorkers uint8
	resolver   *network.Resolver

	mu       sync.Mutex
	handlers map[network.MsgType]network.MessageHandler

	SentMu sync.Mutex
	Sent   []SentMessage

	downMu sync.Mutex
	down   map[string]bool
}

// SentMessage records one Send or Broadcast call.
type SentMessage struct {
	PeerID  string // empty for a Broadcast
	Type    network.MsgType
	Payload []byte
}

// NewMemGateway creates a MemGateway for validator account with numWorkers
// shards.
func NewMemGateway(account ids.Address, numWorkers uint8) *MemGateway {
	return &MemGateway{
		account:    account,
		numWorkers: numWorkers,
		resolver:   network.NewResolver(),
		handlers:   make(map[network.MsgType]network.MessageHandler),
		down:       make(map[string]bool),
	}
}

func (g *MemGateway) Account() ids.Address      { return g.account }
func (g *MemGateway) NumWorkers() uint8         { return g.numWorkers }
func (g *MemGateway) Resolver() *network.Resolver { return g.resolver }

func (g *MemGateway) Handle(typ network.MsgType, h network.MessageHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[typ] = h
}

func (g *MemGateway) Broadcast(typ network.MsgType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	g.SentMu.Lock()
	g.Sent = append(g.Sent, SentMessage{Type: typ, Payload: data})
	g.SentMu.Unlock()
}

func (g *MemGateway) Send(peerID string, typ network.MsgType, payload any) error {
	g.downMu.Lock()
	down := g.down[peerID]
	g.downMu.Unlock()
	if down {
		return errPeerDown(peerID)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	g.SentMu.Lock()
	g.Sent = append(g.Sent, SentMessage{PeerID: peerID, Type: typ, Payload: data})
	g.SentMu.Unlock()
	return nil
}

func (g *MemGateway) ShutDown() {}

// SetPeerDown makes subsequent Send calls to peerID fail, simulating an
// unreachable peer.
func (g *MemGateway) SetPeerDown(peerID string, down bool) {
	g.downMu.Lock()
	defer g.downMu.Unlock()
	g.down[peerID] = down
}

// Deliver hands payload to whatever handler is registered for typ, as if it
// had arrived from peerID over the wire.
func (g *MemGateway) Deliver(peerID string, typ network.MsgType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	g.mu.Lock()
	h, ok := g.handlers[typ]
	g.mu.Unlock()
	if ok {
		h(peerID, network.Message{Type: typ, Payload: data})
	}
}

type errPeerDown string

func (e errPeerDown) Error() string { return "peer " + string(e) + " is down" }
