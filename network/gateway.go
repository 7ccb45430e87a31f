package network

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/tolelom/tolchain/ids"
)

// MessageHandler is called for each received message, keyed by the socket
// identity of the peer it arrived from. Handlers resolve that identity to a
// validator Address via Gateway.Resolver() when they need one.
type MessageHandler func(peerID string, msg Message)

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 50

// Gateway owns peer sockets, connection establishment, wire framing, and
// socket-to-validator-address resolution. The Primary and the worker pool
// both register handlers and send through it, but never hold a direct
// reference back into each other through it, only through the message
// types they exchange.
type Gateway struct {
	selfAddr   ids.Address
	listenAddr string
	tlsConfig  *tls.Config // nil -> plain TCP
	maxPeers   int
	numWorkers uint8

	mu       sync.RWMutex
	peers    map[string]*Peer
	handlers map[MsgType]MessageHandler
	resolver *Resolver

	listener net.Listener
	stopCh   chan struct{}
}

// NewGateway creates a Gateway that will listen on listenAddr under identity
// selfAddr. If tlsCfg is non-nil the listener and outgoing connections use TLS.
func NewGateway(selfAddr ids.Address, listenAddr string, tlsCfg *tls.Config, numWorkers uint8) *Gateway {
	return &Gateway{
		selfAddr:   selfAddr,
		listenAddr: listenAddr,
		tlsConfig:  tlsCfg,
		maxPeers:   DefaultMaxPeers,
		numWorkers: numWorkers,
		peers:      make(map[string]*Peer),
		handlers:   make(map[MsgType]MessageHandler),
		resolver:   NewResolver(),
		stopCh:     make(chan struct{}),
	}
}

// Account returns this validator's own address.
func (g *Gateway) Account() ids.Address { return g.selfAddr }

// NumWorkers returns the number of worker shards this node runs.
func (g *Gateway) NumWorkers() uint8 { return g.numWorkers }

// Resolver returns the peer-socket -> validator-address resolver.
func (g *Gateway) Resolver() *Resolver { return g.resolver }

// Handle registers h to process every inbound message of type typ.
func (g *Gateway) Handle(typ MsgType, h MessageHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[typ] = h
}

// Run starts accepting connections.
func (g *Gateway) Run() error {
	var ln net.Listener
	var err error
	if g.tlsConfig != nil {
		ln, err = tls.Listen("tcp", g.listenAddr, g.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", g.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", g.listenAddr, err)
	}
	g.listener = ln
	go g.acceptLoop()
	return nil
}

// ShutDown closes the listener and every connected peer.
func (g *Gateway) ShutDown() {
	close(g.stopCh)
	if g.listener != nil {
		g.listener.Close()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.peers {
		p.Close()
	}
}

// AddPeer dials addr, registers the connection under id, and announces our
// validator address with a hello.
func (g *Gateway) AddPeer(id, addr string) error {
	peer, err := Connect(id, addr, g.tlsConfig)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.peers[id] = peer
	g.mu.Unlock()
	go g.readLoop(peer)

	hello, err := json.Marshal(map[string]string{"address": string(g.selfAddr)})
	if err != nil {
		log.Printf("[gateway] marshal hello: %v", err)
		return nil
	}
	if err := peer.Send(Message{Type: MsgHello, Payload: hello}); err != nil {
		log.Printf("[gateway] send hello to %s: %v", id, err)
	}
	return nil
}

// Broadcast sends an event to every connected peer.
func (g *Gateway) Broadcast(typ MsgType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[gateway] marshal broadcast %s: %v", typ, err)
		return
	}
	msg := Message{Type: typ, Payload: data}

	g.mu.RLock()
	peers := make([]*Peer, 0, len(g.peers))
	for _, p := range g.peers {
		peers = append(peers, p)
	}
	g.mu.RUnlock()
	for _, p := range peers {
		if err := p.Send(msg); err != nil {
			log.Printf("[gateway] broadcast to %s: %v", p.ID, err)
		}
	}
}

// Send unicasts an event to one peer by socket id.
func (g *Gateway) Send(peerID string, typ MsgType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	g.mu.RLock()
	peer, ok := g.peers[peerID]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown peer %q", peerID)
	}
	return peer.Send(Message{Type: typ, Payload: data})
}

func (g *Gateway) acceptLoop() {
	for {
		conn, err := g.listener.Accept()
		if err != nil {
			select {
			case <-g.stopCh:
				return
			default:
				log.Printf("[gateway] accept error: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		g.mu.RLock()
		peerCount := len(g.peers)
		g.mu.RUnlock()
		if peerCount >= g.maxPeers {
			log.Printf("[gateway] max peers (%d) reached, rejecting %s", g.maxPeers, conn.RemoteAddr())
			conn.Close()
			continue
		}
		peer := NewPeer(conn.RemoteAddr().String(), conn.RemoteAddr().String(), conn)
		g.mu.Lock()
		g.peers[peer.ID] = peer
		g.mu.Unlock()
		go g.readLoop(peer)
	}
}

func (g *Gateway) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[gateway] readLoop panic from %s: %v", peer.ID, r)
		}
		peer.Close()
		g.mu.Lock()
		delete(g.peers, peer.ID)
		g.mu.Unlock()
		g.resolver.Remove(peer.ID)
	}()
	for {
		msg, err := peer.Receive()
		if err != nil {
			return
		}
		if msg.Type == MsgHello {
			g.handleHello(peer, msg)
			continue
		}
		g.mu.RLock()
		h, ok := g.handlers[msg.Type]
		g.mu.RUnlock()
		if ok {
			h(peer.ID, msg)
		}
	}
}

func (g *Gateway) handleHello(peer *Peer, msg Message) {
	var hello struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(msg.Payload, &hello); err != nil {
		log.Printf("[gateway] unmarshal hello from %s: %v", peer.ID, err)
		return
	}
	g.resolver.Set(peer.ID, ids.Address(hello.Address))
}
