package network

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tolelom/tolchain/ids"
)

func mustRun(t *testing.T, g *Gateway) {
	t.Helper()
	if err := g.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	t.Cleanup(g.ShutDown)
}

// TestGatewayBroadcastDeliversAcrossLoopbackTCP dials one gateway to
// another over real loopback TCP and checks a broadcast message is decoded
// and handed to the receiver's registered handler.
func TestGatewayBroadcastDeliversAcrossLoopbackTCP(t *testing.T) {
	a := NewGateway(ids.Address("node-a"), "127.0.0.1:0", nil, 1)
	b := NewGateway(ids.Address("node-b"), "127.0.0.1:0", nil, 1)
	mustRun(t, a)
	mustRun(t, b)

	received := make(chan Message, 1)
	b.Handle(MsgBatchPropose, func(peerID string, msg Message) {
		received <- msg
	})

	if err := a.AddPeer("b", b.listener.Addr().String()); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}

	type payload struct {
		Greeting string `json:"greeting"`
	}
	a.Broadcast(MsgBatchPropose, payload{Greeting: "hello"})

	select {
	case msg := <-received:
		var p payload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			t.Fatal(err)
		}
		if p.Greeting != "hello" {
			t.Errorf("greeting: got %q want hello", p.Greeting)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the broadcast to arrive")
	}
}

// TestGatewayHelloResolvesPeerAddress checks that the hello handshake sent
// by AddPeer lets the accepting side resolve the dialing peer's validator
// address through its Resolver.
func TestGatewayHelloResolvesPeerAddress(t *testing.T) {
	a := NewGateway(ids.Address("node-a"), "127.0.0.1:0", nil, 1)
	b := NewGateway(ids.Address("node-b"), "127.0.0.1:0", nil, 1)
	mustRun(t, a)
	mustRun(t, b)

	if err := a.AddPeer("b", b.listener.Addr().String()); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		b.mu.RLock()
		n := len(b.peers)
		b.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for b to accept the connection")
		}
		time.Sleep(time.Millisecond)
	}

	b.mu.RLock()
	var acceptedID string
	for id := range b.peers {
		acceptedID = id
	}
	b.mu.RUnlock()

	deadline = time.Now().Add(2 * time.Second)
	for {
		if addr, ok := b.Resolver().GetAddress(acceptedID); ok {
			if addr != ids.Address("node-a") {
				t.Fatalf("resolved address: got %s want node-a", addr)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the hello handshake to resolve")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestGatewaySendUnknownPeerErrors checks that Send rejects a peer id that
// was never connected.
func TestGatewaySendUnknownPeerErrors(t *testing.T) {
	g := NewGateway(ids.Address("node-a"), "127.0.0.1:0", nil, 1)
	mustRun(t, g)
	if err := g.Send("nobody", MsgBatchPropose, struct{}{}); err == nil {
		t.Error("expected an error sending to an unconnected peer id")
	}
}
