package p2p

import (
	"bytes"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/libp2p/go-libp2p/core/peer"
)

func TestHandshakeResponse_EncodeDecode(t *testing.T) {
	resp := &handshakeResponse{
		PubKey:           bytes.Repeat([]byte{0xaa}, pubKeyLen),
		Signature:        bytes.Repeat([]byte{0xbb}, sigLen),
		CounterChallenge: bytes.Repeat([]byte{0xcc}, challengeLen),
		IsLite:           true,
		URL:              "https://node.example/info",
	}

	decoded, err := decodeHandshakeResponse(bytes.NewReader(resp.encode()))
	if err != nil {
		t.Fatalf("decodeHandshakeResponse: %v", err)
	}
	if !bytes.Equal(decoded.PubKey, resp.PubKey) {
		t.Error("PubKey mismatch")
	}
	if !bytes.Equal(decoded.Signature, resp.Signature) {
		t.Error("Signature mismatch")
	}
	if !bytes.Equal(decoded.CounterChallenge, resp.CounterChallenge) {
		t.Error("CounterChallenge mismatch")
	}
	if decoded.IsLite != resp.IsLite {
		t.Error("IsLite mismatch")
	}
	if decoded.URL != resp.URL {
		t.Errorf("URL: got %q, want %q", decoded.URL, resp.URL)
	}
}

func TestHandshakeResponse_EncodeDecode_EmptyURL(t *testing.T) {
	resp := &handshakeResponse{
		PubKey:           bytes.Repeat([]byte{0x01}, pubKeyLen),
		Signature:        bytes.Repeat([]byte{0x02}, sigLen),
		CounterChallenge: bytes.Repeat([]byte{0x03}, challengeLen),
	}

	decoded, err := decodeHandshakeResponse(bytes.NewReader(resp.encode()))
	if err != nil {
		t.Fatalf("decodeHandshakeResponse: %v", err)
	}
	if decoded.URL != "" {
		t.Errorf("expected empty URL, got %q", decoded.URL)
	}
	if decoded.IsLite {
		t.Error("expected IsLite false")
	}
}

func TestDecodeHandshakeResponse_URLTooLong(t *testing.T) {
	resp := &handshakeResponse{
		PubKey:           bytes.Repeat([]byte{0x01}, pubKeyLen),
		Signature:        bytes.Repeat([]byte{0x02}, sigLen),
		CounterChallenge: bytes.Repeat([]byte{0x03}, challengeLen),
		URL:              string(bytes.Repeat([]byte{'a'}, maxHandshakeURL+1)),
	}

	_, err := decodeHandshakeResponse(bytes.NewReader(resp.encode()))
	if err == nil {
		t.Fatal("expected error for oversized url")
	}
}

func TestNode_BuildHandshakeResponse_RoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	defer key.Zero()

	n := New(Config{ListenAddr: "127.0.0.1", Port: 0})
	n.SetIdentityKey(key)

	challenge := bytes.Repeat([]byte{0x42}, challengeLen)
	resp, err := n.buildHandshakeResponse(challenge)
	if err != nil {
		t.Fatalf("buildHandshakeResponse: %v", err)
	}

	if reason := n.validateHandshakeResponse(challenge, resp); reason != "" {
		t.Errorf("expected valid response, got reason: %s", reason)
	}
}

func TestNode_BuildHandshakeResponse_NoIdentityKey(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0})
	_, err := n.buildHandshakeResponse(bytes.Repeat([]byte{0x01}, challengeLen))
	if err == nil {
		t.Fatal("expected error without identity key")
	}
}

func TestNode_ValidateHandshakeResponse_BadSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	defer key.Zero()

	n := New(Config{ListenAddr: "127.0.0.1", Port: 0})
	n.SetIdentityKey(key)

	challenge := bytes.Repeat([]byte{0x42}, challengeLen)
	resp, err := n.buildHandshakeResponse(challenge)
	if err != nil {
		t.Fatalf("buildHandshakeResponse: %v", err)
	}

	wrongChallenge := bytes.Repeat([]byte{0x99}, challengeLen)
	if reason := n.validateHandshakeResponse(wrongChallenge, resp); reason == "" {
		t.Error("expected signature verification failure over mismatched challenge")
	}
}

func TestNode_ValidateHandshakeResponse_MalformedPubKey(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0})
	resp := &handshakeResponse{
		PubKey:    []byte{0x01, 0x02},
		Signature: bytes.Repeat([]byte{0x02}, sigLen),
	}
	if reason := n.validateHandshakeResponse(bytes.Repeat([]byte{0x01}, challengeLen), resp); reason == "" {
		t.Error("expected malformed public key reason")
	}
}

func TestNode_SetGenesisHash(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0})

	if n.handshakeEnabled {
		t.Error("handshake should be disabled by default")
	}

	h := types.Hash{0xaa, 0xbb}
	n.SetGenesisHash(h)

	if !n.handshakeEnabled {
		t.Error("handshake should be enabled after SetGenesisHash with non-zero hash")
	}
	if n.genesisHash != h {
		t.Error("genesis hash not set correctly")
	}

	// Setting zero hash disables it.
	n.SetGenesisHash(types.Hash{})
	if n.handshakeEnabled {
		t.Error("handshake should be disabled after SetGenesisHash with zero hash")
	}
}

func TestNode_DisconnectPeer_NotStarted(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0})
	err := n.DisconnectPeer(peer.ID("fake"))
	if err == nil {
		t.Error("DisconnectPeer should fail before Start")
	}
}

func TestNode_DisconnectPeer(t *testing.T) {
	nodeA := startTestNode(t)
	nodeB := startTestNode(t)
	connectNodes(t, nodeA, nodeB)

	if nodeA.PeerCount() < 1 {
		t.Fatal("nodeA should have at least 1 peer")
	}

	// Disconnect B from A's side.
	if err := nodeA.DisconnectPeer(nodeB.host.ID()); err != nil {
		t.Fatalf("DisconnectPeer: %v", err)
	}

	// Wait for disconnect to propagate.
	time.Sleep(200 * time.Millisecond)

	if nodeA.PeerCount() != 0 {
		t.Errorf("nodeA should have 0 peers after disconnect, got %d", nodeA.PeerCount())
	}
}

func TestTwoNodes_Handshake_Success(t *testing.T) {
	genesis := types.Hash{0x01, 0x02, 0x03}

	keyA, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	defer keyA.Zero()
	keyB, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	defer keyB.Zero()

	nodeA := New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true, NetworkID: "test"})
	nodeA.SetGenesisHash(genesis)
	nodeA.SetHeightFn(func() uint64 { return 10 })
	nodeA.SetIdentityKey(keyA)
	if err := nodeA.Start(); err != nil {
		t.Fatalf("start nodeA: %v", err)
	}
	t.Cleanup(func() { nodeA.Stop() })

	nodeB := New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true, NetworkID: "test"})
	nodeB.SetGenesisHash(genesis)
	nodeB.SetHeightFn(func() uint64 { return 10 })
	nodeB.SetIdentityKey(keyB)
	if err := nodeB.Start(); err != nil {
		t.Fatalf("start nodeB: %v", err)
	}
	t.Cleanup(func() { nodeB.Stop() })

	connectNodes(t, nodeA, nodeB)

	// Both should remain connected: each side can sign its own identity
	// key's challenge/counter-challenge.
	time.Sleep(500 * time.Millisecond)

	if nodeA.PeerCount() < 1 {
		t.Errorf("nodeA should still have peer, got %d", nodeA.PeerCount())
	}
	if nodeB.PeerCount() < 1 {
		t.Errorf("nodeB should still have peer, got %d", nodeB.PeerCount())
	}
}

func TestTwoNodes_Handshake_NoIdentityKey(t *testing.T) {
	genesis := types.Hash{0x01}

	nodeA := New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true, NetworkID: "test"})
	nodeA.SetGenesisHash(genesis)
	nodeA.SetHeightFn(func() uint64 { return 10 })
	// No identity key: the dialer side will fail to build a response and
	// simply not complete the handshake; the connection itself is left up
	// since doHandshake only disconnects on an explicit signature failure,
	// not on its own inability to respond.
	if err := nodeA.Start(); err != nil {
		t.Fatalf("start nodeA: %v", err)
	}
	t.Cleanup(func() { nodeA.Stop() })

	nodeB := New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true, NetworkID: "test"})
	nodeB.SetGenesisHash(genesis)
	nodeB.SetHeightFn(func() uint64 { return 10 })
	if err := nodeB.Start(); err != nil {
		t.Fatalf("start nodeB: %v", err)
	}
	t.Cleanup(func() { nodeB.Stop() })

	connectNodes(t, nodeA, nodeB)
	time.Sleep(500 * time.Millisecond)
	// No panic, no crash: that's the behavior under test.
}
