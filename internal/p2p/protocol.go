package p2p

import (
	"github.com/libp2p/go-libp2p/core/protocol"
)

// GossipSub topic names.
const (
	TopicTransactions = "/klingnet/tx/1.0.0"
	TopicBlocks       = "/klingnet/block/1.0.0"
)

// HandshakeProtocol is the stream protocol ID for the challenge/response
// identity handshake.
const HandshakeProtocol = protocol.ID("/klingnet/handshake/1.0.0")

// MessageType identifies the type of P2P message.
type MessageType uint8

const (
	MsgTx    MessageType = iota + 1 // Transaction broadcast.
	MsgBlock                        // Block broadcast.
)

// Message is a P2P protocol message.
type Message struct {
	Type    MessageType `json:"type"`
	Payload []byte      `json:"payload"`
}
