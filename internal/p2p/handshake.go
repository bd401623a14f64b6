package p2p

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	// handshakeTimeout is the max time for a complete handshake exchange.
	handshakeTimeout = 10 * time.Second

	// challengeLen, pubKeyLen and sigLen are the fixed field widths of the
	// wire format: 32-byte challenge, 33-byte compressed pubkey, 64-byte
	// Schnorr signature.
	challengeLen = 32
	pubKeyLen    = 33
	sigLen       = 64

	// maxHandshakeURL bounds the variable-length url field.
	maxHandshakeURL = 2048
)

// handshakeResponse is the literal wire layout: 33-byte public key ‖ 64-byte
// signature over the challenge ‖ 32-byte counter-challenge ‖ 8-byte
// big-endian is_lite flag ‖ 4-byte big-endian url length ‖ url bytes.
type handshakeResponse struct {
	PubKey           []byte
	Signature        []byte
	CounterChallenge []byte
	IsLite           bool
	URL              string
}

func (r *handshakeResponse) encode() []byte {
	url := []byte(r.URL)
	buf := make([]byte, 0, pubKeyLen+sigLen+challengeLen+8+4+len(url))
	buf = append(buf, r.PubKey...)
	buf = append(buf, r.Signature...)
	buf = append(buf, r.CounterChallenge...)

	var isLite [8]byte
	if r.IsLite {
		isLite[7] = 1
	}
	buf = append(buf, isLite[:]...)

	var urlLen [4]byte
	binary.BigEndian.PutUint32(urlLen[:], uint32(len(url)))
	buf = append(buf, urlLen[:]...)
	buf = append(buf, url...)
	return buf
}

func decodeHandshakeResponse(r io.Reader) (*handshakeResponse, error) {
	fixed := make([]byte, pubKeyLen+sigLen+challengeLen+8+4)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, fmt.Errorf("read handshake response: %w", err)
	}

	off := 0
	pubKey := append([]byte(nil), fixed[off:off+pubKeyLen]...)
	off += pubKeyLen
	sig := append([]byte(nil), fixed[off:off+sigLen]...)
	off += sigLen
	counter := append([]byte(nil), fixed[off:off+challengeLen]...)
	off += challengeLen
	isLite := binary.BigEndian.Uint64(fixed[off : off+8]) != 0
	off += 8
	urlLen := binary.BigEndian.Uint32(fixed[off : off+4])

	if urlLen > maxHandshakeURL {
		return nil, fmt.Errorf("handshake url length %d exceeds max %d", urlLen, maxHandshakeURL)
	}
	url := make([]byte, urlLen)
	if urlLen > 0 {
		if _, err := io.ReadFull(r, url); err != nil {
			return nil, fmt.Errorf("read handshake url: %w", err)
		}
	}

	return &handshakeResponse{
		PubKey:           pubKey,
		Signature:        sig,
		CounterChallenge: counter,
		IsLite:           isLite,
		URL:              string(url),
	}, nil
}

// registerHandshakeHandler sets up the stream handler for incoming
// handshakes (responder side). The caller opens the stream and sends the
// 32-byte challenge; we answer with our signed response, then read the
// caller's own response over our counter-challenge to authenticate both
// directions before admitting the peer.
func (n *Node) registerHandshakeHandler() {
	logger := klog.WithComponent("p2p")
	n.host.SetStreamHandler(HandshakeProtocol, func(stream network.Stream) {
		defer stream.Close()

		remotePeer := stream.Conn().RemotePeer()
		_ = stream.SetDeadline(time.Now().Add(handshakeTimeout))

		challenge := make([]byte, challengeLen)
		if _, err := io.ReadFull(stream, challenge); err != nil {
			logger.Debug().Err(err).Str("peer", remotePeer.String()[:16]).Msg("Handshake challenge read failed")
			return
		}

		resp, err := n.buildHandshakeResponse(challenge)
		if err != nil {
			logger.Debug().Err(err).Msg("Failed to build handshake response")
			return
		}
		if _, err := stream.Write(resp.encode()); err != nil {
			logger.Debug().Err(err).Str("peer", remotePeer.String()[:16]).Msg("Handshake response write failed")
			return
		}

		counterResp, err := decodeHandshakeResponse(stream)
		if err != nil {
			logger.Debug().Err(err).Str("peer", remotePeer.String()[:16]).Msg("Handshake counter-response read failed")
			return
		}

		if reason := n.validateHandshakeResponse(resp.CounterChallenge, counterResp); reason != "" {
			logger.Warn().
				Str("peer", remotePeer.String()[:16]).
				Str("reason", reason).
				Msg("Handshake rejected, banning peer")
			if n.BanManager != nil {
				n.BanManager.RecordOffense(remotePeer, PenaltyHandshakeFail, reason)
			}
			n.DisconnectPeer(remotePeer)
		}
	})
}

// doHandshake initiates a handshake with a remote peer (dialer side).
func (n *Node) doHandshake(peerID peer.ID) {
	logger := klog.WithComponent("p2p")

	stream, err := n.host.NewStream(n.ctx, peerID, HandshakeProtocol)
	if err != nil {
		// Peer doesn't support handshake protocol — tolerate for now.
		logger.Debug().Str("peer", peerID.String()[:16]).Msg("Peer does not support handshake protocol, tolerating")
		return
	}
	defer stream.Close()

	_ = stream.SetDeadline(time.Now().Add(handshakeTimeout))

	challenge := make([]byte, challengeLen)
	if _, err := rand.Read(challenge); err != nil {
		logger.Debug().Err(err).Msg("Failed to generate handshake challenge")
		return
	}
	if _, err := stream.Write(challenge); err != nil {
		logger.Debug().Err(err).Str("peer", peerID.String()[:16]).Msg("Handshake challenge write failed")
		return
	}

	peerResp, err := decodeHandshakeResponse(stream)
	if err != nil {
		logger.Debug().Err(err).Str("peer", peerID.String()[:16]).Msg("Handshake response read failed")
		return
	}

	if reason := n.validateHandshakeResponse(challenge, peerResp); reason != "" {
		logger.Warn().
			Str("peer", peerID.String()[:16]).
			Str("reason", reason).
			Msg("Handshake rejected, banning peer")
		if n.BanManager != nil {
			n.BanManager.RecordOffense(peerID, PenaltyHandshakeFail, reason)
		}
		n.DisconnectPeer(peerID)
		return
	}

	// Prove our own identity against the peer's counter-challenge so the
	// responder side authenticates us too, not just the other way around.
	ourResp, err := n.buildHandshakeResponse(peerResp.CounterChallenge)
	if err != nil {
		logger.Debug().Err(err).Msg("Failed to build handshake counter-response")
		return
	}
	if _, err := stream.Write(ourResp.encode()); err != nil {
		logger.Debug().Err(err).Str("peer", peerID.String()[:16]).Msg("Handshake counter-response write failed")
	}
}

// validateHandshakeResponse checks that resp carries a valid Schnorr
// signature over challenge. Returns an empty string on success, or a
// reason string on failure.
func (n *Node) validateHandshakeResponse(challenge []byte, resp *handshakeResponse) string {
	if len(resp.PubKey) != pubKeyLen {
		return fmt.Sprintf("malformed public key length: %d", len(resp.PubKey))
	}
	hash := crypto.Hash(challenge)
	if !crypto.VerifySignature(hash[:], resp.Signature, resp.PubKey) {
		return "signature verification failed"
	}
	return ""
}

// buildHandshakeResponse signs challenge with this node's identity key and
// mints a fresh counter-challenge for the peer to answer in turn.
func (n *Node) buildHandshakeResponse(challenge []byte) (*handshakeResponse, error) {
	if n.identityKey == nil {
		return nil, fmt.Errorf("no identity key configured for handshake")
	}

	hash := crypto.Hash(challenge)
	sig, err := n.identityKey.Sign(hash[:])
	if err != nil {
		return nil, fmt.Errorf("sign challenge: %w", err)
	}

	counter := make([]byte, challengeLen)
	if _, err := rand.Read(counter); err != nil {
		return nil, fmt.Errorf("generate counter-challenge: %w", err)
	}

	return &handshakeResponse{
		PubKey:           n.identityKey.PublicKey(),
		Signature:        sig,
		CounterChallenge: counter,
		IsLite:           n.config.Lite,
		URL:              n.config.AdvertiseURL,
	}, nil
}
