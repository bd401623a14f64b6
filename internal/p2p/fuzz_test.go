package p2p

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// FuzzHandshakeResponseDecode tests that arbitrary bytes never panic
// decodeHandshakeResponse, only return an error.
func FuzzHandshakeResponseDecode(f *testing.F) {
	valid := &handshakeResponse{
		PubKey:           bytes.Repeat([]byte{0x01}, pubKeyLen),
		Signature:        bytes.Repeat([]byte{0x02}, sigLen),
		CounterChallenge: bytes.Repeat([]byte{0x03}, challengeLen),
	}
	f.Add(valid.encode())
	f.Add([]byte{})
	f.Add([]byte{0x00, 0x01, 0x02})
	f.Add(bytes.Repeat([]byte{0xff}, pubKeyLen+sigLen+challengeLen+8+4))

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = decodeHandshakeResponse(bytes.NewReader(data))
	})
}

// FuzzBlockMessageUnmarshal tests that arbitrary JSON does not panic
// when unmarshaled as a gossip block message.
func FuzzBlockMessageUnmarshal(f *testing.F) {
	f.Add([]byte(`{"header":{"version":1,"timestamp":1000,"height":0},"transactions":[]}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`{"header":null}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var blk block.Block
		if err := json.Unmarshal(data, &blk); err != nil {
			return
		}
		blk.Validate()
		blk.Hash()
	})
}

// FuzzTxMessageUnmarshal tests that arbitrary JSON does not panic
// when unmarshaled as a gossip transaction message.
func FuzzTxMessageUnmarshal(f *testing.F) {
	f.Add([]byte(`{"inputs":[],"outputs":[]}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var t2 tx.Transaction
		if err := json.Unmarshal(data, &t2); err != nil {
			return
		}
		t2.Hash()
		t2.Validate()
	})
}
