package proto

import "encoding/binary"

// Greeting is the bare (unframed) ASCII header the server sends on
// accept, before any length-prefixed frame (spec.md §6 step 1).
const Greeting = "SPELLSERVER 0.1\n"

// MaxSnapshotMessageBytes bounds server->client snapshot frames.
const MaxSnapshotMessageBytes = 65535

// MaxInputMessageBytes bounds client->server input frames.
const MaxInputMessageBytes = 50

// ClientInfo is the one-time envelope sent immediately after a
// successful handshake, carrying the entity ID the connecting client
// now controls.
type ClientInfo struct {
	You uint64
}

// EncodeClientInfo serializes a ClientInfo envelope (fixed 8 bytes).
func EncodeClientInfo(info ClientInfo) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, info.You)
	return b
}

// DecodeClientInfo is the inverse of EncodeClientInfo.
func DecodeClientInfo(b []byte) (ClientInfo, error) {
	if len(b) < 8 {
		return ClientInfo{}, &ParseError{Reason: "short client info"}
	}
	return ClientInfo{You: binary.LittleEndian.Uint64(b)}, nil
}
