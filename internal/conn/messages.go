package conn

import "github.com/izzymg/spellserver/internal/proto"

// Token is an opaque per-connection identifier minted by the network
// I/O loop (spec.md GLOSSARY).
type Token uint64

// IncomingKind tags the variant of an Incoming message.
type IncomingKind uint8

const (
	IncomingJoined IncomingKind = iota
	IncomingLeft
	IncomingData
)

// Incoming is delivered from the connection manager to the simulation
// scheduler over a bounded channel (spec.md §5).
type Incoming struct {
	Kind   IncomingKind
	Token  Token
	Packet proto.Packet
}

// OutgoingKind tags the variant of an Outgoing command.
type OutgoingKind uint8

const (
	OutgoingBroadcast OutgoingKind = iota
	OutgoingKick
	OutgoingClientInfo
)

// Outgoing is sent from the simulation scheduler to the connection
// manager over a bounded channel (spec.md §5).
type Outgoing struct {
	Kind    OutgoingKind
	Token   Token
	Payload []byte
	Info    proto.ClientInfo
}
