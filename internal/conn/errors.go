package conn

import "errors"

// Sentinel errors used for wrapping so callers can classify via errors.Is,
// grounded on internal/server/errors.go's wrap-and-classify style.
var (
	ErrBadPassword      = errors.New("conn: bad password")
	ErrHandshakeTimeout = errors.New("conn: handshake timeout")
	ErrPeerIO           = errors.New("conn: peer io error")
	ErrAlreadyConnected = errors.New("conn: token already connected")
	ErrUnknownToken     = errors.New("conn: unknown token")
)
