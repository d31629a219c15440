// Package wire implements the length-prefixed, non-blocking framing
// used on every spell server TCP connection. A Stream wraps a single
// net.Conn and never waits longer than a short grace period (ioGrace):
// reads return whatever complete frames are already available, writes
// report backpressure instead of blocking.
//
// Grounded on internal/cnl.Codec's read-exactly-one-frame shape and on
// the reference client's lib_spells message_stream buffer-shift
// strategy: a single contiguous buffer holds the header plus the
// largest possible payload, and once a frame is emitted any unread
// tail bytes are shifted back to offset 0.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// HeaderBytes is the size of the little-endian length prefix.
const HeaderBytes = 2

// ioGrace is the deadline each read or write is given before it reports
// would-block. Go's net.Conn has no non-blocking mode, and a deadline
// that has already passed fails the call before any byte moves, so the
// deadline is set this far in the future instead.
const ioGrace = time.Millisecond

// Errors returned by Stream methods. Callers classify with errors.Is;
// ErrInvalidHeaderSize and ErrPeerClosed are terminal (kick the peer),
// ErrWouldBlock and ErrInterrupted are routine and expected.
var (
	ErrInvalidHeaderSize = errors.New("wire: invalid header size")
	ErrPeerClosed        = errors.New("wire: peer closed")
	ErrWouldBlock        = errors.New("wire: would block")
	ErrInterrupted       = errors.New("wire: interrupted")
)

// Stream buffers frame-aligned reads and writes over conn.
type Stream struct {
	conn net.Conn
	max  int // MAX_MESSAGE_BYTES for this stream direction

	buf     []byte // HeaderBytes + max, shared read scratch
	filled  int    // bytes currently valid starting at offset 0
}

// New wraps conn with a read buffer bounded to maxMessageBytes per frame.
func New(conn net.Conn, maxMessageBytes int) *Stream {
	return &Stream{
		conn: conn,
		max:  maxMessageBytes,
		buf:  make([]byte, HeaderBytes+maxMessageBytes),
	}
}

// Conn returns the underlying connection.
func (s *Stream) Conn() net.Conn { return s.conn }

// TryReadMessages drains every complete frame currently available on
// the socket, waiting at most ioGrace for more data. It never returns a
// partial frame; a trailing incomplete frame stays buffered for the next
// call.
func (s *Stream) TryReadMessages() ([][]byte, error) {
	var messages [][]byte
	// Go's net.Conn has no non-blocking Read; a short deadline turns
	// "nothing buffered right now" into a timeout error, which
	// isWouldBlock treats as the normal backpressure signal.
	_ = s.conn.SetReadDeadline(time.Now().Add(ioGrace))
	for {
		n, err := s.conn.Read(s.buf[s.filled:])
		if n > 0 {
			s.filled += n
		}
		if err != nil {
			if isWouldBlock(err) {
				break
			}
			if isInterrupted(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return messages, fmt.Errorf("%w: %v", ErrPeerClosed, err)
			}
			return messages, err
		}
		if n == 0 {
			break
		}
	}

	for {
		msg, ok, err := s.tryExtractOne()
		if err != nil {
			return messages, err
		}
		if !ok {
			break
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// tryExtractOne pulls a single complete frame out of the front of the
// buffer, if one is fully present, shifting remaining bytes to offset 0.
func (s *Stream) tryExtractOne() ([]byte, bool, error) {
	if s.filled < HeaderBytes {
		return nil, false, nil
	}
	length := int(binary.LittleEndian.Uint16(s.buf[0:HeaderBytes]))
	if length < 1 || length > s.max {
		return nil, false, fmt.Errorf("%w: %d", ErrInvalidHeaderSize, length)
	}
	total := HeaderBytes + length
	if s.filled < total {
		return nil, false, nil
	}
	payload := make([]byte, length)
	copy(payload, s.buf[HeaderBytes:total])

	remaining := s.filled - total
	copy(s.buf[0:remaining], s.buf[total:s.filled])
	s.filled = remaining
	return payload, true, nil
}

// TryWritePrefixed writes a length-prefixed frame. It returns true when
// the full header+payload was accepted by the kernel, false on an
// immediate would-block with nothing written, or an error on partial
// writes or other failures. Interrupted writes are retried internally.
func (s *Stream) TryWritePrefixed(payload []byte) (bool, error) {
	if len(payload) < 1 || len(payload) > s.max {
		return false, fmt.Errorf("%w: %d", ErrInvalidHeaderSize, len(payload))
	}
	frame := make([]byte, HeaderBytes+len(payload))
	binary.LittleEndian.PutUint16(frame[0:HeaderBytes], uint16(len(payload)))
	copy(frame[HeaderBytes:], payload)

	// Same short-deadline trick as TryReadMessages: a write that
	// can't complete right now surfaces as a timeout, which the caller
	// (internal/conn.Manager) retries on the next tick.
	_ = s.conn.SetWriteDeadline(time.Now().Add(ioGrace))
	written := 0
	for written < len(frame) {
		n, err := s.conn.Write(frame[written:])
		written += n
		if err != nil {
			if isInterrupted(err) {
				continue
			}
			if isWouldBlock(err) {
				if written == 0 {
					return false, nil
				}
				return false, fmt.Errorf("wire: partial write (%d/%d): %w", written, len(frame), err)
			}
			return false, err
		}
	}
	return true, nil
}

// WriteRaw writes payload verbatim with no length prefix. Used only for
// the bare ASCII handshake greeting (spec.md §6 step 1).
func (s *Stream) WriteRaw(payload []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(ioGrace))
	written := 0
	for written < len(payload) {
		n, err := s.conn.Write(payload[written:])
		written += n
		if err != nil {
			if isInterrupted(err) {
				continue
			}
			if isWouldBlock(err) && written < len(payload) {
				return fmt.Errorf("%w: greeting not fully sent", ErrWouldBlock)
			}
			return err
		}
	}
	return nil
}

func isWouldBlock(err error) bool {
	if errors.Is(err, ErrWouldBlock) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

func isInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}
