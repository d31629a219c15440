package conn

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/izzymg/spellserver/internal/proto"
)

func dialPair(t *testing.T) (server net.Conn, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			acceptCh <- nil
			return
		}
		acceptCh <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server = <-acceptCh
	if server == nil {
		t.Fatalf("accept failed")
	}
	return server, client
}

func readFrame(t *testing.T, c net.Conn) []byte {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(time.Second))
	hdr := make([]byte, 2)
	if _, err := fullRead(c, hdr); err != nil {
		t.Fatalf("read header: %v", err)
	}
	n := binary.LittleEndian.Uint16(hdr)
	body := make([]byte, n)
	if _, err := fullRead(c, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return body
}

func fullRead(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// TestManager_HandshakeNoPassword verifies a client is promoted to
// connected as soon as the greeting has been sent, with no password set.
func TestManager_HandshakeNoPassword(t *testing.T) {
	serverConn, clientConn := dialPair(t)
	defer clientConn.Close()

	in := make(chan Incoming, 8)
	out := make(chan Outgoing, 8)
	m := NewManager(in, out)

	m.ManageStream(Token(1), serverConn, false)
	m.Tick()

	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	greeting := make([]byte, len(proto.Greeting))
	if _, err := fullRead(clientConn, greeting); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if string(greeting) != proto.Greeting {
		t.Fatalf("got greeting %q, want %q", greeting, proto.Greeting)
	}

	m.Tick()

	select {
	case msg := <-in:
		if msg.Kind != IncomingJoined || msg.Token != Token(1) {
			t.Fatalf("unexpected incoming: %+v", msg)
		}
	default:
		t.Fatalf("expected IncomingJoined after handshake")
	}
	if m.ConnectedCount() != 1 {
		t.Fatalf("expected 1 connected client, got %d", m.ConnectedCount())
	}
}

// TestManager_BadPasswordKicksClient verifies a client presenting the
// wrong password is kicked and never promoted.
func TestManager_BadPasswordKicksClient(t *testing.T) {
	serverConn, clientConn := dialPair(t)
	defer clientConn.Close()

	in := make(chan Incoming, 8)
	out := make(chan Outgoing, 8)
	m := NewManager(in, out, WithPassword("secret"))

	m.ManageStream(Token(1), serverConn, false)
	m.Tick()

	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	greeting := make([]byte, len(proto.Greeting))
	fullRead(clientConn, greeting)

	if _, err := clientConn.Write(prefixedFrame(t, []byte("wrong"))); err != nil {
		t.Fatalf("write password: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	m.TryRead(Token(1))

	dead := m.CollectDead()
	if len(dead) != 1 || dead[0].Token != Token(1) {
		t.Fatalf("expected token 1 to be reaped, got %+v", dead)
	}
	if m.ConnectedCount() != 0 {
		t.Fatalf("client should not be connected")
	}
}

// TestManager_PendingTimeoutReaps verifies a client that never completes
// the handshake (a password is required and never sent) is reaped once
// PendingTimeout elapses.
func TestManager_PendingTimeoutReaps(t *testing.T) {
	serverConn, clientConn := dialPair(t)
	defer clientConn.Close()

	in := make(chan Incoming, 8)
	out := make(chan Outgoing, 8)
	m := NewManager(in, out, WithPassword("secret"))
	fakeNow := time.Now()
	m.now = func() time.Time { return fakeNow }

	m.ManageStream(Token(1), serverConn, false)
	m.Tick()

	fakeNow = fakeNow.Add(PendingTimeout + time.Millisecond)
	m.Tick()

	dead := m.CollectDead()
	if len(dead) != 1 {
		t.Fatalf("expected pending client reaped after timeout, got %+v", dead)
	}
}

// TestManager_BroadcastPrependsLastSeq verifies each connected client
// receives the broadcast payload prefixed with its own last-seen seq.
func TestManager_BroadcastPrependsLastSeq(t *testing.T) {
	serverConn, clientConn := dialPair(t)
	defer clientConn.Close()

	in := make(chan Incoming, 8)
	out := make(chan Outgoing, 8)
	m := NewManager(in, out)

	m.ManageStream(Token(1), serverConn, false)
	m.Tick()
	greeting := make([]byte, len(proto.Greeting))
	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	fullRead(clientConn, greeting)
	m.Tick()
	<-in // drain IncomingJoined

	pkt := proto.Packet{TimestampMS: 1, Seq: 42, Type: proto.CommandMove}
	if _, err := clientConn.Write(prefixedFrame(t, proto.EncodePacket(pkt))); err != nil {
		t.Fatalf("write packet: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	m.TryRead(Token(1))
	<-in // drain IncomingData

	payload := []byte{0xAA, 0xBB}
	out <- Outgoing{Kind: OutgoingBroadcast, Payload: payload}
	m.Tick()

	got := readFrame(t, clientConn)
	if len(got) != len(payload)+1 {
		t.Fatalf("got frame len %d, want %d", len(got), len(payload)+1)
	}
	if got[0] != 42 {
		t.Fatalf("got seq prefix %d, want 42", got[0])
	}
}

func prefixedFrame(t *testing.T, payload []byte) []byte {
	t.Helper()
	frame := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(frame, uint16(len(payload)))
	copy(frame[2:], payload)
	return frame
}
