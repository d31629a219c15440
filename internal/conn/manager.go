// Package conn implements the client lifecycle: pending/connected
// bookkeeping, the password gate, the handshake greeting, inbound
// packet demux and outbound broadcast fan-out (spec.md §4.B).
//
// Grounded on internal/hub.Hub (client set, Broadcast, Snapshot,
// backpressure-by-drop) and internal/server.Server (pending vs.
// connected lifecycle, per-peer sentinel errors, readiness signaling),
// generalized from CAN frame fan-out to the spell server's handshake
// and snapshot protocol.
package conn

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/izzymg/spellserver/internal/logging"
	"github.com/izzymg/spellserver/internal/metrics"
	"github.com/izzymg/spellserver/internal/proto"
	"github.com/izzymg/spellserver/internal/wire"
)

// PendingTimeout is the hard deadline a pending client has to complete
// the handshake before being reaped (spec.md §4.B).
const PendingTimeout = 1000 * time.Millisecond

type pendingClient struct {
	stream     *wire.Stream
	conn       net.Conn
	createdAt  time.Time
	headerSent bool
	validated  bool
}

type connectedClient struct {
	stream  *wire.Stream
	conn    net.Conn
	lastSeq uint8
	// pendingOut holds a frame payload that TryWritePrefixed previously
	// reported would-block for; retried whole on the next Tick rather
	// than re-queued, since a partial frame write is a terminal error.
	pendingOut []byte
}

// DeadStream is a connection the manager has fully given up on; the
// caller (the network loop) is responsible for deregistering it from
// the poller and closing the socket.
type DeadStream struct {
	Token Token
	Conn  net.Conn
}

// Manager holds the pending/connected client maps and bridges the
// inbound/outbound channels to the simulation scheduler.
type Manager struct {
	password string
	inboundTx chan<- Incoming
	outboundRx <-chan Outgoing

	pending   map[Token]*pendingClient
	connected map[Token]*connectedClient
	dead      []DeadStream

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithPassword sets the password clients must present during the
// handshake. An empty password disables the gate (spec.md §9 Open
// Questions: password is optional, default disabled).
func WithPassword(p string) Option { return func(m *Manager) { m.password = p } }

// WithLogger overrides the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager constructs a Manager bridging inboundTx/outboundRx.
func NewManager(inboundTx chan<- Incoming, outboundRx <-chan Outgoing, opts ...Option) *Manager {
	m := &Manager{
		inboundTx:  inboundTx,
		outboundRx: outboundRx,
		pending:    make(map[Token]*pendingClient),
		connected:  make(map[Token]*connectedClient),
		logger:     logging.L(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ManageStream registers a freshly accepted connection as pending. If
// readableNow is true an immediate read attempt is made (the listener's
// accept event may have coincided with data already on the wire).
func (m *Manager) ManageStream(token Token, c net.Conn, readableNow bool) {
	if _, ok := m.pending[token]; ok {
		m.logger.Warn("manage_stream_error", "token", token, "error", fmt.Errorf("%w: %d", ErrAlreadyConnected, token))
		return
	}
	if _, ok := m.connected[token]; ok {
		m.logger.Warn("manage_stream_error", "token", token, "error", fmt.Errorf("%w: %d", ErrAlreadyConnected, token))
		return
	}
	m.pending[token] = &pendingClient{
		stream:    wire.New(c, int(proto.MaxInputMessageBytes)),
		conn:      c,
		createdAt: m.now(),
	}
	metrics.ClientsPending.Set(float64(len(m.pending)))
	m.trySendHeader(m.pending[token])
	if readableNow {
		m.TryRead(token)
	}
}

// TryRead attempts a non-blocking read on token's stream, routing the
// result to the password gate (pending) or the packet demux (connected).
func (m *Manager) TryRead(token Token) {
	if p, ok := m.pending[token]; ok {
		m.readPendingValidation(token, p)
		return
	}
	if c, ok := m.connected[token]; ok {
		m.readConnectedPackets(token, c)
	}
}

func (m *Manager) trySendHeader(p *pendingClient) {
	if p.headerSent {
		return
	}
	if err := p.stream.WriteRaw([]byte(proto.Greeting)); err != nil {
		metrics.IncError(metrics.ErrConnWrite)
		m.logger.Debug("header_write_failed", "error", fmt.Errorf("%w: %v", ErrPeerIO, err))
		return
	}
	p.headerSent = true
}

func (m *Manager) readPendingValidation(token Token, p *pendingClient) {
	msgs, err := p.stream.TryReadMessages()
	if err != nil {
		metrics.IncError(metrics.ErrConnRead)
		m.logger.Info("pending_read_error", "token", token, "error", fmt.Errorf("%w: %v", ErrPeerIO, err))
		m.kick(token)
		return
	}
	if p.validated || m.password == "" {
		// No password configured (or already validated): nothing left
		// to check here; promotion happens once the header has gone
		// out, in connectValidatedPending.
		if m.password == "" {
			p.validated = true
		}
		return
	}
	for _, msg := range msgs {
		if string(msg) != m.password {
			metrics.IncHandshakeFailure()
			metrics.IncError(metrics.ErrHandshake)
			m.logger.Info("bad_password", "token", token, "error", ErrBadPassword)
			m.kick(token)
			return
		}
		p.validated = true
		return
	}
}

// connectValidatedPending promotes any pending client whose header has
// been sent and whose password (if any) has been accepted.
func (m *Manager) connectValidatedPending() {
	for token, p := range m.pending {
		if !p.headerSent || (!p.validated && m.password != "") {
			continue
		}
		delete(m.pending, token)
		cc := &connectedClient{stream: p.stream, conn: p.conn}
		m.connected[token] = cc
		metrics.ClientsPending.Set(float64(len(m.pending)))
		metrics.ClientsConnected.Set(float64(len(m.connected)))
		m.logger.Info("client_connected", "token", token)
		m.pushIncoming(Incoming{Kind: IncomingJoined, Token: token})
	}
}

// pushIncoming forwards msg to the simulation scheduler without
// blocking. Per spec.md §5 ("the network thread never blocks on I/O"),
// a full inbound channel (the scheduler running behind) must not stall
// every other client's reads, so a full channel just drops the message
// and counts it.
func (m *Manager) pushIncoming(msg Incoming) {
	select {
	case m.inboundTx <- msg:
	default:
		metrics.IncDroppedSimEvent("inbound_full")
	}
}

func (m *Manager) readConnectedPackets(token Token, c *connectedClient) {
	msgs, err := c.stream.TryReadMessages()
	if err != nil {
		metrics.IncError(metrics.ErrConnRead)
		m.logger.Info("read_error", "token", token, "error", fmt.Errorf("%w: %v", ErrPeerIO, err))
		m.kick(token)
		return
	}
	for _, msg := range msgs {
		pkt, err := proto.DecodePacket(msg)
		if err != nil {
			metrics.IncMalformed()
			m.logger.Info("bad_packet", "token", token, "error", err)
			m.kick(token)
			return
		}
		c.lastSeq = pkt.Seq
		m.pushIncoming(Incoming{Kind: IncomingData, Token: token, Packet: pkt})
	}
}

func (m *Manager) kickExpiredPending() {
	deadline := m.now().Add(-PendingTimeout)
	for token, p := range m.pending {
		if p.createdAt.Before(deadline) {
			metrics.IncError(metrics.ErrHandshake)
			m.logger.Info("pending_timeout", "token", token, "error", ErrHandshakeTimeout)
			m.kick(token)
		}
	}
}

func (m *Manager) kick(token Token) {
	if c, ok := m.connected[token]; ok {
		delete(m.connected, token)
		metrics.ClientsConnected.Set(float64(len(m.connected)))
		metrics.IncKicked()
		m.dead = append(m.dead, DeadStream{Token: token, Conn: c.conn})
		m.pushIncoming(Incoming{Kind: IncomingLeft, Token: token})
		return
	}
	if p, ok := m.pending[token]; ok {
		delete(m.pending, token)
		metrics.ClientsPending.Set(float64(len(m.pending)))
		metrics.IncKicked()
		m.dead = append(m.dead, DeadStream{Token: token, Conn: p.conn})
		return
	}
	// Neither map knows this token: the caller (e.g. an OutgoingKick for
	// an already-reaped client) is racing the manager's own bookkeeping.
	m.logger.Debug("kick_unknown_token", "token", token, "error", ErrUnknownToken)
}

// checkOutgoing drains every Outgoing command currently queued, without
// blocking.
func (m *Manager) checkOutgoing() {
	for {
		select {
		case out, ok := <-m.outboundRx:
			if !ok {
				metrics.IncError(metrics.ErrChanClosed)
				m.logger.Warn("outbound_channel_closed")
				return
			}
			m.applyOutgoing(out)
		default:
			return
		}
	}
}

func (m *Manager) applyOutgoing(out Outgoing) {
	switch out.Kind {
	case OutgoingBroadcast:
		m.broadcast(out.Payload)
	case OutgoingKick:
		m.kick(out.Token)
	case OutgoingClientInfo:
		m.sendClientInfo(out.Token, out.Info)
	}
}

func (m *Manager) sendClientInfo(token Token, info proto.ClientInfo) {
	c, ok := m.connected[token]
	if !ok {
		return
	}
	payload := proto.EncodeClientInfo(info)
	ok2, err := c.stream.TryWritePrefixed(payload)
	if err != nil {
		metrics.IncError(metrics.ErrConnWrite)
		m.logger.Info("client_info_write_error", "token", token, "error", fmt.Errorf("%w: %v", ErrPeerIO, err))
		m.kick(token)
		return
	}
	if !ok2 {
		// Rare: socket not writable yet on first opportunity. Dropping
		// ClientInfo is safe; the client simply doesn't learn its
		// entity id until the next send succeeds, which in practice
		// means the caller should retry. Kept simple since this path
		// is vanishingly unlikely in practice (freshly accepted socket).
		m.logger.Debug("client_info_deferred", "token", token)
	}
}

// broadcast fans payload out to every connected client, prefixed with
// each client's own last-observed input sequence (spec.md §4.J: "the
// envelope prepends the most recently observed per-client seq").
func (m *Manager) broadcast(payload []byte) {
	metrics.BroadcastFanout.Set(float64(len(m.connected)))
	for token, c := range m.connected {
		framed := make([]byte, 0, len(payload)+1)
		framed = append(framed, c.lastSeq)
		framed = append(framed, payload...)
		c.pendingOut = framed
		m.flushOne(token, c)
	}
}

// flushOne attempts to write a client's pending outbound frame, if any.
func (m *Manager) flushOne(token Token, c *connectedClient) {
	if len(c.pendingOut) == 0 {
		return
	}
	ok, err := c.stream.TryWritePrefixed(c.pendingOut)
	if err != nil {
		metrics.IncError(metrics.ErrConnWrite)
		m.logger.Info("write_error", "token", token, "error", fmt.Errorf("%w: %v", ErrPeerIO, err))
		m.kick(token)
		return
	}
	if ok {
		c.pendingOut = nil
	}
}

// Tick runs one iteration of connection-manager bookkeeping: drains the
// outbound channel, attempts pending header writes and connected
// flushes, promotes validated pending clients, and sweeps expired ones.
// Grounded on internal/server's accept-loop tick cadence, called once
// per invocation of the network I/O loop (spec.md §4.C step 2).
func (m *Manager) Tick() {
	for _, p := range m.pending {
		m.trySendHeader(p)
	}
	for token, c := range m.connected {
		m.flushOne(token, c)
	}
	m.connectValidatedPending()
	m.kickExpiredPending()
	m.checkOutgoing()
}

// CollectDead drains and returns the reaped streams since the last call.
func (m *Manager) CollectDead() []DeadStream {
	d := m.dead
	m.dead = nil
	return d
}

// PendingCount returns the number of clients mid-handshake.
func (m *Manager) PendingCount() int { return len(m.pending) }

// ConnectedCount returns the number of fully handshaken clients.
func (m *Manager) ConnectedCount() int { return len(m.connected) }

// LastSeq returns the most recently observed input sequence for token,
// or 0 if unknown.
func (m *Manager) LastSeq(token Token) uint8 {
	if c, ok := m.connected[token]; ok {
		return c.lastSeq
	}
	return 0
}

