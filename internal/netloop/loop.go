//go:build linux

// Package netloop implements the single-threaded network I/O loop
// described in spec.md §4.C: one goroutine owns the listener and every
// managed peer socket, blocking in a single poll syscall between ticks
// rather than busy-spinning or handing sockets to per-connection
// goroutines.
//
// Grounded on internal/socketcan/device.go's raw-fd unix.Socket/Bind/Read
// usage (same golang.org/x/sys/unix dependency, repurposed here for
// epoll readiness rather than CAN framing) and on internal/server.Server's
// accept-loop shape (internal/server/server.go), generalized from
// goroutine-per-connection to a single poller thread per spec.md §5.
package netloop

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/izzymg/spellserver/internal/conn"
	"github.com/izzymg/spellserver/internal/logging"
	"github.com/izzymg/spellserver/internal/metrics"
)

// MinTick bounds how long a single epoll_wait call may block, so the
// loop still notices new listener backlog and expired pending clients
// even with zero socket activity (spec.md §4.C: "MIN_TICK=100ms").
const MinTick = 100 * time.Millisecond

// Loop owns the listener, the epoll instance and the fd->token table.
// None of its state is touched from any other goroutine.
type Loop struct {
	ln      *net.TCPListener
	lnFd    int
	epfd    int
	manager *conn.Manager

	mu       sync.Mutex // guards nextToken only; minted from Run's own goroutine in practice
	nextToken conn.Token
	fdToken  map[int]conn.Token
	tokenFd  map[conn.Token]int
	tokenNC  map[conn.Token]net.Conn
}

// New creates a Loop bound to addr (":0" for an ephemeral port), feeding
// connection lifecycle events through manager.
func New(addr string, manager *conn.Manager) (*Loop, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("netloop: resolve %q: %w", addr, err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		metrics.IncError(metrics.ErrListen)
		return nil, fmt.Errorf("netloop: listen %q: %w", addr, err)
	}
	lnFd, err := fdOf(ln)
	if err != nil {
		ln.Close()
		return nil, err
	}
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("netloop: epoll_create1: %w", err)
	}
	l := &Loop{
		ln:      ln,
		lnFd:    lnFd,
		epfd:    epfd,
		manager: manager,
		fdToken: make(map[int]conn.Token),
		tokenFd: make(map[conn.Token]int),
		tokenNC: make(map[conn.Token]net.Conn),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, lnFd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(lnFd)}); err != nil {
		ln.Close()
		unix.Close(epfd)
		return nil, fmt.Errorf("netloop: epoll_ctl add listener: %w", err)
	}
	return l, nil
}

// Addr returns the bound listener address (useful when addr was ":0").
func (l *Loop) Addr() string { return l.ln.Addr().String() }

// Close releases the epoll instance and listener socket.
func (l *Loop) Close() error {
	unix.Close(l.epfd)
	return l.ln.Close()
}

// Run blocks, servicing the listener and managed peers until ctx is
// cancelled. It is the single thread referenced throughout spec.md §4.C:
// every socket read, write and poll happens here and nowhere else.
func (l *Loop) Run(ctx context.Context) error {
	events := make([]unix.EpollEvent, 64)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := unix.EpollWait(l.epfd, events, int(MinTick/time.Millisecond))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("netloop: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == l.lnFd {
				l.acceptAll()
				continue
			}
			if token, ok := l.fdToken[fd]; ok {
				l.manager.TryRead(token)
			}
		}

		l.manager.Tick()
		l.reapDead()
	}
}

func (l *Loop) acceptAll() {
	// Go's Accept waits for the next connection; a short deadline turns
	// an empty backlog into a timeout so the loop is not stalled.
	_ = l.ln.SetDeadline(time.Now().Add(time.Millisecond))
	for {
		c, err := l.ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return
			}
			// Any other accept error is counted and the loop moves on.
			metrics.IncError(metrics.ErrAccept)
			return
		}
		fd, err := fdOf(c)
		if err != nil {
			logging.L().Info("netloop_fd_lookup_failed", "error", err)
			c.Close()
			continue
		}
		token := l.mintToken()
		l.fdToken[fd] = token
		l.tokenFd[token] = fd
		l.tokenNC[token] = c
		if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}); err != nil {
			logging.L().Info("netloop_epoll_add_failed", "error", err)
			delete(l.fdToken, fd)
			delete(l.tokenFd, token)
			delete(l.tokenNC, token)
			c.Close()
			continue
		}
		l.manager.ManageStream(token, c, true)
	}
}

func (l *Loop) reapDead() {
	for _, d := range l.manager.CollectDead() {
		if fd, ok := l.tokenFd[d.Token]; ok {
			unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
			delete(l.fdToken, fd)
			delete(l.tokenFd, d.Token)
			delete(l.tokenNC, d.Token)
		}
		d.Conn.Close()
	}
}

func (l *Loop) mintToken() conn.Token {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextToken++
	return l.nextToken
}

// fdOf extracts the raw file descriptor backing a net.Conn/net.Listener
// without duplicating it (unlike (*os.File).Fd() via .File(), which
// would put the original into blocking mode). Grounded on the raw-fd
// handling style of internal/socketcan/device.go.
func fdOf(v any) (int, error) {
	sc, ok := v.(syscall.Conn)
	if !ok {
		return 0, fmt.Errorf("netloop: %T does not support SyscallConn", v)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("netloop: syscall conn: %w", err)
	}
	var fd int
	ctrlErr := rc.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return 0, fmt.Errorf("netloop: control: %w", ctrlErr)
	}
	return fd, nil
}
