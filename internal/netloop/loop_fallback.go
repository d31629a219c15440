//go:build !linux

// Package netloop's non-Linux build uses a plain Accept/sleep loop
// instead of epoll, since golang.org/x/sys/unix's epoll syscalls are
// Linux-only. Readiness is approximated by polling every managed stream
// once per MinTick; correctness is identical (wire.Stream's reads
// already return after a short deadline), only the "sleep until something is likely
// ready" mechanism differs from the Linux build's real epoll_wait.
package netloop

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/izzymg/spellserver/internal/conn"
	"github.com/izzymg/spellserver/internal/logging"
	"github.com/izzymg/spellserver/internal/metrics"
)

const MinTick = 100 * time.Millisecond

type Loop struct {
	ln        *net.TCPListener
	manager   *conn.Manager
	nextToken conn.Token
	tokens    map[conn.Token]net.Conn
}

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
	return &Loop{ln: ln, manager: manager, tokens: make(map[conn.Token]net.Conn)}, nil
}

func (l *Loop) Addr() string { return l.ln.Addr().String() }

func (l *Loop) Close() error { return l.ln.Close() }

func (l *Loop) Run(ctx context.Context) error {
	l.ln.SetDeadline(time.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		l.ln.SetDeadline(time.Now().Add(MinTick))
		c, err := l.ln.Accept()
		if err == nil {
			token := l.mintToken()
			l.tokens[token] = c
			l.manager.ManageStream(token, c, true)
		} else if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
			metrics.IncError(metrics.ErrAccept)
			logging.L().Info("netloop_accept_error", "error", err)
		}

		for token := range l.tokens {
			l.manager.TryRead(token)
		}

		l.manager.Tick()
		l.reapDead()
	}
}

func (l *Loop) reapDead() {
	for _, d := range l.manager.CollectDead() {
		delete(l.tokens, d.Token)
		d.Conn.Close()
	}
}

func (l *Loop) mintToken() conn.Token {
	l.nextToken++
	return l.nextToken
}
