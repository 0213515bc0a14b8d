// Package transport provides the dialer/listener abstraction C10 is built
// on. The fabric names exactly one wire transport (raw TCP, §4.1), so
// unlike the teacher there is no transport registry here — just the
// Conn/Listener shape the rest of the stack programs against.
package transport

import (
	"context"
	"net"
	"time"
)

// Transport opens and accepts connections for one network transport.
type Transport interface {
	Listen(ctx context.Context, addr string) (Listener, error)
	Dial(ctx context.Context, addr string, timeout time.Duration) (Conn, error)
	Name() string
}

// Listener accepts inbound connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() net.Addr
}

// Conn is a connected transport stream.
type Conn interface {
	Read(b []byte) (n int, err error)
	Write(b []byte) (n int, err error)
	Close() error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}
