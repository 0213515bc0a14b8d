// Package tcp implements the fabric's only wire transport (C10, §4.9):
// hostname resolution plus a bounded-timeout TCP connect, and the matching
// listener for the cluster supervisor's accept loop.
package tcp

import (
	"context"
	"net"
	"time"

	"github.com/beeactor/fabric/pkg/transport"
)

// DefaultDialTimeout is used when Dial is called with a zero timeout.
const DefaultDialTimeout = 1 * time.Second

// Transport implements transport.Transport over plain TCP.
type Transport struct{}

// New creates the TCP transport.
func New() *Transport {
	return &Transport{}
}

// Name returns the transport name.
func (t *Transport) Name() string {
	return "tcp"
}

// Listen binds a TCP listener on addr.
func (t *Transport) Listen(ctx context.Context, addr string) (transport.Listener, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, NewError(CodeResolverFailure, err.Error())
	}

	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, NewError(CodeIO, err.Error())
	}

	return &Listener{listener: listener}, nil
}

// Dial resolves and connects to addr, bounded by timeout (default
// DefaultDialTimeout when zero).
func (t *Transport) Dial(ctx context.Context, addr string, timeout time.Duration) (transport.Conn, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if addr == "" {
		return nil, NewError(CodeInvalidInput, "empty dial address")
	}
	if timeout == 0 {
		timeout = DefaultDialTimeout
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, NewError(CodeTimeout, err.Error())
		}
		return nil, NewError(CodeIO, err.Error())
	}

	return &Conn{conn: conn}, nil
}

// Listener wraps a *net.TCPListener.
type Listener struct {
	listener *net.TCPListener
}

// Accept waits for and returns the next connection.
func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	if deadline, ok := ctx.Deadline(); ok {
		l.listener.SetDeadline(deadline)
	}

	tcpConn, err := l.listener.AcceptTCP()
	if err != nil {
		return nil, NewError(CodeIO, err.Error())
	}
	return &Conn{conn: tcpConn}, nil
}

// Close closes the listener.
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Conn wraps a net.Conn.
type Conn struct {
	conn net.Conn
}

func (c *Conn) Read(b []byte) (int, error)  { return c.conn.Read(b) }
func (c *Conn) Write(b []byte) (int, error) { return c.conn.Write(b) }
func (c *Conn) Close() error                { return c.conn.Close() }
func (c *Conn) LocalAddr() net.Addr         { return c.conn.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr        { return c.conn.RemoteAddr() }

func (c *Conn) SetDeadline(t time.Time) error      { return c.conn.SetDeadline(t) }
func (c *Conn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
