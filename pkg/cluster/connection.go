package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beeactor/fabric/pkg/transport"
	"github.com/beeactor/fabric/pkg/wire"
)

// ConnState is a connection handle's position in the per-instance state
// machine (§4.2).
type ConnState uint8

const (
	StateDialing ConnState = iota
	StateAwaitingHandshakeOut
	StateAwaitingHandshakeIn
	StateApproving
	StateEstablished
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDialing:
		return "Dialing"
	case StateAwaitingHandshakeOut:
		return "AwaitingHandshake(out)"
	case StateAwaitingHandshakeIn:
		return "AwaitingHandshake(in)"
	case StateApproving:
		return "Approving"
	case StateEstablished:
		return "Established"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Connection is C2: one per-peer TCP link, owning its socket and running
// the handshake and read-loop state machine. Exclusively owned by the
// Supervisor's peer table.
type Connection struct {
	mu sync.Mutex

	sup *Supervisor

	// endpoint is the peer's claimed listen endpoint once known — it
	// becomes the peer table key. observed is the transient key an
	// inbound connection is filed under before its Request frame reveals
	// endpoint (the socket's own remote address, ephemeral port and all).
	endpoint wire.Endpoint
	observed wire.Endpoint
	seed     bool
	outbound bool

	conn   transport.Conn
	framer *wire.Framer
	state  ConnState

	// writeMu serializes writeMessage callers on the framer.
	writeMu sync.Mutex
}

func newOutboundConnection(sup *Supervisor, endpoint wire.Endpoint, seed bool) *Connection {
	return &Connection{
		sup:      sup,
		endpoint: endpoint,
		seed:     seed,
		outbound: true,
		state:    StateDialing,
	}
}

func newInboundConnection(sup *Supervisor, conn transport.Conn, observed wire.Endpoint) *Connection {
	return &Connection{
		sup:      sup,
		observed: observed,
		outbound: false,
		conn:     conn,
		framer:   wire.NewFramer(conn),
		state:    StateAwaitingHandshakeIn,
	}
}

func (c *Connection) getEndpoint() wire.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

func (c *Connection) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State reports the connection's current handshake/lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// writeMessage sends a ClusterMessage over the established socket. The
// underlying framer is not safe for concurrent writers, so sends are
// serialized through this connection's own write lock.
func (c *Connection) writeMessage(msg *wire.ClusterMessage) error {
	c.mu.Lock()
	framer := c.framer
	state := c.state
	c.mu.Unlock()

	if framer == nil || state != StateEstablished {
		return fmt.Errorf("cluster: connection to %s is not established", c.endpoint)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return framer.WriteMessage(msg)
}

func (c *Connection) close() {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
}

// runOutbound drives the Dialing state through handshake completion and,
// on success, the Established read loop. It owns the connection's
// lifetime and only returns once the connection is Closed.
func (c *Connection) runOutbound(ctx context.Context) {
	cfg := c.sup.config

	for attempt := 0; ; attempt++ {
		conn, err := c.sup.transport.Dial(ctx, c.endpoint.String(), cfg.DialTimeout)
		if err != nil {
			if attempt >= cfg.MaxDialRetries {
				c.close()
				c.sup.onMemberDown(c.endpoint)
				return
			}
			select {
			case <-time.After(cfg.DialBackoff):
			case <-ctx.Done():
				c.close()
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.framer = wire.NewFramer(conn)
		c.state = StateAwaitingHandshakeOut
		c.mu.Unlock()

		if err := c.framer.WritePrefix(); err != nil {
			c.close()
			c.sup.onMemberDown(c.endpoint)
			return
		}
		ownPort := c.sup.ownEndpoint.Port
		if err := c.framer.WriteMessage(wire.NewRequest(ownPort, c.seed)); err != nil {
			c.close()
			c.sup.onMemberDown(c.endpoint)
			return
		}

		if err := c.framer.ReadPrefix(); err != nil {
			c.close()
			c.sup.onMemberDown(c.endpoint)
			return
		}
		msg, err := c.framer.ReadMessage()
		if err != nil {
			c.close()
			c.sup.onMemberDown(c.endpoint)
			return
		}

		switch msg.Kind {
		case wire.KindResponse:
			c.setState(StateEstablished)
			c.sup.onMemberUp(c, c.seed)
			c.readLoop(ctx)
		case wire.KindDecline:
			c.close()
		default:
			c.close()
			c.sup.onMemberDown(c.endpoint)
		}
		return
	}
}

// runInbound drives AwaitingHandshake(in) through approval (or decline)
// and, on success, the Established read loop.
func (c *Connection) runInbound(ctx context.Context) {
	if err := c.framer.ReadPrefix(); err != nil {
		c.close()
		return
	}

	msg, err := c.framer.ReadMessage()
	if err != nil || msg.Kind != wire.KindRequest {
		c.close()
		return
	}

	claimed := wire.Endpoint{IP: c.observed.IP, Port: msg.Request.ReplyPort}
	c.setState(StateApproving)

	approved := c.sup.approveConnection(claimed, c.observed, c)
	if !approved {
		c.framer.WritePrefix()
		c.framer.WriteMessage(wire.NewDecline())
		c.close()
		return
	}

	c.mu.Lock()
	c.endpoint = claimed
	c.mu.Unlock()

	if err := c.framer.WritePrefix(); err != nil {
		c.close()
		c.sup.onMemberDown(claimed)
		return
	}
	if err := c.framer.WriteMessage(wire.NewResponse()); err != nil {
		c.close()
		c.sup.onMemberDown(claimed)
		return
	}

	c.setState(StateEstablished)
	c.sup.onMemberUp(c, msg.Request.IsSeed)
	c.readLoop(ctx)
}

// readLoop is the Established state: decode and route Message frames
// until the socket errs or closes.
func (c *Connection) readLoop(ctx context.Context) {
	for {
		msg, err := c.framer.ReadMessage()
		if err != nil {
			endpoint := c.getEndpoint()
			c.close()
			c.sup.onMemberDown(endpoint)
			return
		}
		if msg.Kind != wire.KindMessage || msg.Envelope == nil {
			continue
		}
		c.sup.routeEnvelope(msg.Envelope)
	}
}
