// Package cluster implements the cluster membership and connection
// manager (C5) and its per-peer connection handles (C2): listener bind,
// seed dial fan-out, the handshake/arbitration state machine, and routing
// of inbound envelopes to a waiting Ask call or the address registry
// (where the gossip engine is registered too). Grounded on the original's cluster.rs and
// cluster/connector/single_seed.rs.
package cluster

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/beeactor/fabric/pkg/actor"
	"github.com/beeactor/fabric/pkg/codec"
	"github.com/beeactor/fabric/pkg/registry"
	"github.com/beeactor/fabric/pkg/transport"
	"github.com/beeactor/fabric/pkg/wire"
)

// Supervisor is C5: the cluster membership and connection manager. It owns
// the listener, the peer table, and the configured seed list, and is
// registered as the process-wide network interface singleton (C8) under
// registry.IdentifierNetworkInterface — the address gossip and actor.Send
// reach it through.
type Supervisor struct {
	mu sync.Mutex

	config      Config
	transport   transport.Transport
	serializer  codec.Serializer
	eventBus    *actor.EventBus
	ownEndpoint wire.Endpoint

	listener transport.Listener

	// peers holds handles keyed by a peer's claimed listen endpoint —
	// Dialing handles we created ourselves, and Established handles once
	// an inbound connection's Request has been approved.
	peers map[wire.Endpoint]*Connection
	// pending holds inbound handles keyed by the accepted socket's own
	// (ephemeral) remote address, before their Request frame reveals the
	// peer's real listen endpoint.
	pending map[wire.Endpoint]*Connection

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Supervisor for config. The listen address must parse as
// host:port; construction fails otherwise, per §4.4's "fatal if bind
// fails" — an unparsable listen address can never bind.
func New(config Config, tp transport.Transport, serializer codec.Serializer, eventBus *actor.EventBus) (*Supervisor, error) {
	cfg := config.withDefaults()
	own, err := parseEndpoint(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("cluster: invalid listen address %q: %w", cfg.ListenAddr, err)
	}

	return &Supervisor{
		config:      cfg,
		transport:   tp,
		serializer:  serializer,
		eventBus:    eventBus,
		ownEndpoint: own,
		peers:       make(map[wire.Endpoint]*Connection),
		pending:     make(map[wire.Endpoint]*Connection),
	}, nil
}

// Endpoint returns the supervisor's own listen endpoint.
func (s *Supervisor) Endpoint() wire.Endpoint {
	return s.ownEndpoint
}

// Start registers the supervisor as the network interface singleton,
// binds the listener, and dials every configured seed (§4.4).
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return fmt.Errorf("cluster: supervisor already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	registry.StartServiceWith(registry.IdentifierNetworkInterface, func() *Supervisor { return s })

	seedEndpoints := make([]wire.Endpoint, len(s.config.Seeds))
	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		listener, err := s.transport.Listen(gctx, s.config.ListenAddr)
		if err != nil {
			return fmt.Errorf("cluster: listen: %w", err)
		}
		s.listener = listener
		return nil
	})
	for i, seedAddr := range s.config.Seeds {
		i, seedAddr := i, seedAddr
		g.Go(func() error {
			ep, err := parseEndpoint(seedAddr)
			if err != nil {
				return fmt.Errorf("cluster: invalid seed %q: %w", seedAddr, err)
			}
			seedEndpoints[i] = ep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.cancel()
		return err
	}

	s.wg.Add(1)
	go s.acceptLoop()

	for _, ep := range seedEndpoints {
		s.spawnOutbound(ep, true)
	}
	return nil
}

// Stop cancels the supervisor's context, closes the listener and every
// connection handle in the peer and pending tables, and waits for their
// goroutines to finish.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	listener := s.listener
	conns := make([]*Connection, 0, len(s.peers)+len(s.pending))
	for _, c := range s.peers {
		conns = append(conns, c)
	}
	for _, c := range s.pending {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()
	return nil
}

func (s *Supervisor) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			fmt.Printf("cluster: accept error: %v\n", err)
			continue
		}

		observed, err := parseNetAddr(conn.RemoteAddr())
		if err != nil {
			conn.Close()
			continue
		}

		handle := newInboundConnection(s, conn, observed)
		s.mu.Lock()
		s.pending[observed] = handle
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handle.runInbound(s.ctx)
		}()
	}
}

// spawnOutbound creates a Dialing handle for endpoint if one doesn't
// already exist, and runs its handshake/read loop in the background.
func (s *Supervisor) spawnOutbound(endpoint wire.Endpoint, seed bool) {
	s.mu.Lock()
	if _, exists := s.peers[endpoint]; exists {
		s.mu.Unlock()
		return
	}
	conn := newOutboundConnection(s, endpoint, seed)
	s.peers[endpoint] = conn
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		conn.runOutbound(s.ctx)
	}()
}

// RequestDial satisfies gossip.DialRequester: the gossip engine asks the
// supervisor to dial a peer it learned of transitively (§4.5).
func (s *Supervisor) RequestDial(endpoint wire.Endpoint) {
	s.spawnOutbound(endpoint, false)
}

// Send satisfies actor.Sender and gossip.Sender: write msg to the
// established connection for to, failing if none exists (§9 weak
// reference — a stale RemoteAddress simply fails to send).
func (s *Supervisor) Send(ctx context.Context, to wire.Endpoint, msg *wire.ClusterMessage) error {
	s.mu.Lock()
	conn, ok := s.peers[to]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("cluster: no connection to %s", to)
	}
	return conn.writeMessage(msg)
}

// approveConnection implements the §4.2 duplicate-connection arbitration:
// an inbound handle's claimed listen endpoint wins unless a handle is
// already established (or dialing) for that same endpoint, in which case
// the inbound side is declined.
func (s *Supervisor) approveConnection(claimed, observed wire.Endpoint, handle *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, observed)

	if existing, ok := s.peers[claimed]; ok && existing != handle {
		return false
	}
	if existing, ok := s.peers[observed]; ok && existing != handle {
		delete(s.peers, observed)
	}
	s.peers[claimed] = handle
	return true
}

// onMemberUp forwards a newly established connection to the gossip engine
// and publishes NewMember on the event bus (§4.4).
func (s *Supervisor) onMemberUp(conn *Connection, seed bool) {
	endpoint := conn.getEndpoint()

	if gh, ok := registry.Lookup[GossipHandler](registry.IdentifierGossip); ok {
		gh.HandleMemberUp(endpoint, seed)
	}

	remote := actor.NewRemoteAddress(endpoint, registry.IdentifierNetworkInterface)
	s.eventBus.PublishNewMember(endpoint, remote)
}

// onMemberDown removes endpoint from the peer table and notifies gossip
// and the event bus (§4.4).
func (s *Supervisor) onMemberDown(endpoint wire.Endpoint) {
	var zero wire.Endpoint
	if endpoint == zero {
		return
	}

	s.mu.Lock()
	delete(s.peers, endpoint)
	s.mu.Unlock()

	if gh, ok := registry.Lookup[GossipHandler](registry.IdentifierGossip); ok {
		gh.HandleMemberDown(endpoint)
	}
	s.eventBus.PublishMemberLeft(endpoint)
}

// routeEnvelope dispatches an inbound Message envelope. A reply to an
// outstanding Ask is resolved directly (§9's conversation-id
// completion); everything else goes to the address registry, which
// resolves to either the gossip engine (registered under "gossip") or a
// user-registered mailbox, per §4's data-flow.
func (s *Supervisor) routeEnvelope(env *wire.Envelope) {
	if actor.DeliverReply(env) {
		return
	}
	registry.Default.Dispatch(env)
}

func parseEndpoint(addr string) (wire.Endpoint, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return wire.Endpoint{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return wire.Endpoint{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return wire.Endpoint{IP: host, Port: uint16(port)}, nil
}

func parseNetAddr(addr net.Addr) (wire.Endpoint, error) {
	return parseEndpoint(addr.String())
}
