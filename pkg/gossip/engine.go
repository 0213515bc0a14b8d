// Package gossip implements the epidemic dissemination engine (C6, §4.5):
// join/leave events propagate with a seen-set that converges, and a
// Lonely/Joining/Joined state machine tracks the local node's own
// onboarding. Grounded on the original's cluster/connector/gossip.rs.
package gossip

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/beeactor/fabric/pkg/codec"
	"github.com/beeactor/fabric/pkg/registry"
	"github.com/beeactor/fabric/pkg/wire"
)

// State is the gossip engine's own onboarding state machine (§3).
type State uint8

const (
	StateLonely State = iota
	StateJoining
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateLonely:
		return "Lonely"
	case StateJoining:
		return "Joining"
	case StateJoined:
		return "Joined"
	default:
		return "Unknown"
	}
}

// fanout is how many peers a single dissemination round reaches (§4.5).
const fanout = 3

// Sender transmits a ClusterMessage to a peer's listening endpoint. The
// cluster supervisor satisfies this; the gossip engine reaches it lazily
// through the C8 singleton registry rather than holding a reference, so
// construction order between the two packages doesn't matter.
type Sender interface {
	Send(ctx context.Context, to wire.Endpoint, msg *wire.ClusterMessage) error
}

// DialRequester asks the cluster supervisor to dial a newly gossiped peer.
type DialRequester interface {
	RequestDial(endpoint wire.Endpoint)
}

// Engine is the C6 gossip engine: a process-wide singleton addressable
// under the well-known identifier "gossip".
type Engine struct {
	mu sync.RWMutex

	own          wire.Endpoint
	members      map[wire.Endpoint]struct{}
	waitingToAdd map[wire.Endpoint]struct{}
	state        State
	aboutToJoin  int
	buffered     []*Message

	serializer codec.Serializer

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a gossip engine for the local node's own endpoint.
func New(own wire.Endpoint, serializer codec.Serializer) *Engine {
	return &Engine{
		own:          own,
		members:      make(map[wire.Endpoint]struct{}),
		waitingToAdd: make(map[wire.Endpoint]struct{}),
		state:        StateLonely,
		serializer:   serializer,
	}
}

// Start records the engine's lifecycle context and self-registers under the
// reserved "gossip" identifier (§4.3), the one caller RegisterGossip
// accepts. The engine is purely event-triggered (no periodic heartbeat), so
// unlike a probe-style actor it has no background loop to spawn.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.ctx != nil {
		e.mu.Unlock()
		return fmt.Errorf("gossip: already started")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	return registry.Default.RegisterGossip(e)
}

// Stop tears down the engine.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	return nil
}

// State returns the engine's current onboarding state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Members returns a snapshot of the known membership set.
func (e *Engine) Members() []wire.Endpoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]wire.Endpoint, 0, len(e.members))
	for ep := range e.members {
		out = append(out, ep)
	}
	return out
}

// Deliver satisfies registry.Mailbox: the gossip engine registers itself
// under the reserved "gossip" identifier (§4.3) and receives both gossip
// events and direct joining announcements through the same address.
func (e *Engine) Deliver(env *wire.Envelope) {
	if err := e.HandleGossipEnvelope(env); err != nil {
		fmt.Printf("gossip: dropping envelope: %v\n", err)
	}
}

// HandleGossipEnvelope decodes and routes an incoming gossip envelope by
// its payload identifier.
func (e *Engine) HandleGossipEnvelope(env *wire.Envelope) error {
	switch env.PayloadIdentifier {
	case PayloadGossipEvent:
		var msg Message
		if err := e.serializer.Deserialize(env.PayloadBytes, &msg); err != nil {
			return fmt.Errorf("gossip: decode GossipEvent: %w", err)
		}

		e.mu.Lock()
		if e.state == StateJoining {
			e.buffered = append(e.buffered, &msg)
			e.mu.Unlock()
			return nil
		}
		e.mu.Unlock()

		e.handleGossipMessage(&msg)
		return nil

	case PayloadGossipJoining:
		var j Joining
		if err := e.serializer.Deserialize(env.PayloadBytes, &j); err != nil {
			return fmt.Errorf("gossip: decode GossipJoining: %w", err)
		}
		e.applyJoining(j.AboutToJoin)
		return nil

	default:
		return fmt.Errorf("unknown gossip payload identifier %q", env.PayloadIdentifier)
	}
}

// HandleMemberUp is called by the cluster supervisor whenever a peer
// appears in its peer table, tagged with whether it was dialed as a
// configured seed (§4.4, §4.5).
func (e *Engine) HandleMemberUp(host wire.Endpoint, seed bool) {
	e.mu.Lock()
	e.members[host] = struct{}{}
	_, wasWaiting := e.waitingToAdd[host]
	if wasWaiting {
		delete(e.waitingToAdd, host)
	}
	state := e.state
	memberCount := len(e.members)
	aboutToJoin := e.aboutToJoin
	e.mu.Unlock()

	if wasWaiting {
		// We dialed this peer ourselves in response to a gossip Join
		// event; that event's own re-dissemination already covers it.
		return
	}

	switch state {
	case StateLonely:
		e.mu.Lock()
		if seed {
			e.state = StateJoining
		} else {
			e.state = StateJoined
		}
		e.mu.Unlock()
	case StateJoining:
		if memberCount == aboutToJoin {
			e.transitionToJoined()
		}
	case StateJoined:
		e.sendJoining(host, memberCount)
		e.igniteMemberUp(host)
	}
}

// HandleMemberDown is called by the cluster supervisor when a peer is
// removed from the peer table.
func (e *Engine) HandleMemberDown(host wire.Endpoint) {
	e.mu.Lock()
	delete(e.members, host)
	e.mu.Unlock()

	e.igniteMemberDown(host)
}

// NodeResolving answers a resolution query: filters out the local endpoint
// and fails if any requested endpoint is not a known member (§4.5).
func (e *Engine) NodeResolving(endpoints []wire.Endpoint) ([]wire.Endpoint, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]wire.Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.Equal(e.own) {
			continue
		}
		if _, ok := e.members[ep]; !ok {
			return nil, fmt.Errorf("gossip: endpoint %s is not a known member", ep)
		}
		out = append(out, ep)
	}
	return out, nil
}

func (e *Engine) applyJoining(aboutToJoin int) {
	e.mu.Lock()
	e.aboutToJoin = aboutToJoin
	e.mu.Unlock()
	e.transitionToJoined()
}

// transitionToJoined moves Joining -> Joined once membership size reaches
// aboutToJoin, replaying any gossip messages buffered while joining.
func (e *Engine) transitionToJoined() {
	e.mu.Lock()
	if e.state != StateJoining || len(e.members) != e.aboutToJoin {
		e.mu.Unlock()
		return
	}
	e.state = StateJoined
	buffered := e.buffered
	e.buffered = nil
	e.mu.Unlock()

	for _, msg := range buffered {
		e.handleGossipMessage(msg)
	}
}

func (e *Engine) igniteMemberUp(subject wire.Endpoint) {
	e.gossipMemberEvent(subject, EventJoin, map[wire.Endpoint]struct{}{e.own: {}})
}

func (e *Engine) igniteMemberDown(subject wire.Endpoint) {
	e.gossipMemberEvent(subject, EventLeave, map[wire.Endpoint]struct{}{e.own: {}})
}

// handleGossipMessage implements the receipt-side convergence logic (§4.5).
func (e *Engine) handleGossipMessage(msg *Message) {
	seen := toSet(msg.Seen)

	e.mu.RLock()
	allSeen := e.isAllSeen(seen)
	_, locallyKnown := e.members[msg.Subject]
	e.mu.RUnlock()

	switch msg.Event {
	case EventJoin:
		if locallyKnown && allSeen {
			return // convergence: every known member has seen this already
		}
		if !locallyKnown {
			seen[e.own] = struct{}{}
			e.requestDial(msg.Subject)
			e.mu.Lock()
			e.waitingToAdd[msg.Subject] = struct{}{}
			e.mu.Unlock()
		} else {
			seen[e.own] = struct{}{}
		}
	case EventLeave:
		if !locallyKnown && allSeen {
			return
		}
		if locallyKnown {
			seen[e.own] = struct{}{}
			e.mu.Lock()
			delete(e.members, msg.Subject)
			e.mu.Unlock()
		}
	}

	e.gossipMemberEvent(msg.Subject, msg.Event, seen)
}

// gossipMemberEvent disseminates event about subject to up to fanout random
// peers not already in seen.
func (e *Engine) gossipMemberEvent(subject wire.Endpoint, event Event, seen map[wire.Endpoint]struct{}) {
	targets := e.chooseRandomMembers(seen, fanout)
	if len(targets) == 0 {
		return
	}

	msg := &Message{Event: event, Subject: subject, Seen: fromSet(seen)}
	payload, err := e.serializer.Serialize(msg)
	if err != nil {
		fmt.Printf("gossip: failed to encode gossip message: %v\n", err)
		return
	}

	sender, ok := e.lookupSender()
	if !ok {
		return
	}
	for _, target := range targets {
		env := &wire.Envelope{
			Destination:       wire.Address{Endpoint: target, Identifier: Identifier},
			PayloadIdentifier: PayloadGossipEvent,
			PayloadBytes:      payload,
		}
		if err := sender.Send(e.sendCtx(), target, wire.NewMessage(env)); err != nil {
			fmt.Printf("gossip: failed to send to %s: %v\n", target, err)
		}
	}
}

func (e *Engine) sendJoining(to wire.Endpoint, aboutToJoin int) {
	msg := &Joining{AboutToJoin: aboutToJoin}
	payload, err := e.serializer.Serialize(msg)
	if err != nil {
		fmt.Printf("gossip: failed to encode joining message: %v\n", err)
		return
	}

	sender, ok := e.lookupSender()
	if !ok {
		return
	}
	env := &wire.Envelope{
		Destination:       wire.Address{Endpoint: to, Identifier: Identifier},
		PayloadIdentifier: PayloadGossipJoining,
		PayloadBytes:      payload,
	}
	if err := sender.Send(e.sendCtx(), to, wire.NewMessage(env)); err != nil {
		fmt.Printf("gossip: failed to send joining announcement to %s: %v\n", to, err)
	}
}

func (e *Engine) requestDial(endpoint wire.Endpoint) {
	dialer, ok := registry.Lookup[DialRequester](registry.IdentifierNetworkInterface)
	if !ok {
		return
	}
	dialer.RequestDial(endpoint)
}

func (e *Engine) lookupSender() (Sender, bool) {
	return registry.Lookup[Sender](registry.IdentifierNetworkInterface)
}

func (e *Engine) sendCtx() context.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.ctx != nil {
		return e.ctx
	}
	return context.Background()
}

// chooseRandomMembers picks up to amount endpoints from the membership set,
// uniformly at random without replacement, excluding everything in seen.
func (e *Engine) chooseRandomMembers(seen map[wire.Endpoint]struct{}, amount int) []wire.Endpoint {
	e.mu.RLock()
	candidates := make([]wire.Endpoint, 0, len(e.members))
	for ep := range e.members {
		if _, skip := seen[ep]; skip {
			continue
		}
		candidates = append(candidates, ep)
	}
	e.mu.RUnlock()

	shuffle(candidates)
	if len(candidates) > amount {
		candidates = candidates[:amount]
	}
	return candidates
}

// isAllSeen reports whether every known member is already in seen.
func (e *Engine) isAllSeen(seen map[wire.Endpoint]struct{}) bool {
	for ep := range e.members {
		if _, ok := seen[ep]; !ok {
			return false
		}
	}
	return true
}

func shuffle(s []wire.Endpoint) {
	for i := len(s) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			continue
		}
		j := jBig.Int64()
		s[i], s[j] = s[j], s[i]
	}
}

func toSet(endpoints []wire.Endpoint) map[wire.Endpoint]struct{} {
	set := make(map[wire.Endpoint]struct{}, len(endpoints))
	for _, ep := range endpoints {
		set[ep] = struct{}{}
	}
	return set
}

func fromSet(set map[wire.Endpoint]struct{}) []wire.Endpoint {
	out := make([]wire.Endpoint, 0, len(set))
	for ep := range set {
		out = append(out, ep)
	}
	return out
}
