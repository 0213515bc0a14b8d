package gossip

import "github.com/beeactor/fabric/pkg/wire"

// Identifier is the well-known destination identifier reserved for the
// gossip engine on every peer (§4.3, §6).
const Identifier = "gossip"

// Payload identifiers distinguishing the two control messages the gossip
// engine exchanges over Message envelopes.
const (
	PayloadGossipEvent   = "GossipEvent"
	PayloadGossipJoining = "GossipJoining"
)

// Event discriminates a gossip message's subject transition.
type Event string

const (
	EventJoin  Event = "Join"
	EventLeave Event = "Leave"
)

// Message is the payload of a gossip envelope (§3): an event about subject,
// carrying the set of endpoints it has provably reached so far.
type Message struct {
	Event   Event          `cbor:"event"`
	Subject wire.Endpoint  `cbor:"subject"`
	Seen    []wire.Endpoint `cbor:"seen"`
}

// Joining is sent directly (not gossip-disseminated) by an already-Joined
// member to a newly discovered peer, announcing the introducer's current
// member count so the joiner knows when it has caught up (§4.5).
type Joining struct {
	AboutToJoin int `cbor:"about_to_join"`
}
