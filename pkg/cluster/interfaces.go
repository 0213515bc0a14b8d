package cluster

import "github.com/beeactor/fabric/pkg/wire"

// GossipHandler is the structural interface the gossip engine satisfies.
// The supervisor forwards membership transitions through it without ever
// importing pkg/gossip, reaching it lazily via the C8 singleton registry
// under registry.IdentifierGossip (the same cycle-avoidance pattern the
// gossip engine uses to reach the supervisor under
// registry.IdentifierNetworkInterface).
type GossipHandler interface {
	HandleMemberUp(host wire.Endpoint, seed bool)
	HandleMemberDown(host wire.Endpoint)
}
