// Package actor implements the remote envelope/address layer (C4), the
// event bus (C7), and conversation correlation completing the fabric's
// request/response open question (§9).
package actor

import (
	"github.com/beeactor/fabric/pkg/registry"
	"github.com/beeactor/fabric/pkg/wire"
)

// Representation distinguishes what a RemoteAddress names on its peer.
type Representation uint8

const (
	// RepresentationNetwork names the peer itself, no user actor.
	RepresentationNetwork Representation = iota
	// RepresentationGossip names the well-known gossip engine on that peer.
	RepresentationGossip
	// RepresentationKeyed names a user-registered actor by identifier.
	RepresentationKeyed
)

// RemoteAddress is a value type naming {endpoint, identifier}. It carries
// no connection handle: the peer table is consulted at send time, so a
// RemoteAddress stays valid (and freely cloned) even after its connection
// is gone — sending through it then simply fails rather than reviving a
// stale link (§9 weak-reference redesign).
type RemoteAddress struct {
	Endpoint       wire.Endpoint
	Identifier     string
	Representation Representation
}

// NewRemoteAddress builds a RemoteAddress, deriving its Representation from
// the well-known reserved identifiers.
func NewRemoteAddress(endpoint wire.Endpoint, identifier string) RemoteAddress {
	rep := RepresentationKeyed
	switch identifier {
	case registry.IdentifierNetworkInterface:
		rep = RepresentationNetwork
	case registry.IdentifierGossip:
		rep = RepresentationGossip
	}
	return RemoteAddress{Endpoint: endpoint, Identifier: identifier, Representation: rep}
}

// Equal reports whether two remote addresses name the same peer actor.
func (a RemoteAddress) Equal(o RemoteAddress) bool {
	return a.Endpoint.Equal(o.Endpoint) && a.Identifier == o.Identifier
}

func (a RemoteAddress) wireAddress() wire.Address {
	return wire.Address{Endpoint: a.Endpoint, Identifier: a.Identifier}
}

// fromWireAddress recovers a RemoteAddress from its wire form.
func fromWireAddress(a wire.Address) RemoteAddress {
	return NewRemoteAddress(a.Endpoint, a.Identifier)
}
