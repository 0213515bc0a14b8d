package actor

import (
	"context"

	"github.com/beeactor/fabric/pkg/registry"
	"github.com/beeactor/fabric/pkg/wire"
)

// Sender is the structural interface the cluster supervisor satisfies: it
// resolves a RemoteAddress's endpoint to a live connection and writes the
// message there. Defined here rather than imported from pkg/cluster so
// pkg/actor never has to import it (same cycle-avoidance C8 gives pkg/gossip
// and pkg/cluster).
type Sender interface {
	Send(ctx context.Context, to wire.Endpoint, msg *wire.ClusterMessage) error
}

// Send wraps payloadBytes in an envelope addressed to to and hands it to
// the fabric's network interface singleton. source, if non-nil, is carried
// so the receiver's mailbox sees who sent it.
func Send(ctx context.Context, to RemoteAddress, payloadIdentifier string, payloadBytes []byte, source *RemoteAddress) error {
	env := &wire.Envelope{
		Destination:       to.wireAddress(),
		PayloadIdentifier: payloadIdentifier,
		PayloadBytes:      payloadBytes,
	}
	if source != nil {
		src := source.wireAddress()
		env.Source = &src
	}

	sender := registry.FromCustomRegistry[Sender](registry.IdentifierNetworkInterface)
	return sender.Send(ctx, to.Endpoint, wire.NewMessage(env))
}
