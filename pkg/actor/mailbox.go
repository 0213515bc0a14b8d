package actor

import (
	"github.com/beeactor/fabric/pkg/registry"
	"github.com/beeactor/fabric/pkg/wire"
)

// Mailbox is the interface a local actor implements to receive dispatched
// envelopes. It is identical in shape to registry.Mailbox; the alias saves
// callers an import when all they need is to implement Deliver.
type Mailbox = registry.Mailbox

// ChannelMailbox is a convenience Mailbox that funnels delivered envelopes
// onto a buffered channel, for callers who'd rather range over a channel
// than implement Deliver themselves.
type ChannelMailbox struct {
	C chan *wire.Envelope
}

// NewChannelMailbox creates a ChannelMailbox with the given channel buffer.
func NewChannelMailbox(buffer int) *ChannelMailbox {
	return &ChannelMailbox{C: make(chan *wire.Envelope, buffer)}
}

// Deliver satisfies Mailbox by pushing env onto the channel. It blocks if
// the channel is full; callers needing backpressure-free delivery should
// size the buffer generously or drain promptly.
func (m *ChannelMailbox) Deliver(env *wire.Envelope) {
	m.C <- env
}
