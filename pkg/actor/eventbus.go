package actor

import (
	"sync"

	"github.com/beeactor/fabric/pkg/wire"
)

// ClusterLogKind discriminates event bus notifications (§4.6).
type ClusterLogKind uint8

const (
	// NewMemberEvent fires when the cluster supervisor learns of a new peer.
	NewMemberEvent ClusterLogKind = iota
	// MemberLeftEvent fires when a peer is removed from the peer table.
	MemberLeftEvent
)

// ClusterLog is one event bus notification.
type ClusterLog struct {
	Kind     ClusterLogKind
	Endpoint wire.Endpoint
	Remote   RemoteAddress // set for NewMemberEvent only
}

// Subscriber receives ClusterLog notifications.
type Subscriber interface {
	Notify(log ClusterLog)
}

// EventBus is a simple publish/subscribe fan-out for membership events.
// Delivery is fire-and-forget and ordered per subscriber with respect to
// the order events were published.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers s to receive future notifications.
func (b *EventBus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

// PublishNewMember notifies subscribers that endpoint has joined.
func (b *EventBus) PublishNewMember(endpoint wire.Endpoint, remote RemoteAddress) {
	b.publish(ClusterLog{Kind: NewMemberEvent, Endpoint: endpoint, Remote: remote})
}

// PublishMemberLeft notifies subscribers that endpoint has left.
func (b *EventBus) PublishMemberLeft(endpoint wire.Endpoint) {
	b.publish(ClusterLog{Kind: MemberLeftEvent, Endpoint: endpoint})
}

func (b *EventBus) publish(log ClusterLog) {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, s := range subs {
		s.Notify(log)
	}
}
