package actor

import (
	"context"
	"sync"

	"github.com/beeactor/fabric/pkg/registry"
	"github.com/beeactor/fabric/pkg/wire"
	"github.com/google/uuid"
)

// correlations tracks outstanding Ask calls by conversation id, completing
// the request/response open question (§9) rather than omitting it.
var correlations = struct {
	mu      sync.Mutex
	waiters map[uuid.UUID]chan *wire.Envelope
}{waiters: make(map[uuid.UUID]chan *wire.Envelope)}

// Ask sends a message carrying a fresh conversation id and blocks until a
// reply bearing the same id arrives, or until ctx is done.
func Ask(ctx context.Context, to RemoteAddress, payloadIdentifier string, payloadBytes []byte, from RemoteAddress) (*wire.Envelope, error) {
	id := uuid.New()
	reply := make(chan *wire.Envelope, 1)

	correlations.mu.Lock()
	correlations.waiters[id] = reply
	correlations.mu.Unlock()
	defer func() {
		correlations.mu.Lock()
		delete(correlations.waiters, id)
		correlations.mu.Unlock()
	}()

	source := from.wireAddress()
	env := &wire.Envelope{
		Destination:       to.wireAddress(),
		PayloadIdentifier: payloadIdentifier,
		PayloadBytes:      payloadBytes,
		Source:            &source,
		ConversationID:    &id,
	}

	sender := registry.FromCustomRegistry[Sender](registry.IdentifierNetworkInterface)
	if err := sender.Send(ctx, to.Endpoint, wire.NewMessage(env)); err != nil {
		return nil, err
	}

	select {
	case env := <-reply:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DeliverReply resolves a waiting Ask call if env carries a conversation id
// with a registered waiter. Returns true if it did, in which case the
// caller should skip normal mailbox dispatch for this envelope.
func DeliverReply(env *wire.Envelope) bool {
	if env.ConversationID == nil {
		return false
	}

	correlations.mu.Lock()
	waiter, ok := correlations.waiters[*env.ConversationID]
	correlations.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case waiter <- env:
	default:
	}
	return true
}
