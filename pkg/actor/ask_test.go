package actor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/beeactor/fabric/pkg/registry"
	"github.com/beeactor/fabric/pkg/wire"
	"github.com/google/uuid"
)

// fakeSender records sent messages and optionally loops a synthetic reply
// back through DeliverReply, simulating a peer's response arriving. The
// singleton registry only ever constructs one network-interface instance
// per process, so tests share this one and reconfigure its behavior rather
// than re-registering.
type fakeSender struct {
	mu    sync.Mutex
	sent  []*wire.ClusterMessage
	reply func(env *wire.Envelope)
}

func (s *fakeSender) Send(ctx context.Context, to wire.Endpoint, msg *wire.ClusterMessage) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	reply := s.reply
	s.mu.Unlock()

	if reply != nil && msg.Envelope != nil {
		reply(msg.Envelope)
	}
	return nil
}

func (s *fakeSender) configure(reply func(env *wire.Envelope)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
	s.reply = reply
}

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

var sharedTestSender = registry.StartServiceWith(registry.IdentifierNetworkInterface, func() Sender {
	return &fakeSender{}
}).(*fakeSender)

func TestDeliverReply_ResolvesWaiter(t *testing.T) {
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

	env := &wire.Envelope{ConversationID: &id, PayloadIdentifier: "Pong"}
	if !DeliverReply(env) {
		t.Fatal("expected DeliverReply to find the registered waiter")
	}

	select {
	case got := <-reply:
		if got != env {
			t.Errorf("expected the exact envelope delivered to the waiter")
		}
	default:
		t.Fatal("expected the envelope to be queued on the reply channel")
	}
}

func TestDeliverReply_UnknownConversationIDReturnsFalse(t *testing.T) {
	id := uuid.New()
	env := &wire.Envelope{ConversationID: &id}
	if DeliverReply(env) {
		t.Error("expected DeliverReply to report no waiter for an unregistered id")
	}
}

func TestDeliverReply_NoConversationIDReturnsFalse(t *testing.T) {
	env := &wire.Envelope{}
	if DeliverReply(env) {
		t.Error("expected DeliverReply to report false for an envelope with no conversation id")
	}
}

func TestAsk_ResolvesOnMatchingReply(t *testing.T) {
	sharedTestSender.configure(func(env *wire.Envelope) {
		go DeliverReply(&wire.Envelope{ConversationID: env.ConversationID, PayloadIdentifier: "Pong"})
	})

	to := NewRemoteAddress(wire.Endpoint{IP: "127.0.0.1", Port: 9002}, "echo")
	from := NewRemoteAddress(wire.Endpoint{IP: "127.0.0.1", Port: 9001}, registry.IdentifierNetworkInterface)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := Ask(ctx, to, "Ping", []byte{7}, from)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if reply.PayloadIdentifier != "Pong" {
		t.Errorf("expected Pong reply, got %+v", reply)
	}
	if sharedTestSender.sentCount() != 1 {
		t.Errorf("expected exactly one message sent, got %d", sharedTestSender.sentCount())
	}
}

func TestAsk_TimesOutWithoutReply(t *testing.T) {
	sharedTestSender.configure(nil)

	to := NewRemoteAddress(wire.Endpoint{IP: "127.0.0.1", Port: 9002}, "echo")
	from := NewRemoteAddress(wire.Endpoint{IP: "127.0.0.1", Port: 9001}, registry.IdentifierNetworkInterface)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Ask(ctx, to, "Ping", []byte{7}, from)
	if err == nil {
		t.Fatal("expected Ask to time out when no reply arrives")
	}
}
