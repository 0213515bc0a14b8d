package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/beeactor/fabric/pkg/actor"
	"github.com/beeactor/fabric/pkg/codec/cbor"
	"github.com/beeactor/fabric/pkg/transport/tcp"
	"github.com/beeactor/fabric/pkg/wire"
)

type fakeSubscriber struct {
	mu   sync.Mutex
	logs []actor.ClusterLog
}

func (f *fakeSubscriber) Notify(log actor.ClusterLog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
}

func (f *fakeSubscriber) snapshot() []actor.ClusterLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]actor.ClusterLog(nil), f.logs...)
}

func newTestSupervisor(t *testing.T, listenAddr string, seeds []string) *Supervisor {
	t.Helper()
	sup, err := New(Config{ListenAddr: listenAddr, Seeds: seeds}, tcp.New(), cbor.New(), actor.NewEventBus())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sup
}

func TestParseEndpoint(t *testing.T) {
	ep, err := parseEndpoint("127.0.0.1:9001")
	if err != nil {
		t.Fatalf("parseEndpoint: %v", err)
	}
	if ep.IP != "127.0.0.1" || ep.Port != 9001 {
		t.Errorf("unexpected endpoint %+v", ep)
	}

	if _, err := parseEndpoint("not-an-address"); err == nil {
		t.Error("expected an error for an unparsable address")
	}
}

func TestNew_InvalidListenAddr(t *testing.T) {
	if _, err := New(Config{ListenAddr: "garbage"}, tcp.New(), cbor.New(), actor.NewEventBus()); err == nil {
		t.Error("expected an error constructing a supervisor with an unparsable listen address")
	}
}

func TestApproveConnection_DeclinesWhenClaimedAlreadyHasHandle(t *testing.T) {
	sup := newTestSupervisor(t, "127.0.0.1:19101", nil)

	claimed := wire.Endpoint{IP: "127.0.0.1", Port: 19102}
	existing := newOutboundConnection(sup, claimed, false)
	sup.peers[claimed] = existing

	observed := wire.Endpoint{IP: "127.0.0.1", Port: 54321}
	incoming := newInboundConnection(sup, nil, observed)
	sup.pending[observed] = incoming

	if sup.approveConnection(claimed, observed, incoming) {
		t.Error("expected the inbound handle to be declined since a handle already claims this endpoint")
	}
	if sup.peers[claimed] != existing {
		t.Error("expected the pre-existing handle to remain the peer table entry")
	}
}

func TestApproveConnection_AcceptsAndRekeys(t *testing.T) {
	sup := newTestSupervisor(t, "127.0.0.1:19103", nil)

	claimed := wire.Endpoint{IP: "127.0.0.1", Port: 19104}
	observed := wire.Endpoint{IP: "127.0.0.1", Port: 54322}
	incoming := newInboundConnection(sup, nil, observed)
	sup.pending[observed] = incoming

	if !sup.approveConnection(claimed, observed, incoming) {
		t.Fatal("expected approval when no handle claims this endpoint yet")
	}
	if sup.peers[claimed] != incoming {
		t.Error("expected the handle to be filed under its claimed endpoint")
	}
	if _, stillPending := sup.pending[observed]; stillPending {
		t.Error("expected the observed-keyed pending entry to be cleared")
	}
}

func TestOnMemberUp_PublishesNewMember(t *testing.T) {
	sup := newTestSupervisor(t, "127.0.0.1:19105", nil)
	sub := &fakeSubscriber{}
	sup.eventBus.Subscribe(sub)

	endpoint := wire.Endpoint{IP: "127.0.0.1", Port: 19106}
	conn := newOutboundConnection(sup, endpoint, true)
	sup.onMemberUp(conn, true)

	logs := sub.snapshot()
	if len(logs) != 1 || logs[0].Kind != actor.NewMemberEvent || !logs[0].Endpoint.Equal(endpoint) {
		t.Errorf("expected one NewMember log for %s, got %+v", endpoint, logs)
	}
}

func TestOnMemberDown_RemovesPeerAndPublishesMemberLeft(t *testing.T) {
	sup := newTestSupervisor(t, "127.0.0.1:19107", nil)
	sub := &fakeSubscriber{}
	sup.eventBus.Subscribe(sub)

	endpoint := wire.Endpoint{IP: "127.0.0.1", Port: 19108}
	sup.peers[endpoint] = newOutboundConnection(sup, endpoint, false)

	sup.onMemberDown(endpoint)

	if _, ok := sup.peers[endpoint]; ok {
		t.Error("expected the peer table entry to be removed")
	}
	logs := sub.snapshot()
	if len(logs) != 1 || logs[0].Kind != actor.MemberLeftEvent {
		t.Errorf("expected one MemberLeft log, got %+v", logs)
	}
}

func TestSend_NoConnectionErrors(t *testing.T) {
	sup := newTestSupervisor(t, "127.0.0.1:19109", nil)
	err := sup.Send(context.Background(), wire.Endpoint{IP: "127.0.0.1", Port: 19199}, wire.NewResponse())
	if err == nil {
		t.Error("expected an error sending to an endpoint with no connection")
	}
}

// TestStart_AcceptsInboundHandshake drives the peer side of the handshake
// by hand over a real loopback socket, exercising the supervisor's real
// accept loop, approval, and Established transition.
func TestStart_AcceptsInboundHandshake(t *testing.T) {
	sup := newTestSupervisor(t, "127.0.0.1:19201", nil)
	sub := &fakeSubscriber{}
	sup.eventBus.Subscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop()

	tp := tcp.New()
	conn, err := tp.Dial(ctx, "127.0.0.1:19201", time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	framer := wire.NewFramer(conn)
	if err := framer.WritePrefix(); err != nil {
		t.Fatalf("WritePrefix: %v", err)
	}
	if err := framer.WriteMessage(wire.NewRequest(19202, false)); err != nil {
		t.Fatalf("WriteMessage Request: %v", err)
	}

	if err := framer.ReadPrefix(); err != nil {
		t.Fatalf("ReadPrefix: %v", err)
	}
	resp, err := framer.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if resp.Kind != wire.KindResponse {
		t.Fatalf("expected Response, got %s", resp.Kind)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sub.snapshot()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	logs := sub.snapshot()
	if len(logs) != 1 || logs[0].Kind != actor.NewMemberEvent {
		t.Fatalf("expected a NewMember publication, got %+v", logs)
	}
	if logs[0].Endpoint.Port != 19202 {
		t.Errorf("expected the member-up endpoint to use the claimed reply port, got %+v", logs[0].Endpoint)
	}
}

// TestStart_DialsSeedAndCompletesHandshake drives the acceptor side of the
// handshake by hand, exercising the supervisor's outbound Dialing path.
func TestStart_DialsSeedAndCompletesHandshake(t *testing.T) {
	tp := tcp.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener, err := tp.Listen(ctx, "127.0.0.1:19301")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer listener.Close()

	sup := newTestSupervisor(t, "127.0.0.1:19302", []string{"127.0.0.1:19301"})
	sub := &fakeSubscriber{}
	sup.eventBus.Subscribe(sub)

	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop()

	peerConn, err := listener.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer peerConn.Close()

	framer := wire.NewFramer(peerConn)
	if err := framer.ReadPrefix(); err != nil {
		t.Fatalf("ReadPrefix: %v", err)
	}
	req, err := framer.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage Request: %v", err)
	}
	if req.Kind != wire.KindRequest || !req.Request.IsSeed {
		t.Fatalf("expected a seed-tagged Request, got %+v", req)
	}
	if err := framer.WritePrefix(); err != nil {
		t.Fatalf("WritePrefix: %v", err)
	}
	if err := framer.WriteMessage(wire.NewResponse()); err != nil {
		t.Fatalf("WriteMessage Response: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sub.snapshot()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	logs := sub.snapshot()
	if len(logs) != 1 || logs[0].Kind != actor.NewMemberEvent {
		t.Fatalf("expected a NewMember publication for the dialed seed, got %+v", logs)
	}
	if !logs[0].Endpoint.Equal(wire.Endpoint{IP: "127.0.0.1", Port: 19301}) {
		t.Errorf("expected the member-up endpoint to be the seed, got %+v", logs[0].Endpoint)
	}
}
