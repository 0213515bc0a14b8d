// Package main wires up a single fabric node: a listener, a gossip
// engine, a cluster supervisor, and an example "echo" actor. Deliberately
// thin — CLI argument parsing polish is out of scope (spec.md §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/beeactor/fabric/pkg/actor"
	"github.com/beeactor/fabric/pkg/cluster"
	"github.com/beeactor/fabric/pkg/codec/cbor"
	"github.com/beeactor/fabric/pkg/gossip"
	"github.com/beeactor/fabric/pkg/registry"
	"github.com/beeactor/fabric/pkg/transport/tcp"
	"github.com/beeactor/fabric/pkg/wire"
)

type seedList []string

func (s *seedList) String() string     { return strings.Join(*s, ",") }
func (s *seedList) Set(v string) error { *s = append(*s, v); return nil }

// echoActor is an example registered mailbox: it logs whatever it receives
// and sends no reply (§8 scenario 3).
type echoActor struct {
	serializer *cbor.Serializer
}

func (e *echoActor) Deliver(env *wire.Envelope) {
	var payload map[string]any
	if err := e.serializer.Deserialize(env.PayloadBytes, &payload); err != nil {
		fmt.Printf("echo: failed to decode payload: %v\n", err)
		return
	}
	fmt.Printf("echo: received %q from %v: %v\n", env.PayloadIdentifier, env.Source, payload)
}

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:9001", "local listen endpoint (ip:port)")
	var seeds seedList
	flag.Var(&seeds, "seed", "seed peer endpoint (ip:port); may be repeated")
	flag.Parse()

	serializer := cbor.New()
	eventBus := actor.NewEventBus()
	eventBus.Subscribe(logSubscriber{})

	sup, err := cluster.New(cluster.Config{
		ListenAddr: *listenAddr,
		Seeds:      seeds,
	}, tcp.New(), serializer, eventBus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fabric-node: %v\n", err)
		os.Exit(1)
	}

	engine := gossip.New(sup.Endpoint(), serializer)
	registry.StartServiceWith(registry.IdentifierGossip, func() *gossip.Engine { return engine })

	if err := registry.Default.Register("echo", &echoActor{serializer: serializer}); err != nil {
		fmt.Fprintf(os.Stderr, "fabric-node: registering echo actor: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fabric-node: starting gossip engine: %v\n", err)
		os.Exit(1)
	}
	if err := sup.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fabric-node: starting cluster supervisor: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("fabric-node: listening on %s\n", *listenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("fabric-node: shutting down")
	engine.Stop()
	sup.Stop()
}

type logSubscriber struct{}

func (logSubscriber) Notify(log actor.ClusterLog) {
	switch log.Kind {
	case actor.NewMemberEvent:
		fmt.Printf("cluster: member up %s\n", log.Endpoint)
	case actor.MemberLeftEvent:
		fmt.Printf("cluster: member down %s\n", log.Endpoint)
	}
}
