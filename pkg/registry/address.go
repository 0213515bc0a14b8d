// Package registry implements the process-wide address registry (C3, §4.3)
// and the custom singleton registry (C8, §4.7) the rest of the fabric uses
// to reach long-lived components without plumbing handles through every
// constructor.
package registry

import (
	"fmt"
	"sync"

	"github.com/beeactor/fabric/pkg/wire"
)

// Reserved identifiers the fabric itself owns; user code may not register
// a mailbox under either.
const (
	IdentifierNetworkInterface = "networkinterface"
	IdentifierGossip           = "gossip"
)

// Mailbox is the interface a local actor implements to receive dispatched
// envelopes.
type Mailbox interface {
	Deliver(env *wire.Envelope)
}

// AddressRegistry maps identifier strings to local mailboxes and back,
// owned for the lifetime of the registered actor (§3 Registration entry).
type AddressRegistry struct {
	mu        sync.RWMutex
	byID      map[string]Mailbox
	idByValue map[Mailbox]string
}

// New creates an empty address registry.
func New() *AddressRegistry {
	return &AddressRegistry{
		byID:      make(map[string]Mailbox),
		idByValue: make(map[Mailbox]string),
	}
}

// Default is the fabric's process-wide address registry.
var Default = New()

// Register binds identifier to mailbox. Re-registering the same pair is a
// no-op; binding an identifier that is already taken, or a mailbox that is
// already bound under a different identifier, is an error. Neither reserved
// identifier may be claimed this way: "networkinterface" never has a C3
// mailbox at all (the cluster supervisor occupies it only in the C8
// singleton registry), and "gossip" is reserved for the gossip engine's own
// self-registration via RegisterGossip.
func (r *AddressRegistry) Register(identifier string, mailbox Mailbox) error {
	if identifier == IdentifierNetworkInterface {
		return fmt.Errorf("registry: %q is reserved for the cluster supervisor", IdentifierNetworkInterface)
	}
	if identifier == IdentifierGossip {
		return fmt.Errorf("registry: %q is reserved for the gossip engine", IdentifierGossip)
	}
	return r.register(identifier, mailbox)
}

// RegisterGossip binds the gossip engine under the reserved "gossip"
// identifier (§4.3). It is the one caller allowed to use that identifier,
// invoked once from the engine's own Start.
func (r *AddressRegistry) RegisterGossip(mailbox Mailbox) error {
	return r.register(IdentifierGossip, mailbox)
}

func (r *AddressRegistry) register(identifier string, mailbox Mailbox) error {
	if identifier == "" {
		return fmt.Errorf("registry: empty identifier")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[identifier]; ok {
		if existing == mailbox {
			return nil
		}
		return fmt.Errorf("registry: identifier %q already registered", identifier)
	}
	if existingID, ok := r.idByValue[mailbox]; ok && existingID != identifier {
		return fmt.Errorf("registry: mailbox already registered under %q", existingID)
	}

	r.byID[identifier] = mailbox
	r.idByValue[mailbox] = identifier
	return nil
}

// Resolve looks up the mailbox bound to identifier.
func (r *AddressRegistry) Resolve(identifier string) (Mailbox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[identifier]
	return m, ok
}

// Dispatch routes env to the mailbox registered under its destination
// identifier. An unknown identifier is logged and dropped, never fatal
// (§7).
func (r *AddressRegistry) Dispatch(env *wire.Envelope) {
	mailbox, ok := r.Resolve(env.Destination.Identifier)
	if !ok {
		fmt.Printf("registry: dropping envelope for unknown identifier %q\n", env.Destination.Identifier)
		return
	}
	mailbox.Deliver(env)
}
