// Package wire implements the fabric's frame codec: the magic-prefix
// handshake, length-prefixed framing, and the ClusterMessage tagged union
// carried over every connection, as specified in §4.1/§6.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// CanonicalMode is the deterministic CBOR encoding used for every
// ClusterMessage on the wire: fixed map key order, no surprises between
// what two nodes built from the same struct.
var CanonicalMode cbor.EncMode

func init() {
	var err error
	CanonicalMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to build canonical CBOR mode: %v", err))
	}
}

// Endpoint identifies a cluster member's listening address by value.
type Endpoint struct {
	IP   string `cbor:"ip"`
	Port uint16 `cbor:"port"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// Equal reports whether two endpoints name the same peer.
func (e Endpoint) Equal(o Endpoint) bool {
	return e.IP == o.IP && e.Port == o.Port
}

// Address is the wire representation of a remote address: an endpoint plus
// the identifier of the actor registered there. It carries no connection
// handle; resolving it to a live connection happens at send time.
type Address struct {
	Endpoint   Endpoint `cbor:"endpoint"`
	Identifier string   `cbor:"identifier"`
}

// Envelope is the payload of a Message ClusterMessage: a typed user or
// gossip message addressed to a specific identifier on a specific peer.
type Envelope struct {
	Destination      Address    `cbor:"destination"`
	PayloadIdentifier string    `cbor:"payload_identifier"`
	PayloadBytes     []byte     `cbor:"payload_bytes"`
	Source           *Address   `cbor:"source,omitempty"`
	ConversationID   *uuid.UUID `cbor:"conversation_id,omitempty"`
}

// Kind discriminates the ClusterMessage tagged union.
type Kind uint8

const (
	// KindRequest is sent by the dialer immediately after the magic prefix.
	KindRequest Kind = iota + 1
	// KindResponse is sent by the accepter to acknowledge approval.
	KindResponse
	// KindDecline is sent by the accepter to signal duplicate-connection rejection.
	KindDecline
	// KindMessage carries a user or gossip Envelope.
	KindMessage
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindResponse:
		return "Response"
	case KindDecline:
		return "Decline"
	case KindMessage:
		return "Message"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// RequestBody is the payload of a Request ClusterMessage.
type RequestBody struct {
	ReplyPort uint16 `cbor:"reply_port"`
	IsSeed    bool   `cbor:"is_seed"`
}

// ClusterMessage is the tagged union carried by every frame on the wire:
// Request/Response/Decline during handshake, Message once established.
type ClusterMessage struct {
	Kind     Kind         `cbor:"kind"`
	Request  *RequestBody `cbor:"request,omitempty"`
	Envelope *Envelope    `cbor:"envelope,omitempty"`
}

// NewRequest builds a Request ClusterMessage.
func NewRequest(replyPort uint16, isSeed bool) *ClusterMessage {
	return &ClusterMessage{
		Kind:    KindRequest,
		Request: &RequestBody{ReplyPort: replyPort, IsSeed: isSeed},
	}
}

// NewResponse builds a Response ClusterMessage.
func NewResponse() *ClusterMessage {
	return &ClusterMessage{Kind: KindResponse}
}

// NewDecline builds a Decline ClusterMessage.
func NewDecline() *ClusterMessage {
	return &ClusterMessage{Kind: KindDecline}
}

// NewMessage wraps an Envelope in a Message ClusterMessage.
func NewMessage(env *Envelope) *ClusterMessage {
	return &ClusterMessage{Kind: KindMessage, Envelope: env}
}

// Marshal encodes the message to canonical CBOR bytes.
func (m *ClusterMessage) Marshal() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	return CanonicalMode.Marshal(m)
}

// Unmarshal decodes canonical CBOR bytes into the message.
func (m *ClusterMessage) Unmarshal(data []byte) error {
	if err := cbor.Unmarshal(data, m); err != nil {
		return NewError(CodeDecodeError, fmt.Sprintf("decode cluster message: %v", err))
	}
	return m.validate()
}

func (m *ClusterMessage) validate() error {
	switch m.Kind {
	case KindRequest:
		if m.Request == nil {
			return NewError(CodeDecodeError, "Request message missing request body")
		}
	case KindMessage:
		if m.Envelope == nil {
			return NewError(CodeDecodeError, "Message message missing envelope")
		}
	case KindResponse, KindDecline:
		// no body
	default:
		return NewError(CodeDecodeError, fmt.Sprintf("unknown cluster message kind %d", m.Kind))
	}
	return nil
}
