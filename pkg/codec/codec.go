// Package codec defines the pluggable user-payload serializer abstraction
// (C9, §4.8). The fabric core depends only on this interface; pkg/codec/cbor
// supplies the default implementation.
package codec

// Serializer encodes and decodes user message payloads. Implementations
// must round-trip: Deserialize(Serialize(x)) must reproduce x for every
// type the caller passes to it.
type Serializer interface {
	Serialize(value any) ([]byte, error)
	Deserialize(data []byte, out any) error
}
