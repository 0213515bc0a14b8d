// Package cbor provides the fabric's default Serializer, built on canonical
// CBOR the way the teacher's cborcanon package builds its signed frames —
// deterministic key order, self-describing, no schema registration needed.
package cbor

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Serializer implements codec.Serializer using canonical CBOR encoding.
type Serializer struct {
	mode cbor.EncMode
}

// New builds the default serializer.
func New() *Serializer {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec/cbor: failed to build canonical encode mode: %v", err))
	}
	return &Serializer{mode: mode}
}

// Serialize encodes value to canonical CBOR bytes.
func (s *Serializer) Serialize(value any) ([]byte, error) {
	return s.mode.Marshal(value)
}

// Deserialize decodes CBOR bytes into out, which must be a pointer.
func (s *Serializer) Deserialize(data []byte, out any) error {
	return cbor.Unmarshal(data, out)
}

// Default is the package-level instance most callers use directly, in the
// same spirit as the teacher's transport.DefaultRegistry.
var Default = New()
