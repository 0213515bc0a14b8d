package wire

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestClusterMessage_MarshalUnmarshal(t *testing.T) {
	cid := uuid.New()
	cases := []*ClusterMessage{
		NewRequest(9001, true),
		NewResponse(),
		NewDecline(),
		NewMessage(&Envelope{
			Destination:      Address{Endpoint: Endpoint{IP: "127.0.0.1", Port: 9002}, Identifier: "echo"},
			PayloadIdentifier: "Ping",
			PayloadBytes:     []byte{0xa1, 0x61, 0x6e, 0x07},
			Source:           &Address{Endpoint: Endpoint{IP: "127.0.0.1", Port: 9001}, Identifier: "networkinterface"},
			ConversationID:   &cid,
		}),
	}

	for _, original := range cases {
		data, err := original.Marshal()
		if err != nil {
			t.Fatalf("marshal %s: %v", original.Kind, err)
		}

		var decoded ClusterMessage
		if err := decoded.Unmarshal(data); err != nil {
			t.Fatalf("unmarshal %s: %v", original.Kind, err)
		}

		if decoded.Kind != original.Kind {
			t.Errorf("kind mismatch: got %s, want %s", decoded.Kind, original.Kind)
		}

		redata, err := decoded.Marshal()
		if err != nil {
			t.Fatalf("re-marshal %s: %v", original.Kind, err)
		}
		if !bytes.Equal(data, redata) {
			t.Errorf("re-encoding %s is not byte-identical (not canonical)", original.Kind)
		}
	}
}

func TestClusterMessage_RejectsMissingBody(t *testing.T) {
	msg := &ClusterMessage{Kind: KindRequest}
	data, err := msg.Marshal()
	if err == nil {
		t.Fatalf("expected validation error for Request with no body, got data %x", data)
	}

	// A Message with no Envelope decoded from raw bytes should also fail.
	raw, err := CanonicalMode.Marshal(struct {
		Kind Kind `cbor:"kind"`
	}{Kind: KindMessage})
	if err != nil {
		t.Fatalf("build raw bytes: %v", err)
	}
	var decoded ClusterMessage
	if err := decoded.Unmarshal(raw); err == nil {
		t.Error("expected unmarshal to reject a Message with no envelope")
	}
}

func TestClusterMessage_UnknownKindRejected(t *testing.T) {
	raw, err := CanonicalMode.Marshal(struct {
		Kind Kind `cbor:"kind"`
	}{Kind: 99})
	if err != nil {
		t.Fatalf("build raw bytes: %v", err)
	}
	var decoded ClusterMessage
	if err := decoded.Unmarshal(raw); err == nil {
		t.Error("expected unmarshal to reject an unknown kind")
	}
}

func TestEndpoint_Equal(t *testing.T) {
	a := Endpoint{IP: "127.0.0.1", Port: 9001}
	b := Endpoint{IP: "127.0.0.1", Port: 9001}
	c := Endpoint{IP: "127.0.0.1", Port: 9002}

	if !a.Equal(b) {
		t.Error("expected equal endpoints to compare equal")
	}
	if a.Equal(c) {
		t.Error("expected different ports to compare unequal")
	}
}
