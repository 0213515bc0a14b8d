package wire

import (
	"bufio"
	"encoding/binary"
	"io"
)

// MagicPrefix is written once per connection, by both directions, before
// any length-prefixed frame (§6).
const MagicPrefix = "ACTIX/1.0\r\n"

// MaxFrameSize is the largest payload a single frame may carry, a
// consequence of the 16-bit big-endian length field (§6).
const MaxFrameSize = 65535

// Framer reads and writes ClusterMessages over a single TCP stream. Its
// decoder is the three-state automaton from §4.1: ExpectPrefix once, then
// ExpectLength and ExpectBody in a loop.
type Framer struct {
	r *bufio.Reader
	w io.Writer
}

// NewFramer wraps a stream for framed ClusterMessage exchange.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{r: bufio.NewReader(rw), w: rw}
}

// WritePrefix writes the magic prefix. Callers write it exactly once, before
// the first ClusterMessage, in both directions.
func (f *Framer) WritePrefix() error {
	_, err := f.w.Write([]byte(MagicPrefix))
	return err
}

// ReadPrefix reads and validates the magic prefix. A mismatch is a protocol
// error: the caller should drop the connection without further reads.
func (f *Framer) ReadPrefix() error {
	buf := make([]byte, len(MagicPrefix))
	if _, err := io.ReadFull(f.r, buf); err != nil {
		return err
	}
	if string(buf) != MagicPrefix {
		return NewError(CodeProtocolMismatch, "magic prefix mismatch")
	}
	return nil
}

// WriteMessage encodes and writes one length-prefixed ClusterMessage.
func (f *Framer) WriteMessage(m *ClusterMessage) error {
	body, err := m.Marshal()
	if err != nil {
		return err
	}
	if len(body) > MaxFrameSize {
		return NewError(CodeFrameTooLarge, "encoded message exceeds max frame size")
	}

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(body)))
	if _, err := f.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = f.w.Write(body)
	return err
}

// ReadMessage blocks for the next length-prefixed ClusterMessage. Partial
// frames never surface here: bufio.Reader + io.ReadFull resume on the next
// call until a full frame has arrived.
func (f *Framer) ReadMessage() (*ClusterMessage, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(f.r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])

	body := make([]byte, n)
	if _, err := io.ReadFull(f.r, body); err != nil {
		return nil, err
	}

	msg := &ClusterMessage{}
	if err := msg.Unmarshal(body); err != nil {
		return nil, err
	}
	return msg, nil
}
