package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Xyzic/yggdrasil/pkg/protocol/codec"
)

// MaxWireFrame caps a single encoded frame on the wire. Logical messages are
// split well below this; the cap guards readers against corrupt prefixes.
const MaxWireFrame = 1 << 24

// WriteFrame writes one length-prefixed frame (u32 LE) to w.
func WriteFrame(w io.Writer, b []byte) error {
	if len(b) > MaxWireFrame {
		return fmt.Errorf("protocol: frame size %d exceeds cap", len(b))
	}
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := w.Write(lenbuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(r, lenbuf[:]); err != nil {
		return nil, err
	}
	// compare before the int conversion; a huge prefix must not wrap on
	// 32-bit platforms
	n := binary.LittleEndian.Uint32(lenbuf[:])
	if n > MaxWireFrame {
		return nil, fmt.Errorf("protocol: invalid frame size %d", n)
	}
	buf := make([]byte, int(n))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteEnvelope encodes env with c and writes it as one frame.
func WriteEnvelope(w io.Writer, c codec.Codec, env Envelope) error {
	b, err := c.Marshal(&env)
	if err != nil {
		return err
	}
	return WriteFrame(w, b)
}

// ReadEnvelope reads one frame from r and decodes it with c.
func ReadEnvelope(r io.Reader, c codec.Codec) (Envelope, error) {
	b, err := ReadFrame(r)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := c.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	return env, nil
}
