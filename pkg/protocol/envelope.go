// Package protocol defines the envelope format carried by wire-backed
// channels: multipart splitting for payloads above a frame cap, ordered
// reassembly, and the end-of-stream notification a closing sender emits.
package protocol

import (
	"fmt"

	"github.com/google/uuid"
)

// Envelope is one wire frame. A logical message maps to one envelope when it
// fits under the frame cap, or to Total sequenced envelopes sharing an ID
// when it does not. Two control envelopes carry no message: an EOF envelope
// announces that the sender is done, and a Hello envelope announces a fresh
// endpoint on media that stay invisible until first write (receivers discard
// it).
type Envelope struct {
	ID      string `json:"id" cbor:"id"`
	Seq     uint32 `json:"seq" cbor:"seq"`
	Total   uint32 `json:"total" cbor:"total"`
	EOF     bool   `json:"eof,omitempty" cbor:"eof,omitempty"`
	Hello   bool   `json:"hello,omitempty" cbor:"hello,omitempty"`
	Payload []byte `json:"payload,omitempty" cbor:"payload,omitempty"`
}

// Split cuts msg into sequenced envelopes of at most max payload bytes each.
// A message that fits (or max <= 0, meaning uncapped) yields exactly one
// envelope; a zero-length message still yields one, so receivers observe it.
func Split(msg []byte, max int) []Envelope {
	id := uuid.NewString()
	if max <= 0 || len(msg) <= max {
		return []Envelope{{ID: id, Seq: 0, Total: 1, Payload: msg}}
	}
	n := (len(msg) + max - 1) / max
	out := make([]Envelope, 0, n)
	for i := 0; i < n; i++ {
		lo := i * max
		hi := lo + max
		if hi > len(msg) {
			hi = len(msg)
		}
		out = append(out, Envelope{ID: id, Seq: uint32(i), Total: uint32(n), Payload: msg[lo:hi]})
	}
	return out
}

// NewEOF returns the end-of-stream envelope.
func NewEOF() Envelope {
	return Envelope{ID: uuid.NewString(), Seq: 0, Total: 1, EOF: true}
}

// NewHello returns the greeting envelope a connecting endpoint writes first.
// It is never handed to an Assembler; receivers drop it on sight.
func NewHello() Envelope {
	return Envelope{ID: uuid.NewString(), Seq: 0, Total: 1, Hello: true}
}

// Assembler rebuilds logical messages from sequenced envelopes. Parts of
// different messages may interleave; parts of one message must arrive in
// order, which every ordered channel guarantees. Not safe for concurrent use.
type Assembler struct {
	partial map[string]*pending
}

type pending struct {
	next  uint32
	total uint32
	buf   []byte
}

func NewAssembler() *Assembler {
	return &Assembler{partial: make(map[string]*pending)}
}

// Add consumes one envelope. It returns (msg, true, nil) when env completes a
// logical message, (nil, false, nil) when more parts are outstanding, and an
// error on a sequencing violation. EOF envelopes complete immediately; the
// caller checks env.EOF itself.
func (a *Assembler) Add(env Envelope) ([]byte, bool, error) {
	if env.EOF {
		return nil, true, nil
	}
	if env.Total <= 1 {
		return env.Payload, true, nil
	}
	p := a.partial[env.ID]
	if p == nil {
		p = &pending{total: env.Total}
		a.partial[env.ID] = p
	}
	if env.Seq != p.next || env.Total != p.total {
		delete(a.partial, env.ID)
		return nil, false, fmt.Errorf("protocol: part %d/%d out of sequence for message %s (want %d/%d)",
			env.Seq, env.Total, env.ID, p.next, p.total)
	}
	p.buf = append(p.buf, env.Payload...)
	p.next++
	if p.next == p.total {
		delete(a.partial, env.ID)
		return p.buf, true, nil
	}
	return nil, false, nil
}

// Outstanding reports how many messages are partially assembled.
func (a *Assembler) Outstanding() int { return len(a.partial) }
