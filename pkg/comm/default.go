package comm

import (
	"context"
	"errors"
)

// Default is the process-wide default-transport binding: one Transport,
// chosen once at composition time, behind the six generic operations that
// calling code uses instead of transport-specific names.
//
// Every method is a pure forward. Default holds no state beyond the bound
// transport, adds no synchronization, no buffering and no timeouts; errors
// from the transport pass through unchanged.
type Default struct {
	t Transport
}

// NewDefault binds t as the default transport. Binding a nil transport is a
// configuration error and fails immediately.
func NewDefault(t Transport) (*Default, error) {
	if t == nil {
		return nil, errors.New("comm: nil transport binding")
	}
	return &Default{t: t}, nil
}

// Type reports the bound transport's kind.
func (d *Default) Type() Type { return d.t.Type() }

// Transport exposes the bound transport for callers that need
// transport-specific extras beyond the six generic operations.
func (d *Default) Transport() Transport { return d.t }

// NewAddress constructs a fresh default endpoint identifier.
func (d *Default) NewAddress() (Address, error) { return d.t.NewAddress() }

// Init opens a channel for addr.
func (d *Default) Init(ctx context.Context, addr Address, dir Direction) (Channel, error) {
	return d.t.Open(ctx, addr, dir)
}

// Free releases ch.
func (d *Default) Free(ch Channel) error { return ch.Close() }

// Count reports the messages pending for receipt on ch.
func (d *Default) Count(ch Channel) (int, error) { return ch.Count() }

// Send transfers msg over ch.
func (d *Default) Send(ctx context.Context, ch Channel, msg []byte) error {
	return ch.Send(ctx, msg)
}

// Recv returns the next message pending on ch.
func (d *Default) Recv(ctx context.Context, ch Channel) ([]byte, error) {
	return ch.Recv(ctx)
}
