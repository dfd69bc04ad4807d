package comm

import (
	"context"
)

// Type identifies the active transport backend for policy and logging.
type Type int

const (
	TypeUnknown Type = iota
	TypeIPC
	TypeSocket
	TypeQUIC
	TypePipe
)

func (t Type) String() string {
	switch t {
	case TypeIPC:
		return "ipc"
	case TypeSocket:
		return "socket"
	case TypeQUIC:
		return "quic"
	case TypePipe:
		return "pipe"
	default:
		return "unknown"
	}
}

// Direction tells a transport which end of a channel is being opened.
// A send endpoint produces messages; a recv endpoint consumes them. For
// socket-style transports the recv end binds and the send end connects.
type Direction int

const (
	DirSend Direction = iota
	DirRecv
)

func (d Direction) String() string {
	if d == DirRecv {
		return "recv"
	}
	return "send"
}

// Address is an opaque endpoint identifier. Its concrete shape is owned
// entirely by the transport that minted it; callers and the facade only
// carry it around.
type Address interface {
	// Network names the transport scheme (e.g. "ipc", "tcp", "quic").
	Network() string
	// String renders the endpoint in the transport's own notation.
	String() string
}

// Channel is an initialized communication endpoint. The opener owns the
// handle exclusively and must release it with Close exactly once; any
// operation after Close fails with ErrClosed.
//
// A Channel is not safe for concurrent use by multiple callers unless the
// transport that produced it documents that guarantee.
type Channel interface {
	Address() Address
	Direction() Direction

	// Count reports the number of messages pending for receipt on this
	// channel. It is a snapshot: concurrent senders may invalidate it the
	// moment it returns. It never blocks.
	Count() (int, error)

	// Send transfers one message to the underlying medium before returning,
	// or fails without partial transmission. Blocking behavior is
	// transport-defined and fixed for the channel's lifetime.
	Send(ctx context.Context, msg []byte) error

	// Recv returns the next pending message. It returns io.EOF after the
	// peer has closed its send end and all pending messages are drained.
	Recv(ctx context.Context) ([]byte, error)

	// Close releases the channel. A second Close is an error, not a no-op.
	Close() error
}

// Transport mints addresses and opens channels for one backend kind.
// Every backend must supply the full contract or it cannot be bound.
type Transport interface {
	Type() Type

	// NewAddress constructs a fresh default endpoint identifier. It does not
	// allocate any communication resource.
	NewAddress() (Address, error)

	// Open allocates the underlying medium for addr and returns the owned
	// handle. Opening the same address twice without an intervening Close is
	// transport-defined; each backend documents its behavior.
	Open(ctx context.Context, addr Address, dir Direction) (Channel, error)
}
