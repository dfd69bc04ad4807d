// Package ipc implements the local inter-process queue transport, the
// process default. Named bounded FIFO queues are held by a broker shared by
// every endpoint attached through the same Transport; it stands in for a
// kernel message-queue facility the way an in-memory transport stands in
// for shared memory.
//
// Lifecycle notes: opening the same address twice without a Close attaches a
// second endpoint to the same queue (attachment is reference counted, not an
// error). Close releases the attachment exactly once; a second Close fails
// with comm.ErrClosed. Closing a send endpoint marks end-of-stream: receivers
// drain what is pending and then observe io.EOF. Queues assume one producer;
// with several, the first Close marks the stream done.
package ipc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Xyzic/yggdrasil/pkg/comm"
)

// DefaultDepth bounds each queue when no depth is configured.
const DefaultDepth = 64

// Addr identifies a named local queue.
type Addr string

func (a Addr) Network() string { return "ipc" }
func (a Addr) String() string  { return string(a) }

// Options tunes a Transport.
type Options struct {
	// Depth bounds each queue; 0 means DefaultDepth.
	Depth int
	// Broker overrides the queue table; nil means a fresh private one.
	Broker *Broker
}

// Transport opens channels over broker-held local queues.
type Transport struct {
	b *Broker
}

// New returns a Transport with default options.
func New() *Transport { return NewWithOptions(Options{}) }

// NewWithOptions returns a Transport backed by opts.Broker, or by a new
// broker of the requested depth.
func NewWithOptions(opts Options) *Transport {
	b := opts.Broker
	if b == nil {
		b = NewBroker(opts.Depth)
	}
	return &Transport{b: b}
}

func (t *Transport) Type() comm.Type { return comm.TypeIPC }

// NewAddress mints a fresh queue key.
func (t *Transport) NewAddress() (comm.Address, error) {
	return Addr("ygg-" + uuid.NewString()), nil
}

// Open attaches an endpoint to the queue named by addr.
func (t *Transport) Open(_ context.Context, addr comm.Address, dir comm.Direction) (comm.Channel, error) {
	if addr == nil {
		return nil, fmt.Errorf("ipc: nil address")
	}
	if addr.Network() != "ipc" {
		return nil, fmt.Errorf("ipc: foreign address %q (%s)", addr.String(), addr.Network())
	}
	q := t.b.attach(addr.String())
	return &channel{t: t, addr: Addr(addr.String()), dir: dir, q: q}, nil
}

type channel struct {
	t    *Transport
	addr Addr
	dir  comm.Direction
	q    *queue

	mu     sync.Mutex
	closed bool
}

func (c *channel) Address() comm.Address     { return c.addr }
func (c *channel) Direction() comm.Direction { return c.dir }

func (c *channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *channel) Count() (int, error) {
	if c.isClosed() {
		return 0, comm.ErrClosed
	}
	return c.q.count(), nil
}

func (c *channel) Send(ctx context.Context, msg []byte) error {
	if c.isClosed() {
		return comm.ErrClosed
	}
	if c.dir != comm.DirSend {
		return comm.ErrWrongDirection
	}
	// copy so the caller may reuse its buffer
	m := make([]byte, len(msg))
	copy(m, msg)
	return c.q.push(ctx, m)
}

func (c *channel) Recv(ctx context.Context) ([]byte, error) {
	if c.isClosed() {
		return nil, comm.ErrClosed
	}
	if c.dir != comm.DirRecv {
		return nil, comm.ErrWrongDirection
	}
	return c.q.pop(ctx)
}

// TryRecv is the non-blocking receive; it returns comm.ErrNoMessages when
// the queue is open but empty. Not part of the generic contract.
func (c *channel) TryRecv() ([]byte, error) {
	if c.isClosed() {
		return nil, comm.ErrClosed
	}
	if c.dir != comm.DirRecv {
		return nil, comm.ErrWrongDirection
	}
	return c.q.tryPop()
}

func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return comm.ErrClosed
	}
	c.closed = true
	c.mu.Unlock()
	if c.dir == comm.DirSend {
		c.q.markEOF()
	}
	c.t.b.release(c.q)
	return nil
}
