//go:build windows

// Package pipe implements the channel contract over Windows named pipes.
// The recv endpoint listens on the pipe and merges frames from every writer
// that dials in; send endpoints dial. Framing and envelope handling match
// the socket transport.
package pipe

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/Microsoft/go-winio"
	"github.com/google/uuid"

	"github.com/Xyzic/yggdrasil/pkg/comm"
	"github.com/Xyzic/yggdrasil/pkg/protocol"
	"github.com/Xyzic/yggdrasil/pkg/protocol/codec"
)

// Addr names a pipe endpoint, e.g. `\\.\pipe\ygg-1f2e3d`.
type Addr string

func (a Addr) Network() string { return "pipe" }
func (a Addr) String() string  { return string(a) }

// Options tunes a Transport.
type Options struct {
	// BaseName prefixes minted pipe names; empty means `\\.\pipe\ygg`.
	BaseName string
	// Codec encodes envelopes on the wire; nil means CBOR.
	Codec codec.Codec
	// MaxFrame caps envelope payloads; 0 means 64 KiB.
	MaxFrame int
	// RxDepth bounds the receive buffer; 0 means 64.
	RxDepth int
}

// Transport opens named-pipe channels.
type Transport struct {
	base     string
	cdc      codec.Codec
	maxFrame int
	rxDepth  int
}

// New returns a Transport with default options.
func New() (*Transport, error) { return NewWithOptions(Options{}) }

// NewWithOptions returns a configured Transport.
func NewWithOptions(opts Options) (*Transport, error) {
	cdc := opts.Codec
	if cdc == nil {
		var err error
		cdc, err = codec.CBOR()
		if err != nil {
			return nil, err
		}
	}
	base := opts.BaseName
	if base == "" {
		base = `\\.\pipe\ygg`
	}
	maxFrame := opts.MaxFrame
	if maxFrame <= 0 {
		maxFrame = 64 * 1024
	}
	rxDepth := opts.RxDepth
	if rxDepth <= 0 {
		rxDepth = 64
	}
	return &Transport{base: base, cdc: cdc, maxFrame: maxFrame, rxDepth: rxDepth}, nil
}

func (t *Transport) Type() comm.Type { return comm.TypePipe }

// NewAddress mints a fresh pipe name under the configured base.
func (t *Transport) NewAddress() (comm.Address, error) {
	return Addr(t.base + "-" + uuid.NewString()[:8]), nil
}

// Open listens on the pipe for recv endpoints and dials it for send
// endpoints. Listening on a pipe that is already served fails with the
// kernel's busy error.
func (t *Transport) Open(ctx context.Context, addr comm.Address, dir comm.Direction) (comm.Channel, error) {
	if addr == nil || addr.Network() != "pipe" {
		return nil, fmt.Errorf("pipe: foreign address %T", addr)
	}
	ch := &channel{
		addr:     Addr(addr.String()),
		dir:      dir,
		cdc:      t.cdc,
		maxFrame: t.maxFrame,
		conns:    make(map[net.Conn]struct{}),
		rx:       make(chan rxItem, t.rxDepth),
		done:     make(chan struct{}),
	}
	if dir == comm.DirRecv {
		ln, err := winio.ListenPipe(addr.String(), nil)
		if err != nil {
			return nil, err
		}
		ch.ln = ln
		go ch.acceptLoop()
		return ch, nil
	}
	conn, err := winio.DialPipeContext(ctx, addr.String())
	if err != nil {
		return nil, err
	}
	ch.conns[conn] = struct{}{}
	return ch, nil
}

type rxItem struct {
	msg []byte
	err error
}

type channel struct {
	addr     Addr
	dir      comm.Direction
	cdc      codec.Codec
	maxFrame int

	ln net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool

	wmu sync.Mutex

	rx        chan rxItem
	pending   atomic.Int64
	producers atomic.Int64
	gotEOF    atomic.Bool
	eofSeen   atomic.Bool
	done      chan struct{}
}

func (c *channel) Address() comm.Address     { return c.addr }
func (c *channel) Direction() comm.Direction { return c.dir }

func (c *channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *channel) acceptLoop() {
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			return
		}
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conns[conn] = struct{}{}
		c.mu.Unlock()
		c.producers.Add(1)
		go c.readLoop(conn)
	}
}

func (c *channel) readLoop(conn net.Conn) {
	asm := protocol.NewAssembler()
	for {
		env, err := protocol.ReadEnvelope(conn, c.cdc)
		if err != nil {
			c.dropConn(conn)
			c.producerDone(false)
			return
		}
		if env.Hello {
			continue
		}
		if env.EOF {
			c.dropConn(conn)
			c.producerDone(true)
			return
		}
		msg, done, err := asm.Add(env)
		if err != nil {
			c.deliver(rxItem{err: err})
			continue
		}
		if done {
			c.deliver(rxItem{msg: msg})
		}
	}
}

// producerDone retires one writer. End of stream is surfaced only once the
// last writer has said goodbye.
func (c *channel) producerDone(graceful bool) {
	if graceful {
		c.gotEOF.Store(true)
	}
	if c.producers.Add(-1) == 0 && c.gotEOF.Load() {
		c.deliver(rxItem{err: io.EOF})
	}
}

func (c *channel) deliver(it rxItem) {
	if it.err == nil {
		c.pending.Add(1)
	}
	select {
	case c.rx <- it:
	case <-c.done:
		if it.err == nil {
			c.pending.Add(-1)
		}
	}
}

func (c *channel) dropConn(conn net.Conn) {
	c.mu.Lock()
	delete(c.conns, conn)
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *channel) Count() (int, error) {
	if c.isClosed() {
		return 0, comm.ErrClosed
	}
	return int(c.pending.Load()), nil
}

func (c *channel) Send(ctx context.Context, msg []byte) error {
	if c.isClosed() {
		return comm.ErrClosed
	}
	if c.dir != comm.DirSend {
		return comm.ErrWrongDirection
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	var conn net.Conn
	for cn := range c.conns {
		conn = cn
	}
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("pipe: connection lost")
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	for _, env := range protocol.Split(msg, c.maxFrame) {
		if err := protocol.WriteEnvelope(conn, c.cdc, env); err != nil {
			return err
		}
	}
	return nil
}

func (c *channel) Recv(ctx context.Context) ([]byte, error) {
	if c.isClosed() {
		return nil, comm.ErrClosed
	}
	if c.dir != comm.DirRecv {
		return nil, comm.ErrWrongDirection
	}
	if c.eofSeen.Load() && c.pending.Load() == 0 {
		return nil, io.EOF
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, comm.ErrClosed
	case it := <-c.rx:
		if it.err != nil {
			if it.err == io.EOF {
				c.eofSeen.Store(true)
			}
			return nil, it.err
		}
		c.pending.Add(-1)
		return it.msg, nil
	}
}

func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return comm.ErrClosed
	}
	c.closed = true
	conns := make([]net.Conn, 0, len(c.conns))
	for conn := range c.conns {
		conns = append(conns, conn)
	}
	c.conns = make(map[net.Conn]struct{})
	c.mu.Unlock()

	if c.dir == comm.DirSend {
		c.wmu.Lock()
		for _, conn := range conns {
			_ = protocol.WriteEnvelope(conn, c.cdc, protocol.NewEOF())
		}
		c.wmu.Unlock()
	}
	close(c.done)
	if c.ln != nil {
		_ = c.ln.Close()
	}
	for _, conn := range conns {
		_ = conn.Close()
	}
	return nil
}
