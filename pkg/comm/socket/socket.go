// Package socket implements the socket-backed messaging transport: TCP
// connections carrying length-prefixed, codec-encoded envelope frames.
//
// Channels come in bound and connected flavors, decided by the address. A
// bound recv endpoint accepts any number of producers and merges their
// messages, reporting end of stream only after the last producer has closed
// (pull server); a bound send endpoint fans every message out to
// all connected peers (publish); connected endpoints push to or subscribe
// from a bound peer. Messages above the frame cap travel as sequenced parts
// and are reassembled per connection.
//
// Lifecycle notes: opening a bound address twice fails with an address-in-use
// resource error from the kernel. Close releases the endpoint exactly once;
// a second Close fails with comm.ErrClosed. Publishing with no connected
// subscriber delivers to nobody, as pub/sub semantics dictate.
package socket

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Xyzic/yggdrasil/pkg/comm"
	"github.com/Xyzic/yggdrasil/pkg/protocol"
	"github.com/Xyzic/yggdrasil/pkg/protocol/codec"
)

// DefaultMaxFrame caps envelope payloads before multipart splitting.
const DefaultMaxFrame = 64 * 1024

// DefaultRxDepth is the receive buffer, in complete messages, after which
// readers stop draining their connections (TCP backpressure).
const DefaultRxDepth = 64

// Addr is a socket endpoint plus its role: bound endpoints listen,
// unbound ones connect.
type Addr struct {
	endpoint string
	bind     bool
}

func (a *Addr) Network() string { return "tcp" }
func (a *Addr) String() string  { return "tcp://" + a.endpoint }

// Bound reports whether opening this address listens rather than dials.
func (a *Addr) Bound() bool { return a.bind }

// Listen constructs a bound address on hostport.
func Listen(hostport string) *Addr { return &Addr{endpoint: hostport, bind: true} }

// Connect constructs a connecting address targeting a bound peer. The
// "tcp://" scheme prefix produced by Addr.String is accepted and stripped.
func Connect(target string) *Addr {
	return &Addr{endpoint: strings.TrimPrefix(target, "tcp://")}
}

// Options tunes a Transport.
type Options struct {
	// Host used when minting fresh bound addresses (ephemeral port).
	Host string
	// Codec encodes envelopes on the wire; nil means CBOR.
	Codec codec.Codec
	// MaxFrame caps envelope payloads; 0 means DefaultMaxFrame.
	MaxFrame int
	// RxDepth bounds the receive buffer; 0 means DefaultRxDepth.
	RxDepth int
}

// Transport opens socket-backed channels.
type Transport struct {
	host     string
	cdc      codec.Codec
	maxFrame int
	rxDepth  int
}

// New returns a Transport with default options.
func New() *Transport {
	t, _ := NewWithOptions(Options{})
	return t
}

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
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}
	maxFrame := opts.MaxFrame
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	rxDepth := opts.RxDepth
	if rxDepth <= 0 {
		rxDepth = DefaultRxDepth
	}
	return &Transport{host: host, cdc: cdc, maxFrame: maxFrame, rxDepth: rxDepth}, nil
}

func (t *Transport) Type() comm.Type { return comm.TypeSocket }

// NewAddress mints a fresh bound address on an ephemeral port. The concrete
// port becomes visible through the channel's Address after Open.
func (t *Transport) NewAddress() (comm.Address, error) {
	return Listen(net.JoinHostPort(t.host, "0")), nil
}

// Open binds or connects addr and returns the owned channel.
func (t *Transport) Open(ctx context.Context, addr comm.Address, dir comm.Direction) (comm.Channel, error) {
	a, ok := addr.(*Addr)
	if !ok {
		return nil, fmt.Errorf("socket: foreign address %T", addr)
	}
	ch := &channel{
		dir:      dir,
		cdc:      t.cdc,
		maxFrame: t.maxFrame,
		conns:    make(map[net.Conn]struct{}),
		rx:       make(chan rxItem, t.rxDepth),
		done:     make(chan struct{}),
	}
	if a.bind {
		ln, err := net.Listen("tcp", a.endpoint)
		if err != nil {
			return nil, err
		}
		ch.ln = ln
		ch.addr = &Addr{endpoint: ln.Addr().String(), bind: true}
		go ch.acceptLoop()
		return ch, nil
	}
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", a.endpoint)
	if err != nil {
		return nil, err
	}
	ch.addr = &Addr{endpoint: a.endpoint}
	ch.conns[c] = struct{}{}
	if dir == comm.DirRecv {
		ch.producers.Add(1)
		go ch.readLoop(c)
	}
	return ch, nil
}

type rxItem struct {
	msg []byte
	err error
}

type channel struct {
	addr     *Addr
	dir      comm.Direction
	cdc      codec.Codec
	maxFrame int

	ln net.Listener // bound mode only

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool

	wmu sync.Mutex // serializes frame writes

	rx        chan rxItem
	pending   atomic.Int64 // complete messages buffered in rx
	producers atomic.Int64 // connections still feeding rx
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
		if c.dir == comm.DirRecv {
			c.producers.Add(1)
			go c.readLoop(conn)
		}
	}
}

func (c *channel) readLoop(conn net.Conn) {
	asm := protocol.NewAssembler()
	for {
		env, err := protocol.ReadEnvelope(conn, c.cdc)
		if err != nil {
			// connection gone; this ends only the one peer
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

// producerDone retires one sending peer. End of stream is surfaced only once
// the last peer has said goodbye; earlier goodbyes keep the merged stream
// open for the remaining producers.
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

func (c *channel) liveConns() []net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]net.Conn, 0, len(c.conns))
	for conn := range c.conns {
		out = append(out, conn)
	}
	return out
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
	var buf bytes.Buffer
	for _, env := range protocol.Split(msg, c.maxFrame) {
		if err := protocol.WriteEnvelope(&buf, c.cdc, env); err != nil {
			return err
		}
	}
	conns := c.liveConns()
	if len(conns) == 0 {
		if !c.addr.bind {
			return fmt.Errorf("socket: connection lost")
		}
		// bound publisher with no subscriber: delivered to nobody
		return nil
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	var firstErr error
	for _, conn := range conns {
		if _, err := conn.Write(buf.Bytes()); err != nil {
			if c.addr.bind {
				// dead subscriber; drop it and keep publishing
				c.dropConn(conn)
				continue
			}
			firstErr = err
		}
	}
	return firstErr
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
		// best-effort end-of-stream notification to every peer
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
