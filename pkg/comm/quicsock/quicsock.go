// Package quicsock implements the socket contract over QUIC. Channel
// semantics match the tcp socket transport: bound endpoints accept peers,
// connected endpoints dial, and envelope frames travel length-prefixed over
// one stream per connection, opened by the dialer and accepted by the
// listener. Dialers greet with a control envelope so the stream becomes
// visible to the listener before any payload flows.
//
// The listener carries an ephemeral self-signed certificate and dialers skip
// verification; peers are local collaborators, not untrusted internet hosts.
package quicsock

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	quic "github.com/quic-go/quic-go"

	"github.com/Xyzic/yggdrasil/pkg/comm"
	"github.com/Xyzic/yggdrasil/pkg/protocol"
	"github.com/Xyzic/yggdrasil/pkg/protocol/codec"
)

const alpn = "ygg-comm"

// Addr is a quic endpoint plus its role, mirroring socket.Addr.
type Addr struct {
	endpoint string
	bind     bool
}

func (a *Addr) Network() string { return "quic" }
func (a *Addr) String() string  { return "quic://" + a.endpoint }

// Bound reports whether opening this address listens rather than dials.
func (a *Addr) Bound() bool { return a.bind }

// Listen constructs a bound address on hostport.
func Listen(hostport string) *Addr { return &Addr{endpoint: hostport, bind: true} }

// Connect constructs a connecting address targeting a bound peer.
func Connect(target string) *Addr {
	return &Addr{endpoint: strings.TrimPrefix(target, "quic://")}
}

// Options tunes a Transport.
type Options struct {
	Host     string
	Codec    codec.Codec
	MaxFrame int
	RxDepth  int
}

// Transport opens QUIC-backed channels.
type Transport struct {
	host     string
	cdc      codec.Codec
	maxFrame int
	rxDepth  int
	tlsConf  *tls.Config
	quicConf *quic.Config
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
		maxFrame = 64 * 1024
	}
	rxDepth := opts.RxDepth
	if rxDepth <= 0 {
		rxDepth = 64
	}
	cert, err := selfSignedCert()
	if err != nil {
		return nil, err
	}
	return &Transport{
		host:     host,
		cdc:      cdc,
		maxFrame: maxFrame,
		rxDepth:  rxDepth,
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{alpn},
			MinVersion:   tls.VersionTLS13,
		},
		quicConf: &quic.Config{},
	}, nil
}

func (t *Transport) Type() comm.Type { return comm.TypeQUIC }

// NewAddress mints a fresh bound address on an ephemeral port.
func (t *Transport) NewAddress() (comm.Address, error) {
	return Listen(net.JoinHostPort(t.host, "0")), nil
}

// Open binds or connects addr and returns the owned channel.
func (t *Transport) Open(ctx context.Context, addr comm.Address, dir comm.Direction) (comm.Channel, error) {
	a, ok := addr.(*Addr)
	if !ok {
		return nil, fmt.Errorf("quicsock: foreign address %T", addr)
	}
	ch := &channel{
		dir:      dir,
		cdc:      t.cdc,
		maxFrame: t.maxFrame,
		links:    make(map[*link]struct{}),
		rx:       make(chan rxItem, t.rxDepth),
		done:     make(chan struct{}),
	}
	if a.bind {
		ln, err := quic.ListenAddr(a.endpoint, t.tlsConf, t.quicConf)
		if err != nil {
			return nil, err
		}
		ch.ln = ln
		ch.addr = &Addr{endpoint: ln.Addr().String(), bind: true}
		go ch.acceptLoop()
		return ch, nil
	}
	tlsClient := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpn},
		MinVersion:         tls.VersionTLS13,
	}
	conn, err := quic.DialAddr(ctx, a.endpoint, tlsClient, t.quicConf)
	if err != nil {
		return nil, err
	}
	// dialer opens the single channel stream
	st, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, err
	}
	// QUIC does not surface a fresh stream to the peer's AcceptStream until
	// something is written on it, so every dialer greets first. The bound
	// side discards the greeting.
	if err := protocol.WriteEnvelope(st, t.cdc, protocol.NewHello()); err != nil {
		_ = conn.CloseWithError(0, "greeting failed")
		return nil, err
	}
	ch.addr = &Addr{endpoint: a.endpoint}
	lk := &link{conn: conn, st: st}
	ch.links[lk] = struct{}{}
	if dir == comm.DirRecv {
		ch.producers.Add(1)
		go ch.readLoop(lk)
	}
	return ch, nil
}

type link struct {
	conn quic.Connection
	st   quic.Stream
}

func (l *link) close() {
	_ = l.st.Close()
	_ = l.conn.CloseWithError(0, "channel closed")
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

	ln *quic.Listener // bound mode only

	mu     sync.Mutex
	links  map[*link]struct{}
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
	ctx := context.Background()
	for {
		conn, err := c.ln.Accept(ctx)
		if err != nil {
			return
		}
		go c.adoptConn(ctx, conn)
	}
}

// adoptConn waits for the dialer-opened stream and registers the link. The
// stream is only surfaced once the dialer's greeting arrives, so AcceptStream
// returns for read-only peers too.
func (c *channel) adoptConn(ctx context.Context, conn quic.Connection) {
	st, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return
	}
	lk := &link{conn: conn, st: st}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		lk.close()
		return
	}
	c.links[lk] = struct{}{}
	c.mu.Unlock()
	if c.dir == comm.DirRecv {
		c.producers.Add(1)
		c.readLoop(lk)
	}
}

func (c *channel) readLoop(lk *link) {
	asm := protocol.NewAssembler()
	for {
		env, err := protocol.ReadEnvelope(lk.st, c.cdc)
		if err != nil {
			c.dropLink(lk)
			c.producerDone(false)
			return
		}
		if env.Hello {
			continue
		}
		if env.EOF {
			c.dropLink(lk)
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
// the last peer has said goodbye; a lone peer vanishing mid-stream keeps the
// channel open for the rest.
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

func (c *channel) dropLink(lk *link) {
	c.mu.Lock()
	delete(c.links, lk)
	c.mu.Unlock()
	lk.close()
}

func (c *channel) liveLinks() []*link {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*link, 0, len(c.links))
	for lk := range c.links {
		out = append(out, lk)
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
	links := c.liveLinks()
	if len(links) == 0 {
		if !c.addr.bind {
			return fmt.Errorf("quicsock: connection lost")
		}
		return nil
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	var firstErr error
	for _, lk := range links {
		for _, env := range protocol.Split(msg, c.maxFrame) {
			if err := protocol.WriteEnvelope(lk.st, c.cdc, env); err != nil {
				if c.addr.bind {
					c.dropLink(lk)
				} else {
					firstErr = err
				}
				break
			}
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
	links := make([]*link, 0, len(c.links))
	for lk := range c.links {
		links = append(links, lk)
	}
	c.links = make(map[*link]struct{})
	c.mu.Unlock()

	if c.dir == comm.DirSend {
		c.wmu.Lock()
		for _, lk := range links {
			_ = protocol.WriteEnvelope(lk.st, c.cdc, protocol.NewEOF())
		}
		c.wmu.Unlock()
	}
	close(c.done)
	if c.ln != nil {
		_ = c.ln.Close()
	}
	for _, lk := range links {
		lk.close()
	}
	return nil
}

// selfSignedCert generates an ephemeral P-256 certificate for the listener.
func selfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
