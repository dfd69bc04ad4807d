package comm

import (
	"context"
	"errors"
	"testing"
)

// mockAddr, mockChannel and mockTransport return sentinel values and record
// each call so forwarding can be checked argument by argument.

type mockAddr struct{ name string }

func (a mockAddr) Network() string { return "mock" }
func (a mockAddr) String() string  { return a.name }

type mockChannel struct {
	addr     mockAddr
	dir      Direction
	calls    []string
	lastSent []byte
	recvMsg  []byte
	count    int
	err      error
}

func (c *mockChannel) Address() Address     { return c.addr }
func (c *mockChannel) Direction() Direction { return c.dir }
func (c *mockChannel) Count() (int, error) {
	c.calls = append(c.calls, "count")
	return c.count, c.err
}
func (c *mockChannel) Send(_ context.Context, msg []byte) error {
	c.calls = append(c.calls, "send")
	c.lastSent = msg
	return c.err
}
func (c *mockChannel) Recv(context.Context) ([]byte, error) {
	c.calls = append(c.calls, "recv")
	return c.recvMsg, c.err
}
func (c *mockChannel) Close() error {
	c.calls = append(c.calls, "close")
	return c.err
}

type mockTransport struct {
	typ   Type
	calls []string
	addr  mockAddr
	ch    *mockChannel
	err   error
}

func (t *mockTransport) Type() Type { return t.typ }
func (t *mockTransport) NewAddress() (Address, error) {
	t.calls = append(t.calls, "newaddress")
	return t.addr, t.err
}
func (t *mockTransport) Open(_ context.Context, addr Address, dir Direction) (Channel, error) {
	t.calls = append(t.calls, "open:"+addr.String()+":"+dir.String())
	return t.ch, t.err
}

func TestNewDefaultRejectsNilBinding(t *testing.T) {
	if _, err := NewDefault(nil); err == nil {
		t.Fatalf("expected error binding nil transport")
	}
}

func TestDefaultForwardsAllOperations(t *testing.T) {
	ch := &mockChannel{addr: mockAddr{name: "q1"}, dir: DirRecv, recvMsg: []byte("pong"), count: 3}
	tr := &mockTransport{typ: TypeIPC, addr: mockAddr{name: "q1"}, ch: ch}
	d, err := NewDefault(tr)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if d.Type() != TypeIPC {
		t.Fatalf("Type: got %v, want %v", d.Type(), TypeIPC)
	}

	a, err := d.NewAddress()
	if err != nil || a.String() != "q1" {
		t.Fatalf("NewAddress: got %v, %v", a, err)
	}
	got, err := d.Init(context.Background(), a, DirRecv)
	if err != nil || got != Channel(ch) {
		t.Fatalf("Init: got %v, %v", got, err)
	}
	if tr.calls[len(tr.calls)-1] != "open:q1:recv" {
		t.Fatalf("Init forwarded wrong arguments: %v", tr.calls)
	}

	if n, err := d.Count(got); n != 3 || err != nil {
		t.Fatalf("Count: got %d, %v", n, err)
	}
	if err := d.Send(context.Background(), got, []byte("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(ch.lastSent) != "ping" {
		t.Fatalf("Send did not pass message unchanged: %q", ch.lastSent)
	}
	msg, err := d.Recv(context.Background(), got)
	if err != nil || string(msg) != "pong" {
		t.Fatalf("Recv: got %q, %v", msg, err)
	}
	if err := d.Free(got); err != nil {
		t.Fatalf("Free: %v", err)
	}

	// exactly one recorded call per facade operation, in order
	want := []string{"count", "send", "recv", "close"}
	if len(ch.calls) != len(want) {
		t.Fatalf("call log: got %v, want %v", ch.calls, want)
	}
	for i, op := range want {
		if ch.calls[i] != op {
			t.Fatalf("call %d: got %q, want %q", i, ch.calls[i], op)
		}
	}
}

func TestDefaultPassesErrorsThroughUnchanged(t *testing.T) {
	boom := errors.New("transport down")
	ch := &mockChannel{err: boom}
	tr := &mockTransport{typ: TypeSocket, ch: ch, err: boom}
	d, err := NewDefault(tr)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err := d.NewAddress(); !errors.Is(err, boom) {
		t.Fatalf("NewAddress error was translated: %v", err)
	}
	if _, err := d.Init(context.Background(), mockAddr{}, DirSend); !errors.Is(err, boom) {
		t.Fatalf("Init error was translated: %v", err)
	}
	if err := d.Send(context.Background(), ch, nil); !errors.Is(err, boom) {
		t.Fatalf("Send error was translated: %v", err)
	}
	if _, err := d.Recv(context.Background(), ch); !errors.Is(err, boom) {
		t.Fatalf("Recv error was translated: %v", err)
	}
	if err := d.Free(ch); !errors.Is(err, boom) {
		t.Fatalf("Free error was translated: %v", err)
	}
}

// Two bindings can coexist in one process; each forwards only to its own
// transport.
func TestDefaultBindingsAreIndependent(t *testing.T) {
	t1 := &mockTransport{typ: TypeIPC, addr: mockAddr{name: "a"}}
	t2 := &mockTransport{typ: TypeSocket, addr: mockAddr{name: "b"}}
	d1, _ := NewDefault(t1)
	d2, _ := NewDefault(t2)
	if _, err := d1.NewAddress(); err != nil {
		t.Fatalf("d1.NewAddress: %v", err)
	}
	if len(t2.calls) != 0 {
		t.Fatalf("binding leaked across facades: %v", t2.calls)
	}
	if d1.Type() == d2.Type() {
		t.Fatalf("expected distinct bound kinds")
	}
}
