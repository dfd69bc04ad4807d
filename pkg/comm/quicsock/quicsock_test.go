package quicsock

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Xyzic/yggdrasil/pkg/comm"
)

func pushPair(t *testing.T, tr *Transport) (tx, rx comm.Channel) {
	t.Helper()
	addr, err := tr.NewAddress()
	if err != nil {
		t.Fatalf("new address: %v", err)
	}
	rx, err = tr.Open(context.Background(), addr, comm.DirRecv)
	if err != nil {
		t.Fatalf("open recv: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err = tr.Open(ctx, Connect(rx.Address().String()), comm.DirSend)
	if err != nil {
		t.Fatalf("open send: %v", err)
	}
	return tx, rx
}

func recvWithin(t *testing.T, ch comm.Channel, d time.Duration) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	msg, err := ch.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	return msg
}

func TestRoundTripSizes(t *testing.T) {
	tr := New()
	tx, rx := pushPair(t, tr)
	defer tx.Close()
	defer rx.Close()

	for _, size := range []int{0, 1, 64 * 1024, 180 * 1024} {
		msg := bytes.Repeat([]byte{0xC3}, size)
		if err := tx.Send(context.Background(), msg); err != nil {
			t.Fatalf("send %d bytes: %v", size, err)
		}
		got := recvWithin(t, rx, 5*time.Second)
		if !bytes.Equal(got, msg) {
			t.Fatalf("round trip corrupted %d-byte message (got %d bytes)", size, len(got))
		}
	}
}

func TestPublishFanOut(t *testing.T) {
	tr := New()
	addr, err := tr.NewAddress()
	if err != nil {
		t.Fatalf("new address: %v", err)
	}
	pub, err := tr.Open(context.Background(), addr, comm.DirSend)
	if err != nil {
		t.Fatalf("open publisher: %v", err)
	}
	defer pub.Close()

	// subscribers only read; their greeting frame is what surfaces the
	// stream to the publisher
	target := Connect(pub.Address().String())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub1, err := tr.Open(ctx, target, comm.DirRecv)
	if err != nil {
		t.Fatalf("open sub1: %v", err)
	}
	defer sub1.Close()
	sub2, err := tr.Open(ctx, target, comm.DirRecv)
	if err != nil {
		t.Fatalf("open sub2: %v", err)
	}
	defer sub2.Close()

	deadline := time.Now().Add(5 * time.Second)
	for len(pub.(*channel).liveLinks()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers never registered with publisher")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := pub.Send(context.Background(), []byte("fanout")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for i, sub := range []comm.Channel{sub1, sub2} {
		if got := recvWithin(t, sub, 5*time.Second); string(got) != "fanout" {
			t.Fatalf("subscriber %d: got %q", i+1, got)
		}
	}
}

func TestEOFOnlyAfterLastSenderCloses(t *testing.T) {
	tr := New()
	tx1, rx := pushPair(t, tr)
	defer rx.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx2, err := tr.Open(ctx, Connect(rx.Address().String()), comm.DirSend)
	if err != nil {
		t.Fatalf("open second sender: %v", err)
	}

	if err := tx1.Send(context.Background(), []byte("one")); err != nil {
		t.Fatalf("send one: %v", err)
	}
	if got := recvWithin(t, rx, 5*time.Second); string(got) != "one" {
		t.Fatalf("recv: got %q", got)
	}
	if err := tx2.Send(context.Background(), []byte("two")); err != nil {
		t.Fatalf("send two: %v", err)
	}
	if got := recvWithin(t, rx, 5*time.Second); string(got) != "two" {
		t.Fatalf("recv: got %q", got)
	}

	if err := tx1.Close(); err != nil {
		t.Fatalf("close first sender: %v", err)
	}
	if err := tx2.Send(context.Background(), []byte("still here")); err != nil {
		t.Fatalf("send after peer close: %v", err)
	}
	if got := recvWithin(t, rx, 5*time.Second); string(got) != "still here" {
		t.Fatalf("recv after peer close: got %q", got)
	}

	if err := tx2.Close(); err != nil {
		t.Fatalf("close last sender: %v", err)
	}
	rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer rcancel()
	if _, err := rx.Recv(rctx); !errors.Is(err, io.EOF) {
		t.Fatalf("recv after last sender close: got %v, want EOF", err)
	}
}

func TestEOFOnSenderClose(t *testing.T) {
	tr := New()
	tx, rx := pushPair(t, tr)
	defer rx.Close()

	if err := tx.Send(context.Background(), []byte("bye")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := tx.Close(); err != nil {
		t.Fatalf("close sender: %v", err)
	}
	if got := recvWithin(t, rx, 5*time.Second); string(got) != "bye" {
		t.Fatalf("recv: got %q", got)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := rx.Recv(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("recv after sender close: got %v, want EOF", err)
	}
}

func TestClosedHandleRejected(t *testing.T) {
	tr := New()
	tx, rx := pushPair(t, tr)
	if err := tx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tx.Close(); !errors.Is(err, comm.ErrClosed) {
		t.Fatalf("double close: got %v", err)
	}
	if err := tx.Send(context.Background(), []byte("x")); !errors.Is(err, comm.ErrClosed) {
		t.Fatalf("send on freed handle: got %v", err)
	}
	if err := rx.Close(); err != nil {
		t.Fatalf("close recv: %v", err)
	}
}

func TestDirectionEnforced(t *testing.T) {
	tr := New()
	tx, rx := pushPair(t, tr)
	defer tx.Close()
	defer rx.Close()

	if _, err := tx.Recv(context.Background()); !errors.Is(err, comm.ErrWrongDirection) {
		t.Fatalf("recv on send endpoint: got %v", err)
	}
	if err := rx.Send(context.Background(), []byte("x")); !errors.Is(err, comm.ErrWrongDirection) {
		t.Fatalf("send on recv endpoint: got %v", err)
	}
}
