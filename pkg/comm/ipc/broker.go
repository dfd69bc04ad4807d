package ipc

import (
	"context"
	"io"
	"sync"

	"github.com/Xyzic/yggdrasil/pkg/comm"
)

// queue is a bounded FIFO shared by the endpoints attached to one address.
// End-of-stream travels out of band: a closing sender marks the queue, and
// receivers observe io.EOF once the data ahead of the mark is drained.
type queue struct {
	name string
	ch   chan []byte

	eofCh   chan struct{}
	eofOnce sync.Once

	mu      sync.Mutex
	pending int // messages currently in ch
	refs    int
}

func (q *queue) push(ctx context.Context, m []byte) error {
	select {
	case q.ch <- m:
		q.enqueued()
		return nil
	default:
	}
	// queue full: block until space or cancellation
	select {
	case q.ch <- m:
		q.enqueued()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueued counts a message only once it is actually in the channel, so a
// sender blocked on a full queue never inflates the count.
func (q *queue) enqueued() {
	q.mu.Lock()
	q.pending++
	q.mu.Unlock()
}

func (q *queue) take(m []byte) []byte {
	q.mu.Lock()
	q.pending--
	q.mu.Unlock()
	return m
}

func (q *queue) pop(ctx context.Context) ([]byte, error) {
	// data ahead of an end-of-stream mark is always delivered first
	select {
	case m := <-q.ch:
		return q.take(m), nil
	default:
	}
	select {
	case m := <-q.ch:
		return q.take(m), nil
	case <-q.eofCh:
		// the mark is set; deliver anything that raced in ahead of it
		select {
		case m := <-q.ch:
			return q.take(m), nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// tryPop is the non-blocking variant; it reports comm.ErrNoMessages when the
// queue is open but empty.
func (q *queue) tryPop() ([]byte, error) {
	select {
	case m := <-q.ch:
		return q.take(m), nil
	default:
	}
	select {
	case <-q.eofCh:
		return nil, io.EOF
	default:
		return nil, comm.ErrNoMessages
	}
}

// markEOF records that a sender is done. Idempotent.
func (q *queue) markEOF() {
	q.eofOnce.Do(func() { close(q.eofCh) })
}

func (q *queue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	// a receiver may decrement between the channel receive and the
	// producer's increment; never report a negative snapshot
	if q.pending < 0 {
		return 0
	}
	return q.pending
}

// Broker owns the process-local queue table. Two endpoints opening the same
// address through the same broker share one queue, which stands in for a
// kernel message queue shared between processes.
type Broker struct {
	mu     sync.Mutex
	queues map[string]*queue
	depth  int
}

// NewBroker constructs an empty broker. depth bounds each queue; senders
// block while a queue is full.
func NewBroker(depth int) *Broker {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Broker{queues: make(map[string]*queue), depth: depth}
}

// attach returns the queue for name, creating it on first use.
func (b *Broker) attach(name string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[name]
	if q == nil {
		q = &queue{name: name, ch: make(chan []byte, b.depth), eofCh: make(chan struct{})}
		b.queues[name] = q
	}
	q.mu.Lock()
	q.refs++
	q.mu.Unlock()
	return q
}

// release drops one attachment; the queue and anything still pending in it
// are discarded when the last endpoint detaches.
func (b *Broker) release(q *queue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q.mu.Lock()
	q.refs--
	gone := q.refs <= 0
	q.mu.Unlock()
	if gone {
		delete(b.queues, q.name)
	}
}

// Queues reports how many named queues currently exist.
func (b *Broker) Queues() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues)
}
