// Package localbus connects two stores living in one process.
//
// Each direction has its own FIFO queue drained by a single goroutine, so
// messages are delivered in send order and never re-enter the sender's
// stack. Messages posted before the receiving side attaches a handler are
// held until it does.
package localbus

import (
	"errors"
	"sync"

	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// ErrClosed is returned when posting to a closed endpoint
var ErrClosed = errors.New("localbus: endpoint closed")

// Endpoint is one side of an in-process transport pair.
type Endpoint struct {
	peer *Endpoint

	mu      sync.Mutex
	handler func(msg *refspace.CallMessage)
	queue   []*refspace.CallMessage
	wake    chan struct{}
	done    chan struct{}
	started bool
	closed  bool
}

// NewPair creates two connected endpoints
func NewPair() (*Endpoint, *Endpoint) {
	a := newEndpoint()
	b := newEndpoint()
	a.peer, b.peer = b, a
	return a, b
}

func newEndpoint() *Endpoint {
	return &Endpoint{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// PostMessage queues msg for the other side. The message is copied, so the
// caller may reuse it.
func (e *Endpoint) PostMessage(msg *refspace.CallMessage) error {
	if e.isClosed() {
		return ErrClosed
	}
	return e.peer.enqueue(msg.Clone())
}

// OnMessage sets the inbound handler and starts delivery
func (e *Endpoint) OnMessage(handler func(msg *refspace.CallMessage)) {
	e.mu.Lock()
	e.handler = handler
	start := !e.started && !e.closed
	e.started = true
	e.mu.Unlock()

	if start {
		go e.deliver()
	}
	e.signal()
}

// Close stops delivery on both sides. Queued messages are dropped.
func (e *Endpoint) Close() error {
	e.shutdown()
	e.peer.shutdown()
	return nil
}

func (e *Endpoint) shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.queue = nil
	close(e.done)
}

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Endpoint) enqueue(msg *refspace.CallMessage) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.queue = append(e.queue, msg)
	e.mu.Unlock()
	e.signal()
	return nil
}

func (e *Endpoint) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// deliver drains the queue in order until the endpoint closes.
func (e *Endpoint) deliver() {
	for {
		select {
		case <-e.done:
			return
		case <-e.wake:
		}

		for {
			e.mu.Lock()
			if e.closed || len(e.queue) == 0 || e.handler == nil {
				e.mu.Unlock()
				break
			}
			msg := e.queue[0]
			e.queue[0] = nil
			e.queue = e.queue[1:]
			handler := e.handler
			e.mu.Unlock()

			handler(msg)
		}
	}
}

// Connect registers a fresh endpoint pair as each store's transport to the
// other and returns the endpoints.
func Connect(a, b refspace.Store) (*Endpoint, *Endpoint, error) {
	ea, eb := NewPair()
	if err := a.AddPeer(b.ID(), ea); err != nil {
		return nil, nil, err
	}
	if err := b.AddPeer(a.ID(), eb); err != nil {
		return nil, nil, err
	}
	return ea, eb, nil
}

var _ refspace.Transport = (*Endpoint)(nil)
