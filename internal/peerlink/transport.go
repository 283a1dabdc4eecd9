package peerlink

import (
	"sync"

	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// peerTransport is the refspace.Transport for one peer. It stays valid
// across reconnects; messages posted while disconnected wait in the queue.
type peerTransport struct {
	link   *GRPCPeerLink
	peerID string

	deliverMu sync.Mutex
	mu        sync.Mutex
	handler   func(msg *refspace.CallMessage)
	backlog   []*refspace.CallMessage
}

func newPeerTransport(link *GRPCPeerLink, peerID string) *peerTransport {
	return &peerTransport{link: link, peerID: peerID}
}

func (t *peerTransport) PostMessage(msg *refspace.CallMessage) error {
	return t.link.enqueue(t.peerID, msg)
}

func (t *peerTransport) OnMessage(handler func(msg *refspace.CallMessage)) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.mu.Lock()
	t.handler = handler
	backlog := t.backlog
	t.backlog = nil
	t.mu.Unlock()

	for _, msg := range backlog {
		handler(msg)
	}
}

func (t *peerTransport) deliver(msg *refspace.CallMessage) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()

	t.mu.Lock()
	handler := t.handler
	if handler == nil {
		t.backlog = append(t.backlog, msg)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	handler(msg)
}

var _ refspace.Transport = (*peerTransport)(nil)
