package refstore

import (
	"sort"
	"sync"

	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// entry is one table slot. Continuation entries are single-use: pending is
// the future they resolve, peer is the store expected to reply, and the
// entry is removed on first use.
type entry struct {
	handle  *refspace.Handle
	pending *refspace.Future
	peer    string
}

// table maps (space, id) to at most one live entity.
// It is safe for concurrent use.
type table struct {
	mu      sync.RWMutex
	entries map[string]map[string]*entry // space -> id -> entry
}

func newTable() *table {
	return &table{entries: make(map[string]map[string]*entry)}
}

func (t *table) get(space, id string) (*refspace.Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[space][id]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

func (t *table) has(space, id string) bool {
	_, ok := t.get(space, id)
	return ok
}

// set stores h, replacing any previous entity at the same (space, id).
func (t *table) set(h *refspace.Handle) {
	t.put(&entry{handle: h})
}

// setOnce stores a single-use continuation entry awaiting a reply from peer.
func (t *table) setOnce(h *refspace.Handle, pending *refspace.Future, peer string) {
	t.put(&entry{handle: h, pending: pending, peer: peer})
}

func (t *table) put(e *entry) {
	h := e.handle
	ref := h.Ref()
	t.mu.Lock()
	defer t.mu.Unlock()
	ids, ok := t.entries[ref.Space]
	if !ok {
		ids = make(map[string]*entry)
		t.entries[ref.Space] = ids
	}
	ids[ref.ID] = e
}

// setIfAbsent stores h unless (space, id) is taken. It returns the entity
// that ends up in the table and whether it is h.
func (t *table) setIfAbsent(space, id string, h *refspace.Handle) (*refspace.Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids, ok := t.entries[space]
	if !ok {
		ids = make(map[string]*entry)
		t.entries[space] = ids
	}
	if e, ok := ids[id]; ok {
		return e.handle, false
	}
	ids[id] = &entry{handle: h}
	return h, true
}

// take returns the entity for an inbound call. Single-use entries are
// removed in the same critical section, so they can be taken only once; for
// those the future they settle is returned too and the caller owns it.
func (t *table) take(space, id string) (*refspace.Handle, *refspace.Future, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[space][id]
	if !ok {
		return nil, nil, false
	}
	if e.pending != nil {
		t.deleteLocked(space, id)
	}
	return e.handle, e.pending, true
}

func (t *table) delete(space, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleteLocked(space, id)
}

func (t *table) deleteLocked(space, id string) {
	ids, ok := t.entries[space]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(t.entries, space)
	}
}

// drainPending removes every continuation entry and returns their futures.
func (t *table) drainPending() []*refspace.Future {
	return t.drainWhere(func(*entry) bool { return true })
}

// drainPeer removes the continuations awaiting a reply from peer.
func (t *table) drainPeer(peer string) []*refspace.Future {
	return t.drainWhere(func(e *entry) bool { return e.peer == peer })
}

func (t *table) drainWhere(match func(*entry) bool) []*refspace.Future {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*refspace.Future
	for space, ids := range t.entries {
		for id, e := range ids {
			if e.pending != nil && match(e) {
				out = append(out, e.pending)
				delete(ids, id)
			}
		}
		if len(ids) == 0 {
			delete(t.entries, space)
		}
	}
	return out
}

// pendingCount returns the number of unresolved continuations.
func (t *table) pendingCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, ids := range t.entries {
		for _, e := range ids {
			if e.pending != nil {
				n++
			}
		}
	}
	return n
}

// descriptors returns a snapshot sorted by space and id.
func (t *table) descriptors() []refspace.Descriptor {
	t.mu.RLock()
	out := make([]refspace.Descriptor, 0)
	for _, ids := range t.entries {
		for _, e := range ids {
			out = append(out, *e.handle.Descriptor())
		}
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Space != out[j].Space {
			return out[i].Space < out[j].Space
		}
		return out[i].ID < out[j].ID
	})
	return out
}
