package refstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// Store implements refspace.Store: one peer's reference table, its space
// loaders, its peer transports and the call dispatcher.
type Store struct {
	config *Config
	logger zerolog.Logger
	table  *table

	// Lifecycle for invocations started by inbound messages
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	peers     map[string]refspace.Transport
	spaces    map[string]refspace.SpaceLoader
	listeners []refspace.Listener
	closed    bool

	// Inbound invocations, serialized per sending peer
	execMu    sync.Mutex
	executors map[string]*executor

	counter atomic.Uint64
}

// NewStore creates a new reference store
func NewStore(config *Config) (*Store, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	// Copy the config so defaults don't leak into the caller's value
	cfg := *config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.SetDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		config: &cfg,
		logger: cfg.Logger.With().Str("store", cfg.ID).Logger(),
		table:  newTable(),
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[string]refspace.Transport),
		spaces: make(map[string]refspace.SpaceLoader),

		executors: make(map[string]*executor),
	}, nil
}

// ID returns this store's peer id
func (s *Store) ID() string {
	return s.config.ID
}

// Export registers value as an entity owned by this store.
//
// Func and *Object values are exported as functions and objects; everything
// else, and anything wrapped in refspace.Plain, becomes a value descriptor.
// Exporting a *Handle re-exports its entity under this store's ownership.
// An entity exported at an occupied (space, id) replaces the previous one.
func (s *Store) Export(value any, opts ...refspace.ExportOption) (*refspace.Handle, error) {
	if s.isClosed() {
		return nil, refspace.ErrStoreClosed
	}

	// Re-exporting a registered local handle unchanged is a no-op
	if h, ok := value.(*refspace.Handle); ok && len(opts) == 0 && h != nil {
		ref := h.Ref()
		if cur, ok := s.table.get(ref.Space, ref.ID); ok && cur == h && ref.Peer == s.config.ID {
			return h, nil
		}
	}

	o := refspace.ApplyExportOptions(opts...)
	desc, payload := describe(value, o)

	if o.Space != "" {
		desc.Space = o.Space
	}
	if o.ID != "" {
		desc.ID = o.ID
	}
	if desc.Space == "" {
		desc.Space = refspace.AnonSpace
	}
	if desc.ID == "" {
		if !refspace.IsAnonymous(desc.Space) {
			return nil, fmt.Errorf("%w: %q", refspace.ErrMissingIDForNamedSpace, desc.Space)
		}
		desc.ID = s.nextAnonID()
	}
	desc.Peer = s.config.ID

	h := refspace.NewHandle(desc, payload)
	s.table.set(h)
	s.emitAdd(h)
	return h, nil
}

// Add proxies handles and descriptors owned by other peers and exports
// everything else.
func (s *Store) Add(value any, opts ...refspace.ExportOption) (*refspace.Handle, error) {
	var peer string
	switch v := value.(type) {
	case *refspace.Handle:
		peer = v.Ref().Peer
	case *refspace.Descriptor:
		peer = v.Peer
	case refspace.Descriptor:
		peer = v.Peer
	default:
		return s.Export(value, opts...)
	}
	if peer != "" && peer != s.config.ID {
		return s.Proxy(value)
	}
	return s.Export(value, opts...)
}

// Proxy returns the local stand-in for target. A registered entity is
// returned as is; otherwise a proxy forwarding to the owning peer is built,
// registered under the target's (space, id) and returned.
func (s *Store) Proxy(target any) (*refspace.Handle, error) {
	desc, err := s.targetDescriptor(target)
	if err != nil {
		return nil, err
	}
	if h, ok := s.table.get(desc.Space, desc.ID); ok {
		return h, nil
	}
	if desc.Peer == s.config.ID {
		return nil, fmt.Errorf("%w: %s", refspace.ErrRefNotResolved, desc.Ref)
	}
	if !s.hasPeer(desc.Peer) {
		return nil, fmt.Errorf("%w: %q", refspace.ErrPeerNotFound, desc.Peer)
	}

	desc = desc.Clone()
	desc.Normalize()

	var payload any
	switch desc.Kind {
	case refspace.KindValue:
		return nil, fmt.Errorf("%w: %s", refspace.ErrNonProxyableValue, desc.Ref)
	case refspace.KindFunction:
		payload = &functionProxy{store: s, desc: desc}
	case refspace.KindObject:
		payload = &objectProxy{store: s, desc: desc}
	default:
		return nil, fmt.Errorf("%w: %q", refspace.ErrUnknownRefType, desc.Kind)
	}

	h, inserted := s.table.setIfAbsent(desc.Space, desc.ID, refspace.NewHandle(desc, payload))
	if inserted {
		s.emitAdd(h)
	}
	return h, nil
}

// Resolve returns the registered entity for target.
func (s *Store) Resolve(target any) (*refspace.Handle, error) {
	desc, err := s.targetDescriptor(target)
	if err != nil {
		return nil, err
	}
	h, ok := s.table.get(desc.Space, desc.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", refspace.ErrRefNotResolved, desc.Ref)
	}
	return h, nil
}

// Has reports whether target is registered.
func (s *Store) Has(target any) bool {
	desc, err := s.targetDescriptor(target)
	if err != nil {
		return false
	}
	return s.table.has(desc.Space, desc.ID)
}

// Get looks up (space, id).
func (s *Store) Get(space, id string) (*refspace.Handle, bool) {
	return s.table.get(space, id)
}

// Load returns (space, id), asking the space's loader on a miss. The
// loaded entity is cached; concurrent loads of one id keep the first.
func (s *Store) Load(space, id string) (*refspace.Handle, error) {
	if h, ok := s.table.get(space, id); ok {
		return h, nil
	}

	s.mu.RLock()
	loader, ok := s.spaces[space]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", refspace.ErrNoSpaceHandler, space)
	}

	v, err := loader.Load(s, id)
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", space, id, err)
	}

	if h, ok := v.(*refspace.Handle); ok {
		winner, inserted := s.table.setIfAbsent(space, id, h)
		if inserted {
			s.emitAdd(winner)
		}
		return winner, nil
	}
	if h, ok := s.table.get(space, id); ok {
		return h, nil
	}
	return s.Export(v, refspace.WithRef(space, id))
}

// AddSpace registers a lazy loader for a named space, replacing any previous one.
func (s *Store) AddSpace(name string, loader refspace.SpaceLoader) {
	s.mu.Lock()
	s.spaces[name] = loader
	s.mu.Unlock()
}

// AddPeer registers the transport used to reach peerID and routes its
// inbound messages into the dispatcher.
func (s *Store) AddPeer(peerID string, transport refspace.Transport) error {
	if peerID == "" {
		return errors.New("peer ID cannot be empty")
	}
	if transport == nil {
		return errors.New("transport cannot be nil")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return refspace.ErrStoreClosed
	}
	s.peers[peerID] = transport
	s.mu.Unlock()

	transport.OnMessage(func(msg *refspace.CallMessage) {
		s.handleMessage(peerID, msg)
	})

	s.logger.Info().Str("peer", peerID).Msg("Peer added")
	s.emitPeer(peerID)
	return nil
}

// RemovePeer forgets the transport for peerID. Proxies to that peer fail
// with refspace.ErrPeerUnknown afterwards, and calls still awaiting a reply
// from it are rejected with the same error.
func (s *Store) RemovePeer(peerID string) {
	s.mu.Lock()
	delete(s.peers, peerID)
	s.mu.Unlock()

	s.execMu.Lock()
	delete(s.executors, peerID)
	s.execMu.Unlock()

	pending := s.table.drainPeer(peerID)
	for _, f := range pending {
		f.Resolve(nil, fmt.Errorf("%w: %q removed", refspace.ErrPeerUnknown, peerID))
	}
	if len(pending) > 0 {
		s.logger.Debug().Str("peer", peerID).Int("rejected", len(pending)).Msg("Pending calls rejected")
	}
}

// Peers returns the registered peer ids, sorted
func (s *Store) Peers() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.peers))
	for id := range s.peers {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Shorten returns the identity triple of target.
func (s *Store) Shorten(target any) (refspace.Ref, error) {
	desc, err := s.targetDescriptor(target)
	if err != nil {
		return refspace.Ref{}, err
	}
	return desc.Short(), nil
}

// AddListener subscribes l to store notifications
func (s *Store) AddListener(l refspace.Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Descriptors returns a snapshot of the table
func (s *Store) Descriptors() []refspace.Descriptor {
	return s.table.descriptors()
}

// Pending returns the number of calls still awaiting a reply
func (s *Store) Pending() int {
	return s.table.pendingCount()
}

// Log writes target's descriptor to the store logger.
func (s *Store) Log(target any) {
	desc, err := s.targetDescriptor(target)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Cannot log reference")
		return
	}
	if h, ok := s.table.get(desc.Space, desc.ID); ok {
		desc = h.Descriptor()
	}
	s.logger.Info().
		Str("space", desc.Space).
		Str("id", desc.ID).
		Str("peer", desc.Peer).
		Str("type", string(desc.Kind)).
		Strs("keys", desc.Keys()).
		Msg("Reference")
}

// Close rejects every pending call with refspace.ErrStoreClosed and stops
// accepting inbound messages. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.peers = make(map[string]refspace.Transport)
	s.mu.Unlock()

	s.cancel()
	pending := s.table.drainPending()
	for _, f := range pending {
		f.Resolve(nil, refspace.ErrStoreClosed)
	}
	s.logger.Debug().Int("rejected", len(pending)).Msg("Store closed")
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Store) hasPeer(peerID string) bool {
	_, ok := s.transport(peerID)
	return ok
}

func (s *Store) transport(peerID string) (refspace.Transport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.peers[peerID]
	return t, ok
}

// nextAnonID returns a table-unique id of the form <storeID>:<n>.
func (s *Store) nextAnonID() string {
	return s.config.ID + ":" + strconv.FormatUint(s.counter.Add(1), 10)
}

// targetDescriptor normalizes the accepted target forms. A Ref or
// descriptor without a peer is completed from the table when possible.
func (s *Store) targetDescriptor(target any) (*refspace.Descriptor, error) {
	var desc *refspace.Descriptor
	switch t := target.(type) {
	case *refspace.Handle:
		if t == nil {
			return nil, fmt.Errorf("%w: nil handle", refspace.ErrRefNotResolved)
		}
		return t.Descriptor(), nil
	case *refspace.Descriptor:
		if t == nil {
			return nil, fmt.Errorf("%w: nil descriptor", refspace.ErrRefNotResolved)
		}
		desc = t
	case refspace.Descriptor:
		desc = &t
	case refspace.Ref:
		desc = &refspace.Descriptor{Ref: t}
	default:
		return nil, fmt.Errorf("%w: unsupported target %T", refspace.ErrRefNotResolved, target)
	}
	if desc.Peer == "" {
		if h, ok := s.table.get(desc.Space, desc.ID); ok {
			return h.Descriptor(), nil
		}
	}
	return desc, nil
}

func (s *Store) snapshotListeners() []refspace.Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]refspace.Listener(nil), s.listeners...)
}

func (s *Store) emitAdd(h *refspace.Handle) {
	desc := h.Descriptor()
	s.logger.Debug().Stringer("ref", desc.Ref).Str("type", string(desc.Kind)).Msg("Reference added")
	for _, l := range s.snapshotListeners() {
		l.OnAdd(*desc)
	}
}

func (s *Store) emitCall(msg *refspace.CallMessage) {
	for _, l := range s.snapshotListeners() {
		l.OnCall(msg)
	}
}

func (s *Store) emitPeer(peerID string) {
	for _, l := range s.snapshotListeners() {
		l.OnPeer(peerID)
	}
}

// Ensure Store implements the refspace.Store interface
var _ refspace.Store = (*Store)(nil)
