package refspace

import (
	"context"
	"io"
)

// Callable is a capability for a function entity.
type Callable interface {
	// Call forwards the arguments to the function's owner.
	Call(ctx context.Context, args ...any) (*Future, error)
}

// Capability is a read-only view of an object entity along its declared interface.
type Capability interface {
	// Invoke calls a declared method.
	Invoke(ctx context.Context, method string, args ...any) (*Future, error)

	// Value returns a declared value; ok is false for undeclared names.
	Value(name string) (any, bool)

	// Keys returns exactly the declared value and method names.
	Keys() []string
}

// Transport is a bidirectional message channel to one peer.
// Messages are delivered in send order. Request/response pairing is not the
// transport's concern; continuations handle it.
type Transport interface {
	// PostMessage sends one call message.
	PostMessage(msg *CallMessage) error

	// OnMessage registers the single inbound handler. Messages received
	// before a handler is attached may be buffered and replayed.
	OnMessage(handler func(msg *CallMessage))
}

// SpaceLoader lazily materializes entities of one named space.
type SpaceLoader interface {
	// Load returns the entity for id. A returned *Handle is cached as is;
	// anything else is exported under (space, id).
	Load(store Store, id string) (any, error)
}

// SpaceLoaderFunc adapts a function to SpaceLoader.
type SpaceLoaderFunc func(store Store, id string) (any, error)

// Load calls f(store, id).
func (f SpaceLoaderFunc) Load(store Store, id string) (any, error) {
	return f(store, id)
}

// Listener observes store notifications. Notifications are for
// observability only; correctness never depends on them.
type Listener interface {
	// OnAdd is called on every table insertion.
	OnAdd(desc Descriptor)

	// OnCall is called on every outbound dispatch.
	OnCall(msg *CallMessage)

	// OnPeer is called when a peer's transport is registered.
	OnPeer(peerID string)
}

// ListenerFuncs adapts optional functions to Listener.
type ListenerFuncs struct {
	Add  func(desc Descriptor)
	Call func(msg *CallMessage)
	Peer func(peerID string)
}

func (l ListenerFuncs) OnAdd(desc Descriptor) {
	if l.Add != nil {
		l.Add(desc)
	}
}

func (l ListenerFuncs) OnCall(msg *CallMessage) {
	if l.Call != nil {
		l.Call(msg)
	}
}

func (l ListenerFuncs) OnPeer(peerID string) {
	if l.Peer != nil {
		l.Peer(peerID)
	}
}

// Store is a per-peer reference table with its call dispatcher.
//
// Targets accepted by Proxy, Resolve, Shorten, Has and Dispatch are
// *Handle, *Descriptor, Descriptor or Ref.
type Store interface {
	io.Closer

	// ID returns this store's peer id.
	ID() string

	// Export registers value as an entity owned by this store.
	Export(value any, opts ...ExportOption) (*Handle, error)

	// Add proxies foreign-owned handles and descriptors and exports everything else.
	Add(value any, opts ...ExportOption) (*Handle, error)

	// Proxy returns the local stand-in for a possibly remote entity.
	Proxy(target any) (*Handle, error)

	// Resolve returns an already registered entity.
	Resolve(target any) (*Handle, error)

	// Has reports whether target is registered.
	Has(target any) bool

	// Get looks up (space, id) without failing.
	Get(space, id string) (*Handle, bool)

	// Load returns (space, id), asking the space's loader on a miss.
	Load(space, id string) (*Handle, error)

	// AddPeer registers the transport used to reach peerID.
	AddPeer(peerID string, transport Transport) error

	// AddSpace registers a lazy loader for a named space.
	AddSpace(name string, loader SpaceLoader)

	// Shorten returns the identity triple of target.
	Shorten(target any) (Ref, error)

	// Dispatch executes or forwards one call.
	Dispatch(ctx context.Context, target any, call Call) (*Future, error)

	// AddListener subscribes to notifications.
	AddListener(l Listener)

	// Descriptors returns a snapshot of the table sorted by space and id.
	Descriptors() []Descriptor

	// Peers returns the registered peer ids, sorted.
	Peers() []string
}
