package refstore

import (
	"context"
	"fmt"

	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// functionProxy forwards calls to a function owned by another peer.
type functionProxy struct {
	store *Store
	desc  *refspace.Descriptor
}

func (p *functionProxy) Call(ctx context.Context, args ...any) (*refspace.Future, error) {
	return p.store.Dispatch(ctx, p.desc, refspace.Call{Args: args})
}

// objectProxy exposes exactly the declared interface of a remote object:
// values come from the export-time snapshot, declared methods are forwarded.
type objectProxy struct {
	store *Store
	desc  *refspace.Descriptor
}

func (p *objectProxy) Invoke(ctx context.Context, method string, args ...any) (*refspace.Future, error) {
	if !p.desc.HasMethod(method) {
		return nil, fmt.Errorf("%w: %s on %s", refspace.ErrUnknownMethod, method, p.desc.Ref)
	}
	return p.store.Dispatch(ctx, p.desc, refspace.Call{Method: method, Args: args})
}

func (p *objectProxy) Value(name string) (any, bool) {
	v, ok := p.desc.Values[name]
	return v, ok
}

func (p *objectProxy) Keys() []string {
	return p.desc.Keys()
}

var (
	_ refspace.Callable   = (*functionProxy)(nil)
	_ refspace.Capability = (*objectProxy)(nil)
)
