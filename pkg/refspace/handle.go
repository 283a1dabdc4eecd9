package refspace

import (
	"context"
	"fmt"
)

// Handle pairs an entity with its descriptor. Reference tables store
// handles; the same *Handle is returned for every lookup of one (space, id).
type Handle struct {
	desc    *Descriptor
	payload any
}

// NewHandle creates a handle. The descriptor is owned by the handle afterwards.
func NewHandle(desc *Descriptor, payload any) *Handle {
	return &Handle{desc: desc, payload: payload}
}

// Descriptor returns a copy of the handle's descriptor.
func (h *Handle) Descriptor() *Descriptor {
	return h.desc.Clone()
}

// Ref returns the identity triple.
func (h *Handle) Ref() Ref {
	return h.desc.Ref
}

// Kind returns the capability class.
func (h *Handle) Kind() Kind {
	return h.desc.Kind
}

// Payload returns the entity: the exported Func, *Object or literal for local
// entities, a Callable or Capability for remote ones.
func (h *Handle) Payload() any {
	return h.payload
}

// Literal returns the inline literal of a value entity.
func (h *Handle) Literal() any {
	if h.desc.Kind == KindValue {
		return h.desc.Value
	}
	return h.payload
}

// Call invokes a function entity, local or remote.
func (h *Handle) Call(ctx context.Context, args ...any) (*Future, error) {
	switch p := h.payload.(type) {
	case Callable:
		return p.Call(ctx, args...)
	case Func:
		return callLocal(ctx, p, args)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotCallable, h.desc.Ref)
}

// Invoke calls a declared method of an object entity, local or remote.
func (h *Handle) Invoke(ctx context.Context, method string, args ...any) (*Future, error) {
	switch p := h.payload.(type) {
	case Capability:
		return p.Invoke(ctx, method, args...)
	case *Object:
		fn, ok := p.Methods[method]
		if !ok || !h.desc.HasMethod(method) {
			return nil, fmt.Errorf("%w: %s on %s", ErrUnknownMethod, method, h.desc.Ref)
		}
		return callLocal(ctx, fn, args)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotCallable, h.desc.Ref)
}

// Value returns a declared value as snapshotted at export time.
func (h *Handle) Value(name string) (any, bool) {
	if p, ok := h.payload.(Capability); ok {
		return p.Value(name)
	}
	v, ok := h.desc.Values[name]
	return v, ok
}

// Keys returns the declared value and method names.
func (h *Handle) Keys() []string {
	if p, ok := h.payload.(Capability); ok {
		return p.Keys()
	}
	return h.desc.Keys()
}

func (h *Handle) String() string {
	return fmt.Sprintf("%s(%s)", h.desc.Kind, h.desc.Ref)
}

func callLocal(ctx context.Context, fn Func, args []any) (*Future, error) {
	value, err := fn(ctx, args...)
	return Resolved(value, err), nil
}
