package refstore

import (
	"context"
	"sort"

	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// describe builds the descriptor and payload for an exported value. Space,
// ID and Peer are filled in by the caller.
func describe(value any, o refspace.ExportOptions) (*refspace.Descriptor, any) {
	switch v := value.(type) {
	case *refspace.Handle:
		ref := v.Ref()
		if obj, ok := v.Payload().(*refspace.Object); ok {
			desc, payload := describeObject(obj, o)
			desc.Space, desc.ID = ref.Space, ref.ID
			return desc, payload
		}
		desc := v.Descriptor()
		desc.Peer = ""
		return desc, v.Payload()
	case refspace.Func:
		return &refspace.Descriptor{Kind: refspace.KindFunction}, v
	case func(context.Context, ...any) (any, error):
		return &refspace.Descriptor{Kind: refspace.KindFunction}, refspace.Func(v)
	case *refspace.Object:
		if v != nil {
			return describeObject(v, o)
		}
	case refspace.Plain:
		return &refspace.Descriptor{Kind: refspace.KindValue, Value: v.V}, v.V
	}
	return &refspace.Descriptor{Kind: refspace.KindValue, Value: value}, value
}

// describeObject snapshots the included values and lists the included methods.
func describeObject(obj *refspace.Object, o refspace.ExportOptions) (*refspace.Descriptor, any) {
	desc := &refspace.Descriptor{Kind: refspace.KindObject}
	for name, v := range obj.Values {
		if !o.Values.Includes(name) {
			continue
		}
		if desc.Values == nil {
			desc.Values = make(map[string]any)
		}
		desc.Values[name] = v
	}
	for name, fn := range obj.Methods {
		if fn != nil && o.Methods.Includes(name) {
			desc.Methods = append(desc.Methods, name)
		}
	}
	sort.Strings(desc.Methods)
	return desc, obj
}
