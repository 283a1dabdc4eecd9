package refspace

import (
	"sort"
	"strings"
)

// AnonSpace is the default space for anonymous, store-local references.
const AnonSpace = "_"

// IsAnonymous reports whether space is reserved for store-local references.
func IsAnonymous(space string) bool {
	return strings.HasPrefix(space, AnonSpace)
}

// Kind is the capability class of a described entity.
type Kind string

const (
	// KindValue describes plain data carried inline
	KindValue Kind = "value"
	// KindFunction describes a remotely callable function
	KindFunction Kind = "function"
	// KindObject describes an object with declared values and methods
	KindObject Kind = "object"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindValue, KindFunction, KindObject:
		return true
	default:
		return false
	}
}

// Ref is the short form of a descriptor: the identity triple placed on the wire.
type Ref struct {
	Space string `msgpack:"space" json:"space"`
	ID    string `msgpack:"id" json:"id"`
	Peer  string `msgpack:"peer" json:"peer"`
}

// IsZero reports whether the ref carries no identity.
func (r Ref) IsZero() bool {
	return r.Space == "" && r.ID == "" && r.Peer == ""
}

func (r Ref) String() string {
	return r.Space + "/" + r.ID + "@" + r.Peer
}

// Descriptor describes an exported entity's shape and its owning peer.
// The (Space, ID, Peer) triple never changes once assigned.
type Descriptor struct {
	Ref `msgpack:",inline"`

	// Kind is the capability class of the entity
	Kind Kind `msgpack:"type" json:"type"`

	// Value is the literal of a value descriptor
	Value any `msgpack:"value,omitempty" json:"value,omitempty"`

	// Values is the export-time snapshot of an object's declared values
	Values map[string]any `msgpack:"values,omitempty" json:"values,omitempty"`

	// Methods is the sorted set of an object's remotely callable method names
	Methods []string `msgpack:"methods,omitempty" json:"methods,omitempty"`
}

// Short returns the identity triple of the descriptor.
func (d *Descriptor) Short() Ref {
	return d.Ref
}

// HasMethod reports whether name is a declared method.
func (d *Descriptor) HasMethod(name string) bool {
	i := sort.SearchStrings(d.Methods, name)
	return i < len(d.Methods) && d.Methods[i] == name
}

// HasValue reports whether name is a declared value.
func (d *Descriptor) HasValue(name string) bool {
	_, ok := d.Values[name]
	return ok
}

// Keys returns the sorted union of declared value and method names.
func (d *Descriptor) Keys() []string {
	keys := make([]string, 0, len(d.Values)+len(d.Methods))
	for name := range d.Values {
		keys = append(keys, name)
	}
	keys = append(keys, d.Methods...)
	return normalizeNames(keys)
}

// Clone returns a copy whose maps and slices are not shared with d.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	out := *d
	if d.Values != nil {
		out.Values = make(map[string]any, len(d.Values))
		for k, v := range d.Values {
			out.Values[k] = v
		}
	}
	if d.Methods != nil {
		out.Methods = append([]string(nil), d.Methods...)
	}
	return &out
}

// normalizeNames sorts and de-duplicates names in place.
func normalizeNames(names []string) []string {
	if len(names) == 0 {
		return names
	}
	sort.Strings(names)
	out := names[:1]
	for _, n := range names[1:] {
		if n != out[len(out)-1] {
			out = append(out, n)
		}
	}
	return out
}

// Normalize sorts and de-duplicates Methods so HasMethod can search them.
// Descriptors built by hand or decoded off the wire should be normalized.
func (d *Descriptor) Normalize() {
	d.Methods = normalizeNames(d.Methods)
}
