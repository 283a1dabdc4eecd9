package refspace

import "context"

// Func is a function entity. Exported functions are callable by remote peers;
// results may be any encodable value, another Func, an *Object or a *Handle.
type Func func(ctx context.Context, args ...any) (any, error)

// Object declares an object entity: named values captured when exported and
// named methods callable by remote peers.
type Object struct {
	Values  map[string]any
	Methods map[string]Func
}

// Plain forces V to be exported as a value even if it looks like something else.
type Plain struct {
	V any
}

// Include selects object keys for export. The zero value includes everything.
type Include struct {
	none  bool
	names map[string]struct{}
}

// IncludeAll selects every key.
func IncludeAll() Include {
	return Include{}
}

// IncludeNone selects no keys.
func IncludeNone() Include {
	return Include{none: true}
}

// IncludeNames selects only the listed keys.
func IncludeNames(names ...string) Include {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return Include{names: set}
}

// IncludeSet selects keys mapped to true.
func IncludeSet(set map[string]bool) Include {
	names := make(map[string]struct{}, len(set))
	for n, ok := range set {
		if ok {
			names[n] = struct{}{}
		}
	}
	return Include{names: names}
}

// Includes reports whether key passes the filter.
func (i Include) Includes(key string) bool {
	if i.none {
		return false
	}
	if i.names == nil {
		return true
	}
	_, ok := i.names[key]
	return ok
}

// ExportOptions are the caller overrides merged into a descriptor on export.
type ExportOptions struct {
	Space   string
	ID      string
	Methods Include
	Values  Include
}

// ExportOption mutates ExportOptions.
type ExportOption func(*ExportOptions)

// WithSpace sets the descriptor space.
func WithSpace(space string) ExportOption {
	return func(o *ExportOptions) { o.Space = space }
}

// WithID sets the descriptor id.
func WithID(id string) ExportOption {
	return func(o *ExportOptions) { o.ID = id }
}

// WithRef sets both space and id.
func WithRef(space, id string) ExportOption {
	return func(o *ExportOptions) {
		o.Space = space
		o.ID = id
	}
}

// WithMethods filters which object methods are exported.
func WithMethods(inc Include) ExportOption {
	return func(o *ExportOptions) { o.Methods = inc }
}

// WithValues filters which object values are exported.
func WithValues(inc Include) ExportOption {
	return func(o *ExportOptions) { o.Values = inc }
}

// ApplyExportOptions folds opts into a fresh ExportOptions.
func ApplyExportOptions(opts ...ExportOption) ExportOptions {
	var out ExportOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	return out
}
