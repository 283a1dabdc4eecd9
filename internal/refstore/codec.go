package refstore

import (
	"context"
	"fmt"

	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// encodeArgs converts native arguments to wire arguments. Functions and
// objects are exported anonymously and travel as capabilities; value handles
// travel as their literal. Errors cannot be encoded.
func (s *Store) encodeArgs(args []any) ([]refspace.Arg, error) {
	out := make([]refspace.Arg, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case error:
			return nil, fmt.Errorf("%w: argument %d is an error: %v", refspace.ErrUnsupportedArgument, i, v)
		case *refspace.Handle:
			if v.Kind() == refspace.KindValue {
				out[i] = refspace.ValueArg(v.Literal())
				continue
			}
			out[i] = refspace.RefArg(v.Descriptor())
		case refspace.Func, func(context.Context, ...any) (any, error), *refspace.Object:
			h, err := s.Export(v)
			if err != nil {
				return nil, fmt.Errorf("export argument %d: %w", i, err)
			}
			out[i] = refspace.RefArg(h.Descriptor())
		default:
			out[i] = refspace.ValueArg(a)
		}
	}
	return out, nil
}

// decodeArgs converts wire arguments back to native ones: capabilities
// become proxies, values pass through.
func (s *Store) decodeArgs(args []refspace.Arg) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		switch a.Type {
		case refspace.ArgValue:
			if a.ValueType == refspace.ValueTypeStream {
				// placeholder the transport could not turn into a stream
				return nil, fmt.Errorf("%w: argument %d is a stream this transport does not carry", refspace.ErrUnsupportedArgument, i)
			}
			out[i] = a.Value
		case refspace.ArgRef:
			if a.Ref == nil {
				return nil, fmt.Errorf("%w: argument %d has no descriptor", refspace.ErrRefNotResolved, i)
			}
			h, err := s.Proxy(a.Ref)
			if err != nil {
				return nil, fmt.Errorf("decode argument %d: %w", i, err)
			}
			out[i] = h
		default:
			return nil, fmt.Errorf("%w: %q", refspace.ErrUnknownArgType, a.Type)
		}
	}
	return out, nil
}
