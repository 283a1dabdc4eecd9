// Package refspace provides the shared model for live object and function
// references exchanged between peers.
//
// This package defines the core abstractions used by the reference store and
// its transports:
//   - Descriptor: metadata describing an exported entity's shape and owner
//   - Handle: an entity plus its descriptor, as stored in a reference table
//   - CallMessage / Arg: the wire shape of one call between peers
//   - Future: the single-assignment outcome of a call
//   - Store, Transport, SpaceLoader, Listener: the contracts between them
//
// A peer exports values, functions and objects into its store. Other peers
// proxy the resulting descriptors and call them as if they were local. Every
// descriptor names exactly one owning peer; all other peers hold proxies that
// forward calls to that owner.
//
// The interfaces use Go idioms:
//   - Explicit export declarations (Func, *Object, Plain) instead of runtime
//     shape inspection
//   - context.Context on every call and on Future.Await
//   - Explicit error returns with sentinel errors for errors.Is matching
//   - A typed Listener instead of an untyped event bus
//
// Example usage:
//
//	// Peer A exports an object
//	db, err := storeA.Export(&refspace.Object{
//		Methods: map[string]refspace.Func{
//			"query": func(ctx context.Context, args ...any) (any, error) {
//				return "R:" + strings.ToUpper(args[0].(string)), nil
//			},
//		},
//	}, refspace.WithRef("api", "db"))
//	if err != nil {
//		return err
//	}
//
//	// Peer B proxies the descriptor and calls it
//	remote, err := storeB.Proxy(db.Descriptor())
//	if err != nil {
//		return err
//	}
//	future, err := remote.Invoke(ctx, "query", "power")
//	if err != nil {
//		return err
//	}
//	result, err := future.Await(ctx) // "R:POWER"
//
// Values crossing an in-process transport arrive unchanged. Transports that
// serialize (the stream bus and the peer link) deliver every integer as
// int64, unsigned values above math.MaxInt64 as uint64, floats as float64,
// maps as map[string]any and lists as []any. Strings and []byte keep their
// type. A handler that must accept both should convert numbers rather than
// assert an exact type.
//
// Calls from one peer run one at a time in arrival order; replies to
// pending calls are applied as they arrive. A handler serving peer B that
// waits on a call into B which in turn waits on a call back from B into this
// store blocks, because that inner call queues behind the waiting handler.
package refspace
