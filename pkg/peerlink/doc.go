// Package peerlink provides interfaces for authenticated peer-to-peer call
// transport between reference stores.
//
// This package defines the core abstractions for the peer link component:
//   - PeerNode: Interface representing a remote node
//   - PeerLink: Interface for managing connections to remote nodes
//   - PeerHandler: Callback for completed handshakes
//
// Key features:
//   - gRPC bidirectional streaming, one stream per peer pair
//   - JWT handshake carrying each side's node id
//   - Per-peer bounded send queues with drop accounting
//   - Every connection exposed as a refspace.Transport
//
// The interfaces use Go idioms:
//   - context.Context for cancellation and timeouts
//   - Explicit error returns following Go conventions
//   - io.Closer for resource cleanup
//
// Example usage:
//
//	// Register every handshaken peer with the local store
//	link.OnPeer(func(peerID string, t refspace.Transport) {
//		if err := store.AddPeer(peerID, t); err != nil {
//			log.Printf("add peer %s: %v", peerID, err)
//		}
//	})
//
//	// Accept peers and dial a seed
//	if err := link.Start(ctx); err != nil {
//		return err
//	}
//	err := link.Connect(ctx, seed)
//	if err != nil {
//		return err
//	}
//
//	// Check on a peer
//	state, err := link.GetPeerHealth(ctx, "node-2")
//
// Call messages travel as msgpack inside protobuf BytesValue envelopes.
// Stream arguments are not carried; use the stream bus for those.
package peerlink
