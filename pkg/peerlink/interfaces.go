package peerlink

import (
	"context"
	"errors"
	"io"

	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// ErrPeerNotConnected is returned for peers the link has never connected to
var ErrPeerNotConnected = errors.New("peerlink: peer not connected")

// PeerHealthState represents the health state of a peer
type PeerHealthState int

const (
	PeerHealthy PeerHealthState = iota
	PeerUnhealthy
	PeerDisconnected
)

func (s PeerHealthState) String() string {
	switch s {
	case PeerHealthy:
		return "Healthy"
	case PeerUnhealthy:
		return "Unhealthy"
	case PeerDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// PeerNode represents a remote node
type PeerNode interface {
	// ID returns the peer's store id. It may be empty for seed addresses
	// whose id is learned during the handshake.
	ID() string

	// Address returns the network address of the peer node
	Address() string

	// IsHealthy returns whether the peer node is currently reachable
	IsHealthy() bool
}

// PeerHandler is called once a peer completes the handshake, on both the
// dialing and the accepting side.
type PeerHandler func(peerID string, transport refspace.Transport)

// PeerLink manages authenticated streaming connections between nodes and
// exposes each connection as a refspace.Transport.
type PeerLink interface {
	io.Closer

	// Start begins accepting peer connections on the configured address.
	Start(ctx context.Context) error

	// Stop stops accepting connections and drops all peers.
	Stop(ctx context.Context) error

	// Connect dials a peer, authenticates and starts streaming.
	Connect(ctx context.Context, peer PeerNode) error

	// Disconnect closes the connection to the specified peer node.
	Disconnect(ctx context.Context, peerID string) error

	// OnPeer registers the handler for completed handshakes.
	OnPeer(handler PeerHandler)

	// Transport returns the call transport of a connected peer.
	Transport(peerID string) (refspace.Transport, error)

	// GetConnectedPeers returns all currently connected peer nodes.
	GetConnectedPeers(ctx context.Context) ([]PeerNode, error)

	// GetPeerHealth returns health status for a specific peer node.
	GetPeerHealth(ctx context.Context, peerID string) (PeerHealthState, error)
}
