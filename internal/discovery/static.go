package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/refspace-go/pkg/peerlink"
)

// ErrInvalidSeed is returned for seeds with an empty address
var ErrInvalidSeed = errors.New("discovery: invalid seed")

// StaticDiscovery implements Discovery using a static list of seed nodes.
// A seed is either "id@address" or a bare address whose id is learned
// during the handshake.
type StaticDiscovery struct {
	seedNodes []string
}

// staticPeerNode implements peerlink.PeerNode for static seed nodes
type staticPeerNode struct {
	id      string
	address string
}

func (p *staticPeerNode) ID() string      { return p.id }
func (p *staticPeerNode) Address() string { return p.address }
func (p *staticPeerNode) IsHealthy() bool { return true } // Static discovery assumes healthy

// NewStaticDiscovery creates a new static discovery service with the given seed nodes
func NewStaticDiscovery(seedNodes []string) *StaticDiscovery {
	return &StaticDiscovery{
		seedNodes: seedNodes,
	}
}

// ParseSeed splits a seed into peer id and address.
func ParseSeed(seed string) (peerlink.PeerNode, error) {
	seed = strings.TrimSpace(seed)
	id, address, found := strings.Cut(seed, "@")
	if !found {
		id, address = "", seed
	}
	if address == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSeed, seed)
	}
	return &staticPeerNode{id: id, address: address}, nil
}

// FindPeers returns peer nodes from the static seed node list
func (s *StaticDiscovery) FindPeers(ctx context.Context) ([]peerlink.PeerNode, error) {
	peers := make([]peerlink.PeerNode, 0, len(s.seedNodes))
	for _, seed := range s.seedNodes {
		peer, err := ParseSeed(seed)
		if err != nil {
			return nil, err
		}
		peers = append(peers, peer)
	}
	return peers, nil
}

// Join connects link to every peer d finds. Failed connections are logged
// and skipped; it returns the number of peers connected.
func Join(ctx context.Context, link peerlink.PeerLink, d Discovery, logger zerolog.Logger) (int, error) {
	peers, err := d.FindPeers(ctx)
	if err != nil {
		return 0, err
	}

	connected := 0
	for _, peer := range peers {
		if err := link.Connect(ctx, peer); err != nil {
			logger.Warn().Err(err).Str("address", peer.Address()).Msg("Failed to connect to seed")
			continue
		}
		connected++
	}
	return connected, nil
}
