package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/refspace-go/pkg/peerlink"
	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// TestDiscoveryInterface_FindPeers tests the discovery interface contract
func TestDiscoveryInterface_FindPeers(t *testing.T) {
	seedNodes := []string{"node1@host1:8080", "host2:8080"}
	discovery := NewStaticDiscovery(seedNodes)

	peers, err := discovery.FindPeers(context.Background())
	if err != nil {
		t.Fatalf("Expected no error from FindPeers, got %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("Expected 2 peers, got %d", len(peers))
	}

	if peers[0].ID() != "node1" {
		t.Errorf("Expected first peer ID 'node1', got '%s'", peers[0].ID())
	}
	if peers[0].Address() != "host1:8080" {
		t.Errorf("Expected first peer address 'host1:8080', got '%s'", peers[0].Address())
	}

	// bare addresses leave the id to the handshake
	if peers[1].ID() != "" {
		t.Errorf("Expected second peer ID to be empty, got '%s'", peers[1].ID())
	}
	if peers[1].Address() != "host2:8080" {
		t.Errorf("Expected second peer address 'host2:8080', got '%s'", peers[1].Address())
	}
}

// TestDiscoveryInterface_EmptySeedNodes tests discovery with empty seed nodes
func TestDiscoveryInterface_EmptySeedNodes(t *testing.T) {
	peers, err := NewStaticDiscovery([]string{}).FindPeers(context.Background())
	if err != nil {
		t.Errorf("Expected no error from FindPeers with empty seeds, got %v", err)
	}
	if len(peers) != 0 {
		t.Errorf("Expected 0 peers with empty seed nodes, got %d", len(peers))
	}
}

func TestParseSeed_Invalid(t *testing.T) {
	for _, seed := range []string{"", "  ", "node1@"} {
		if _, err := ParseSeed(seed); !errors.Is(err, ErrInvalidSeed) {
			t.Errorf("ParseSeed(%q): expected ErrInvalidSeed, got %v", seed, err)
		}
	}

	if _, err := NewStaticDiscovery([]string{"ok:1", "x@"}).FindPeers(context.Background()); err == nil {
		t.Error("Expected FindPeers to reject an invalid seed")
	}
}

// TestDiscoveryInterface_InterfaceCompliance tests that StaticDiscovery implements Discovery
func TestDiscoveryInterface_InterfaceCompliance(t *testing.T) {
	var _ Discovery = (*StaticDiscovery)(nil)
}

// fakeLink records Connect calls and fails for one address
type fakeLink struct {
	peerlink.PeerLink
	failAddress string
	dialed      []string
}

func (f *fakeLink) Connect(ctx context.Context, peer peerlink.PeerNode) error {
	f.dialed = append(f.dialed, peer.Address())
	if peer.Address() == f.failAddress {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeLink) Transport(peerID string) (refspace.Transport, error) {
	return nil, errors.New("not implemented")
}

func TestJoin(t *testing.T) {
	link := &fakeLink{failAddress: "down:1"}
	d := NewStaticDiscovery([]string{"a@up:1", "down:1", "up:2"})

	connected, err := Join(context.Background(), link, d, zerolog.Nop())
	if err != nil {
		t.Fatalf("Expected no error from Join, got %v", err)
	}
	if connected != 2 {
		t.Errorf("Expected 2 connected peers, got %d", connected)
	}
	if len(link.dialed) != 3 {
		t.Errorf("Expected 3 dial attempts, got %d", len(link.dialed))
	}

	_, err = Join(context.Background(), link, NewStaticDiscovery([]string{"@"}), zerolog.Nop())
	if err == nil {
		t.Error("Expected Join to fail on invalid seeds")
	}
}
