package peerlink

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rmacdonaldsmith/refspace-go/internal/refstore"
	"github.com/rmacdonaldsmith/refspace-go/pkg/peerlink"
	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

const testSecret = "test-secret"

// seed is a PeerNode used to dial test links
type seed struct {
	id      string
	address string
}

func (s seed) ID() string      { return s.id }
func (s seed) Address() string { return s.address }
func (s seed) IsHealthy() bool { return true }

// testNode is a link served over an in-memory listener
type testNode struct {
	link *GRPCPeerLink
	lis  *bufconn.Listener
}

func (n *testNode) seed() seed {
	return seed{id: n.link.config.NodeID, address: "passthrough:///" + n.link.config.NodeID}
}

func newTestLink(t *testing.T, nodeID, secret string, dialTo ...*testNode) *testNode {
	t.Helper()
	logger := zerolog.Nop()
	config := &Config{
		NodeID:        nodeID,
		ListenAddress: "bufnet",
		SecretKey:     secret,
		SendQueueSize: 2,
		Logger:        &logger,
	}
	for _, target := range dialTo {
		lis := target.lis
		config.DialOptions = append(config.DialOptions, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	}

	link, err := NewGRPCPeerLink(config)
	require.NoError(t, err)
	lis := bufconn.Listen(1 << 20)
	require.NoError(t, link.Serve(lis))
	t.Cleanup(func() { link.Close() })
	return &testNode{link: link, lis: lis}
}

// collector gathers messages delivered on transports announced by a link
type collector struct {
	mu         sync.Mutex
	peers      []string
	transports map[string]refspace.Transport
	messages   chan *refspace.CallMessage
}

func collect(link *GRPCPeerLink) *collector {
	c := &collector{
		transports: make(map[string]refspace.Transport),
		messages:   make(chan *refspace.CallMessage, 16),
	}
	link.OnPeer(func(peerID string, transport refspace.Transport) {
		c.mu.Lock()
		c.peers = append(c.peers, peerID)
		c.transports[peerID] = transport
		c.mu.Unlock()
		transport.OnMessage(func(msg *refspace.CallMessage) {
			c.messages <- msg
		})
	})
	return c
}

func (c *collector) seen(peerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.transports[peerID]
	return ok
}

func (c *collector) next(t *testing.T) *refspace.CallMessage {
	t.Helper()
	select {
	case msg := <-c.messages:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func testMessage(method string) *refspace.CallMessage {
	return &refspace.CallMessage{
		Ref:    refspace.Ref{Peer: "b", Space: "api", ID: "db"},
		Method: method,
		Args:   []refspace.Arg{refspace.ValueArg("power")},
	}
}

// TestGRPCPeerLink_InterfaceCompliance verifies that GRPCPeerLink implements the PeerLink interface
func TestGRPCPeerLink_InterfaceCompliance(t *testing.T) {
	var _ peerlink.PeerLink = &GRPCPeerLink{}
}

// TestNewGRPCPeerLink tests the constructor
func TestNewGRPCPeerLink(t *testing.T) {
	_, err := NewGRPCPeerLink(nil)
	assert.Error(t, err)

	_, err = NewGRPCPeerLink(&Config{NodeID: "a"})
	assert.Error(t, err)

	link, err := NewGRPCPeerLink(&Config{NodeID: "a", ListenAddress: "localhost:0", SecretKey: testSecret})
	require.NoError(t, err)
	assert.Equal(t, "", link.GetListeningAddress())
	assert.NoError(t, link.Close())
	assert.NoError(t, link.Close())

	err = link.Connect(context.Background(), seed{address: "localhost:1"})
	assert.ErrorIs(t, err, ErrLinkClosed)
}

// TestGRPCPeerLink_StartStop tests that a link can be restarted on a real port
func TestGRPCPeerLink_StartStop(t *testing.T) {
	link, err := NewGRPCPeerLink(&Config{NodeID: "a", ListenAddress: "127.0.0.1:0", SecretKey: testSecret})
	require.NoError(t, err)
	defer link.Close()
	ctx := context.Background()

	require.NoError(t, link.Start(ctx))
	assert.NotEmpty(t, link.GetListeningAddress())
	assert.ErrorIs(t, link.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, link.Stop(ctx))
	assert.Equal(t, "", link.GetListeningAddress())

	require.NoError(t, link.Start(ctx))
	assert.NotEmpty(t, link.GetListeningAddress())
}

// TestGRPCPeerLink_Handshake tests that both sides learn each other's id
func TestGRPCPeerLink_Handshake(t *testing.T) {
	b := newTestLink(t, "b", testSecret)
	a := newTestLink(t, "a", testSecret, b)
	ca := collect(a.link)
	cb := collect(b.link)

	// the dialer may leave the id empty and learn it
	target := b.seed()
	target.id = ""
	require.NoError(t, a.link.Connect(context.Background(), target))

	assert.True(t, ca.seen("b"))
	require.Eventually(t, func() bool { return cb.seen("a") }, 5*time.Second, 10*time.Millisecond)

	health, err := a.link.GetPeerHealth(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, peerlink.PeerHealthy, health)

	peers, err := a.link.GetConnectedPeers(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, "b", peers[0].ID())
	assert.True(t, peers[0].IsHealthy())

	health, err = a.link.GetPeerHealth(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, peerlink.PeerDisconnected, health)
}

// TestGRPCPeerLink_HandshakeRejected tests secret and identity mismatches
func TestGRPCPeerLink_HandshakeRejected(t *testing.T) {
	t.Run("wrong secret", func(t *testing.T) {
		b := newTestLink(t, "b", testSecret)
		a := newTestLink(t, "a", "another-secret", b)
		cb := collect(b.link)

		err := a.link.Connect(context.Background(), b.seed())
		assert.ErrorIs(t, err, ErrUnauthenticated)
		assert.False(t, cb.seen("a"))
		assert.Equal(t, 0, len(a.link.peers))
	})

	t.Run("unexpected id", func(t *testing.T) {
		b := newTestLink(t, "b", testSecret)
		a := newTestLink(t, "a", testSecret, b)

		target := b.seed()
		target.id = "c"
		err := a.link.Connect(context.Background(), target)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("self", func(t *testing.T) {
		b := newTestLink(t, "b", testSecret)
		imposter := newTestLink(t, "b", testSecret, b)

		err := imposter.link.Connect(context.Background(), b.seed())
		assert.Error(t, err)
	})
}

// TestGRPCPeerLink_Messages tests delivery in both directions
func TestGRPCPeerLink_Messages(t *testing.T) {
	b := newTestLink(t, "b", testSecret)
	a := newTestLink(t, "a", testSecret, b)
	ca := collect(a.link)
	cb := collect(b.link)

	require.NoError(t, a.link.Connect(context.Background(), b.seed()))
	require.Eventually(t, func() bool { return cb.seen("a") }, 5*time.Second, 10*time.Millisecond)

	toB, err := a.link.Transport("b")
	require.NoError(t, err)
	require.NoError(t, toB.PostMessage(testMessage("first")))
	require.NoError(t, toB.PostMessage(testMessage("second")))

	assert.Equal(t, "first", cb.next(t).Method)
	msg := cb.next(t)
	assert.Equal(t, "second", msg.Method)
	require.Len(t, msg.Args, 1)
	assert.Equal(t, "power", msg.Args[0].Value)

	toA, err := b.link.Transport("a")
	require.NoError(t, err)
	require.NoError(t, toA.PostMessage(testMessage("back")))
	assert.Equal(t, "back", ca.next(t).Method)

	_, err = a.link.Transport("nobody")
	assert.ErrorIs(t, err, ErrPeerNotConnected)
}

// TestGRPCPeerLink_QueueWhileDisconnected tests queueing, drops and redelivery on reconnect
func TestGRPCPeerLink_QueueWhileDisconnected(t *testing.T) {
	b := newTestLink(t, "b", testSecret)
	a := newTestLink(t, "a", testSecret, b)
	collect(a.link)
	cb := collect(b.link)
	ctx := context.Background()

	require.NoError(t, a.link.Connect(ctx, b.seed()))
	toB, err := a.link.Transport("b")
	require.NoError(t, err)

	require.NoError(t, a.link.Disconnect(ctx, "b"))
	health, err := a.link.GetPeerHealth(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, peerlink.PeerDisconnected, health)

	peers, err := a.link.GetConnectedPeers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)

	require.NoError(t, toB.PostMessage(testMessage("one")))
	require.NoError(t, toB.PostMessage(testMessage("two")))
	assert.Equal(t, 2, a.link.GetQueueDepth("b"))

	err = toB.PostMessage(testMessage("three"))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), a.link.GetDropsCount("b"))

	// the transport handed out earlier keeps working after reconnect
	require.NoError(t, a.link.Connect(ctx, b.seed()))
	assert.Equal(t, "one", cb.next(t).Method)
	assert.Equal(t, "two", cb.next(t).Method)
	require.Eventually(t, func() bool { return a.link.GetQueueDepth("b") == 0 }, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, a.link.Disconnect(ctx, "nobody"), ErrPeerNotConnected)
}

// TestGRPCPeerLink_StoreCall tests a store to store call over a link
func TestGRPCPeerLink_StoreCall(t *testing.T) {
	b := newTestLink(t, "b", testSecret)
	a := newTestLink(t, "a", testSecret, b)

	newStore := func(id string, link *GRPCPeerLink) *refstore.Store {
		s, err := refstore.NewStore(refstore.NewConfig(id).WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		link.OnPeer(func(peerID string, transport refspace.Transport) {
			require.NoError(t, s.AddPeer(peerID, transport))
		})
		return s
	}
	sa := newStore("a", a.link)
	sb := newStore("b", b.link)

	db, err := sb.Export(&refspace.Object{
		Methods: map[string]refspace.Func{
			"query": func(ctx context.Context, args ...any) (any, error) {
				return "R:POWER", nil
			},
		},
	}, refspace.WithRef("api", "db"))
	require.NoError(t, err)

	require.NoError(t, a.link.Connect(context.Background(), b.seed()))
	require.Eventually(t, func() bool { return len(sb.Peers()) == 1 }, 5*time.Second, 10*time.Millisecond)

	remote, err := sa.Proxy(db.Descriptor())
	require.NoError(t, err)

	f, err := remote.Invoke(context.Background(), "query", "power")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "R:POWER", v)
}
