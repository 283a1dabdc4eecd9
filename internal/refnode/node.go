// Package refnode composes a reference store with the listeners that make it
// reachable: stream bus clients over TCP, the gRPC peer link and the HTTP API.
package refnode

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/refspace-go/internal/config"
	"github.com/rmacdonaldsmith/refspace-go/internal/discovery"
	"github.com/rmacdonaldsmith/refspace-go/internal/httpapi"
	"github.com/rmacdonaldsmith/refspace-go/internal/observability"
	peerlinkimpl "github.com/rmacdonaldsmith/refspace-go/internal/peerlink"
	"github.com/rmacdonaldsmith/refspace-go/internal/refstore"
	"github.com/rmacdonaldsmith/refspace-go/internal/streambus"
	"github.com/rmacdonaldsmith/refspace-go/pkg/peerlink"
	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// ErrNodeClosed is returned by Start after Close.
var ErrNodeClosed = errors.New("refnode: node closed")

// Node owns one store and its listeners. Each listener is optional and is
// enabled by its address in the config.
type Node struct {
	cfg    config.NodeConfig
	logger zerolog.Logger
	store  *refstore.Store

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	started     bool
	closed      bool
	busListener net.Listener
	link        *peerlinkimpl.GRPCPeerLink
	api         *httpapi.Server
	apiListener net.Listener
	buses       map[*streambus.Bus]struct{}
}

// NewNode validates cfg and creates the node's store. Nothing listens until Start.
func NewNode(cfg config.NodeConfig, logger zerolog.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := refstore.NewStore(refstore.NewConfig(cfg.ID).WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	store.AddListener(observability.NewStoreMetrics(store.ID()))

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		cfg:    cfg,
		logger: logger.With().Str("node", store.ID()).Logger(),
		store:  store,
		ctx:    ctx,
		cancel: cancel,
		buses:  make(map[*streambus.Bus]struct{}),
	}, nil
}

// Store returns the node's reference store. Export entities on it before
// Start so that the first clients see them.
func (n *Node) Store() *refstore.Store {
	return n.store
}

// Start opens every configured listener and dials the seed peers.
// It is idempotent. If any listener fails the node is left closed and the
// caller still owns Close.
func (n *Node) Start(ctx context.Context) (err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return nil
	}
	defer func() {
		if err != nil {
			n.closeLocked()
		}
	}()

	if n.cfg.Listen != "" {
		n.busListener, err = net.Listen("tcp", n.cfg.Listen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", n.cfg.Listen, err)
		}
		n.wg.Add(1)
		go n.acceptLoop(n.busListener)
		n.logger.Info().Str("address", n.busListener.Addr().String()).Msg("Accepting stream bus clients")
	}

	if n.cfg.GRPCListen != "" {
		if err := n.startLink(ctx); err != nil {
			return err
		}
	}

	if n.cfg.HTTPListen != "" {
		if err := n.startAPI(); err != nil {
			return err
		}
	}

	n.started = true
	return nil
}

func (n *Node) startLink(ctx context.Context) error {
	link, err := peerlinkimpl.NewGRPCPeerLink(&peerlinkimpl.Config{
		NodeID:        n.store.ID(),
		ListenAddress: n.cfg.GRPCListen,
		SecretKey:     n.cfg.Secret,
		Logger:        &n.logger,
	})
	if err != nil {
		return err
	}
	n.link = link
	link.OnPeer(func(peerID string, transport refspace.Transport) {
		if err := n.store.AddPeer(peerID, transport); err != nil {
			n.logger.Warn().Err(err).Str("peer", peerID).Msg("Failed to register peer")
		}
	})
	if err := link.Start(ctx); err != nil {
		return err
	}

	if len(n.cfg.Peers) > 0 {
		connected, err := discovery.Join(ctx, link, discovery.NewStaticDiscovery(n.cfg.Peers), n.logger)
		if err != nil {
			return err
		}
		n.logger.Info().Int("connected", connected).Int("seeds", len(n.cfg.Peers)).Msg("Joined peers")
	}
	return nil
}

func (n *Node) startAPI() error {
	var link peerlink.PeerLink
	if n.link != nil {
		link = n.link
	}
	api, err := httpapi.NewServer(n.store, link, httpapi.Config{
		Address:   n.cfg.HTTPListen,
		SecretKey: n.cfg.Secret,
		NoAuth:    n.cfg.NoAuth,
		Logger:    &n.logger,
	})
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", n.cfg.HTTPListen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", n.cfg.HTTPListen, err)
	}
	n.api = api
	n.apiListener = lis

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := api.Serve(lis); err != nil {
			n.logger.Error().Err(err).Msg("HTTP API stopped")
		}
	}()
	return nil
}

// BusAddr returns the stream bus address, or "" when disabled
func (n *Node) BusAddr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.busListener == nil {
		return ""
	}
	return n.busListener.Addr().String()
}

// HTTPAddr returns the HTTP API address, or "" when disabled
func (n *Node) HTTPAddr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.apiListener == nil {
		return ""
	}
	return n.apiListener.Addr().String()
}

// GRPCAddr returns the peer link address, or "" when disabled
func (n *Node) GRPCAddr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.link == nil {
		return ""
	}
	return n.link.GetListeningAddress()
}

func (n *Node) acceptLoop(lis net.Listener) {
	defer n.wg.Done()
	for {
		conn, err := lis.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				n.logger.Error().Err(err).Msg("Accept failed")
			}
			return
		}
		n.wg.Add(1)
		go n.serveConn(conn)
	}
}

// serveConn attaches one client connection as a peer until it drops.
func (n *Node) serveConn(conn net.Conn) {
	defer n.wg.Done()

	bus, err := streambus.NewBus(conn, streambus.NewConfig(n.store.ID(), false).WithLogger(n.logger))
	if err != nil {
		n.logger.Warn().Err(err).Msg("Failed to open stream bus")
		conn.Close()
		return
	}
	if !n.trackBus(bus) {
		bus.Close()
		return
	}
	defer func() {
		n.mu.Lock()
		delete(n.buses, bus)
		n.mu.Unlock()
		bus.Close()
	}()

	peer, err := streambus.Attach(n.ctx, n.store, bus)
	if err != nil {
		n.logger.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("Client left before hello")
		return
	}

	select {
	case <-bus.Done():
	case <-n.ctx.Done():
	}
	n.store.RemovePeer(peer)
	n.logger.Debug().Str("peer", peer).Msg("Client disconnected")
}

func (n *Node) trackBus(bus *streambus.Bus) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return false
	}
	n.buses[bus] = struct{}{}
	return true
}

// Close stops every listener and closes the store. It is idempotent.
func (n *Node) Close() error {
	n.mu.Lock()
	if !n.closed {
		n.closeLocked()
	}
	n.mu.Unlock()

	n.wg.Wait()
	return n.store.Close()
}

// closeLocked releases the listeners and open buses. Goroutines drain in Close.
func (n *Node) closeLocked() {
	n.closed = true
	n.started = false
	n.cancel()
	if n.busListener != nil {
		n.busListener.Close()
	}
	if n.api != nil {
		n.api.Stop(context.Background())
	}
	if n.link != nil {
		n.link.Close()
	}
	for bus := range n.buses {
		bus.Close()
	}
}

// Dial connects store to the stream bus listener at address as a client and
// returns the bus together with the remote store's id. Closing the bus ends
// the session.
func Dial(ctx context.Context, address string, store refspace.Store, logger zerolog.Logger) (*streambus.Bus, string, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, "", fmt.Errorf("dial %s: %w", address, err)
	}

	bus, err := streambus.NewBus(conn, streambus.NewConfig(store.ID(), true).WithLogger(logger))
	if err != nil {
		conn.Close()
		return nil, "", err
	}

	peer, err := streambus.Attach(ctx, store, bus)
	if err != nil {
		bus.Close()
		return nil, "", fmt.Errorf("handshake with %s: %w", address, err)
	}
	return bus, peer, nil
}
