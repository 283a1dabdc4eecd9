package peerlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	grpcpeer "google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rmacdonaldsmith/refspace-go/internal/wire"
	"github.com/rmacdonaldsmith/refspace-go/pkg/peerlink"
	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// authorizationKey carries handshake tokens in stream metadata, both ways
const authorizationKey = "authorization"

var (
	ErrPeerNotConnected = peerlink.ErrPeerNotConnected
	ErrQueueFull        = errors.New("peerlink: send queue full")
	ErrUnauthenticated  = errors.New("peerlink: peer authentication failed")
	ErrAlreadyStarted   = errors.New("peerlink: already started")
	ErrLinkClosed       = errors.New("peerlink: closed")
)

// GRPCPeerLink implements the PeerLink interface using gRPC for peer-to-peer communication
type GRPCPeerLink struct {
	config *Config
	logger zerolog.Logger
	auth   *TokenAuth

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	server     *grpc.Server
	listener   net.Listener
	peers      map[string]*peerState
	sendQueues map[string]chan queuedMessage
	onPeer     peerlink.PeerHandler
	closed     bool
}

// peerState tracks one peer across reconnects. The transport and queue
// outlive individual streams.
type peerState struct {
	id          string
	address     string
	health      peerlink.PeerHealthState
	drops       int64
	connectedAt time.Time
	transport   *peerTransport

	// current stream
	generation int
	conn       *grpc.ClientConn
	cancel     context.CancelFunc
	done       chan struct{}

	// retry holds a message whose send failed; it goes out before the queue
	retry *queuedMessage
}

type queuedMessage struct {
	peerID  string
	payload []byte
	sentAt  time.Time
}

// messageStream is the common part of client and server streams
type messageStream interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	Context() context.Context
}

// NewGRPCPeerLink creates a new GRPCPeerLink with the given configuration
func NewGRPCPeerLink(config *Config) (*GRPCPeerLink, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Make a copy and set defaults
	configCopy := *config
	configCopy.SetDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &GRPCPeerLink{
		config:     &configCopy,
		logger:     configCopy.Logger.With().Str("node", configCopy.NodeID).Logger(),
		auth:       NewTokenAuth(configCopy.SecretKey, configCopy.TokenTTL),
		ctx:        ctx,
		cancel:     cancel,
		peers:      make(map[string]*peerState),
		sendQueues: make(map[string]chan queuedMessage),
	}, nil
}

// Start listens on the configured address and accepts peer streams
func (g *GRPCPeerLink) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", g.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", g.config.ListenAddress, err)
	}
	if err := g.Serve(lis); err != nil {
		lis.Close()
		return err
	}
	return nil
}

// Serve accepts peer streams on lis in the background
func (g *GRPCPeerLink) Serve(lis net.Listener) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrLinkClosed
	}
	if g.server != nil {
		return ErrAlreadyStarted
	}

	server := grpc.NewServer(
		grpc.MaxRecvMsgSize(g.config.MaxMessageSize),
		grpc.MaxSendMsgSize(g.config.MaxMessageSize),
	)
	RegisterLinkServer(server, &linkService{link: g})
	g.server = server
	g.listener = lis

	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			g.logger.Error().Err(err).Msg("Peer server stopped")
		}
	}()
	g.logger.Info().Str("address", lis.Addr().String()).Msg("Peer link listening")
	return nil
}

// GetListeningAddress returns the address the server listens on, or "" when stopped
func (g *GRPCPeerLink) GetListeningAddress() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Stop stops the server and drops every peer stream. Queued messages are kept.
func (g *GRPCPeerLink) Stop(ctx context.Context) error {
	g.mu.Lock()
	server := g.server
	g.server = nil
	g.listener = nil
	for _, ps := range g.peers {
		g.dropStreamLocked(ps)
	}
	g.mu.Unlock()

	if server != nil {
		server.Stop()
	}
	return nil
}

// Close closes the PeerLink and cleans up resources
func (g *GRPCPeerLink) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil // Already closed, safe to call multiple times
	}
	g.closed = true
	g.mu.Unlock()

	err := g.Stop(context.Background())
	g.cancel()
	return err
}

// OnPeer registers the handler called after every successful handshake
func (g *GRPCPeerLink) OnPeer(handler peerlink.PeerHandler) {
	g.mu.Lock()
	g.onPeer = handler
	g.mu.Unlock()
}

// Connect dials peer, exchanges handshake tokens and starts streaming.
// When peer.ID() is set, the peer must authenticate as that id.
func (g *GRPCPeerLink) Connect(ctx context.Context, peer peerlink.PeerNode) error {
	if peer == nil {
		return errors.New("peer cannot be nil")
	}
	g.mu.RLock()
	closed := g.closed
	g.mu.RUnlock()
	if closed {
		return ErrLinkClosed
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(g.config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(g.config.MaxMessageSize),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                g.config.HeartbeatInterval,
			PermitWithoutStream: false,
		}),
	}, g.config.DialOptions...)

	conn, err := grpc.NewClient(peer.Address(), opts...)
	if err != nil {
		return fmt.Errorf("dial %s: %w", peer.Address(), err)
	}

	token, err := g.auth.GenerateToken(g.config.NodeID)
	if err != nil {
		conn.Close()
		return err
	}

	streamCtx, cancel := context.WithCancel(g.ctx)
	// the handshake is bounded by ctx, the stream itself is not
	stopHandshake := context.AfterFunc(ctx, cancel)
	streamCtx = metadata.AppendToOutgoingContext(streamCtx, authorizationKey, "Bearer "+token)

	fail := func(err error) error {
		stopHandshake()
		cancel()
		conn.Close()
		return err
	}

	stream, err := NewLinkClient(conn).Stream(streamCtx)
	if err != nil {
		return fail(fmt.Errorf("open stream to %s: %w", peer.Address(), err))
	}

	header, err := stream.Header()
	if err != nil {
		if status.Code(err) == codes.Unauthenticated {
			return fail(fmt.Errorf("%w: %v", ErrUnauthenticated, err))
		}
		return fail(fmt.Errorf("handshake with %s: %w", peer.Address(), err))
	}
	tokens := header.Get(authorizationKey)
	if len(tokens) == 0 {
		// the server rejected us; its status arrives on the stream
		_, rerr := stream.Recv()
		return fail(fmt.Errorf("%w: %v", ErrUnauthenticated, rerr))
	}
	claims, err := g.auth.ValidateToken(tokens[0])
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrUnauthenticated, err))
	}
	if peer.ID() != "" && claims.NodeID != peer.ID() {
		return fail(fmt.Errorf("%w: peer at %s is %q, expected %q", ErrUnauthenticated, peer.Address(), claims.NodeID, peer.ID()))
	}
	if !stopHandshake() && ctx.Err() != nil {
		return fail(ctx.Err())
	}

	ps, gen, done := g.attachPeer(claims.NodeID, peer.Address(), conn, cancel)
	go g.runStream(streamCtx, ps, gen, done, stream)
	g.announce(ps)
	return nil
}

// Disconnect closes the connection to the specified peer node
func (g *GRPCPeerLink) Disconnect(ctx context.Context, peerID string) error {
	g.mu.Lock()
	ps, ok := g.peers[peerID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPeerNotConnected, peerID)
	}
	done := ps.done
	g.dropStreamLocked(ps)
	g.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Transport returns the call transport for peerID
func (g *GRPCPeerLink) Transport(peerID string) (refspace.Transport, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ps, ok := g.peers[peerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPeerNotConnected, peerID)
	}
	return ps.transport, nil
}

// GetConnectedPeers returns all currently connected peer nodes
func (g *GRPCPeerLink) GetConnectedPeers(ctx context.Context) ([]peerlink.PeerNode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]peerlink.PeerNode, 0, len(g.peers))
	for _, ps := range g.peers {
		if ps.health == peerlink.PeerDisconnected {
			continue
		}
		out = append(out, &peerNode{id: ps.id, address: ps.address, healthy: ps.health == peerlink.PeerHealthy})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// GetPeerHealth returns health status for a specific peer node
func (g *GRPCPeerLink) GetPeerHealth(ctx context.Context, peerID string) (peerlink.PeerHealthState, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ps, ok := g.peers[peerID]
	if !ok {
		return peerlink.PeerDisconnected, nil
	}
	return ps.health, nil
}

// GetQueueDepth returns the number of messages waiting for peerID
func (g *GRPCPeerLink) GetQueueDepth(peerID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sendQueues[peerID])
}

// GetDropsCount returns the number of messages dropped for peerID
func (g *GRPCPeerLink) GetDropsCount(peerID string) int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if ps, ok := g.peers[peerID]; ok {
		return ps.drops
	}
	return 0
}

// registerPeer returns the state for peerID, creating it and its send
// queue on first use. Caller must hold g.mu.
func (g *GRPCPeerLink) registerPeer(peerID string) *peerState {
	if ps, ok := g.peers[peerID]; ok {
		return ps
	}
	ps := &peerState{
		id:     peerID,
		health: peerlink.PeerDisconnected,
	}
	ps.transport = newPeerTransport(g, peerID)
	g.peers[peerID] = ps
	g.sendQueues[peerID] = make(chan queuedMessage, g.config.SendQueueSize)
	return ps
}

// attachPeer makes a fresh stream the peer's current one, replacing any
// previous stream. It returns the stream's generation and the channel
// runStream closes when the stream is finished.
func (g *GRPCPeerLink) attachPeer(peerID, address string, conn *grpc.ClientConn, cancel context.CancelFunc) (*peerState, int, chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ps := g.registerPeer(peerID)
	g.dropStreamLocked(ps)
	ps.generation++
	ps.address = address
	ps.conn = conn
	ps.cancel = cancel
	ps.done = make(chan struct{})
	ps.health = peerlink.PeerHealthy
	ps.connectedAt = time.Now()
	return ps, ps.generation, ps.done
}

// dropStreamLocked ends the peer's current stream. Caller must hold g.mu.
func (g *GRPCPeerLink) dropStreamLocked(ps *peerState) {
	if ps.cancel != nil {
		ps.cancel()
		ps.cancel = nil
	}
	if ps.conn != nil {
		ps.conn.Close()
		ps.conn = nil
	}
	ps.health = peerlink.PeerDisconnected
}

func (g *GRPCPeerLink) announce(ps *peerState) {
	g.mu.RLock()
	handler := g.onPeer
	g.mu.RUnlock()

	g.logger.Info().Str("peer", ps.id).Str("address", ps.address).Msg("Peer connected")
	if handler != nil {
		handler(ps.id, ps.transport)
	}
}

// runStream pumps one stream until either direction fails.
func (g *GRPCPeerLink) runStream(ctx context.Context, ps *peerState, gen int, done chan struct{}, stream messageStream) {
	defer close(done)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sendDone := make(chan struct{})
	go func() {
		defer close(sendDone)
		g.sendLoop(ctx, ps, stream)
	}()

	// Recv is not tied to ctx on the accepting side; returning from the
	// handler is what ends the stream there.
	recvErr := make(chan error, 1)
	go func() { recvErr <- g.recvLoop(ps, stream) }()

	var err error
	select {
	case err = <-recvErr:
	case <-ctx.Done():
	}
	cancel()
	<-sendDone

	g.mu.Lock()
	if ps.generation == gen {
		g.dropStreamLocked(ps)
	}
	g.mu.Unlock()

	if err != nil && !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
		g.logger.Warn().Err(err).Str("peer", ps.id).Msg("Peer stream failed")
	} else {
		g.mu.RLock()
		uptime := time.Since(ps.connectedAt)
		g.mu.RUnlock()
		g.logger.Debug().Str("peer", ps.id).Dur("uptime", uptime).Msg("Peer stream closed")
	}
}

func (g *GRPCPeerLink) recvLoop(ps *peerState, stream messageStream) error {
	for {
		in, err := stream.Recv()
		if err != nil {
			return err
		}
		msg := &refspace.CallMessage{}
		if err := wire.Unmarshal(in.GetValue(), msg); err != nil {
			g.logger.Warn().Err(err).Str("peer", ps.id).Msg("Dropping undecodable message")
			continue
		}
		wire.NormalizeCall(msg)
		ps.transport.deliver(msg)
	}
}

func (g *GRPCPeerLink) sendLoop(ctx context.Context, ps *peerState, stream messageStream) {
	g.mu.RLock()
	queue := g.sendQueues[ps.id]
	g.mu.RUnlock()

	for {
		g.mu.Lock()
		qm := ps.retry
		ps.retry = nil
		g.mu.Unlock()

		if qm == nil {
			select {
			case <-ctx.Done():
				return
			case next := <-queue:
				qm = &next
			}
		}

		if err := stream.Send(wrapperspb.Bytes(qm.payload)); err != nil {
			g.handleSendFailure(ps.id, *qm, queue, err)
			return
		}
		g.logger.Trace().Str("peer", ps.id).Dur("queued", time.Since(qm.sentAt)).Msg("Message sent")
	}
}

// handleSendFailure keeps a failed message for the next stream and marks
// the peer unhealthy. When a message is already waiting for retry, the
// failed one is requeued, or dropped if the queue is full.
func (g *GRPCPeerLink) handleSendFailure(peerID string, qm queuedMessage, queue chan queuedMessage, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ps := g.registerPeer(peerID)
	ps.health = peerlink.PeerUnhealthy
	g.logger.Debug().Err(err).Str("peer", peerID).Msg("Send failed")

	if ps.retry == nil {
		ps.retry = &qm
		return
	}
	select {
	case queue <- qm:
	default:
		ps.drops++
	}
}

// enqueue encodes msg and queues it for peerID.
func (g *GRPCPeerLink) enqueue(peerID string, msg *refspace.CallMessage) error {
	payload, err := wire.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if len(payload) > g.config.MaxMessageSize {
		return fmt.Errorf("%w: message of %d bytes", wire.ErrPayloadTooLarge, len(payload))
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrLinkClosed
	}
	ps, ok := g.peers[peerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPeerNotConnected, peerID)
	}
	select {
	case g.sendQueues[peerID] <- queuedMessage{peerID: peerID, payload: payload, sentAt: time.Now()}:
		return nil
	default:
		ps.drops++
		return fmt.Errorf("%w: %s", ErrQueueFull, peerID)
	}
}

// linkService accepts inbound peer streams
type linkService struct {
	link *GRPCPeerLink
}

func (s *linkService) Stream(stream Link_StreamServer) error {
	g := s.link
	md, _ := metadata.FromIncomingContext(stream.Context())
	tokens := md.Get(authorizationKey)
	if len(tokens) == 0 {
		return status.Error(codes.Unauthenticated, "missing handshake token")
	}
	claims, err := g.auth.ValidateToken(tokens[0])
	if err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	if claims.NodeID == g.config.NodeID {
		return status.Error(codes.InvalidArgument, "refusing connection from self")
	}

	token, err := g.auth.GenerateToken(g.config.NodeID)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	if err := stream.SendHeader(metadata.Pairs(authorizationKey, "Bearer "+token)); err != nil {
		return err
	}

	address := ""
	if p, ok := grpcpeer.FromContext(stream.Context()); ok && p.Addr != nil {
		address = p.Addr.String()
	}

	ctx, cancel := context.WithCancel(stream.Context())
	ps, gen, done := g.attachPeer(claims.NodeID, address, nil, cancel)
	g.announce(ps)
	g.runStream(ctx, ps, gen, done, stream)
	return nil
}

// peerNode implements peerlink.PeerNode for connected peers
type peerNode struct {
	id      string
	address string
	healthy bool
}

func (p *peerNode) ID() string      { return p.id }
func (p *peerNode) Address() string { return p.address }
func (p *peerNode) IsHealthy() bool { return p.healthy }

// Ensure GRPCPeerLink implements the peerlink.PeerLink interface
var _ peerlink.PeerLink = (*GRPCPeerLink)(nil)
