// Package streambus carries call messages and stream arguments between two
// peers over one multiplexed connection.
//
// Every logical channel is a yamux stream whose first frame names it. Each
// side opens its own "rpc" channel for the call messages it sends. A stream
// argument gets a fresh id and up to two data channels, "<id>-1" for data
// flowing from the sender and "<id>-2" for data flowing back. The sender
// opens data channels; the receiver waits for them by name, so channel and
// call message may arrive in either order.
package streambus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/hashicorp/yamux"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/refspace-go/internal/wire"
	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

const controlChannel = "rpc"

// Frame types
const (
	frameName  uint8 = 'n'
	frameHello uint8 = 'h'
	frameCall  uint8 = 'c'
)

var (
	ErrClosed        = errors.New("streambus: bus closed")
	ErrNotReadable   = errors.New("streambus: stream is not readable")
	ErrNotWritable   = errors.New("streambus: stream is not writable")
	ErrNotRecordMode = errors.New("streambus: stream is not in record mode")
)

type hello struct {
	Peer string `msgpack:"peer"`
}

// Bus is a refspace.Transport over a yamux session.
type Bus struct {
	config  *Config
	logger  zerolog.Logger
	limits  wire.Limits
	session *yamux.Session

	// ready is closed once the outbound control channel is open and the
	// hello frame is sent; startErr is set before that when opening failed
	ready     chan struct{}
	startErr  error
	control   net.Conn
	controlMu sync.Mutex

	// deliverMu keeps backlog replay and live delivery in order
	deliverMu sync.Mutex

	mu         sync.Mutex
	handler    func(msg *refspace.CallMessage)
	backlog    []*refspace.CallMessage
	channels   map[string]chan net.Conn
	remotePeer string

	hello     chan struct{}
	helloOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

// NewBus starts a bus over conn. The bus owns conn and closes it on Close.
func NewBus(conn io.ReadWriteCloser, config *Config) (*Bus, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	cfg := *config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.SetDefaults()

	logger := cfg.Logger.With().Str("peer", cfg.PeerID).Logger()

	ycfg := yamux.DefaultConfig()
	ycfg.LogOutput = logger.With().Str("component", "yamux").Logger()

	var session *yamux.Session
	var err error
	if cfg.Client {
		session, err = yamux.Client(conn, ycfg)
	} else {
		session, err = yamux.Server(conn, ycfg)
	}
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	b := &Bus{
		config:   &cfg,
		logger:   logger,
		limits:   wire.Limits{MaxPayloadBytes: cfg.MaxFrameSize},
		session:  session,
		ready:    make(chan struct{}),
		channels: make(map[string]chan net.Conn),
		hello:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.acceptLoop()
	go b.start()
	return b, nil
}

// start opens the outbound control channel and announces this peer.
func (b *Bus) start() {
	defer close(b.ready)

	ch, err := b.openChannel(controlChannel)
	if err != nil {
		b.startErr = fmt.Errorf("open control channel: %w", err)
		b.logger.Warn().Err(err).Msg("Failed to open control channel")
		return
	}
	b.control = ch

	f, err := wire.EncodeFrame(frameHello, hello{Peer: b.config.PeerID})
	if err == nil {
		err = wire.WriteFrame(ch, f, b.limits)
	}
	if err != nil {
		b.startErr = fmt.Errorf("send hello: %w", err)
		b.logger.Warn().Err(err).Msg("Failed to announce peer")
	}
}

// PostMessage sends one call message. Stream-valued arguments are replaced
// by stream placeholders and tunneled on their own channels.
func (b *Bus) PostMessage(msg *refspace.CallMessage) error {
	select {
	case <-b.ready:
	case <-b.done:
		return ErrClosed
	}
	if b.startErr != nil {
		return b.startErr
	}
	if b.isClosed() {
		return ErrClosed
	}

	out := msg.Clone()
	for i, a := range out.Args {
		if a.Type != refspace.ArgValue || a.ValueType != "" {
			continue
		}
		s, ok := classify(a.Value)
		if !ok {
			continue
		}
		id, err := gonanoid.New()
		if err != nil {
			return fmt.Errorf("allocate stream id: %w", err)
		}
		if err := b.sendStream(id, s); err != nil {
			return fmt.Errorf("send stream argument %d: %w", i, err)
		}
		out.Args[i] = refspace.Arg{
			Type:      refspace.ArgValue,
			Value:     s.Spec(),
			ValueType: refspace.ValueTypeStream,
			ValueID:   id,
		}
	}

	f, err := wire.EncodeFrame(frameCall, out)
	if err != nil {
		return err
	}
	b.controlMu.Lock()
	defer b.controlMu.Unlock()
	return wire.WriteFrame(b.control, f, b.limits)
}

// OnMessage sets the inbound handler. Messages received earlier are
// replayed to it first, in order.
func (b *Bus) OnMessage(handler func(msg *refspace.CallMessage)) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	b.handler = handler
	backlog := b.backlog
	b.backlog = nil
	b.mu.Unlock()

	for _, msg := range backlog {
		handler(msg)
	}
}

// RemotePeer waits for the other side's hello and returns its peer id.
func (b *Bus) RemotePeer(ctx context.Context) (string, error) {
	select {
	case <-b.hello:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.remotePeer, nil
	case <-b.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Done is closed when the bus closes, including when the connection drops.
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// Close tears down the session and the underlying connection
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.session.Close()
	})
	return err
}

func (b *Bus) isClosed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Attach waits for the bus's remote peer and registers the bus as that
// peer's transport in store.
func Attach(ctx context.Context, store refspace.Store, bus *Bus) (string, error) {
	peer, err := bus.RemotePeer(ctx)
	if err != nil {
		return "", err
	}
	if err := store.AddPeer(peer, bus); err != nil {
		return "", err
	}
	return peer, nil
}

func (b *Bus) acceptLoop() {
	for {
		ch, err := b.session.AcceptStream()
		if err != nil {
			if !b.isClosed() {
				b.logger.Debug().Err(err).Msg("Session ended")
			}
			b.Close()
			return
		}
		go b.handleChannel(ch)
	}
}

// handleChannel reads the name frame of an accepted channel and routes it.
func (b *Bus) handleChannel(ch net.Conn) {
	f, err := wire.ReadFrame(ch, b.limits)
	if err != nil || f.Type != frameName {
		b.logger.Warn().Err(err).Msg("Dropping unnamed channel")
		ch.Close()
		return
	}
	name := string(f.Payload)
	if name == controlChannel {
		b.controlLoop(ch)
		return
	}
	b.arrive(name, ch)
}

func (b *Bus) controlLoop(ch net.Conn) {
	defer ch.Close()
	for {
		f, err := wire.ReadFrame(ch, b.limits)
		if err != nil {
			if !errors.Is(err, io.EOF) && !b.isClosed() {
				b.logger.Warn().Err(err).Msg("Control channel failed")
			}
			return
		}

		switch f.Type {
		case frameHello:
			var h hello
			if err := wire.DecodeFrame(f, &h); err != nil {
				b.logger.Warn().Err(err).Msg("Invalid hello frame")
				continue
			}
			b.setRemotePeer(h.Peer)
		case frameCall:
			msg := &refspace.CallMessage{}
			if err := wire.DecodeFrame(f, msg); err != nil {
				b.logger.Warn().Err(err).Msg("Invalid call frame")
				continue
			}
			b.decodeArgs(msg)
			b.deliver(msg)
		default:
			b.logger.Warn().Uint8("type", f.Type).Msg("Unknown control frame")
		}
	}
}

func (b *Bus) setRemotePeer(peer string) {
	b.helloOnce.Do(func() {
		b.mu.Lock()
		b.remotePeer = peer
		b.mu.Unlock()
		b.logger.Debug().Str("remote_peer", peer).Msg("Peer announced")
		close(b.hello)
	})
}

// decodeArgs normalizes decoded numbers and substitutes remote streams for
// stream placeholders. A malformed placeholder is left in place; the store
// rejects it.
func (b *Bus) decodeArgs(msg *refspace.CallMessage) {
	wire.NormalizeCall(msg)
	for i, a := range msg.Args {
		if a.ValueType != refspace.ValueTypeStream {
			continue
		}
		spec, err := parseSpec(a.Value)
		if err != nil {
			b.logger.Warn().Err(err).Str("stream", a.ValueID).Msg("Invalid stream argument")
			continue
		}
		msg.Args[i] = refspace.ValueArg(newRemoteStream(b, a.ValueID, spec))
	}
}

func (b *Bus) deliver(msg *refspace.CallMessage) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	handler := b.handler
	if handler == nil {
		b.backlog = append(b.backlog, msg)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	handler(msg)
}

// sendStream opens the data channels of a stream argument and starts
// pumping them. Both channels are open before either pump starts.
func (b *Bus) sendStream(id string, s *Stream) error {
	spec := s.Spec()
	var readable, writable net.Conn
	var err error
	if spec.Readable() {
		readable, err = b.openChannel(channelName(id, DirReadable))
		if err != nil {
			return err
		}
	}
	if spec.Writable() {
		writable, err = b.openChannel(channelName(id, DirWritable))
		if err != nil {
			if readable != nil {
				readable.Close()
			}
			return err
		}
	}

	if readable != nil {
		go func() {
			if err := s.pumpOut(readable, b.limits); err != nil {
				b.logger.Debug().Err(err).Str("stream", id).Msg("Readable stream ended with error")
			}
		}()
	}
	if writable != nil {
		go func() {
			if err := s.pumpIn(writable, b.limits); err != nil {
				b.logger.Debug().Err(err).Str("stream", id).Msg("Writable stream ended with error")
			}
		}()
	}
	return nil
}

// openChannel opens a yamux stream and writes its name frame.
func (b *Bus) openChannel(name string) (net.Conn, error) {
	ch, err := b.session.OpenStream()
	if err != nil {
		return nil, err
	}
	if err := wire.WriteFrame(ch, wire.Frame{Type: frameName, Payload: []byte(name)}, b.limits); err != nil {
		ch.Close()
		return nil, err
	}
	return ch, nil
}

func (b *Bus) slot(name string) chan net.Conn {
	ch, ok := b.channels[name]
	if !ok {
		ch = make(chan net.Conn, 1)
		b.channels[name] = ch
	}
	return ch
}

// arrive hands an accepted data channel to its waiter.
func (b *Bus) arrive(name string, conn net.Conn) {
	b.mu.Lock()
	ch := b.slot(name)
	b.mu.Unlock()

	select {
	case ch <- conn:
	default:
		b.logger.Warn().Str("channel", name).Msg("Duplicate channel")
		conn.Close()
	}
}

// channel waits for the named data channel.
func (b *Bus) channel(name string) (net.Conn, error) {
	b.mu.Lock()
	ch := b.slot(name)
	b.mu.Unlock()

	select {
	case conn := <-ch:
		b.mu.Lock()
		delete(b.channels, name)
		b.mu.Unlock()
		return conn, nil
	case <-b.done:
		return nil, ErrClosed
	}
}

func channelName(id string, dir int) string {
	return fmt.Sprintf("%s-%d", id, dir)
}

var _ refspace.Transport = (*Bus)(nil)
