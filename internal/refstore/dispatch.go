package refstore

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/refspace-go/pkg/refspace"
)

// invokeFunc is a bound call on a resolved entity.
type invokeFunc func(ctx context.Context, args ...any) (any, error)

// Dispatch executes or forwards one call.
//
// Calls on entities owned by this store run synchronously and return a
// resolved future. Calls on remote entities are encoded and posted to the
// owner's transport; unless call.From or call.NoReply is set, a single-use
// continuation is registered and its future returned. With NoReply the
// returned future is nil.
func (s *Store) Dispatch(ctx context.Context, target any, call refspace.Call) (*refspace.Future, error) {
	if s.isClosed() {
		return nil, refspace.ErrStoreClosed
	}
	desc, err := s.targetDescriptor(target)
	if err != nil {
		return nil, err
	}
	if desc.Peer == s.config.ID {
		return s.localCall(ctx, desc.Ref, call)
	}

	t, ok := s.transport(desc.Peer)
	if !ok {
		return nil, fmt.Errorf("%w: %q", refspace.ErrPeerUnknown, desc.Peer)
	}

	args, err := s.encodeArgs(call.Args)
	if err != nil {
		return nil, err
	}

	msg := &refspace.CallMessage{
		Ref:    desc.Short(),
		Method: call.Method,
		Args:   args,
		From:   call.From,
	}

	var future *refspace.Future
	var continuation refspace.Ref
	if call.NoReply {
		msg.From = nil
	} else if msg.From == nil {
		future, continuation = s.newContinuation(desc.Peer)
		msg.From = &continuation
	}

	if err := t.PostMessage(msg); err != nil {
		if future != nil {
			s.table.delete(continuation.Space, continuation.ID)
		}
		return nil, fmt.Errorf("post message to %s: %w", desc.Peer, err)
	}
	s.emitCall(msg)
	return future, nil
}

// localCall resolves and runs a call on a local entity.
func (s *Store) localCall(ctx context.Context, ref refspace.Ref, call refspace.Call) (*refspace.Future, error) {
	h, pending, ok := s.table.take(ref.Space, ref.ID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", refspace.ErrRefNotResolved, ref)
	}
	fn, err := bind(h, call.Method)
	if err != nil {
		if pending != nil {
			pending.Resolve(nil, err)
		}
		return nil, err
	}
	value, callErr := fn(ctx, call.Args...)
	if call.From != nil && !call.NoReply {
		s.reply(*call.From, value, callErr)
	}
	return refspace.Resolved(value, callErr), nil
}

// bind selects what a call on h runs. Functions ignore the method name.
// Objects only expose methods declared in their descriptor.
func bind(h *refspace.Handle, method string) (invokeFunc, error) {
	switch p := h.Payload().(type) {
	case refspace.Func:
		return invokeFunc(p), nil
	case refspace.Callable:
		return func(ctx context.Context, args ...any) (any, error) {
			f, err := p.Call(ctx, args...)
			if err != nil {
				return nil, err
			}
			return await(ctx, f)
		}, nil
	case *refspace.Object:
		fn, ok := p.Methods[method]
		if !ok || fn == nil || !h.Descriptor().HasMethod(method) {
			return nil, fmt.Errorf("%w: %q on %s", refspace.ErrUnknownMethod, method, h.Ref())
		}
		return invokeFunc(fn), nil
	case refspace.Capability:
		return func(ctx context.Context, args ...any) (any, error) {
			f, err := p.Invoke(ctx, method, args...)
			if err != nil {
				return nil, err
			}
			return await(ctx, f)
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", refspace.ErrNotCallable, h.Ref())
}

func await(ctx context.Context, f *refspace.Future) (any, error) {
	if f == nil {
		return nil, nil
	}
	return f.Await(ctx)
}

// handleMessage routes one inbound message. Arguments are decoded in the
// delivering goroutine so table effects keep transport order. Continuation
// replies settle their future inline; every other invocation runs on the
// sending peer's executor, one at a time in arrival order.
func (s *Store) handleMessage(peerID string, msg *refspace.CallMessage) {
	if s.isClosed() {
		return
	}
	logger := s.logger.With().Str("from_peer", peerID).Stringer("ref", msg.Ref).Logger()

	if msg.Ref.Peer != "" && msg.Ref.Peer != s.config.ID {
		s.relay(peerID, msg)
		return
	}

	h, pending, ok := s.table.take(msg.Ref.Space, msg.Ref.ID)
	if !ok {
		logger.Warn().Msg("Call for unknown reference")
		s.replyError(msg.From, fmt.Errorf("%w: %s", refspace.ErrRefNotResolved, msg.Ref))
		return
	}

	args, err := s.decodeArgs(msg.Args)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to decode call arguments")
		s.reject(pending, msg.From, err)
		return
	}

	fn, err := bind(h, msg.Method)
	if err != nil {
		logger.Warn().Err(err).Str("method", msg.Method).Msg("Call cannot be bound")
		s.reject(pending, msg.From, err)
		return
	}

	if pending != nil {
		s.invoke(logger, fn, args, msg.From, pending)
		return
	}
	s.executor(peerID).submit(func() {
		s.invoke(logger, fn, args, msg.From, nil)
	})
}

// invoke runs one bound call and replies to from. A panicking handler
// rejects the call instead of taking the store down.
func (s *Store) invoke(logger zerolog.Logger, fn invokeFunc, args []any, from *refspace.Ref, pending *refspace.Future) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", refspace.ErrHandlerPanic, r)
			logger.Error().Err(err).Msg("Handler panicked")
			s.reject(pending, from, err)
		}
	}()

	value, err := fn(s.ctx, args...)
	if from != nil {
		s.reply(*from, value, err)
	}
}

// reject fails a call that could not run: a continuation's own future, or
// the caller's continuation on the sending peer.
func (s *Store) reject(pending *refspace.Future, from *refspace.Ref, err error) {
	if pending != nil {
		pending.Resolve(nil, err)
	}
	s.replyError(from, err)
}

// executor returns the FIFO executor for calls arriving from peerID.
func (s *Store) executor(peerID string) *executor {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	e, ok := s.executors[peerID]
	if !ok {
		e = &executor{}
		s.executors[peerID] = e
	}
	return e
}

// relay forwards a message addressed to a third peer without decoding it.
func (s *Store) relay(peerID string, msg *refspace.CallMessage) {
	t, ok := s.transport(msg.Ref.Peer)
	if !ok {
		s.logger.Warn().Str("from_peer", peerID).Str("to_peer", msg.Ref.Peer).Msg("Cannot relay call to unknown peer")
		s.replyError(msg.From, fmt.Errorf("%w: %q", refspace.ErrPeerUnknown, msg.Ref.Peer))
		return
	}
	if err := t.PostMessage(msg); err != nil {
		s.logger.Warn().Err(err).Str("to_peer", msg.Ref.Peer).Msg("Failed to relay call")
		return
	}
	s.emitCall(msg)
}

// reply delivers (error, value) to a continuation. Errors cross the wire as
// their message.
func (s *Store) reply(from refspace.Ref, value any, callErr error) {
	var errArg any
	if callErr != nil {
		errArg = callErr.Error()
		value = nil
	}
	_, err := s.Dispatch(s.ctx, from, refspace.Call{Args: []any{errArg, value}, NoReply: true})
	if err == nil {
		return
	}
	s.logger.Warn().Err(err).Stringer("continuation", from).Msg("Failed to deliver reply")
	if callErr == nil {
		// The result itself could not be encoded; report that instead
		s.replyError(&from, err)
	}
}

func (s *Store) replyError(from *refspace.Ref, err error) {
	if from == nil {
		return
	}
	_, derr := s.Dispatch(s.ctx, *from, refspace.Call{Args: []any{err.Error(), nil}, NoReply: true})
	if derr != nil {
		s.logger.Debug().Err(derr).Stringer("continuation", *from).Msg("Failed to deliver error reply")
	}
}

// newContinuation registers a single-use resolver for a reply from peer and
// returns the future it settles together with its wire reference.
func (s *Store) newContinuation(peer string) (*refspace.Future, refspace.Ref) {
	future := refspace.NewFuture()
	resolver := refspace.Func(func(ctx context.Context, args ...any) (any, error) {
		var errArg, value any
		if len(args) > 0 {
			errArg = args[0]
		}
		if len(args) > 1 {
			value = args[1]
		}
		if errArg != nil {
			future.Resolve(nil, &refspace.RemoteError{Message: fmt.Sprint(errArg)})
		} else {
			future.Resolve(value, nil)
		}
		return nil, nil
	})

	desc := &refspace.Descriptor{
		Ref: refspace.Ref{
			Space: refspace.AnonSpace,
			ID:    s.nextAnonID(),
			Peer:  s.config.ID,
		},
		Kind: refspace.KindFunction,
	}
	h := refspace.NewHandle(desc, resolver)
	s.table.setOnce(h, future, peer)
	s.emitAdd(h)
	return future, desc.Ref
}
