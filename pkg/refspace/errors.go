package refspace

import "errors"

var (
	// ErrPeerNotFound is returned when proxying a descriptor whose peer has no registered transport
	ErrPeerNotFound = errors.New("refspace: peer not found")
	// ErrPeerUnknown is returned when dispatching to a peer without a registered transport
	ErrPeerUnknown = errors.New("refspace: unknown peer")
	// ErrRefNotResolved is returned when a reference is not present in the local table
	ErrRefNotResolved = errors.New("refspace: reference not resolved")
	// ErrNonProxyableValue is returned when proxying a value descriptor
	ErrNonProxyableValue = errors.New("refspace: value references cannot be proxied")
	// ErrUnknownRefType is returned for descriptors with an unrecognized kind
	ErrUnknownRefType = errors.New("refspace: unknown reference type")
	// ErrUnknownArgType is returned for wire arguments with an unrecognized tag
	ErrUnknownArgType = errors.New("refspace: unknown argument type")
	// ErrMissingIDForNamedSpace is returned when exporting into a named space without an id
	ErrMissingIDForNamedSpace = errors.New("refspace: id is required for non-anonymous spaces")
	// ErrNoSpaceHandler is returned by Load for spaces without a registered loader
	ErrNoSpaceHandler = errors.New("refspace: no handler for space")
	// ErrUnsupportedArgument is returned when an error value is passed as a call argument
	ErrUnsupportedArgument = errors.New("refspace: unsupported argument")
	// ErrUnknownMethod is returned when invoking a method the descriptor does not declare
	ErrUnknownMethod = errors.New("refspace: unknown method")
	// ErrNotCallable is returned when calling a value entity
	ErrNotCallable = errors.New("refspace: entity is not callable")
	// ErrHandlerPanic rejects a call whose handler panicked
	ErrHandlerPanic = errors.New("refspace: handler panicked")
	// ErrStoreClosed is returned by a closed store and resolves pending continuations on close
	ErrStoreClosed = errors.New("refspace: store closed")
)

// RemoteError carries a failure reported by the peer that executed a call.
type RemoteError struct {
	// Message is the remote error's text
	Message string
}

func (e *RemoteError) Error() string {
	return "refspace: remote error: " + e.Message
}
