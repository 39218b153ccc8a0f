package rfcomm

import (
	"context"
	"errors"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/ftag"
)

var (
	// ErrDuplicateRegistration indicates that the service UUID is already registered on the device.
	ErrDuplicateRegistration = errors.New("rfcomm: service already registered")

	// ErrNoChannelAvailable indicates that all channel numbers in [1, 30] are in use on the device.
	ErrNoChannelAvailable = errors.New("rfcomm: no channel number available")

	// ErrServiceNotFound indicates that the remote device is unknown or has no such service registered.
	ErrServiceNotFound = errors.New("rfcomm: service not found")
)

var (
	// ErrBacklogClosed indicates that the listening endpoint has been closed.
	ErrBacklogClosed = errors.New("rfcomm: backlog closed")

	// ErrConnectionClosed indicates that the stream pairing has been removed or the mailbox closed.
	// It is terminal, callers must not retry.
	ErrConnectionClosed = errors.New("rfcomm: connection closed")

	// ErrInterrupted indicates that the interrupt policy of the device flagged the operation.
	// The error reported by the policy is wrapped alongside it.
	ErrInterrupted = errors.New("rfcomm: interrupted")
)

var (
	// ErrConfigNil indicates that a nil configuration was provided.
	ErrConfigNil = errors.New("rfcomm: config is nil")

	// ErrInvalidHandle indicates that the handle was never allocated or cannot be used for the operation.
	ErrInvalidHandle = errors.New("rfcomm: invalid handle")

	// ErrNotOwner indicates that the handle is owned by another address.
	ErrNotOwner = errors.New("rfcomm: handle owned by another address")

	// ErrNoPendingConnection indicates that no connection request is waiting for completion on the handle.
	ErrNoPendingConnection = errors.New("rfcomm: no pending connection")

	// ErrInvalidConnInfo indicates a malformed connection-info frame.
	ErrInvalidConnInfo = errors.New("rfcomm: invalid connection info frame")

	// ErrDeviceExists indicates that a device with the same address is already part of the session.
	ErrDeviceExists = errors.New("rfcomm: device already exists")
)

// Error kinds that ftag does not define.
const (
	KindResourceExhausted ftag.Kind = "RESOURCE_EXHAUSTED"
	KindClosed            ftag.Kind = "CLOSED"
)

// errorKind classifies err by the sentinel it wraps.
func errorKind(err error) ftag.Kind {
	switch {
	case errors.Is(err, ErrDuplicateRegistration), errors.Is(err, ErrDeviceExists):
		return ftag.AlreadyExists
	case errors.Is(err, ErrNoChannelAvailable):
		return KindResourceExhausted
	case errors.Is(err, ErrServiceNotFound), errors.Is(err, ErrNoPendingConnection):
		return ftag.NotFound
	case errors.Is(err, ErrBacklogClosed), errors.Is(err, ErrConnectionClosed):
		return KindClosed
	case errors.Is(err, ErrInterrupted):
		return ftag.Cancelled
	case errors.Is(err, ErrInvalidHandle), errors.Is(err, ErrNotOwner), errors.Is(err, ErrInvalidConnInfo):
		return ftag.InvalidArgument
	default:
		return ftag.Internal
	}
}

// wrapOpErr attaches the operation name, device address and error kind to err.
// errors.Is keeps matching the wrapped sentinel.
func wrapOpErr(err error, op string, addr Address) error {
	if err == nil {
		return nil
	}

	return fault.Wrap(err,
		fctx.With(context.Background(), "op", op, "device", string(addr)),
		ftag.With(errorKind(err)),
	)
}
