package aircast

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed Client.
	ErrClosed = errors.New("aircast: client closed")

	// ErrInvalidArgument marks inputs rejected before any network I/O.
	ErrInvalidArgument = errors.New("aircast: invalid argument")

	// ErrStreamClosed reports an event connection that ended unexpectedly,
	// mid-frame or through a peer reset. A stream that ends between frames
	// terminates cleanly with io.EOF instead.
	ErrStreamClosed = errors.New("aircast: event stream closed unexpectedly")
)

// TransportError wraps a connect, timeout or reset failure while talking
// to the device. The client never retries; retry policy belongs to the
// caller.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("aircast: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports a non-success HTTP status from an operation without
// a boolean rejection convention, such as server-info.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("aircast: %s: device returned status %d", e.Op, e.Code)
}
