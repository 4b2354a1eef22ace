package stack

import "errors"

var (
	// ErrAddrInUse is returned by Bind when a listener is already
	// registered on the requested port.
	ErrAddrInUse = errors.New("stack: address already in use")
	// ErrConnAborted is returned by stream/listener operations once the
	// manager no longer holds the underlying connection or listener
	// registration (peer RST, or Interface.Close).
	ErrConnAborted = errors.New("stack: connection aborted")
	// ErrWouldBlock is returned by Write/Flush when backpressure applies.
	ErrWouldBlock = errors.New("stack: would block")
)
