package tcp

import "errors"

var (
	errBadDataOffset = errors.New("tcp: data offset below minimum header size")
	errShortSegment  = errors.New("tcp: header length exceeds buffer")

	// ErrWouldBlock is returned by Connection.Write when the unacked queue
	// has no free capacity; backpressure is signalled to the caller rather
	// than suspending, per SPEC_FULL.md §4.5.
	ErrWouldBlock = errors.New("tcp: write would block")
)
