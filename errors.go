package tuntcp

import "errors"

// ErrShortBuffer is returned when a caller-supplied buffer is too small to
// hold a well-formed header.
var ErrShortBuffer = errors.New("tuntcp: short buffer")
