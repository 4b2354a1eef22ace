package stack

import (
	"io"

	"github.com/go-tuntcp/tuntcp/tcp"
)

// Listener is a bound port's handle onto its pending-accept queue.
type Listener struct {
	iface *Interface
	port  uint16
}

// Port returns the local port this listener is bound to.
func (l *Listener) Port() uint16 { return l.port }

// Accept blocks until a connection has arrived on the listener's port,
// returning a Stream bound to it. If the port is no longer registered in
// the manager (only possible after Interface.Close) Accept returns
// ErrConnAborted.
func (l *Listener) Accept() (*Stream, error) {
	l.iface.mu.Lock()
	defer l.iface.mu.Unlock()
	for {
		pq, ok := l.iface.listeners[l.port]
		if !ok {
			return nil, ErrConnAborted
		}
		if len(pq.quads) > 0 {
			quad := pq.quads[0]
			pq.quads = pq.quads[1:]
			return &Stream{iface: l.iface, quad: quad}, nil
		}
		l.iface.condPending.Wait()
	}
}

// Stream is a handle onto one connection's four-tuple, bridging blocking
// application calls to the single packet-processing goroutine.
type Stream struct {
	iface *Interface
	quad  tcp.Quad
}

// State returns the connection's current RFC-793-lite state.
func (s *Stream) State() (tcp.State, error) {
	s.iface.mu.Lock()
	defer s.iface.mu.Unlock()
	conn, ok := s.iface.conns[s.quad]
	if !ok {
		return 0, ErrConnAborted
	}
	return conn.State(), nil
}

// Read blocks until the connection's incoming queue is non-empty, the
// receive side closes (returning 0, io.EOF), or the connection is removed
// from the manager (returning 0, ErrConnAborted).
func (s *Stream) Read(buf []byte) (int, error) {
	s.iface.mu.Lock()
	defer s.iface.mu.Unlock()
	for {
		conn, ok := s.iface.conns[s.quad]
		if !ok {
			return 0, ErrConnAborted
		}
		if conn.BufferedInput() > 0 {
			return conn.Read(buf)
		}
		if conn.RecvClosed() {
			return 0, io.EOF
		}
		s.iface.condRecv.Wait()
	}
}

// Write appends up to len(buf) bytes to the connection's unacked queue.
// It does not suspend: if the queue has no free capacity it returns
// ErrWouldBlock immediately, per SPEC_FULL.md §4.5.
func (s *Stream) Write(buf []byte) (int, error) {
	s.iface.mu.Lock()
	defer s.iface.mu.Unlock()
	conn, ok := s.iface.conns[s.quad]
	if !ok {
		return 0, ErrConnAborted
	}
	n, err := conn.Write(buf)
	if err == tcp.ErrWouldBlock {
		return n, ErrWouldBlock
	}
	return n, err
}

// Flush reports whether all bytes handed to Write have been acknowledged.
// It never suspends: ErrWouldBlock means unacknowledged bytes remain.
func (s *Stream) Flush() error {
	s.iface.mu.Lock()
	defer s.iface.mu.Unlock()
	conn, ok := s.iface.conns[s.quad]
	if !ok {
		return ErrConnAborted
	}
	if conn.BufferedUnsent() == 0 {
		return nil
	}
	return ErrWouldBlock
}

// Shutdown initiates the FIN sequence for the write direction. The FIN is
// emitted by the packet goroutine the next time it has an opportunity, see
// SPEC_FULL.md §9 decision 4.
func (s *Stream) Shutdown() error {
	s.iface.mu.Lock()
	defer s.iface.mu.Unlock()
	conn, ok := s.iface.conns[s.quad]
	if !ok {
		return ErrConnAborted
	}
	conn.Close()
	return nil
}
