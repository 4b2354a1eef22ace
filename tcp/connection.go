package tcp

import "github.com/go-tuntcp/tuntcp/internal"

// Quad is the four-tuple identifying a connection: the remote endpoint (as
// seen from our side, i.e. the packet's source) and the local endpoint (the
// packet's destination). It never changes for the life of a connection and
// is comparable, so it can be used directly as a map key.
type Quad struct {
	RemoteAddr [4]byte
	RemotePort uint16
	LocalAddr  [4]byte
	LocalPort  uint16
}

type sendSpace struct {
	iss, una, nxt Value
	wnd           Size
	wl1, wl2      Value
}

type recvSpace struct {
	irs, nxt Value
	wnd      Size
}

const (
	initialSendWindow = 1024 // send.wnd fixed at connection creation, per the passive-open algorithm.
	unackedCapacity   = 1024 // write() backpressure threshold.
	incomingCapacity  = 8192
	maxPiggybackLen   = 1024
)

// Response describes a segment the packet-processing goroutine must send
// after a call into a Connection's methods. Payload, when non-empty,
// aliases the Connection's internal scratch buffer and is only valid until
// the next call into the same Connection.
type Response struct {
	Segment Segment
	Payload []byte
}

// Connection holds one four-tuple's RFC 793-lite state: sequence spaces,
// state, and the incoming/unacked byte queues. All methods assume the
// caller holds whatever single lock serializes access to the owning
// manager; Connection does no locking of its own.
type Connection struct {
	quad  Quad
	state State
	send  sendSpace
	recv  recvSpace

	incoming internal.Ring
	unacked  internal.Ring
	sent     int // bytes at the front of unacked already piggy-backed at least once.

	closed bool // application requested shutdown via Close.

	scratch [maxPiggybackLen]byte
}

// NewConnection materializes a connection from the first SYN segment of a
// passive open. ok is false if seg is not a bare SYN (ACK clear, no
// payload), in which case the candidate must be discarded silently and no
// Connection is returned.
func NewConnection(quad Quad, seg Segment) (c *Connection, synack Response, ok bool) {
	if seg.Flags != FlagSYN || seg.DATALEN != 0 {
		return nil, Response{}, false
	}
	c = &Connection{
		quad:  quad,
		state: StateSynRcvd,
		send: sendSpace{
			iss: 0,
			una: 0,
			nxt: 0,
			wnd: initialSendWindow,
		},
		recv: recvSpace{
			irs: seg.SEQ,
			nxt: Add(seg.SEQ, 1),
			wnd: seg.WND,
		},
	}
	c.incoming.Buf = make([]byte, incomingCapacity)
	c.unacked.Buf = make([]byte, unackedCapacity)
	return c, c.nextOutbound(FlagSYN), true
}

func (c *Connection) Quad() Quad    { return c.quad }
func (c *Connection) State() State  { return c.state }
func (c *Connection) LocalPort() uint16  { return c.quad.LocalPort }
func (c *Connection) RemotePort() uint16 { return c.quad.RemotePort }

// BufferedInput returns the number of bytes available to Read.
func (c *Connection) BufferedInput() int { return c.incoming.Buffered() }

// AvailableOutput returns the number of bytes Write can currently accept
// before returning ErrWouldBlock.
func (c *Connection) AvailableOutput() int { return c.unacked.Free() }

// BufferedUnsent returns the number of bytes placed by Write that have not
// yet been acknowledged by the peer.
func (c *Connection) BufferedUnsent() int { return c.unacked.Buffered() }

// RecvClosed reports whether the peer has sent FIN, i.e. no further bytes
// will ever arrive in the incoming queue.
func (c *Connection) RecvClosed() bool {
	return c.state == StateCloseWait || c.state == StateClosing || c.state == StateTimeWait
}

// Read copies up to len(b) bytes from the incoming queue.
func (c *Connection) Read(b []byte) (int, error) {
	return c.incoming.Read(b)
}

// Write appends up to len(b) bytes to the unacked queue, returning
// ErrWouldBlock if the queue has no free capacity. It does not itself cause
// a segment to be sent; see the piggy-back discussion in SPEC_FULL.md §9.
func (c *Connection) Write(b []byte) (int, error) {
	free := c.unacked.Free()
	if free <= 0 {
		return 0, ErrWouldBlock
	}
	n := len(b)
	if n > free {
		n = free
	}
	return c.unacked.Write(b[:n])
}

// Close marks the connection for application-initiated shutdown. The FIN is
// not emitted here; it is emitted the next time Deliver observes the closed
// flag with the connection in Estab, per the close-sequencing decision in
// SPEC_FULL.md §9.
func (c *Connection) Close() {
	c.closed = true
}

// acceptable implements the segment acceptability test, §4.3 step 2.
func acceptable(seg Segment, rcv recvSpace) bool {
	r := rcv.nxt
	w := rcv.wnd
	t := Add(r, w)
	length := seg.LEN()
	switch {
	case length == 0 && w == 0:
		return seg.SEQ == r
	case length == 0 && w > 0:
		return IsBetweenWrapped(r-1, seg.SEQ, t)
	case length > 0 && w > 0:
		last := Add(seg.SEQ, length-1)
		return IsBetweenWrapped(r-1, seg.SEQ, t) || IsBetweenWrapped(r-1, last, t)
	default: // length > 0 && w == 0
		return false
	}
}

// Deliver runs the inbound-segment-processing algorithm (§4.3 steps 1-8)
// against seg/payload. It returns zero or more segments to send in response
// and whether the connection must be removed from the owning manager (a RST
// was required for an unacceptable ACK during the handshake).
func (c *Connection) Deliver(seg Segment, payload []byte) (resp []Response, remove bool) {
	if !acceptable(seg, c.recv) {
		return nil, false // step 2: drop, no response.
	}

	if !seg.Flags.HasAny(FlagACK) {
		// step 3
		if seg.Flags.HasAny(FlagSYN) {
			c.recv.nxt = Add(seg.SEQ, 1)
		}
		return nil, false
	}

	if c.state == StateSynRcvd {
		// step 4
		if IsBetweenWrapped(c.send.una-1, seg.ACK, c.send.nxt+1) {
			c.state = StateEstab
		} else {
			return []Response{{Segment: Segment{SEQ: seg.ACK, Flags: FlagRST}}}, true
		}
	}

	if c.state == StateEstab || c.state == StateFinWait1 || c.state == StateFinWait2 {
		// step 5
		if IsBetweenWrapped(c.send.una, seg.ACK, c.send.nxt+1) {
			acked := Sub(seg.ACK, c.send.una)
			c.send.una = seg.ACK
			if n := int(acked); n > 0 {
				if n > c.unacked.Buffered() {
					n = c.unacked.Buffered()
				}
				if n > 0 {
					c.unacked.ReadDiscard(n)
					c.sent -= n
					if c.sent < 0 {
						c.sent = 0
					}
				}
			}
		}
	}

	if c.state == StateFinWait1 && c.send.una == Add(c.send.iss, 2) {
		// step 6
		c.state = StateFinWait2
	}

	var resps []Response
	if len(payload) > 0 && (c.state == StateEstab || c.state == StateFinWait1 || c.state == StateFinWait2) {
		// step 7
		off := int(Sub(c.recv.nxt, seg.SEQ))
		if off < 0 {
			off = 0
		}
		if off > len(payload) {
			off = len(payload)
		}
		c.incoming.Write(payload[off:])
		c.recv.nxt = Add(seg.SEQ, Size(len(payload)))
		resps = append(resps, c.nextOutbound(0))
	}

	if seg.Flags.HasAny(FlagFIN) {
		// step 8
		switch c.state {
		case StateSynRcvd, StateEstab:
			c.recv.nxt++
			c.state = StateCloseWait
			resps = append(resps, c.nextOutbound(0))
		case StateFinWait1:
			c.recv.nxt++
			c.state = StateClosing
			resps = append(resps, c.nextOutbound(0))
		case StateFinWait2:
			c.recv.nxt++
			resps = append(resps, c.nextOutbound(0))
			c.state = StateTimeWait
		default:
			// ignore, per spec.
		}
	}

	if c.closed && c.state == StateEstab {
		c.state = StateFinWait1
		resps = append(resps, c.nextOutbound(FlagFIN))
	}

	return resps, false
}

// nextOutbound builds the next segment to emit: seq/ack from the current
// send/receive spaces, window from our advertised recv.wnd, and (unless
// flags carries SYN) as much of the not-yet-transmitted tail of the unacked
// queue as fits in the scratch buffer piggy-backed as payload. c.sent tracks
// how many bytes at the front of unacked have already gone out at least
// once, so a byte is only peeked and counted into send.nxt the first time
// it is sent; step 5 of Deliver rewinds sent when the peer's ACK discards
// acknowledged bytes from unacked. send.nxt is advanced by the payload
// length plus one for each of SYN/FIN present in flags, matching the
// Outbound emission rule in SPEC_FULL.md §4.3.
func (c *Connection) nextOutbound(flags Flags) Response {
	n := 0
	if flags&FlagSYN == 0 {
		avail := c.unacked.Buffered() - c.sent
		if avail > len(c.scratch) {
			avail = len(c.scratch)
		}
		if avail > 0 {
			n, _ = c.unacked.ReadAt(c.scratch[:avail], int64(c.sent))
			c.sent += n
		}
	}
	seg := Segment{
		SEQ:     c.send.nxt,
		ACK:     c.recv.nxt,
		WND:     c.recv.wnd,
		DATALEN: Size(n),
		Flags:   flags | FlagACK,
	}
	c.send.nxt = Add(c.send.nxt, Size(n))
	if flags&FlagSYN != 0 {
		c.send.nxt = Add(c.send.nxt, 1)
	}
	if flags&FlagFIN != 0 {
		c.send.nxt = Add(c.send.nxt, 1)
	}
	return Response{Segment: seg, Payload: c.scratch[:n]}
}
