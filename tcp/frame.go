package tcp

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-tuntcp/tuntcp"
)

const sizeHeaderTCP = 20

// NewFrame returns a Frame backed by buf. An error is returned if buf is
// smaller than the minimum TCP header size; callers must still call
// ValidateSize before touching Payload/Options to avoid a panic on a
// malformed data-offset field.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeaderTCP {
		return Frame{}, tuntcp.ErrShortBuffer
	}
	return Frame{buf: buf}, nil
}

// Frame is a read/write view over a single TCP segment's wire bytes. See
// RFC 9293 §3.1.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the Frame was built on.
func (f Frame) RawData() []byte { return f.buf }

func (f Frame) SourcePort() uint16      { return binary.BigEndian.Uint16(f.buf[0:2]) }
func (f Frame) SetSourcePort(p uint16)  { binary.BigEndian.PutUint16(f.buf[0:2], p) }
func (f Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }
func (f Frame) SetDestinationPort(p uint16) {
	binary.BigEndian.PutUint16(f.buf[2:4], p)
}

// Seq returns the sequence number of the first octet of the segment (the
// ISN if SYN is set).
func (f Frame) Seq() Value     { return Value(binary.BigEndian.Uint32(f.buf[4:8])) }
func (f Frame) SetSeq(v Value) { binary.BigEndian.PutUint32(f.buf[4:8], uint32(v)) }

func (f Frame) Ack() Value     { return Value(binary.BigEndian.Uint32(f.buf[8:12])) }
func (f Frame) SetAck(v Value) { binary.BigEndian.PutUint32(f.buf[8:12], uint32(v)) }

// OffsetAndFlags returns the data-offset (in 32-bit words) and control flags.
func (f Frame) OffsetAndFlags() (offset uint8, flags Flags) {
	v := binary.BigEndian.Uint16(f.buf[12:14])
	offset = uint8(v >> 12)
	flags = Flags(v) & 0x3f
	return offset, flags
}

func (f Frame) SetOffsetAndFlags(offset uint8, flags Flags) {
	v := uint16(offset)<<12 | uint16(flags&0x3f)
	binary.BigEndian.PutUint16(f.buf[12:14], v)
}

// HeaderLength returns the header length in bytes derived from the
// data-offset field. Performs no validation; call ValidateSize first.
func (f Frame) HeaderLength() int {
	offset, _ := f.OffsetAndFlags()
	return 4 * int(offset)
}

func (f Frame) WindowSize() uint16     { return binary.BigEndian.Uint16(f.buf[14:16]) }
func (f Frame) SetWindowSize(v uint16) { binary.BigEndian.PutUint16(f.buf[14:16], v) }

func (f Frame) CRC() uint16        { return binary.BigEndian.Uint16(f.buf[16:18]) }
func (f Frame) SetCRC(cs uint16)   { binary.BigEndian.PutUint16(f.buf[16:18], cs) }
func (f Frame) UrgentPtr() uint16  { return binary.BigEndian.Uint16(f.buf[18:20]) }
func (f Frame) SetUrgentPtr(u uint16) {
	binary.BigEndian.PutUint16(f.buf[18:20], u)
}

// Payload returns the segment's data, not including options. Call
// ValidateSize first.
func (f Frame) Payload() []byte { return f.buf[f.HeaderLength():] }

// Options returns the (unparsed) options portion of the header. Call
// ValidateSize first.
func (f Frame) Options() []byte { return f.buf[sizeHeaderTCP:f.HeaderLength()] }

// ClearHeader zeroes the fixed-size portion of the header.
func (f Frame) ClearHeader() {
	for i := range f.buf[:sizeHeaderTCP] {
		f.buf[i] = 0
	}
}

// Segment returns the sequence-space view of the header given the payload
// size (callers pass len(Payload()) once the frame's total length is known).
func (f Frame) Segment(payloadSize int) Segment {
	if payloadSize > math.MaxInt32 {
		panic("tcp: payload too large")
	}
	_, flags := f.OffsetAndFlags()
	return Segment{
		SEQ:     f.Seq(),
		ACK:     f.Ack(),
		WND:     Size(f.WindowSize()),
		DATALEN: Size(payloadSize),
		Flags:   flags,
	}
}

// SetSegment writes seq, ack, flags and window onto the header. offset is
// the data-offset in 32-bit words (minimum 5, since no options are emitted
// by this implementation).
func (f Frame) SetSegment(seg Segment, offset uint8) {
	if offset >= 1<<4 {
		panic("tcp: offset too large")
	} else if seg.WND > math.MaxUint16 {
		panic("tcp: window overflow")
	}
	f.SetSeq(seg.SEQ)
	f.SetAck(seg.ACK)
	f.SetOffsetAndFlags(offset, seg.Flags)
	f.SetWindowSize(uint16(seg.WND))
}

// CRCWrite adds the header (with the checksum field assumed already zeroed
// by the caller) and payload to crc. Pair with an IPv4 Frame's
// CRCWriteTCPPseudo call to assemble the full pseudo-header checksum.
func (f Frame) CRCWrite(crc *tuntcp.CRC791) {
	crc.Write(f.buf[:f.HeaderLength()])
	crc.Write(f.Payload())
}

// ValidateSize checks that the data-offset field describes a header that
// fits within buf.
func (f Frame) ValidateSize() error {
	off := f.HeaderLength()
	if off < sizeHeaderTCP {
		return errBadDataOffset
	}
	if off > len(f.buf) {
		return errShortSegment
	}
	return nil
}

func (f Frame) String() string {
	src := f.SourcePort()
	dst := f.DestinationPort()
	seg := f.Segment(len(f.Payload()))
	return fmt.Sprintf("TCP :%d -> :%d seq=%d ack=%d wnd=%d %s", src, dst, seg.SEQ, seg.ACK, seg.WND, seg.Flags)
}
