package ipv4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/go-tuntcp/tuntcp"
)

// NewFrame returns a Frame backed by buf. An error is returned if buf is
// smaller than the minimum IPv4 header size; callers must still call
// ValidateSize before touching Payload/Options to avoid a panic on a
// malformed IHL/total-length field.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, tuntcp.ErrShortBuffer
	}
	return Frame{buf: buf}, nil
}

// Frame is a read/write view over a single IPv4 datagram's wire bytes. See
// RFC 791 §3.1. IP options are passed through unparsed; this implementation
// never emits them.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice the Frame was built on.
func (f Frame) RawData() []byte { return f.buf }

// HeaderLength returns the header length in bytes, IHL*4, including options.
func (f Frame) HeaderLength() int { return int(f.ihl()) * 4 }

func (f Frame) ihl() uint8     { return f.buf[0] & 0xf }
func (f Frame) version() uint8 { return f.buf[0] >> 4 }

func (f Frame) VersionAndIHL() (version, ihl uint8) {
	v := f.buf[0]
	return v >> 4, v & 0xf
}

func (f Frame) SetVersionAndIHL(version, ihl uint8) { f.buf[0] = version<<4 | ihl&0xf }

func (f Frame) ToS() ToS       { return ToS(f.buf[1]) }
func (f Frame) SetToS(t ToS)   { f.buf[1] = byte(t) }

func (f Frame) TotalLength() uint16     { return binary.BigEndian.Uint16(f.buf[2:4]) }
func (f Frame) SetTotalLength(tl uint16) { binary.BigEndian.PutUint16(f.buf[2:4], tl) }

func (f Frame) ID() uint16     { return binary.BigEndian.Uint16(f.buf[4:6]) }
func (f Frame) SetID(id uint16) { binary.BigEndian.PutUint16(f.buf[4:6], id) }

func (f Frame) Flags() Flags { return Flags(binary.BigEndian.Uint16(f.buf[6:8])) }
func (f Frame) SetFlags(fl Flags) {
	binary.BigEndian.PutUint16(f.buf[6:8], uint16(fl))
}

// SetDontFragment sets or clears the don't-fragment bit, leaving the rest
// of the flags/fragment-offset field untouched.
func (f Frame) SetDontFragment(dontFragment bool) {
	fl := f.Flags()
	if dontFragment {
		fl |= flagDontFragment
	} else {
		fl &^= flagDontFragment
	}
	f.SetFlags(fl)
}

func (f Frame) TTL() uint8     { return f.buf[8] }
func (f Frame) SetTTL(ttl uint8) { f.buf[8] = ttl }

// Protocol returns the upper-layer protocol carried in the payload. TCP is 6.
func (f Frame) Protocol() tuntcp.IPProto { return tuntcp.IPProto(f.buf[9]) }
func (f Frame) SetProtocol(p tuntcp.IPProto) { f.buf[9] = uint8(p) }

func (f Frame) CRC() uint16      { return binary.BigEndian.Uint16(f.buf[10:12]) }
func (f Frame) SetCRC(cs uint16) { binary.BigEndian.PutUint16(f.buf[10:12], cs) }

// CalculateHeaderCRC computes the IPv4 header checksum over the header as it
// currently stands with the checksum field treated as zero.
func (f Frame) CalculateHeaderCRC() uint16 {
	var crc tuntcp.CRC791
	crc.Write(f.buf[0:10])
	crc.Write(f.buf[12:f.HeaderLength()])
	return crc.Sum16()
}

// CRCWriteTCPPseudo adds the TCP pseudo-header (source/destination address,
// zero byte, protocol, TCP length) to crc.
func (f Frame) CRCWriteTCPPseudo(crc *tuntcp.CRC791) {
	crc.Write(f.SourceAddr()[:])
	crc.Write(f.DestinationAddr()[:])
	crc.AddUint16(uint16(f.Protocol()))
	crc.AddUint16(f.TotalLength() - uint16(f.HeaderLength()))
}

func (f Frame) SourceAddr() *[4]byte      { return (*[4]byte)(f.buf[12:16]) }
func (f Frame) DestinationAddr() *[4]byte { return (*[4]byte)(f.buf[16:20]) }

// Payload returns the datagram's data, bounded by TotalLength. Call
// ValidateSize first.
func (f Frame) Payload() []byte {
	off := f.HeaderLength()
	return f.buf[off:f.TotalLength()]
}

// Options returns the (unparsed) options portion of the header. Call
// ValidateSize first.
func (f Frame) Options() []byte {
	return f.buf[sizeHeader:f.HeaderLength()]
}

// ClearHeader zeroes the fixed-size portion of the header.
func (f Frame) ClearHeader() {
	for i := range f.buf[:sizeHeader] {
		f.buf[i] = 0
	}
}

var (
	errBadTotalLength = errors.New("ipv4: total length below header size")
	errShortDatagram  = errors.New("ipv4: total length exceeds buffer")
	errBadIHL         = errors.New("ipv4: IHL below minimum header size")
	errBadVersion     = errors.New("ipv4: version field is not 4")
)

// ValidateSize checks the IHL and total-length fields against the buffer
// actually available.
func (f Frame) ValidateSize() error {
	ihl := f.ihl()
	tl := f.TotalLength()
	if tl < sizeHeader {
		return errBadTotalLength
	}
	if int(tl) > len(f.buf) {
		return errShortDatagram
	}
	if ihl < 5 {
		return errBadIHL
	}
	if int(ihl)*4 > int(tl) {
		return errBadTotalLength
	}
	return nil
}

// ValidateVersion checks the version nibble equals 4.
func (f Frame) ValidateVersion() error {
	if f.version() != 4 {
		return errBadVersion
	}
	return nil
}

func (f Frame) String() string {
	dst := netip.AddrFrom4(*f.DestinationAddr())
	src := netip.AddrFrom4(*f.SourceAddr())
	hl := f.HeaderLength()
	tl := int(f.TotalLength())
	return fmt.Sprintf("IP %s SRC=%s DST=%s LEN=%d OPT=%d TTL=%d ID=%d", f.Protocol(), src, dst, tl, tl-hl, f.TTL(), f.ID())
}
