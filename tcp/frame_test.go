package tcp

import "testing"

func TestFrameHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, 24) // 20-byte header + 4 bytes of options, data offset 6.
	f, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	f.ClearHeader()
	f.SetSourcePort(1234)
	f.SetDestinationPort(80)
	seg := Segment{SEQ: 0xdeadbeef, ACK: 0x12345678, WND: 4096, Flags: FlagSYN | FlagACK}
	f.SetSegment(seg, 6)

	if err := f.ValidateSize(); err != nil {
		t.Fatalf("ValidateSize: %v", err)
	}
	if got := f.SourcePort(); got != 1234 {
		t.Errorf("SourcePort = %d, want 1234", got)
	}
	if got := f.DestinationPort(); got != 80 {
		t.Errorf("DestinationPort = %d, want 80", got)
	}
	if got := f.Seq(); got != seg.SEQ {
		t.Errorf("Seq = %#x, want %#x", got, seg.SEQ)
	}
	if got := f.Ack(); got != seg.ACK {
		t.Errorf("Ack = %#x, want %#x", got, seg.ACK)
	}
	if got := f.WindowSize(); got != uint16(seg.WND) {
		t.Errorf("WindowSize = %d, want %d", got, seg.WND)
	}
	offset, flags := f.OffsetAndFlags()
	if offset != 6 {
		t.Errorf("offset = %d, want 6", offset)
	}
	if flags != seg.Flags {
		t.Errorf("flags = %s, want %s", flags, seg.Flags)
	}
	if got := f.HeaderLength(); got != 24 {
		t.Errorf("HeaderLength = %d, want 24", got)
	}
}

func TestFrameSegmentView(t *testing.T) {
	buf := make([]byte, 20+5)
	f, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	f.ClearHeader()
	f.SetSegment(Segment{SEQ: 1, ACK: 2, WND: 1024, Flags: FlagACK | FlagPSH}, 5)
	copy(f.Payload(), "hello")

	seg := f.Segment(len(f.Payload()))
	if seg.DATALEN != 5 {
		t.Errorf("DATALEN = %d, want 5", seg.DATALEN)
	}
	if seg.LEN() != 5 {
		t.Errorf("LEN() = %d, want 5 (no SYN/FIN)", seg.LEN())
	}
}

func TestSegmentLENCountsControlBits(t *testing.T) {
	cases := []struct {
		seg  Segment
		want Size
	}{
		{Segment{Flags: 0, DATALEN: 0}, 0},
		{Segment{Flags: FlagSYN, DATALEN: 0}, 1},
		{Segment{Flags: FlagFIN, DATALEN: 0}, 1},
		{Segment{Flags: FlagSYN | FlagFIN, DATALEN: 0}, 2},
		{Segment{Flags: FlagACK, DATALEN: 10}, 10},
		{Segment{Flags: FlagFIN | FlagACK, DATALEN: 10}, 11},
	}
	for _, c := range cases {
		if got := c.seg.LEN(); got != c.want {
			t.Errorf("Segment{Flags:%s,DATALEN:%d}.LEN() = %d, want %d", c.seg.Flags, c.seg.DATALEN, got, c.want)
		}
	}
}

func TestNewFrameShortBuffer(t *testing.T) {
	if _, err := NewFrame(make([]byte, 19)); err == nil {
		t.Fatal("expected error for buffer shorter than minimum TCP header")
	}
}

func TestFlagsString(t *testing.T) {
	if got := Flags(0).String(); got != "[]" {
		t.Errorf("Flags(0).String() = %q, want []", got)
	}
	got := (FlagSYN | FlagACK).String()
	if got != "[SYN,ACK]" {
		t.Errorf("(FlagSYN|FlagACK).String() = %q, want [SYN,ACK]", got)
	}
}
