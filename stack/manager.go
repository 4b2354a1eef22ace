// Package stack implements the demultiplexer/listener registry (C4) and the
// blocking stream bridge (C5) on top of the tcp package's connection state
// machine (C1-C3).
package stack

import (
	"log/slog"
	"sync"

	"github.com/go-tuntcp/tuntcp"
	"github.com/go-tuntcp/tuntcp/internal"
	"github.com/go-tuntcp/tuntcp/ipv4"
	"github.com/go-tuntcp/tuntcp/tcp"
)

const maxDatagram = 1500

// TunDevice is the external collaborator the Interface drives: one blocking
// datagram read, one datagram write, and a way to unblock a pending read at
// teardown. Datagrams are raw IPv4: no link-layer header, no 4-byte
// packet-info prefix. See the tun package for the Linux TUN implementation.
type TunDevice interface {
	Recv(buf []byte) (int, error)
	Send(buf []byte) (int, error)
	Close() error
}

// Interface owns the manager: the four-tuple connection table, the
// port/pending-accept-queue table, and the terminate flag, all serialized
// by a single mutex. It spawns one packet-processing goroutine at
// construction.
type Interface struct {
	mu          sync.Mutex
	condPending sync.Cond
	condRecv    sync.Cond

	tun       TunDevice
	conns     map[tcp.Quad]*tcp.Connection
	listeners map[uint16]*pendingQueue
	terminate bool
	ipID      uint16
	wg        sync.WaitGroup

	logger
}

type pendingQueue struct {
	quads []tcp.Quad
}

// Option configures an Interface at construction.
type Option func(*Interface)

// WithLogger attaches a structured logger; by default an Interface logs
// nothing.
func WithLogger(l *slog.Logger) Option {
	return func(iface *Interface) { iface.logger.log = l }
}

// NewInterface creates the manager and spawns the packet-processing
// goroutine reading from tun.
func NewInterface(tun TunDevice, opts ...Option) *Interface {
	iface := &Interface{
		tun:       tun,
		conns:     make(map[tcp.Quad]*tcp.Connection),
		listeners: make(map[uint16]*pendingQueue),
	}
	iface.condPending.L = &iface.mu
	iface.condRecv.L = &iface.mu
	for _, opt := range opts {
		opt(iface)
	}
	iface.wg.Add(1)
	go iface.loop()
	return iface
}

// Bind installs an empty pending-accept queue for port and returns a
// Listener handle. Fails with ErrAddrInUse if the port already has a
// listener.
func (iface *Interface) Bind(port uint16) (*Listener, error) {
	iface.mu.Lock()
	defer iface.mu.Unlock()
	if _, ok := iface.listeners[port]; ok {
		return nil, ErrAddrInUse
	}
	iface.listeners[port] = &pendingQueue{}
	return &Listener{iface: iface, port: port}, nil
}

// Close sets the terminate flag, RSTs and drops any connections still
// sitting in a listener's pending-accept queue, closes the underlying
// tunnel (unblocking the packet goroutine's in-flight Recv), and waits for
// the packet goroutine to exit.
func (iface *Interface) Close() error {
	iface.mu.Lock()
	iface.terminate = true
	for port, pq := range iface.listeners {
		for _, quad := range pq.quads {
			if conn, ok := iface.conns[quad]; ok {
				iface.sendRST(quad, conn)
				delete(iface.conns, quad)
			}
		}
		delete(iface.listeners, port)
	}
	iface.condPending.Broadcast()
	iface.condRecv.Broadcast()
	iface.mu.Unlock()
	err := iface.tun.Close()
	iface.wg.Wait()
	return err
}

func (iface *Interface) loop() {
	defer iface.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, err := iface.tun.Recv(buf)
		if err != nil {
			iface.mu.Lock()
			term := iface.terminate
			iface.mu.Unlock()
			if !term {
				iface.logerr("stack: tunnel recv failed", slog.String("err", err.Error()))
			}
			return
		}
		iface.handleDatagram(buf[:n])
	}
}

func (iface *Interface) handleDatagram(buf []byte) {
	ifrm, err := ipv4.NewFrame(buf)
	if err != nil {
		iface.debug("stack: short ip datagram")
		return
	}
	if err := ifrm.ValidateSize(); err != nil {
		iface.debug("stack: malformed ip header", slog.String("err", err.Error()))
		return
	}
	if err := ifrm.ValidateVersion(); err != nil {
		iface.debug("stack: bad ip version")
		return
	}
	if ifrm.Protocol() != tuntcp.IPProtoTCP {
		return // non-TCP protocols dropped.
	}

	tfrm, err := tcp.NewFrame(ifrm.Payload())
	if err != nil {
		iface.debug("stack: short tcp segment")
		return
	}
	if err := tfrm.ValidateSize(); err != nil {
		iface.debug("stack: malformed tcp header", slog.String("err", err.Error()))
		return
	}
	if !verifyChecksum(ifrm, tfrm) {
		iface.debug("stack: tcp checksum mismatch")
		return
	}

	payload := tfrm.Payload()
	seg := tfrm.Segment(len(payload))
	quad := tcp.Quad{
		RemoteAddr: *ifrm.SourceAddr(),
		RemotePort: tfrm.SourcePort(),
		LocalAddr:  *ifrm.DestinationAddr(),
		LocalPort:  tfrm.DestinationPort(),
	}

	iface.mu.Lock()
	defer iface.mu.Unlock()

	if conn, ok := iface.conns[quad]; ok {
		resp, remove := conn.Deliver(seg, payload)
		for _, r := range resp {
			iface.send(quad, r)
		}
		if remove {
			delete(iface.conns, quad)
		}
		iface.condRecv.Broadcast()
		return
	}

	pq, ok := iface.listeners[quad.LocalPort]
	if !ok {
		return // no listener registered on this port, drop.
	}
	conn, synack, ok := tcp.NewConnection(quad, seg)
	if !ok {
		return // not a bare SYN, discard the candidate silently.
	}
	iface.conns[quad] = conn
	pq.quads = append(pq.quads, quad)
	iface.send(quad, synack)
	iface.condPending.Broadcast()
	iface.debug("stack: passive open",
		internal.SlogAddr4("remote", quad.RemoteAddr),
		slog.Uint64("remote_port", uint64(quad.RemotePort)),
		slog.Uint64("local_port", uint64(quad.LocalPort)))
}

// send assembles an IPv4+TCP datagram for r and hands it to the tunnel. It
// is always called with iface.mu held.
func (iface *Interface) send(quad tcp.Quad, r tcp.Response) {
	var scratch [maxDatagram]byte
	const ipHeaderLen = 20
	const tcpHeaderLen = 20
	total := ipHeaderLen + tcpHeaderLen + len(r.Payload)
	if total > len(scratch) {
		iface.logerr("stack: outbound datagram too large", slog.Int("len", total))
		return
	}
	buf := scratch[:total]

	ifrm, _ := ipv4.NewFrame(buf)
	ifrm.ClearHeader()
	ifrm.SetVersionAndIHL(4, 5)
	ifrm.SetTotalLength(uint16(total))
	ifrm.SetID(iface.ipID)
	iface.ipID++
	ifrm.SetDontFragment(true)
	ifrm.SetTTL(64)
	ifrm.SetProtocol(tuntcp.IPProtoTCP)
	*ifrm.SourceAddr() = quad.LocalAddr
	*ifrm.DestinationAddr() = quad.RemoteAddr
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())

	tfrm, _ := tcp.NewFrame(ifrm.Payload())
	tfrm.ClearHeader()
	tfrm.SetSourcePort(quad.LocalPort)
	tfrm.SetDestinationPort(quad.RemotePort)
	tfrm.SetSegment(r.Segment, 5)
	copy(tfrm.Payload(), r.Payload)
	tfrm.SetCRC(0)
	var crc tuntcp.CRC791
	ifrm.CRCWriteTCPPseudo(&crc)
	tfrm.CRCWrite(&crc)
	tfrm.SetCRC(crc.Sum16())

	iface.trace("stack: send", slog.String("seg", tfrm.String()))
	if _, err := iface.tun.Send(buf); err != nil {
		iface.logerr("stack: tunnel send failed", slog.String("err", err.Error()))
	}
}

// sendRST emits a bare RST with sequence and acknowledgment numbers zero
// (conn's send sequence is not consulted), used when
// dropping a connection still in a listener's pending-accept queue at
// teardown (SPEC_FULL.md §9 decision 7).
func (iface *Interface) sendRST(quad tcp.Quad, conn *tcp.Connection) {
	iface.send(quad, tcp.Response{Segment: tcp.Segment{Flags: tcp.FlagRST}})
}

func verifyChecksum(ifrm ipv4.Frame, tfrm tcp.Frame) bool {
	want := tfrm.CRC()
	tfrm.SetCRC(0)
	var crc tuntcp.CRC791
	ifrm.CRCWriteTCPPseudo(&crc)
	tfrm.CRCWrite(&crc)
	got := crc.Sum16()
	tfrm.SetCRC(want)
	return got == want
}
