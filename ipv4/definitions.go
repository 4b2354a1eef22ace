package ipv4

const (
	sizeHeader = 20
)

// ToS represents the Traffic Class (a.k.a Type of Service) field. This
// stack never inspects it; Frame.ToS/SetToS carry it through unexamined.
type ToS uint8

// Flags holds the flags/fragment-offset field of an IPv4 header. IP
// fragmentation is a non-goal, so only the don't-fragment bit is named:
// every datagram this stack emits sets it, and none it receives are
// expected to carry fragment data.
type Flags uint16

// flagDontFragment is the don't-fragment bit: set, it tells routers along
// the path not to fragment the datagram, dropping it instead if it can't
// be forwarded whole.
const flagDontFragment Flags = 0x4000

// DontFragment reports whether the don't-fragment bit is set.
func (f Flags) DontFragment() bool { return f&flagDontFragment != 0 }
