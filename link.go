package transport

import (
	"context"
	"net"
)

// Link is the pluggable physical carrier a TransportUnicast stripes frames
// across. Concrete drivers (TCP/TLS/QUIC/UDP/UNIX/SHM) are out of scope
// for this module; only the contract and an in-memory test double
// (internal/testlink) live here.
type Link interface {
	// Send writes one already-encoded TransportMessage to the wire.
	Send(ctx context.Context, raw []byte) error
	// Recv blocks for the next TransportMessage and returns its raw encoded
	// bytes; the caller decodes them.
	Recv(ctx context.Context) ([]byte, error)
	// Close releases the underlying carrier. Safe to call more than once.
	Close() error
	// MTU bounds how large a single Send's payload may be before the
	// pipeliner must fragment.
	MTU() int
	// IsReliable reports whether the carrier itself guarantees delivery
	// (e.g. TCP/TLS/QUIC streams), independent of any conduit's own
	// Reliability setting.
	IsReliable() bool
	// IsStreamed reports whether the carrier is a byte stream (TCP/TLS)
	// requiring length-prefixed framing, as opposed to a datagram carrier
	// (UDP/UNIX datagram) where each Send/Recv is one message.
	IsStreamed() bool
	// Src and Dst name the local and remote endpoints, for logging.
	Src() EndPoint
	Dst() EndPoint
}

// LinkManager is a per-protocol listener/dialer factory: it turns an
// EndPoint into a Link (dial) or into a stream of accepted Links (listen).
// Concrete protocol registration happens outside this module; callers
// wire in whichever LinkManager implementations their build needs.
type LinkManager interface {
	// Protocol names the EndPoint protocol this manager handles, e.g.
	// "tcp" or "quic".
	Protocol() string
	// Dial opens a new outbound Link to ep.
	Dial(ctx context.Context, ep EndPoint) (Link, error)
	// Listen starts accepting inbound Links on ep, delivering each to
	// accept as it completes its transport-level (not establishment-level)
	// setup. Listen blocks until ctx is canceled or listening fails.
	Listen(ctx context.Context, ep EndPoint, accept func(Link)) error
}

// netConnLink adapts a net.Conn into a Link for stream-oriented protocols,
// length-prefixing each Send/Recv the way a TCP/TLS/QUIC-stream driver
// would. It is exported via NewStreamLink so a future concrete driver (or
// a test) can reuse the framing instead of reimplementing it.
type netConnLink struct {
	conn     net.Conn
	mtu      int
	src, dst EndPoint
	streamed bool
}

// NewStreamLink wraps conn as a length-prefixed streamed Link with the
// given MTU and logical endpoints.
func NewStreamLink(conn net.Conn, mtu int, src, dst EndPoint) Link {
	return &netConnLink{conn: conn, mtu: mtu, src: src, dst: dst, streamed: true}
}

// streamHeaderLen is the length-prefix width for stream links: a 2-byte
// big-endian length per spec.md §4.2/§6, bounding a single batch to 65535
// bytes on a streamed carrier.
const streamHeaderLen = 2

func (l *netConnLink) Send(ctx context.Context, raw []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = l.conn.SetWriteDeadline(dl)
	}
	if len(raw) > 0xFFFF {
		return newError(ErrInvalidMessage, nil)
	}
	var hdr [streamHeaderLen]byte
	n := len(raw)
	hdr[0] = byte(n >> 8)
	hdr[1] = byte(n)
	if _, err := l.conn.Write(hdr[:]); err != nil {
		return wrapf(ErrIoError, err, "link: write length header")
	}
	if _, err := l.conn.Write(raw); err != nil {
		return wrapf(ErrIoError, err, "link: write body")
	}
	return nil
}

func (l *netConnLink) Recv(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = l.conn.SetReadDeadline(dl)
	}
	var hdr [streamHeaderLen]byte
	if err := readFull(l.conn, hdr[:]); err != nil {
		return nil, wrapf(ErrIoError, err, "link: read length header")
	}
	n := int(hdr[0])<<8 | int(hdr[1])
	buf := make([]byte, n)
	if err := readFull(l.conn, buf); err != nil {
		return nil, wrapf(ErrIoError, err, "link: read body")
	}
	return buf, nil
}

func readFull(r net.Conn, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *netConnLink) Close() error     { return l.conn.Close() }
func (l *netConnLink) MTU() int         { return l.mtu }
func (l *netConnLink) IsReliable() bool { return true }
func (l *netConnLink) IsStreamed() bool { return l.streamed }
func (l *netConnLink) Src() EndPoint    { return l.src }
func (l *netConnLink) Dst() EndPoint    { return l.dst }
