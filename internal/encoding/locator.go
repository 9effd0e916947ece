package encoding

import (
	"net"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Protocol identifies the transport substrate a Locator names.
type Protocol string

const (
	ProtoTCP   Protocol = "tcp"
	ProtoUDP   Protocol = "udp"
	ProtoTLS   Protocol = "tls"
	ProtoQUIC  Protocol = "quic"
	ProtoUnix  Protocol = "unixsock-stream"
	ProtoSHM   Protocol = "shm"
)

// knownProtocols is used to reject unparseable/unknown endpoint strings early.
var knownProtocols = map[Protocol]bool{
	ProtoTCP: true, ProtoUDP: true, ProtoTLS: true,
	ProtoQUIC: true, ProtoUnix: true, ProtoSHM: true,
}

// ErrInvalidLocator is returned for a malformed endpoint string.
var ErrInvalidLocator = errors.New("encoding: invalid locator")

// Locator is a (Protocol, Address) pair. Multicast-capability is a property
// of the Address (a multicast IPv4/IPv6 address on udp), not of the
// Protocol itself.
type Locator struct {
	Protocol Protocol
	Address  string
}

func (l Locator) String() string {
	return string(l.Protocol) + "/" + l.Address
}

// IsMulticast reports whether the address names a multicast group.
func (l Locator) IsMulticast() bool {
	if l.Protocol != ProtoUDP {
		return false
	}
	host, _, err := net.SplitHostPort(l.Address)
	if err != nil {
		host = l.Address
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsMulticast()
}

// EndPoint is a Locator plus an optional configuration property map (TLS
// material, interface selector, etc. — see spec.md §6's property table).
type EndPoint struct {
	Locator    Locator
	Properties map[string]string
}

func (e EndPoint) String() string {
	s := e.Locator.String()
	if len(e.Properties) == 0 {
		return s
	}
	keys := make([]string, 0, len(e.Properties))
	for k := range e.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(s)
	b.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(e.Properties[k])
	}
	return b.String()
}

// ParseEndPoint parses the `protocol/address[?k=v&k=v]` grammar from
// spec.md §6.
func ParseEndPoint(s string) (EndPoint, error) {
	locPart, propPart, hasProps := strings.Cut(s, "?")

	slash := strings.Index(locPart, "/")
	if slash < 0 {
		return EndPoint{}, errors.Wrapf(ErrInvalidLocator, "missing '/' in %q", s)
	}
	proto := Protocol(locPart[:slash])
	addr := locPart[slash+1:]
	if addr == "" {
		return EndPoint{}, errors.Wrapf(ErrInvalidLocator, "empty address in %q", s)
	}
	if !knownProtocols[proto] {
		return EndPoint{}, errors.Wrapf(ErrInvalidLocator, "unknown protocol %q", proto)
	}

	ep := EndPoint{Locator: Locator{Protocol: proto, Address: addr}}
	if !hasProps {
		return ep, nil
	}

	ep.Properties = make(map[string]string)
	for _, kv := range strings.Split(propPart, "&") {
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return EndPoint{}, errors.Wrapf(ErrInvalidLocator, "malformed property %q in %q", kv, s)
		}
		ep.Properties[k] = v
	}
	return ep, nil
}
