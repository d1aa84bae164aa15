// Package address implements the socket-address grammar consumed by the
// supervisor's listen configuration and by inherited-socket reconciliation.
//
// It parses "unix:PATH", "[ipv6]:port", "ipv4:port", "*:port", a bare port,
// and a bare dotted-quad address into a typed, immutable Address. The
// grammar is stable and compatibility-critical: it is parsed bit-exactly,
// including the two historical quirks documented on parseUnix's abstract
// socket handling and parseInet6's slicing below (systemd-style LISTEN_FDS ranges are handled by the
// sibling inherit package, not here).
package address

import (
	"fmt"
	"net/netip"
	"runtime"
	"strconv"
	"strings"

	cerrors "unitgo/errors"
)

// Family identifies the address family of a parsed Address.
type Family int

const (
	// FamilyUnix is a Unix-domain address (including Linux abstract sockets).
	FamilyUnix Family = iota
	// FamilyInet is an IPv4 address.
	FamilyInet
	// FamilyInet6 is an IPv6 address.
	FamilyInet6
)

func (f Family) String() string {
	switch f {
	case FamilyUnix:
		return "unix"
	case FamilyInet:
		return "inet"
	case FamilyInet6:
		return "inet6"
	default:
		return "unknown"
	}
}

// SockStream is the SOCK_STREAM value of Address.Type, the socket type
// recovered by SO_TYPE or assumed by the grammar. Every address produced
// by this package is SOCK_STREAM.
const SockStream = 1

// sunPathMax is sizeof(sockaddr_un.sun_path) - 1: the maximum path length
// this package accepts, reserving one byte for a trailing NUL so that
// paths without one (as some OSes hand back from getsockname) are never
// ambiguous with a path that was truncated.
const sunPathMax = 107

// sunPathOffset is offsetof(struct sockaddr_un, sun_path) on Linux amd64:
// sun_family (a 2-byte unsigned short) precedes sun_path.
const sunPathOffset = 2

// defaultInetPort is used when an IPv4 address is given with no port.
const defaultInetPort = 8080

// Address is an immutable, tagged union over Unix / IPv4 / IPv6 addresses.
type Address struct {
	Family Family
	Type   int

	// Length is the number of bytes used by the printable/native form
	// (the path length for Unix, unused for inet families).
	Length int
	// Socklen is the native sockaddr length: offsetof(sun_path)+len(+1
	// unless abstract) for Unix, sizeof(sockaddr_in)/sockaddr_in6 for inet.
	Socklen int

	// Path is the raw Unix-domain path, NUL-substituted in the first byte
	// when Abstract is true. Only meaningful when Family == FamilyUnix.
	Path     string
	Abstract bool

	// IP and Port are meaningful for FamilyInet / FamilyInet6. IP is the
	// zero value for the wildcard/ANY address.
	IP   netip.Addr
	Port uint16

	text string
}

// String returns the canonical printed form of the address. For every
// address this package can produce, Parse(a.String()) == a.
func (a *Address) String() string {
	return a.text
}

// Equal is the family-aware equality predicate used by the listen-socket
// reconciler (C8) to decide whether a configured socket matches an
// inherited one. It compares family, then the printed text form for inet
// families and the raw (post-substitution) path bytes for Unix.
func (a *Address) Equal(b *Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Family != b.Family {
		return false
	}
	if a.Family == FamilyUnix {
		return a.Path == b.Path
	}
	return a.text == b.text
}

// Parse parses addr according to the grammar in package doc, dispatching
// by prefix. All error paths return a *errors.RuntimeError naming the
// "address" subsystem and quoting the offending input; callers that want
// to also emit a log line should do so with the returned error's Detail.
func Parse(addr string) (*Address, error) {
	if len(addr) >= 5 && addr[:5] == "unix:" {
		return parseUnix(addr)
	}
	if len(addr) != 0 && addr[0] == '[' {
		return parseInet6(addr)
	}
	return parseInet(addr)
}

func parseUnix(addr string) (*Address, error) {
	path := addr[5:]

	if len(path) == 0 {
		return nil, invalidErr("unix domain socket %q name is invalid", addr)
	}

	if len(path) > sunPathMax {
		return nil, invalidErr("unix domain socket %q name is too long", addr)
	}

	pathBytes := []byte(path)
	abstract := false

	if runtime.GOOS == "linux" && pathBytes[0] == '@' {
		pathBytes[0] = 0
		abstract = true
	}

	socklen := sunPathOffset + len(pathBytes) + 1
	if abstract {
		socklen--
	}

	a := &Address{
		Family:  FamilyUnix,
		Type:    SockStream,
		Length:  len(pathBytes),
		Socklen: socklen,
		Path:    string(pathBytes),
		Abstract: abstract,
	}
	a.text = "unix:" + renderUnixPath(pathBytes)
	return a, nil
}

func renderUnixPath(path []byte) string {
	if len(path) > 0 && path[0] == 0 {
		return "@" + string(path[1:])
	}
	return string(path)
}

func parseInet6(addr string) (*Address, error) {
	// Reconstruct the intended slicing: the original C shadows `addr`
	// with a local byte pointer and computes the post-']' remainder from
	// the outer argument. This is that reconstruction: text = addr[1:],
	// find ']', then rest = text after the closing bracket.
	text := addr[1:]

	closeIdx := strings.IndexByte(text, ']')
	if closeIdx < 0 {
		return nil, invalidErr("invalid IPv6 address in %q", addr)
	}

	ipText := text[:closeIdx]
	ip, err := netip.ParseAddr(ipText)
	if err != nil {
		return nil, invalidErr("invalid IPv6 address in %q", addr)
	}

	rest := text[closeIdx+1:]

	if len(rest) == 0 {
		a := &Address{
			Family:  FamilyInet6,
			Type:    SockStream,
			Socklen: 28, // sizeof(struct sockaddr_in6)
			IP:      ip,
			Port:    0,
		}
		a.text = fmt.Sprintf("[%s]", ip.String())
		return a, nil
	}

	if rest[0] != ':' {
		return nil, invalidErr("invalid port in %q", addr)
	}

	port, ok := parseUintStrict(rest[1:])
	if !ok || port < 1 || port > 65535 {
		return nil, invalidErr("invalid port in %q", addr)
	}

	a := &Address{
		Family:  FamilyInet6,
		Type:    SockStream,
		Socklen: 28,
		IP:      ip,
		Port:    uint16(port),
	}
	a.text = fmt.Sprintf("[%s]:%d", ip.String(), port)
	return a, nil
}

func parseInet(addr string) (*Address, error) {
	colon := strings.IndexByte(addr, ':')

	var ip netip.Addr
	var port int
	wildcard := true

	if colon < 0 {
		if n, ok := parseUintStrict(addr); ok && n > 0 {
			if n < 1 || n > 65535 {
				return nil, invalidErr("invalid port in %q", addr)
			}
			port = n
		} else {
			parsed, perr := netip.ParseAddr(addr)
			if perr != nil || !parsed.Is4() {
				return nil, invalidErr("invalid address in %q", addr)
			}
			ip = parsed
			wildcard = false
			port = defaultInetPort
		}
	} else {
		left := addr[:colon]
		right := addr[colon+1:]

		n, ok := parseUintStrict(right)
		if !ok || n < 1 || n > 65535 {
			return nil, invalidErr("invalid port in %q", addr)
		}
		port = n

		if left != "*" {
			parsed, perr := netip.ParseAddr(left)
			if perr != nil || !parsed.Is4() {
				return nil, invalidErr("invalid address in %q", addr)
			}
			ip = parsed
			wildcard = false
		}
	}

	a := &Address{
		Family:  FamilyInet,
		Type:    SockStream,
		Socklen: 16, // sizeof(struct sockaddr_in)
		IP:      ip,
		Port:    uint16(port),
	}
	if wildcard {
		a.text = fmt.Sprintf("*:%d", port)
	} else {
		a.text = fmt.Sprintf("%s:%d", ip.String(), port)
	}
	return a, nil
}

// parseUintStrict parses s as an unsigned decimal integer with no sign, no
// leading/trailing whitespace, and no leading '+'. It is the Go analogue
// of the original's nxt_int_parse: any non-digit character, or an empty
// string, is a parse failure rather than a partial result.
func parseUintStrict(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func invalidErr(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return cerrors.New(cerrors.ErrInvalidConfig, "address", "parse", msg)
}
