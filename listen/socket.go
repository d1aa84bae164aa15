// Package listen owns the ListenSocket type and the C8 reconciler that
// matches newly configured listen sockets against ones inherited from the
// environment, reusing descriptors where the addresses agree.
package listen

import (
	"fmt"
	"net/netip"
	"os"

	"golang.org/x/sys/unix"

	"unitgo/address"
	cerrors "unitgo/errors"
)

// DefaultBacklog is the default listen backlog, matching the runtime
// core's NXT_LISTEN_BACKLOG.
const DefaultBacklog = 511

// Socket is a listening socket: an address, an OS descriptor (or -1 if not
// yet bound), a backlog, and non-blocking flag. Owned by the runtime for
// its lifetime; the supervisor's quit path does not call Close on it, so
// the descriptor is released when the process exits.
type Socket struct {
	Sockaddr    *address.Address
	FD          int
	Backlog     int
	NonBlocking bool
}

// NewUnbound creates a Socket descriptor placeholder for a configured
// address, not yet bound to any OS socket (FD == -1), mirroring
// nxt_runtime_listen_socket_add.
func NewUnbound(sa *address.Address) *Socket {
	return &Socket{Sockaddr: sa, FD: -1, Backlog: DefaultBacklog}
}

// File wraps the socket's descriptor as an *os.File so it can be passed to
// a forked worker via exec.Cmd.ExtraFiles.
func (s *Socket) File() *os.File {
	return os.NewFile(uintptr(s.FD), s.Sockaddr.String())
}

// Close closes the underlying descriptor, if any.
func (s *Socket) Close() error {
	if s.FD < 0 {
		return nil
	}
	fd := s.FD
	s.FD = -1
	return unix.Close(fd)
}

// Create binds and listens a fresh OS socket for sa with the given
// backlog, setting it non-blocking.
func Create(sa *address.Address, backlog int) (*Socket, error) {
	domain, sockAddr, err := toSockaddr(sa)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrIOFailed, "listen", "socket")
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, cerrors.Wrap(err, cerrors.ErrIOFailed, "listen", "setsockopt(SO_REUSEADDR)")
	}

	if err := unix.Bind(fd, sockAddr); err != nil {
		unix.Close(fd)
		return nil, cerrors.WrapWithDetail(err, cerrors.ErrIOFailed, "listen", "bind", sa.String())
	}

	if backlog <= 0 {
		backlog = DefaultBacklog
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, cerrors.Wrap(err, cerrors.ErrIOFailed, "listen", "listen")
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, cerrors.Wrap(err, cerrors.ErrIOFailed, "listen", "set non-blocking")
	}

	return &Socket{Sockaddr: sa, FD: fd, Backlog: backlog, NonBlocking: true}, nil
}

// Update reuses prev's descriptor for curr's configured parameters,
// mirroring nxt_listen_socket_update: the inherited entry keeps its OS
// descriptor, but adopts the freshly configured backlog.
func Update(curr, prev *Socket) *Socket {
	return &Socket{
		Sockaddr:    curr.Sockaddr,
		FD:          prev.FD,
		Backlog:     curr.Backlog,
		NonBlocking: prev.NonBlocking,
	}
}

// FromInherited recovers a Socket's address and type for a descriptor
// handed down by the environment via the legacy NGINX scheme (C2), which
// queries the real socket type with SO_TYPE.
func FromInherited(fd int) (*Socket, error) {
	sa, err := GetSockName(fd)
	if err != nil {
		return nil, err
	}

	typ, err := GetSockType(fd)
	if err != nil {
		return nil, err
	}
	sa.Type = typ

	return &Socket{Sockaddr: sa, FD: fd, Backlog: DefaultBacklog}, nil
}

// FromInheritedAssumeStream recovers a Socket's address for a descriptor
// handed down via the systemd scheme (C2), which assumes SOCK_STREAM
// rather than querying SO_TYPE.
func FromInheritedAssumeStream(fd int) (*Socket, error) {
	sa, err := GetSockName(fd)
	if err != nil {
		return nil, err
	}
	sa.Type = address.SockStream

	return &Socket{Sockaddr: sa, FD: fd, Backlog: DefaultBacklog}, nil
}

// GetSockName recovers the address bound to fd via getsockname(2).
func GetSockName(fd int) (*address.Address, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.ErrIOFailed, "listen", "getsockname")
	}
	return fromSockaddr(sa)
}

// GetSockType recovers SO_TYPE for fd.
func GetSockType(fd int) (int, error) {
	typ, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return 0, cerrors.Wrap(err, cerrors.ErrIOFailed, "listen", "getsockopt(SO_TYPE)")
	}
	return typ, nil
}

func toSockaddr(sa *address.Address) (int, unix.Sockaddr, error) {
	switch sa.Family {
	case address.FamilyUnix:
		return unix.AF_UNIX, &unix.SockaddrUnix{Name: sa.Path}, nil

	case address.FamilyInet:
		var raw unix.SockaddrInet4
		raw.Port = int(sa.Port)
		if sa.IP.IsValid() {
			raw.Addr = sa.IP.As4()
		}
		return unix.AF_INET, &raw, nil

	case address.FamilyInet6:
		var raw unix.SockaddrInet6
		raw.Port = int(sa.Port)
		if sa.IP.IsValid() {
			raw.Addr = sa.IP.As16()
		}
		return unix.AF_INET6, &raw, nil

	default:
		return 0, nil, fmt.Errorf("listen: unknown address family %v", sa.Family)
	}
}

func fromSockaddr(sa unix.Sockaddr) (*address.Address, error) {
	switch v := sa.(type) {
	case *unix.SockaddrUnix:
		a, err := address.Parse("unix:" + v.Name)
		if err != nil {
			return nil, err
		}
		return a, nil

	case *unix.SockaddrInet4:
		ip := netip.AddrFrom4(v.Addr)
		text := fmt.Sprintf("%s:%d", ip.String(), v.Port)
		return address.Parse(text)

	case *unix.SockaddrInet6:
		ip := netip.AddrFrom16(v.Addr)
		text := fmt.Sprintf("[%s]:%d", ip.String(), v.Port)
		return address.Parse(text)

	default:
		return nil, fmt.Errorf("listen: unsupported sockaddr type %T", sa)
	}
}
