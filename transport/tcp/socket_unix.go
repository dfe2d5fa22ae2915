//go:build linux || darwin

package tcp

import (
	"context"
	"net/netip"
	"time"

	E "github.com/sagernet/sing-relay/common/exceptions"

	"golang.org/x/sys/unix"
)

type fdSocket struct {
	fd     int
	closed bool
}

// NewSocket wraps a connected non-blocking descriptor.
func NewSocket(fd int) Socket {
	return &fdSocket{fd: fd}
}

func (s *fdSocket) FD() int {
	return s.fd
}

func (s *fdSocket) Read(p []byte) (int, error) {
	n, err := unix.Read(s.fd, p)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *fdSocket) Write(p []byte) (int, error) {
	n, err := unix.Write(s.fd, p)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *fdSocket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}

func toSockaddr(address netip.AddrPort) (int, unix.Sockaddr) {
	addr := address.Addr()
	if addr.Is4() || addr.Is4In6() {
		return unix.AF_INET, &unix.SockaddrInet4{
			Port: int(address.Port()),
			Addr: addr.Unmap().As4(),
		}
	}
	return unix.AF_INET6, &unix.SockaddrInet6{
		Port: int(address.Port()),
		Addr: addr.As16(),
	}
}

func fromSockaddr(sockaddr unix.Sockaddr) netip.AddrPort {
	switch sa := sockaddr.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}

func listenTCP(bind netip.AddrPort, backlog int) (int, error) {
	domain, sockaddr := toSockaddr(bind)
	fd, err := newSocket(domain)
	if err != nil {
		return -1, E.Cause(err, "create socket")
	}
	err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err != nil {
		unix.Close(fd)
		return -1, E.Cause(err, "set SO_REUSEADDR")
	}
	if domain == unix.AF_INET6 && bind.Addr().IsUnspecified() {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
	}
	err = unix.Bind(fd, sockaddr)
	if err != nil {
		unix.Close(fd)
		return -1, E.Cause(err, "bind ", bind)
	}
	err = unix.Listen(fd, backlog)
	if err != nil {
		unix.Close(fd)
		return -1, E.Cause(err, "listen ", bind)
	}
	return fd, nil
}

func acceptTCP(listenFD int) (Socket, netip.AddrPort, error) {
	fd, sockaddr, err := accept(listenFD)
	if err != nil {
		return nil, netip.AddrPort{}, err
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return NewSocket(fd), fromSockaddr(sockaddr), nil
}

func socketAddr(fd int) (netip.AddrPort, error) {
	sockaddr, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return fromSockaddr(sockaddr), nil
}

func closeFD(fd int) error {
	return unix.Close(fd)
}

// Dial connects to destination without blocking the calling goroutine on the
// kernel; it waits for the handshake until ctx is done.
func Dial(ctx context.Context, destination netip.AddrPort) (Socket, error) {
	domain, sockaddr := toSockaddr(destination)
	fd, err := newSocket(domain)
	if err != nil {
		return nil, E.Cause(err, "create socket")
	}
	err = unix.Connect(fd, sockaddr)
	if err == unix.EINPROGRESS || err == unix.EINTR {
		err = waitConnect(ctx, fd)
	}
	if err != nil {
		unix.Close(fd)
		return nil, E.Cause(err, "dial ", destination)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return NewSocket(fd), nil
}

func waitConnect(ctx context.Context, fd int) error {
	const pollInterval = 100 * time.Millisecond
	pollFDs := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		err := ctx.Err()
		if err != nil {
			return err
		}
		n, err := unix.Poll(pollFDs, int(pollInterval/time.Millisecond))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}
		errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}
		if errno != 0 {
			return unix.Errno(errno)
		}
		return nil
	}
}
