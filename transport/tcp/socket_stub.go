//go:build !linux && !darwin

package tcp

import (
	"context"
	"net/netip"

	E "github.com/sagernet/sing-relay/common/exceptions"
)

var errUnsupported = E.New("tcp sockets not supported on this platform")

func NewSocket(fd int) Socket {
	panic(errUnsupported)
}

func listenTCP(bind netip.AddrPort, backlog int) (int, error) {
	return -1, errUnsupported
}

func acceptTCP(listenFD int) (Socket, netip.AddrPort, error) {
	return nil, netip.AddrPort{}, errUnsupported
}

func socketAddr(fd int) (netip.AddrPort, error) {
	return netip.AddrPort{}, errUnsupported
}

func closeFD(fd int) error {
	return errUnsupported
}

func Dial(ctx context.Context, destination netip.AddrPort) (Socket, error) {
	return nil, errUnsupported
}
