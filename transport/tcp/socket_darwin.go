//go:build darwin

package tcp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func newSocket(domain int) (int, error) {
	syscall.ForkLock.RLock()
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return -1, err
	}
	err = setup(fd)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func accept(listenFD int) (int, unix.Sockaddr, error) {
	syscall.ForkLock.RLock()
	fd, sockaddr, err := unix.Accept(listenFD)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return -1, nil, err
	}
	err = setup(fd)
	if err != nil {
		unix.Close(fd)
		return -1, nil, err
	}
	return fd, sockaddr, nil
}

func setup(fd int) error {
	err := unix.SetNonblock(fd, true)
	if err != nil {
		return err
	}
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
}
