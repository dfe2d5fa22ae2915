package exceptions

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// IsClosed reports whether err means the peer or the local side has gone away.
func IsClosed(err error) bool {
	return IsMulti(err,
		io.EOF,
		net.ErrClosed,
		os.ErrClosed,
		syscall.EPIPE,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.ESHUTDOWN,
		syscall.ENOTCONN,
	)
}

// IsWouldBlock reports whether a non-blocking call could not complete yet.
func IsWouldBlock(err error) bool {
	return IsMulti(err, syscall.EAGAIN, syscall.EWOULDBLOCK, syscall.EINTR)
}

func IsMulti(err error, targetList ...error) bool {
	if err == nil {
		return false
	}
	for _, target := range targetList {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
