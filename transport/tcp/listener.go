package tcp

import (
	"errors"
	"net/netip"
	"syscall"

	E "github.com/sagernet/sing-relay/common/exceptions"
	"github.com/sagernet/sing-relay/common/log"

	"github.com/sirupsen/logrus"
)

// Listener is the reactor handler of a listening socket. Every read event
// accepts one connection and passes it to the ConnectionHandler.
type Listener struct {
	bind    netip.AddrPort
	handler ConnectionHandler
	backlog int
	logger  logrus.FieldLogger
	fd      int
	addr    netip.AddrPort
}

func NewListener(bind netip.AddrPort, handler ConnectionHandler, options ...Option) *Listener {
	listener := &Listener{
		bind:    bind,
		handler: handler,
		backlog: DefaultBacklog,
		logger:  log.NewLogger("tcp"),
		fd:      -1,
	}
	for _, option := range options {
		option(listener)
	}
	return listener
}

func (l *Listener) Start() error {
	if l.fd != -1 {
		return E.New("tcp listener already started")
	}
	fd, err := listenTCP(l.bind, l.backlog)
	if err != nil {
		return err
	}
	addr, err := socketAddr(fd)
	if err != nil {
		closeFD(fd)
		return E.Cause(err, "get listener address")
	}
	l.fd = fd
	l.addr = addr
	l.logger.Info("listening on ", addr)
	return nil
}

// Addr returns the bound address, with the port chosen by the kernel if 0 was requested.
func (l *Listener) Addr() netip.AddrPort {
	return l.addr
}

func (l *Listener) FD() int {
	return l.fd
}

func (l *Listener) WantsRead() bool {
	return l.fd != -1
}

func (l *Listener) WantsWrite() bool {
	return false
}

func (l *Listener) HandleReadable() error {
	socket, source, err := acceptTCP(l.fd)
	if err != nil {
		if E.IsWouldBlock(err) || errors.Is(err, syscall.ECONNABORTED) {
			return nil
		}
		return E.Cause(err, "accept")
	}
	err = l.handler.NewConnection(socket, source)
	if err != nil {
		socket.Close()
		l.logger.Warn("drop connection from ", source, ": ", err)
	}
	return nil
}

func (l *Listener) HandleWritable() error {
	return E.New("tcp listener: unexpected write readiness")
}

func (l *Listener) HandleError(err error) {
	l.logger.Error(err)
}

func (l *Listener) Close() error {
	if l == nil || l.fd == -1 {
		return nil
	}
	fd := l.fd
	l.fd = -1
	return closeFD(fd)
}
