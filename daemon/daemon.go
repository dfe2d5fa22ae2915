package daemon

import (
	"context"
	"io"
	"net/netip"

	E "github.com/sagernet/sing-relay/common/exceptions"
	"github.com/sagernet/sing-relay/common/log"
	"github.com/sagernet/sing-relay/common/reactor"
	"github.com/sagernet/sing-relay/transport/tcp"

	"github.com/sirupsen/logrus"
)

var ErrRemoteClosed = E.New("remote connection closed")

type Options struct {
	Listen        netip.AddrPort
	Server        netip.AddrPort
	Output        io.Writer
	ReadChunkSize int
	Backlog       int
}

var (
	_ tcp.ConnectionHandler = (*Daemon)(nil)
	_ tcp.ConnHandler       = (*Daemon)(nil)
)

// Daemon forwards bytes from local clients to a relay server and writes
// everything the server sends to its output.
type Daemon struct {
	options  Options
	logger   logrus.FieldLogger
	reactor  *reactor.Reactor
	listener *tcp.Listener
	remote   *tcp.Conn
	locals   map[netip.AddrPort]*tcp.Conn
	err      error
}

func New(ctx context.Context, options Options) (*Daemon, error) {
	if options.Output == nil {
		options.Output = io.Discard
	}
	loop, err := reactor.NewReactor(ctx, reactor.WithLogger(log.NewLogger("daemon")))
	if err != nil {
		return nil, err
	}
	d := &Daemon{
		options: options,
		logger:  log.NewLogger("daemon"),
		reactor: loop,
		locals:  make(map[netip.AddrPort]*tcp.Conn),
	}
	d.listener = tcp.NewListener(options.Listen, d, tcp.WithBacklog(options.Backlog))
	return d, nil
}

// Start connects to the server and binds the local listener.
func (d *Daemon) Start(ctx context.Context) error {
	socket, err := tcp.Dial(ctx, d.options.Server)
	if err != nil {
		return E.Cause(err, "connect to ", d.options.Server)
	}
	d.remote = tcp.NewConn(socket, d.options.Server, d, tcp.WithReadChunkSize(d.options.ReadChunkSize))
	err = d.reactor.Register(d.remote)
	if err != nil {
		d.remote.Close()
		return E.Cause(err, "register remote")
	}
	d.logger.Info("connected to ", d.options.Server)
	err = d.listener.Start()
	if err == nil {
		err = d.reactor.Register(d.listener)
	}
	if err != nil {
		d.reactor.Deregister(d.remote.FD())
		d.listener.Close()
		return E.Errors(err, d.remote.Close())
	}
	return nil
}

// Run serves until Close is called or the server goes away, in which case
// it returns ErrRemoteClosed.
func (d *Daemon) Run() error {
	err := d.reactor.Run()
	if err == nil {
		err = d.err
	}
	closeErrors := []error{err}
	for source, conn := range d.locals {
		d.reactor.Deregister(conn.FD())
		closeErrors = append(closeErrors, conn.Close())
		delete(d.locals, source)
	}
	d.reactor.Deregister(d.listener.FD())
	closeErrors = append(closeErrors, d.listener.Close())
	if d.remote != nil {
		d.reactor.Deregister(d.remote.FD())
		closeErrors = append(closeErrors, d.remote.Close())
	}
	closeErrors = append(closeErrors, d.reactor.Close())
	return E.Errors(closeErrors...)
}

func (d *Daemon) Close() error {
	return d.reactor.Close()
}

func (d *Daemon) Addr() netip.AddrPort {
	return d.listener.Addr()
}

// Locals returns the number of connected local clients. It is safe to call
// from any goroutine while Run is active.
func (d *Daemon) Locals(ctx context.Context) (int, error) {
	result := make(chan int, 1)
	d.reactor.Post(func() {
		result <- len(d.locals)
	})
	select {
	case n := <-result:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (d *Daemon) NewConnection(socket tcp.Socket, source netip.AddrPort) error {
	if _, loaded := d.locals[source]; loaded {
		return E.New("duplicate local connection from ", source)
	}
	conn := tcp.NewConn(socket, source, d, tcp.WithReadChunkSize(d.options.ReadChunkSize))
	err := d.reactor.Register(conn)
	if err != nil {
		return E.Cause(err, "register local connection from ", source)
	}
	d.locals[source] = conn
	d.logger.WithField("source", source).Info("local client connected")
	return nil
}

func (d *Daemon) HandleData(conn *tcp.Conn, data []byte) {
	if conn == d.remote {
		_, err := d.options.Output.Write(data)
		if err != nil {
			d.logger.Warn("write output: ", err)
		}
		return
	}
	_, err := d.remote.Write(data)
	if err != nil {
		d.logger.WithField("source", conn.RemoteAddr()).Debug("drop ", len(data), " bytes: ", err)
	}
}

func (d *Daemon) HandleClose(conn *tcp.Conn, err error) {
	d.reactor.Deregister(conn.FD())
	closeErr := conn.Close()
	if conn == d.remote {
		d.err = ErrRemoteClosed
		d.logger.Error("lost connection to ", d.options.Server, ": ", E.Errors(err, closeErr))
		d.reactor.Close()
		return
	}
	source := conn.RemoteAddr()
	if d.locals[source] == conn {
		delete(d.locals, source)
	}
	entry := d.logger.WithField("source", source)
	if E.IsClosed(err) {
		entry.Info("local client disconnected")
	} else {
		entry.Warn("local client disconnected: ", E.Errors(err, closeErr))
	}
}
