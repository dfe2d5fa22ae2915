package relay

import (
	"net/netip"

	E "github.com/sagernet/sing-relay/common/exceptions"
	"github.com/sagernet/sing-relay/common/log"
	"github.com/sagernet/sing-relay/common/reactor"
	"github.com/sagernet/sing-relay/transport/tcp"

	"github.com/sirupsen/logrus"
)

var ErrDuplicateConnection = E.New("duplicate connection")

// Registrar is the part of the reactor the relay drives.
type Registrar interface {
	Register(handler reactor.Handler) error
	Deregister(fd int)
}

var (
	_ Registrar             = (*reactor.Reactor)(nil)
	_ tcp.ConnectionHandler = (*Relay)(nil)
	_ tcp.ConnHandler       = (*Relay)(nil)
)

// Relay owns the live connections and copies bytes received from any of
// them into the outbound buffer of every member. It must only be used from
// the reactor goroutine.
type Relay struct {
	registrar     Registrar
	logger        logrus.FieldLogger
	excludeSender bool
	chunkSize     int
	connections   map[netip.AddrPort]*tcp.Conn
}

type Option func(*Relay)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithExcludeSender stops echoing received bytes back to their sender.
func WithExcludeSender(exclude bool) Option {
	return func(r *Relay) {
		r.excludeSender = exclude
	}
}

func WithReadChunkSize(size int) Option {
	return func(r *Relay) {
		if size > 0 {
			r.chunkSize = size
		}
	}
}

func New(registrar Registrar, options ...Option) *Relay {
	r := &Relay{
		registrar:   registrar,
		logger:      log.NewLogger("relay"),
		chunkSize:   tcp.DefaultReadChunkSize,
		connections: make(map[netip.AddrPort]*tcp.Conn),
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// NewConnection makes an accepted socket a member and registers it with the reactor.
func (r *Relay) NewConnection(socket tcp.Socket, source netip.AddrPort) error {
	if _, loaded := r.connections[source]; loaded {
		return E.Extend(ErrDuplicateConnection, source)
	}
	conn := tcp.NewConn(socket, source, r, tcp.WithReadChunkSize(r.chunkSize))
	r.connections[source] = conn
	err := r.registrar.Register(conn)
	if err != nil {
		delete(r.connections, source)
		return E.Cause(err, "register connection from ", source)
	}
	r.logger.WithFields(logrus.Fields{
		"source": source,
		"id":     conn.ID(),
	}).Info("connection established, ", len(r.connections), " online")
	return nil
}

func (r *Relay) HandleData(sender *tcp.Conn, data []byte) {
	var recipients int
	for _, conn := range r.connections {
		if r.excludeSender && conn == sender {
			continue
		}
		_, err := conn.Write(data)
		if err != nil {
			continue
		}
		recipients++
	}
	r.logger.WithField("id", sender.ID()).Trace("relayed ", len(data), " bytes to ", recipients, " connections")
}

func (r *Relay) HandleClose(conn *tcp.Conn, err error) {
	source := conn.RemoteAddr()
	if r.connections[source] == conn {
		delete(r.connections, source)
	}
	r.registrar.Deregister(conn.FD())
	closeErr := conn.Close()
	entry := r.logger.WithFields(logrus.Fields{
		"source": source,
		"id":     conn.ID(),
	})
	if E.IsClosed(err) {
		entry.Info("connection closed, ", len(r.connections), " online")
	} else {
		entry.Warn("connection closed: ", E.Errors(err, closeErr))
	}
}

func (r *Relay) Len() int {
	return len(r.connections)
}

// Connections returns the addresses of the current members in no particular order.
func (r *Relay) Connections() []netip.AddrPort {
	sources := make([]netip.AddrPort, 0, len(r.connections))
	for source := range r.connections {
		sources = append(sources, source)
	}
	return sources
}

// Close drops every member without notifying peers.
func (r *Relay) Close() error {
	var errors []error
	for source, conn := range r.connections {
		r.registrar.Deregister(conn.FD())
		errors = append(errors, conn.Close())
		delete(r.connections, source)
	}
	return E.Errors(errors...)
}
