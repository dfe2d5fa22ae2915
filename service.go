package relay

import (
	"context"
	"net/netip"

	E "github.com/sagernet/sing-relay/common/exceptions"
	"github.com/sagernet/sing-relay/common/reactor"
	"github.com/sagernet/sing-relay/transport/tcp"
)

type ServiceOptions struct {
	Listen        netip.AddrPort
	ExcludeSender bool
	ReadChunkSize int
	Backlog       int
}

// Service runs a Relay behind a TCP listener on its own reactor.
type Service struct {
	reactor  *reactor.Reactor
	listener *tcp.Listener
	relay    *Relay
}

func NewService(ctx context.Context, options ServiceOptions) (*Service, error) {
	loop, err := reactor.NewReactor(ctx)
	if err != nil {
		return nil, err
	}
	relay := New(loop,
		WithExcludeSender(options.ExcludeSender),
		WithReadChunkSize(options.ReadChunkSize),
	)
	return &Service{
		reactor:  loop,
		relay:    relay,
		listener: tcp.NewListener(options.Listen, relay, tcp.WithBacklog(options.Backlog)),
	}, nil
}

// Start binds the listener. Run must be called afterwards.
func (s *Service) Start() error {
	err := s.listener.Start()
	if err != nil {
		return err
	}
	err = s.reactor.Register(s.listener)
	if err != nil {
		s.listener.Close()
		return E.Cause(err, "register listener")
	}
	return nil
}

// Run serves until Close is called or the loop fails, then releases every
// connection and the listener.
func (s *Service) Run() error {
	err := s.reactor.Run()
	s.reactor.Deregister(s.listener.FD())
	return E.Errors(err, s.relay.Close(), s.listener.Close(), s.reactor.Close())
}

func (s *Service) Close() error {
	return s.reactor.Close()
}

func (s *Service) Addr() netip.AddrPort {
	return s.listener.Addr()
}

// Members returns the number of live connections. It is safe to call from
// any goroutine while Run is active.
func (s *Service) Members(ctx context.Context) (int, error) {
	result := make(chan int, 1)
	s.reactor.Post(func() {
		result <- s.relay.Len()
	})
	select {
	case n := <-result:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
