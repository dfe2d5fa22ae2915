package tcp

import (
	"io"
	"net"
	"net/netip"

	"github.com/sagernet/sing-relay/common/buf"
	E "github.com/sagernet/sing-relay/common/exceptions"

	"github.com/google/uuid"
)

// Conn is the reactor handler of one accepted or dialed socket. Inbound
// bytes go to its ConnHandler; outbound bytes are queued by Write and
// flushed in order on write readiness.
type Conn struct {
	id         uuid.UUID
	socket     Socket
	remote     netip.AddrPort
	handler    ConnHandler
	outbound   *buf.Queue
	readBuffer []byte
	closed     bool
	released   bool
}

func NewConn(socket Socket, remote netip.AddrPort, handler ConnHandler, options ...ConnOption) *Conn {
	conn := &Conn{
		id:       uuid.New(),
		socket:   socket,
		remote:   remote,
		handler:  handler,
		outbound: buf.NewQueue(),
	}
	for _, option := range options {
		option(conn)
	}
	if conn.readBuffer == nil {
		conn.readBuffer = make([]byte, DefaultReadChunkSize)
	}
	return conn
}

func (c *Conn) ID() uuid.UUID {
	return c.id
}

func (c *Conn) RemoteAddr() netip.AddrPort {
	return c.remote
}

func (c *Conn) FD() int {
	return c.socket.FD()
}

// Buffered returns the number of outbound bytes not yet accepted by the kernel.
func (c *Conn) Buffered() int {
	return c.outbound.Len()
}

// Write queues a copy of p for sending. It does not touch the socket.
func (c *Conn) Write(p []byte) (int, error) {
	if c.closed {
		return 0, net.ErrClosed
	}
	return c.outbound.Write(p)
}

func (c *Conn) WantsRead() bool {
	return !c.closed
}

func (c *Conn) WantsWrite() bool {
	return !c.closed && !c.outbound.IsEmpty()
}

func (c *Conn) HandleReadable() error {
	if c.closed {
		return nil
	}
	n, err := c.socket.Read(c.readBuffer)
	if err != nil {
		if E.IsWouldBlock(err) {
			return nil
		}
		c.shutdown(E.Cause(err, "read"))
		return nil
	}
	if n == 0 {
		c.shutdown(io.EOF)
		return nil
	}
	c.handler.HandleData(c, c.readBuffer[:n])
	return nil
}

func (c *Conn) HandleWritable() error {
	if c.closed || c.outbound.IsEmpty() {
		return nil
	}
	n, err := c.socket.Write(c.outbound.Peek())
	if err != nil {
		if E.IsWouldBlock(err) {
			return nil
		}
		c.shutdown(E.Cause(err, "write"))
		return nil
	}
	c.outbound.Discard(n)
	return nil
}

func (c *Conn) HandleError(err error) {
	c.shutdown(err)
}

// shutdown reports closure to the handler at most once.
func (c *Conn) shutdown(err error) {
	if c.closed {
		return
	}
	c.closed = true
	c.handler.HandleClose(c, err)
}

// Close releases the socket and any queued bytes without notifying the handler.
func (c *Conn) Close() error {
	if c.released {
		return nil
	}
	c.released = true
	c.closed = true
	c.outbound.Release()
	return c.socket.Close()
}
