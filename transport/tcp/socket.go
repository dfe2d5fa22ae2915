package tcp

import (
	"net/netip"
)

// Socket is a connected non-blocking stream descriptor. Read and Write never
// block; they fail with EAGAIN when the kernel is not ready.
type Socket interface {
	FD() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// ConnectionHandler receives sockets accepted by a Listener.
type ConnectionHandler interface {
	NewConnection(socket Socket, source netip.AddrPort) error
}

// ConnHandler receives the inbound side of a Conn.
// HandleData must not retain data after it returns.
type ConnHandler interface {
	HandleData(conn *Conn, data []byte)
	HandleClose(conn *Conn, err error)
}
