package tcp

import "github.com/sirupsen/logrus"

const (
	DefaultBacklog       = 128
	DefaultReadChunkSize = 1024
)

type Option func(*Listener)

func WithBacklog(backlog int) Option {
	return func(listener *Listener) {
		if backlog > 0 {
			listener.backlog = backlog
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(listener *Listener) {
		listener.logger = logger
	}
}

type ConnOption func(*Conn)

// WithReadChunkSize sets the most bytes taken from the socket per read event.
func WithReadChunkSize(size int) ConnOption {
	return func(conn *Conn) {
		if size > 0 {
			conn.readBuffer = make([]byte, size)
		}
	}
}
