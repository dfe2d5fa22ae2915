package reactor

import (
	"context"
	"net"
	"runtime/debug"
	"sync"

	E "github.com/sagernet/sing-relay/common/exceptions"
	"github.com/sagernet/sing-relay/common/log"

	"github.com/sirupsen/logrus"
)

const defaultMaxEvents = 128

// Handler is a participant of the event loop bound to one descriptor.
//
// WantsRead and WantsWrite are queried before every wait. A returned error
// from HandleReadable or HandleWritable stops the loop; a panic is recovered
// and reported to HandleError instead.
type Handler interface {
	FD() int
	WantsRead() bool
	WantsWrite() bool
	HandleReadable() error
	HandleWritable() error
	E.Handler
}

type entry struct {
	fd      int
	handler Handler
	read    bool
	write   bool
}

// Reactor is a single-threaded readiness loop. The registration table is
// owned by the loop goroutine: Register, Deregister and Len must be called
// from handler callbacks, posted tasks, or before Run.
type Reactor struct {
	ctx       context.Context
	cancel    context.CancelFunc
	logger    logrus.FieldLogger
	maxEvents int
	poller    poller
	entries   map[int]*entry

	access       sync.Mutex
	tasks        []func()
	running      bool
	closed       bool
	pollerClosed bool
}

type Option func(r *Reactor)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *Reactor) {
		r.logger = logger
	}
}

func WithMaxEvents(maxEvents int) Option {
	return func(r *Reactor) {
		if maxEvents > 0 {
			r.maxEvents = maxEvents
		}
	}
}

func NewReactor(ctx context.Context, options ...Option) (*Reactor, error) {
	r := &Reactor{
		logger:    log.NewLogger("reactor"),
		maxEvents: defaultMaxEvents,
		entries:   make(map[int]*entry),
	}
	for _, option := range options {
		option(r)
	}
	p, err := newPoller(r.maxEvents)
	if err != nil {
		return nil, E.Cause(err, "create poller")
	}
	r.poller = p
	r.ctx, r.cancel = context.WithCancel(ctx)
	return r, nil
}

func (r *Reactor) Register(handler Handler) error {
	if r.isClosed() {
		return net.ErrClosed
	}
	fd := handler.FD()
	if _, loaded := r.entries[fd]; loaded {
		return E.New("fd ", fd, " already registered")
	}
	read, write := handler.WantsRead(), handler.WantsWrite()
	err := r.poller.add(fd, read, write)
	if err != nil {
		return E.Cause(err, "register fd ", fd)
	}
	r.entries[fd] = &entry{
		fd:      fd,
		handler: handler,
		read:    read,
		write:   write,
	}
	return nil
}

// Deregister removes fd from the loop. It must be called before the
// descriptor is closed; unknown descriptors are ignored.
func (r *Reactor) Deregister(fd int) {
	if _, loaded := r.entries[fd]; !loaded {
		return
	}
	delete(r.entries, fd)
	r.access.Lock()
	defer r.access.Unlock()
	if r.pollerClosed {
		return
	}
	err := r.poller.remove(fd)
	if err != nil {
		r.logger.WithField("fd", fd).Debug("remove from poller: ", err)
	}
}

func (r *Reactor) Len() int {
	return len(r.entries)
}

// Post queues task to run on the loop goroutine before the next wait.
// It is safe to call from any goroutine.
func (r *Reactor) Post(task func()) {
	r.access.Lock()
	defer r.access.Unlock()
	r.tasks = append(r.tasks, task)
	if !r.pollerClosed {
		r.poller.wakeup()
	}
}

// Run blocks the calling goroutine in the event loop until Close is called
// or the context is done, in which case it returns nil.
func (r *Reactor) Run() error {
	r.access.Lock()
	if r.closed {
		r.access.Unlock()
		return net.ErrClosed
	}
	if r.running {
		r.access.Unlock()
		return E.New("reactor already running")
	}
	r.running = true
	r.access.Unlock()
	defer r.stopped()

	stopWakeup := context.AfterFunc(r.ctx, r.wakeup)
	defer stopWakeup()

	events := make([]readiness, r.maxEvents)
	var readable, writable []*entry
	for {
		if r.runTasks() || r.ctx.Err() != nil {
			return nil
		}
		r.updateInterest()
		n, err := r.poller.wait(events)
		if err != nil {
			return E.Cause(err, "wait readiness")
		}
		readable, writable = readable[:0], writable[:0]
		for _, event := range events[:n] {
			ready := r.entries[event.fd]
			if ready == nil {
				continue
			}
			if event.readable && ready.read {
				readable = append(readable, ready)
			}
			if event.writable && ready.write {
				writable = append(writable, ready)
			}
			if event.hangup && !event.readable && !event.writable {
				if ready.write && !ready.read {
					writable = append(writable, ready)
				} else {
					readable = append(readable, ready)
				}
			}
		}
		for _, ready := range readable {
			if r.entries[ready.fd] != ready {
				continue
			}
			err = r.dispatch(ready, ready.handler.HandleReadable)
			if err != nil {
				return err
			}
		}
		for _, ready := range writable {
			if r.entries[ready.fd] != ready {
				continue
			}
			err = r.dispatch(ready, ready.handler.HandleWritable)
			if err != nil {
				return err
			}
		}
	}
}

// Close stops the loop. Registered handlers are left to their owners.
func (r *Reactor) Close() error {
	r.access.Lock()
	defer r.access.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.cancel()
	if r.running {
		r.poller.wakeup()
		return nil
	}
	r.pollerClosed = true
	return r.poller.close()
}

func (r *Reactor) isClosed() bool {
	r.access.Lock()
	defer r.access.Unlock()
	return r.closed
}

func (r *Reactor) wakeup() {
	r.access.Lock()
	defer r.access.Unlock()
	if !r.pollerClosed {
		r.poller.wakeup()
	}
}

func (r *Reactor) stopped() {
	r.access.Lock()
	defer r.access.Unlock()
	r.running = false
	if r.closed && !r.pollerClosed {
		r.pollerClosed = true
		r.poller.close()
	}
}

func (r *Reactor) runTasks() (closed bool) {
	r.access.Lock()
	tasks := r.tasks
	r.tasks = nil
	r.access.Unlock()
	for _, task := range tasks {
		task()
	}
	return r.isClosed()
}

func (r *Reactor) updateInterest() {
	for fd, registered := range r.entries {
		read, write := registered.handler.WantsRead(), registered.handler.WantsWrite()
		if read == registered.read && write == registered.write {
			continue
		}
		err := r.poller.modify(fd, read, write)
		if err != nil {
			r.fail(registered, E.Cause(err, "update interest for fd ", fd))
			continue
		}
		registered.read, registered.write = read, write
	}
}

func (r *Reactor) dispatch(ready *entry, callback func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = nil
			r.logger.WithField("fd", ready.fd).Error("handler panic: ", recovered, "\n", string(debug.Stack()))
			r.fail(ready, E.New("handler panic: ", recovered))
		}
	}()
	err = callback()
	if err != nil {
		return E.Cause(err, "fd ", ready.fd)
	}
	return nil
}

// fail reports err to the handler. A handler that cannot take the report is
// dropped from the loop.
func (r *Reactor) fail(failed *entry, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.WithField("fd", failed.fd).Error("error handler panic: ", recovered)
			if r.entries[failed.fd] == failed {
				r.Deregister(failed.fd)
			}
		}
	}()
	failed.handler.HandleError(err)
}
