//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

type epollPoller struct {
	epollFD int
	pipeFDs [2]int
	events  []unix.EpollEvent
}

func newPoller(maxEvents int) (poller, error) {
	epollFD, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	var pipeFDs [2]int
	err = unix.Pipe2(pipeFDs[:], unix.O_NONBLOCK|unix.O_CLOEXEC)
	if err != nil {
		unix.Close(epollFD)
		return nil, err
	}

	err = unix.EpollCtl(epollFD, unix.EPOLL_CTL_ADD, pipeFDs[0], &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(pipeFDs[0]),
	})
	if err != nil {
		unix.Close(pipeFDs[0])
		unix.Close(pipeFDs[1])
		unix.Close(epollFD)
		return nil, err
	}

	return &epollPoller{
		epollFD: epollFD,
		pipeFDs: pipeFDs,
		events:  make([]unix.EpollEvent, maxEvents),
	}, nil
}

func epollEvents(read bool, write bool) uint32 {
	var events uint32
	if read {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if write {
		events |= unix.EPOLLOUT
	}
	return events
}

func (p *epollPoller) add(fd int, read bool, write bool) error {
	return unix.EpollCtl(p.epollFD, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: epollEvents(read, write),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) modify(fd int, read bool, write bool) error {
	return unix.EpollCtl(p.epollFD, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: epollEvents(read, write),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) remove(fd int) error {
	return unix.EpollCtl(p.epollFD, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait(events []readiness) (int, error) {
	limit := len(events)
	if limit > len(p.events) {
		limit = len(p.events)
	}
	n, err := unix.EpollWait(p.epollFD, p.events[:limit], -1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	var count int
	for _, event := range p.events[:n] {
		fd := int(event.Fd)
		if fd == p.pipeFDs[0] {
			p.drain()
			continue
		}
		events[count] = readiness{
			fd:       fd,
			readable: event.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			writable: event.Events&unix.EPOLLOUT != 0,
			hangup:   event.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0,
		}
		count++
	}
	return count, nil
}

func (p *epollPoller) drain() {
	var buffer [64]byte
	for {
		n, err := unix.Read(p.pipeFDs[0], buffer[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *epollPoller) wakeup() {
	unix.Write(p.pipeFDs[1], []byte{0})
}

func (p *epollPoller) close() error {
	unix.Close(p.pipeFDs[0])
	unix.Close(p.pipeFDs[1])
	return unix.Close(p.epollFD)
}
