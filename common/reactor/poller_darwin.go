//go:build darwin

package reactor

import (
	"golang.org/x/sys/unix"
)

type kqueuePoller struct {
	kqueueFD int
	pipeFDs  [2]int
	events   []unix.Kevent_t
}

func newPoller(maxEvents int) (poller, error) {
	kqueueFD, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kqueueFD)

	var pipeFDs [2]int
	err = unix.Pipe(pipeFDs[:])
	if err != nil {
		unix.Close(kqueueFD)
		return nil, err
	}
	for _, fd := range pipeFDs {
		unix.CloseOnExec(fd)
		err = unix.SetNonblock(fd, true)
		if err != nil {
			unix.Close(pipeFDs[0])
			unix.Close(pipeFDs[1])
			unix.Close(kqueueFD)
			return nil, err
		}
	}

	p := &kqueuePoller{
		kqueueFD: kqueueFD,
		pipeFDs:  pipeFDs,
		events:   make([]unix.Kevent_t, maxEvents),
	}
	var change [1]unix.Kevent_t
	unix.SetKevent(&change[0], pipeFDs[0], unix.EVFILT_READ, unix.EV_ADD)
	_, err = unix.Kevent(kqueueFD, change[:], nil, nil)
	if err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

func toggle(enabled bool) int {
	if enabled {
		return unix.EV_ENABLE
	}
	return unix.EV_DISABLE
}

func (p *kqueuePoller) apply(fd int, read bool, write bool, flags int) error {
	changes := make([]unix.Kevent_t, 2)
	unix.SetKevent(&changes[0], fd, unix.EVFILT_READ, flags|toggle(read))
	unix.SetKevent(&changes[1], fd, unix.EVFILT_WRITE, flags|toggle(write))
	_, err := unix.Kevent(p.kqueueFD, changes, nil, nil)
	return err
}

func (p *kqueuePoller) add(fd int, read bool, write bool) error {
	return p.apply(fd, read, write, unix.EV_ADD)
}

func (p *kqueuePoller) modify(fd int, read bool, write bool) error {
	return p.apply(fd, read, write, unix.EV_ADD)
}

func (p *kqueuePoller) remove(fd int) error {
	changes := make([]unix.Kevent_t, 2)
	unix.SetKevent(&changes[0], fd, unix.EVFILT_READ, unix.EV_DELETE)
	unix.SetKevent(&changes[1], fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	_, err := unix.Kevent(p.kqueueFD, changes, nil, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *kqueuePoller) wait(events []readiness) (int, error) {
	limit := len(events)
	if limit > len(p.events) {
		limit = len(p.events)
	}
	n, err := unix.Kevent(p.kqueueFD, nil, p.events[:limit], nil)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	var count int
	for _, event := range p.events[:n] {
		fd := int(event.Ident)
		if fd == p.pipeFDs[0] {
			p.drain()
			continue
		}
		ready := readiness{
			fd:     fd,
			hangup: event.Flags&unix.EV_ERROR != 0,
		}
		switch event.Filter {
		case unix.EVFILT_READ:
			ready.readable = true
		case unix.EVFILT_WRITE:
			ready.writable = true
		}
		events[count] = ready
		count++
	}
	return count, nil
}

func (p *kqueuePoller) drain() {
	var buffer [64]byte
	for {
		n, err := unix.Read(p.pipeFDs[0], buffer[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *kqueuePoller) wakeup() {
	unix.Write(p.pipeFDs[1], []byte{0})
}

func (p *kqueuePoller) close() error {
	unix.Close(p.pipeFDs[0])
	unix.Close(p.pipeFDs[1])
	return unix.Close(p.kqueueFD)
}
