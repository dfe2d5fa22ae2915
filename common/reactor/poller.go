package reactor

type readiness struct {
	fd       int
	readable bool
	writable bool
	hangup   bool
}

// poller is the platform readiness primitive. Interest is level-triggered.
// wait blocks without timeout until a descriptor is ready or wakeup is
// called, and reports an interrupted wait as zero events.
type poller interface {
	add(fd int, read bool, write bool) error
	modify(fd int, read bool, write bool) error
	remove(fd int) error
	wait(events []readiness) (int, error)
	wakeup()
	close() error
}
