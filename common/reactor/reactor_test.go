//go:build linux || darwin

package reactor

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type testHandler struct {
	fd         int
	wantsRead  bool
	wantsWrite bool
	onRead     func() error
	onWrite    func() error
	errors     []error
}

func (h *testHandler) FD() int          { return h.fd }
func (h *testHandler) WantsRead() bool  { return h.wantsRead }
func (h *testHandler) WantsWrite() bool { return h.wantsWrite }

func (h *testHandler) HandleReadable() error {
	if h.onRead == nil {
		return nil
	}
	return h.onRead()
}

func (h *testHandler) HandleWritable() error {
	if h.onWrite == nil {
		return nil
	}
	return h.onWrite()
}

func (h *testHandler) HandleError(err error) {
	h.errors = append(h.errors, err)
}

func newSocketPair(t *testing.T) (int, int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	for _, fd := range fds {
		require.NoError(t, unix.SetNonblock(fd, true))
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newTestReactor(t *testing.T) *Reactor {
	r, err := NewReactor(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func runReactor(t *testing.T, r *Reactor) error {
	done := make(chan error, 1)
	go func() {
		done <- r.Run()
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		r.Close()
		t.Fatal("reactor did not stop")
		return nil
	}
}

func TestReactorDispatchesReadsBeforeWrites(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	readFD, peerFD := newSocketPair(t)
	writeFD, _ := newSocketPair(t)

	_, err := unix.Write(peerFD, []byte("ping"))
	require.NoError(t, err)

	var order []string
	reader := &testHandler{fd: readFD, wantsRead: true}
	reader.onRead = func() error {
		var buffer [16]byte
		n, _ := unix.Read(readFD, buffer[:])
		order = append(order, "read:"+string(buffer[:n]))
		return nil
	}
	writer := &testHandler{fd: writeFD, wantsWrite: true}
	writer.onWrite = func() error {
		order = append(order, "write")
		writer.wantsWrite = false
		return r.Close()
	}
	require.NoError(t, r.Register(writer))
	require.NoError(t, r.Register(reader))
	require.Equal(t, 2, r.Len())

	require.NoError(t, runReactor(t, r))
	require.Equal(t, []string{"read:ping", "write"}, order)
}

func TestReactorDeregisterStopsCallbacks(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	readFD, peerFD := newSocketPair(t)
	tickFD, _ := newSocketPair(t)

	_, err := unix.Write(peerFD, []byte("never drained"))
	require.NoError(t, err)

	var reads int
	reader := &testHandler{fd: readFD, wantsRead: true}
	reader.onRead = func() error {
		reads++
		r.Deregister(readFD)
		r.Deregister(readFD)
		return nil
	}
	var ticks int
	ticker := &testHandler{fd: tickFD, wantsWrite: true}
	ticker.onWrite = func() error {
		ticks++
		if ticks == 5 {
			return r.Close()
		}
		return nil
	}
	require.NoError(t, r.Register(reader))
	require.NoError(t, r.Register(ticker))

	require.NoError(t, runReactor(t, r))
	require.Equal(t, 1, reads)
	require.Equal(t, 5, ticks)
	require.Equal(t, 1, r.Len())
}

func TestReactorWriteInterestFollowsHandler(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	fd, _ := newSocketPair(t)

	var writes int
	handler := &testHandler{fd: fd}
	handler.onWrite = func() error {
		writes++
		handler.wantsWrite = false
		return nil
	}
	require.NoError(t, r.Register(handler))

	go func() {
		time.Sleep(50 * time.Millisecond)
		r.Post(func() { handler.wantsWrite = true })
		time.Sleep(50 * time.Millisecond)
		r.Post(func() { r.Close() })
	}()
	require.NoError(t, runReactor(t, r))
	require.Equal(t, 1, writes)
}

func TestReactorRecoversHandlerPanic(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	badFD, peerFD := newSocketPair(t)
	goodFD, _ := newSocketPair(t)

	_, err := unix.Write(peerFD, []byte("x"))
	require.NoError(t, err)

	bad := &testHandler{fd: badFD, wantsRead: true}
	bad.onRead = func() error {
		panic("broken handler")
	}
	var ticks int
	good := &testHandler{fd: goodFD, wantsWrite: true}
	good.onWrite = func() error {
		ticks++
		if ticks == 3 {
			return r.Close()
		}
		return nil
	}
	require.NoError(t, r.Register(bad))
	require.NoError(t, r.Register(good))

	require.NoError(t, runReactor(t, r))
	require.NotEmpty(t, bad.errors)
	require.Contains(t, bad.errors[0].Error(), "broken handler")
	require.Equal(t, 3, ticks)
}

func TestReactorHandlerErrorIsFatal(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	fd, _ := newSocketPair(t)

	errBoom := errors.New("accept failed")
	handler := &testHandler{fd: fd, wantsWrite: true}
	handler.onWrite = func() error {
		return errBoom
	}
	require.NoError(t, r.Register(handler))
	err := runReactor(t, r)
	require.ErrorIs(t, err, errBoom)
}

func TestReactorHangupIsReadable(t *testing.T) {
	t.Parallel()
	r := newTestReactor(t)
	fd, peerFD := newSocketPair(t)

	var closed bool
	handler := &testHandler{fd: fd, wantsRead: true}
	handler.onRead = func() error {
		var buffer [8]byte
		n, err := unix.Read(fd, buffer[:])
		closed = n == 0 && err == nil
		r.Deregister(fd)
		return r.Close()
	}
	require.NoError(t, r.Register(handler))
	require.NoError(t, unix.Shutdown(peerFD, unix.SHUT_WR))

	require.NoError(t, runReactor(t, r))
	require.True(t, closed)
}

func TestReactorPostAndContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	r, err := NewReactor(ctx)
	require.NoError(t, err)
	defer r.Close()

	done := make(chan error, 1)
	go func() {
		done <- r.Run()
	}()

	var wg sync.WaitGroup
	lengths := make(chan int, 1)
	wg.Add(1)
	r.Post(func() {
		defer wg.Done()
		lengths <- r.Len()
	})
	wg.Wait()
	require.Equal(t, 0, <-lengths)

	cancel()
	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reactor ignored context cancellation")
	}
}

func TestReactorRegisterErrors(t *testing.T) {
	t.Parallel()
	r, err := NewReactor(context.Background())
	require.NoError(t, err)
	fd, _ := newSocketPair(t)

	handler := &testHandler{fd: fd, wantsRead: true}
	require.NoError(t, r.Register(handler))
	require.Error(t, r.Register(handler))

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	require.ErrorIs(t, r.Register(&testHandler{fd: fd}), net.ErrClosed)
	require.ErrorIs(t, r.Run(), net.ErrClosed)
}
