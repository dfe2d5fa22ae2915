//go:build linux || darwin

package daemon

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	relay "github.com/sagernet/sing-relay"

	"github.com/stretchr/testify/require"
)

type outputBuffer struct {
	access sync.Mutex
	buffer bytes.Buffer
}

func (o *outputBuffer) Write(p []byte) (int, error) {
	o.access.Lock()
	defer o.access.Unlock()
	return o.buffer.Write(p)
}

func (o *outputBuffer) String() string {
	o.access.Lock()
	defer o.access.Unlock()
	return o.buffer.String()
}

func startServer(t *testing.T) (*relay.Service, <-chan error) {
	service, err := relay.NewService(context.Background(), relay.ServiceOptions{
		Listen: netip.MustParseAddrPort("127.0.0.1:0"),
	})
	require.NoError(t, err)
	require.NoError(t, service.Start())
	done := make(chan error, 1)
	go func() {
		done <- service.Run()
	}()
	t.Cleanup(func() { service.Close() })
	return service, done
}

func startDaemon(t *testing.T, server netip.AddrPort, output *outputBuffer) (*Daemon, <-chan error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, err := New(context.Background(), Options{
		Listen: netip.MustParseAddrPort("127.0.0.1:0"),
		Server: server,
		Output: output,
	})
	require.NoError(t, err)
	require.NoError(t, d.Start(ctx))
	done := make(chan error, 1)
	go func() {
		done <- d.Run()
	}()
	t.Cleanup(func() { d.Close() })
	return d, done
}

func waitLocals(t *testing.T, d *Daemon, expected int) {
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n, err := d.Locals(ctx)
		return err == nil && n == expected
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDaemonForwardsThroughRelay(t *testing.T) {
	t.Parallel()
	service, _ := startServer(t)
	output := new(outputBuffer)
	d, _ := startDaemon(t, service.Addr(), output)

	client, err := net.Dial("tcp", d.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	waitLocals(t, d, 1)

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return output.String() == "ping"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDaemonReceivesFromOtherRelayMembers(t *testing.T) {
	t.Parallel()
	service, _ := startServer(t)
	output := new(outputBuffer)
	startDaemon(t, service.Addr(), output)

	peer, err := net.Dial("tcp", service.Addr().String())
	require.NoError(t, err)
	defer peer.Close()
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n, err := service.Members(ctx)
		return err == nil && n == 2
	}, 5*time.Second, 10*time.Millisecond)

	_, err = peer.Write([]byte("from peer"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return output.String() == "from peer"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDaemonLocalDisconnectKeepsRunning(t *testing.T) {
	t.Parallel()
	service, _ := startServer(t)
	output := new(outputBuffer)
	d, done := startDaemon(t, service.Addr(), output)

	first, err := net.Dial("tcp", d.Addr().String())
	require.NoError(t, err)
	second, err := net.Dial("tcp", d.Addr().String())
	require.NoError(t, err)
	defer second.Close()
	waitLocals(t, d, 2)

	require.NoError(t, first.Close())
	waitLocals(t, d, 1)

	_, err = second.Write([]byte("still here"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return output.String() == "still here"
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case err := <-done:
		t.Fatal("daemon stopped: ", err)
	default:
	}
}

func TestDaemonStopsWhenRemoteCloses(t *testing.T) {
	t.Parallel()
	service, serviceDone := startServer(t)
	d, done := startDaemon(t, service.Addr(), new(outputBuffer))

	client, err := net.Dial("tcp", d.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	waitLocals(t, d, 1)

	require.NoError(t, service.Close())
	require.NoError(t, <-serviceDone)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrRemoteClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = client.Read(make([]byte, 1))
	require.Error(t, err)
}

func TestDaemonStartFailsWithoutServer(t *testing.T) {
	t.Parallel()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := netip.MustParseAddrPort(listener.Addr().String())
	require.NoError(t, listener.Close())

	d, err := New(context.Background(), Options{
		Listen: netip.MustParseAddrPort("127.0.0.1:0"),
		Server: server,
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.Error(t, d.Start(ctx))
	require.NoError(t, d.Close())
}
