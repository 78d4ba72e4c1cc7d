package engine

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// loopbackSocket returns a non-blocking UDP socket bound to an ephemeral
// loopback port and a sender that delivers one datagram to it.
func loopbackSocket(t *testing.T) (int, func([]byte)) {
	t.Helper()

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })

	require.NoError(t, unix.SetNonblock(fd, true))
	require.NoError(t, unix.Bind(fd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))

	sa, err := unix.Getsockname(fd)
	require.NoError(t, err)
	bound := sa.(*unix.SockaddrInet4)

	sender, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(sender) })

	return fd, func(b []byte) {
		require.NoError(t, unix.Sendto(sender, b, 0, bound))
	}
}

func TestWaitReportsReadableSocket(t *testing.T) {
	eng, err := New()
	require.NoError(t, err)
	defer eng.Close()

	fd, send := loopbackSocket(t)
	require.NoError(t, eng.AddSocket(fd))

	send([]byte("ping"))

	wake, err := eng.Wait()
	require.NoError(t, err)
	require.Equal(t, CauseReadable, wake.Cause)
	require.Contains(t, wake.Ready, fd)
	require.False(t, wake.Terminated())
}

func TestWaitReportsInterrupt(t *testing.T) {
	eng, err := New()
	require.NoError(t, err)
	defer eng.Close()

	fd, _ := loopbackSocket(t)
	require.NoError(t, eng.AddSocket(fd))
	require.NoError(t, eng.AddSignals(syscall.SIGHUP))

	go func() {
		time.Sleep(50 * time.Millisecond)
		unix.Kill(unix.Getpid(), unix.SIGHUP)
	}()

	wake, err := eng.Wait()
	require.NoError(t, err)
	require.Equal(t, CauseInterrupt, wake.Cause)
	require.Empty(t, wake.Ready)
	require.True(t, wake.Terminated())
}

func TestWaitReportsTimeout(t *testing.T) {
	eng, err := New()
	require.NoError(t, err)
	defer eng.Close()

	fd, _ := loopbackSocket(t)
	require.NoError(t, eng.AddSocket(fd))
	require.NoError(t, eng.ArmTimeout(50*time.Millisecond))

	start := time.Now()
	wake, err := eng.Wait()
	require.NoError(t, err)
	require.Equal(t, CauseTimeout, wake.Cause)
	require.True(t, wake.Terminated())
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestTerminationSuppressesSocketDispatch(t *testing.T) {
	eng, err := New()
	require.NoError(t, err)
	defer eng.Close()

	fd, send := loopbackSocket(t)
	require.NoError(t, eng.AddSocket(fd))
	require.NoError(t, eng.AddSignals(syscall.SIGHUP))

	// Make the socket readable and deliver the signal before waiting: the
	// termination notice must win over pending socket readiness.
	send([]byte("ping"))
	require.NoError(t, unix.Kill(unix.Getpid(), unix.SIGHUP))
	time.Sleep(100 * time.Millisecond)

	wake, err := eng.Wait()
	require.NoError(t, err)
	require.True(t, wake.Terminated())
	require.Empty(t, wake.Ready)
}
