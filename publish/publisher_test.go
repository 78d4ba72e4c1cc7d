package publish

import (
	"net/netip"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/twosigma/mbeat-core/endpoint"
	"github.com/twosigma/mbeat-core/wire"
)

func loopbackEndpoint(t *testing.T) (pub *endpoint.Endpoint, recv func() ([]byte, bool)) {
	t.Helper()

	rfd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(rfd) })
	require.NoError(t, unix.SetNonblock(rfd, true))
	require.NoError(t, unix.Bind(rfd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))

	sa, err := unix.Getsockname(rfd)
	require.NoError(t, err)
	port := uint16(sa.(*unix.SockaddrInet4).Port)

	sfd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(sfd) })
	require.NoError(t, unix.SetNonblock(sfd, true))

	lo := netip.MustParseAddr("127.0.0.1")
	pub = &endpoint.Endpoint{Iface: "lo", Local: lo, Group: lo, Port: port, Sock: sfd}

	recv = func() ([]byte, bool) {
		b := make([]byte, 2*wire.PayloadSize)
		n, _, err := unix.Recvfrom(rfd, b, unix.MSG_DONTWAIT)
		if err != nil {
			return nil, false
		}
		return b[:n], true
	}
	return pub, recv
}

func TestPublisherSendsConfiguredRounds(t *testing.T) {
	pub, recv := loopbackEndpoint(t)
	log, _ := test.NewNullLogger()

	cfg := Config{Rounds: 3, TTL: 4, SeqOffset: 5, Key: 7}
	p := New(cfg, []*endpoint.Endpoint{pub}, log)
	require.NoError(t, p.Run())
	require.Zero(t, p.Skipped())

	for i := uint64(0); i < cfg.Rounds; i++ {
		b, ok := recv()
		require.True(t, ok, "datagram %d missing", i)

		pl, err := wire.Decode(b)
		require.NoError(t, err)
		require.Equal(t, cfg.SeqOffset+i, pl.SeqNum)
		require.Equal(t, cfg.Rounds, pl.SeqLen)
		require.Equal(t, cfg.Key, pl.Key)
		require.Equal(t, cfg.TTL, pl.SourceTTL)
		require.Equal(t, pub.Port, pl.Port)
		require.Equal(t, "lo", pl.InterfaceName())
		require.NotZero(t, pl.WallDeparture)
		require.NotZero(t, pl.MonoDeparture)
	}
	_, ok := recv()
	require.False(t, ok, "published more datagrams than configured")
}

func TestPublisherSleepsBetweenRoundsOnly(t *testing.T) {
	pub, _ := loopbackEndpoint(t)
	log, _ := test.NewNullLogger()

	p := New(Config{Rounds: 2, Interval: 60 * time.Millisecond}, []*endpoint.Endpoint{pub}, log)

	start := time.Now()
	require.NoError(t, p.Run())
	elapsed := time.Since(start)

	// One inter-round sleep, none after the final round.
	require.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	require.Less(t, elapsed, 200*time.Millisecond)
}

func TestPublisherSendFailureAborts(t *testing.T) {
	log, _ := test.NewNullLogger()
	lo := netip.MustParseAddr("127.0.0.1")
	bad := &endpoint.Endpoint{Iface: "lo", Local: lo, Group: lo, Port: 1, Sock: -1}

	p := New(Config{Rounds: 3, ExitOnError: true}, []*endpoint.Endpoint{bad}, log)
	require.Error(t, p.Run())
}

func TestPublisherSendFailureSkipsAndCounts(t *testing.T) {
	log, hook := test.NewNullLogger()
	lo := netip.MustParseAddr("127.0.0.1")
	bad := &endpoint.Endpoint{Iface: "lo", Local: lo, Group: lo, Port: 1, Sock: -1}

	p := New(Config{Rounds: 3}, []*endpoint.Endpoint{bad}, log)
	require.NoError(t, p.Run())
	require.EqualValues(t, 3, p.Skipped())
	require.NotEmpty(t, hook.AllEntries())
}
