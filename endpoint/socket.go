package endpoint

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// PublisherOptions carry the socket settings of a publisher run.
type PublisherOptions struct {
	BufferSize int // SO_SNDBUF override, 0 leaves the OS default
	TTL        uint8
	Loop       bool // deliver copies to the local host
}

// SubscriberOptions carry the socket settings of a subscriber run.
type SubscriberOptions struct {
	BufferSize int // SO_RCVBUF override, 0 leaves the OS default
}

func (e *Endpoint) open() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return errors.Wrap(err, "unable to create socket")
	}
	e.Sock = fd
	unix.CloseOnExec(fd)

	if err := unix.SetNonblock(fd, true); err != nil {
		return errors.Wrapf(err, "unable to make socket non-blocking on %s", e)
	}

	// Allow multiple processes to observe the same group and port.
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return errors.Wrapf(err, "unable to make the socket address reusable on %s", e)
	}

	return nil
}

// OpenPublisher creates and configures the outbound socket: traffic is
// restricted to the endpoint's local interface and carries the requested
// TTL and loopback policy.
func (e *Endpoint) OpenPublisher(opts PublisherOptions) error {
	if err := e.open(); err != nil {
		return err
	}

	fd := e.Sock

	if opts.BufferSize != 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, opts.BufferSize); err != nil {
			return errors.Wrapf(err, "unable to set the send buffer size to %d on %s", opts.BufferSize, e)
		}
	}

	if err := unix.SetsockoptInet4Addr(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_IF, e.Local.As4()); err != nil {
		return errors.Wrapf(err, "unable to select outbound interface %q", e.Iface)
	}

	loop := 0
	if opts.Loop {
		loop = 1
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, loop); err != nil {
		return errors.Wrapf(err, "unable to set the localhost looping policy on %s", e)
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, int(opts.TTL)); err != nil {
		return errors.Wrapf(err, "unable to set the Time-To-Live of datagrams on %s", e)
	}

	return nil
}

// OpenSubscriber creates and configures the inbound socket: bound to the
// multicast group and port, joined to the group on the local interface, with
// per-datagram TTL metadata requested where the platform supports it.
func (e *Endpoint) OpenSubscriber(log *logrus.Logger, opts SubscriberOptions) error {
	if err := e.open(); err != nil {
		return err
	}

	fd := e.Sock

	// TTL metadata is best-effort: absence degrades the report, it must not
	// fail setup.
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_RECVTTL, 1); err != nil {
		log.WithField("endpoint", e.String()).
			Warnf("unable to request Time-To-Live information: %v", err)
	}

	if opts.BufferSize != 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, opts.BufferSize); err != nil {
			return errors.Wrapf(err, "unable to set the receive buffer size to %d on %s", opts.BufferSize, e)
		}
	}

	sa := &unix.SockaddrInet4{Port: int(e.Port), Addr: e.Group.As4()}
	if err := unix.Bind(fd, sa); err != nil {
		return errors.Wrapf(err, "unable to bind to address %s and port %d", e.Group, e.Port)
	}

	mreq := &unix.IPMreq{Multiaddr: e.Group.As4(), Interface: e.Local.As4()}
	if err := unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
		return errors.Wrapf(err, "unable to join multicast group %s on %q", e.Group, e.Iface)
	}

	return nil
}

// Send writes one datagram to the endpoint's group and port without
// blocking.
func (e *Endpoint) Send(b []byte) error {
	if e.sendAddr == nil {
		e.sendAddr = &unix.SockaddrInet4{Port: int(e.Port), Addr: e.Group.As4()}
	}
	err := unix.Sendto(e.Sock, b, 0, e.sendAddr)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return ErrWouldBlock
	}
	return err
}

// Recv reads one queued datagram and its control messages without blocking.
// ErrWouldBlock reports an empty queue, every other error is a transport
// fault.
func (e *Endpoint) Recv(b, oob []byte) (n, oobn int, err error) {
	n, oobn, _, _, err = unix.Recvmsg(e.Sock, b, oob, unix.MSG_DONTWAIT)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, 0, ErrWouldBlock
	}
	return n, oobn, err
}

// RecvTTL extracts the destination TTL from the control messages of a
// received datagram. The second return value reports availability.
func RecvTTL(oob []byte) (uint8, bool) {
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return 0, false
	}
	for _, cmsg := range cmsgs {
		if cmsg.Header.Level == unix.IPPROTO_IP && cmsg.Header.Type == recvTTLType {
			if len(cmsg.Data) >= 1 {
				return ttlFromCmsg(cmsg.Data), true
			}
		}
	}
	return 0, false
}

// Close releases the socket. Safe to call more than once.
func (e *Endpoint) Close() error {
	if e.Sock < 0 {
		return nil
	}
	err := unix.Close(e.Sock)
	e.Sock = -1
	return err
}
