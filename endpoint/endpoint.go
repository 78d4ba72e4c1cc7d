// Package endpoint pairs one local network interface with one multicast
// group and owns the UDP socket that connects the two.
package endpoint

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MaxEndpoints bounds the number of endpoints accepted on one command line.
const MaxEndpoints = 2048

// ErrWouldBlock is returned by Recv when the socket has no more queued
// datagrams and by Send when the send buffer is full.
var ErrWouldBlock = errors.New("operation would block")

// Endpoint binds a local interface to a multicast group. The socket is
// attached by OpenPublisher or OpenSubscriber and stays read-only for the
// rest of the run.
type Endpoint struct {
	Iface string     // local interface name
	Local netip.Addr // IPv4 address of the local interface
	Group netip.Addr // multicast group address
	Port  uint16
	Sock  int // open socket file descriptor, -1 before setup

	sendAddr *unix.SockaddrInet4
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("%s=%s", e.Iface, e.Group)
}

// Parse converts `iface=maddr` arguments into endpoints. Order is preserved
// so that transmission stays deterministically round-robin.
func Parse(args []string, port uint16) ([]*Endpoint, error) {
	if len(args) < 1 {
		return nil, errors.New("expected at least one iface=maddr endpoint")
	}
	if len(args) > MaxEndpoints {
		return nil, errors.Errorf("too many endpoints, maximum is %d", MaxEndpoints)
	}

	eps := make([]*Endpoint, 0, len(args))
	for _, arg := range args {
		ep, err := parseOne(arg, port)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

func parseOne(arg string, port uint16) (*Endpoint, error) {
	name, group, ok := strings.Cut(arg, "=")
	if !ok || name == "" || group == "" {
		return nil, errors.Errorf("unable to parse the endpoint %q, expected iface=maddr", arg)
	}

	local, err := resolveInterface(name)
	if err != nil {
		return nil, err
	}

	maddr, err := parseGroup(group)
	if err != nil {
		return nil, err
	}

	return &Endpoint{
		Iface: name,
		Local: local,
		Group: maddr,
		Port:  port,
		Sock:  -1,
	}, nil
}

// resolveInterface finds the IPv4 address of a named interface that is up
// and capable of multicast traffic.
func resolveInterface(name string) (netip.Addr, error) {
	iff, err := net.InterfaceByName(name)
	if err != nil {
		return netip.Addr{}, errors.Wrapf(err, "unable to find interface %q", name)
	}

	if iff.Flags&net.FlagUp == 0 {
		return netip.Addr{}, errors.Errorf("interface %q is not up", name)
	}
	if iff.Flags&net.FlagMulticast == 0 {
		return netip.Addr{}, errors.Errorf("interface %q is not available for multicast traffic", name)
	}

	addrs, err := iff.Addrs()
	if err != nil {
		return netip.Addr{}, errors.Wrapf(err, "unable to list addresses of interface %q", name)
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return netip.AddrFrom4([4]byte(ip4)), nil
		}
	}
	return netip.Addr{}, errors.Errorf("interface %q has no IPv4 address", name)
}

func parseGroup(s string) (netip.Addr, error) {
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, errors.Wrapf(err, "unable to parse the multicast address %q", s)
	}
	if !ip.Is4() {
		return netip.Addr{}, errors.Errorf("address %q is not IPv4", s)
	}
	if !ip.IsMulticast() {
		return netip.Addr{}, errors.Errorf("address %q does not belong to the multicast range", s)
	}
	return ip, nil
}

// Close releases the endpoint socket. Safe to call on an endpoint that was
// never opened.
func Close(eps []*Endpoint) {
	for _, ep := range eps {
		ep.Close()
	}
}
