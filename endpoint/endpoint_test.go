package endpoint

import (
	"net"
	"testing"

	"github.com/twosigma/mbeat-core/wire"
)

func TestParseRejectsMalformedSpec(t *testing.T) {
	for _, arg := range []string{"", "eth0", "=239.0.0.1", "eth0=", "eth0:239.0.0.1"} {
		if _, err := Parse([]string{arg}, wire.DefaultPort); err == nil {
			t.Fatalf("accepted malformed endpoint %q", arg)
		}
	}
}

func TestParseRejectsEmptyList(t *testing.T) {
	if _, err := Parse(nil, wire.DefaultPort); err == nil {
		t.Fatal("accepted an empty endpoint list")
	}
}

func TestParseRejectsTooManyEndpoints(t *testing.T) {
	args := make([]string, MaxEndpoints+1)
	for i := range args {
		args[i] = "eth0=239.0.0.1"
	}
	if _, err := Parse(args, wire.DefaultPort); err == nil {
		t.Fatal("accepted more endpoints than the maximum")
	}
}

func TestParseRejectsUnknownInterface(t *testing.T) {
	if _, err := Parse([]string{"no-such-iface0=239.0.0.1"}, wire.DefaultPort); err == nil {
		t.Fatal("accepted an unknown interface")
	}
}

func TestParseGroupValidation(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"239.0.0.1", true},
		{"224.0.0.251", true},
		{"10.0.0.1", false},       // unicast
		{"not-an-address", false}, // unparsable
		{"ff02::1", false},        // IPv6
	}
	for _, tc := range cases {
		_, err := parseGroup(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("rejected %q: %v", tc.in, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("accepted %q", tc.in)
		}
	}
}

// TestParseResolvesLocalInterface exercises the full parse path against a
// real interface when the host has one that is up and multicast-capable.
func TestParseResolvesLocalInterface(t *testing.T) {
	name := findMulticastInterface(t)

	eps, err := Parse([]string{name + "=239.1.2.3"}, wire.DefaultPort)
	if err != nil {
		t.Fatal(err)
	}
	if len(eps) != 1 {
		t.Fatalf("expected one endpoint, got %d", len(eps))
	}

	ep := eps[0]
	if ep.Iface != name {
		t.Fatalf("interface name: %q", ep.Iface)
	}
	if !ep.Local.Is4() {
		t.Fatalf("local address: %v", ep.Local)
	}
	if got := ep.Group.String(); got != "239.1.2.3" {
		t.Fatalf("group: %q", got)
	}
	if ep.Sock != -1 {
		t.Fatal("socket should not be attached by Parse")
	}
}

func findMulticastInterface(t *testing.T) string {
	t.Helper()

	ifaces, err := net.Interfaces()
	if err != nil {
		t.Skipf("unable to list interfaces: %v", err)
	}
	for _, iff := range ifaces {
		if iff.Flags&net.FlagUp == 0 || iff.Flags&net.FlagMulticast == 0 {
			continue
		}
		addrs, err := iff.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.To4() != nil {
				return iff.Name
			}
		}
	}
	t.Skip("no up, multicast-capable IPv4 interface on this host")
	return ""
}
