package wire

import (
	"bytes"
	"encoding/binary"
	"net/netip"
	"testing"
)

func samplePayload() Payload {
	p := Payload{
		Magic:         Magic,
		Version:       Version,
		SourceTTL:     8,
		Port:          DefaultPort,
		Group:         [4]byte{239, 1, 2, 3},
		WallDeparture: 1700000000_123456789,
		MonoDeparture: 987654321,
		Key:           0xdeadbeefcafe,
		SeqNum:        41,
		SeqLen:        100,
	}
	copy(p.Interface[:], "eth0")
	copy(p.Hostname[:], "pub.example.com")
	return p
}

func TestPayloadEncodeDecodeRoundTrip(t *testing.T) {
	p := samplePayload()

	b := make([]byte, PayloadSize)
	if n := p.Encode(b); n != PayloadSize {
		t.Fatalf("encoded %d bytes, expected %d", n, PayloadSize)
	}

	q, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if p != q {
		t.Fatalf("round trip mismatch\nencoded: %+v\ndecoded: %+v", p, q)
	}
}

func TestPayloadEncodeIsBigEndian(t *testing.T) {
	p := samplePayload()
	b := make([]byte, PayloadSize)
	p.Encode(b)

	if got := binary.BigEndian.Uint32(b[0:4]); got != Magic {
		t.Fatalf("magic on the wire: %#x", got)
	}
	if got := binary.BigEndian.Uint16(b[6:8]); got != p.Port {
		t.Fatalf("port on the wire: %d", got)
	}
	if got := binary.BigEndian.Uint64(b[40:48]); got != p.SeqNum {
		t.Fatalf("sequence number on the wire: %d", got)
	}
	if !bytes.Equal(b[12:16], []byte{0, 0, 0, 0}) {
		t.Fatal("reserved padding is not zeroed")
	}
}

func TestNewPayloadStampsClocks(t *testing.T) {
	p := New(netip.MustParseAddr("239.0.0.1"), DefaultPort, 1, 42, 0, 3, "eth0")

	if p.Magic != Magic || p.Version != Version {
		t.Fatalf("bad identity fields: %+v", p)
	}
	if p.WallDeparture == 0 || p.MonoDeparture == 0 {
		t.Fatal("departure clocks were not sampled")
	}
	if p.InterfaceName() != "eth0" {
		t.Fatalf("interface name: %q", p.InterfaceName())
	}
	if p.HostName() == "" {
		t.Fatal("hostname was not stamped")
	}
}

func TestValidateRejectsWrongSize(t *testing.T) {
	p := samplePayload()
	b := make([]byte, PayloadSize)
	p.Encode(b)

	for _, n := range []int{0, 1, PayloadSize - 1, PayloadSize + 1, 2 * PayloadSize} {
		buf := make([]byte, n)
		copy(buf, b)
		err := Validate(buf)
		if err == nil {
			t.Fatalf("accepted a %d-byte buffer", n)
		}
		if _, ok := err.(*SizeError); !ok {
			t.Fatalf("expected a size error for a %d-byte buffer, got: %v", n, err)
		}
	}
}

func TestValidateRejectsWrongMagic(t *testing.T) {
	p := samplePayload()
	b := make([]byte, PayloadSize)
	p.Encode(b)
	b[0] ^= 0xff

	err := Validate(b)
	if err == nil {
		t.Fatal("accepted a corrupted magic identifier")
	}
	if _, ok := err.(*MagicError); !ok {
		t.Fatalf("expected a magic error, got: %v", err)
	}
}

func TestValidateRejectsWrongVersion(t *testing.T) {
	p := samplePayload()
	b := make([]byte, PayloadSize)
	p.Encode(b)
	b[4] = Version + 1

	err := Validate(b)
	if err == nil {
		t.Fatal("accepted an unsupported payload version")
	}
	if _, ok := err.(*VersionError); !ok {
		t.Fatalf("expected a version error, got: %v", err)
	}
}

func TestPayloadStringFieldsCopiedVerbatim(t *testing.T) {
	p := samplePayload()
	// Embedded zero in the middle of the name must survive the trip.
	p.Interface = [InterfaceNameLen]byte{}
	copy(p.Interface[:], "a\x00b")

	b := make([]byte, PayloadSize)
	p.Encode(b)
	q, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if q.Interface != p.Interface {
		t.Fatal("interface bytes were reinterpreted during decode")
	}
	if q.InterfaceName() != "a" {
		t.Fatalf("padding strip: %q", q.InterfaceName())
	}
}
