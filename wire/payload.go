package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"github.com/twosigma/mbeat-core/util"
)

const (
	// Magic identifies the protocol family in the first four payload bytes.
	Magic uint32 = 0x6d626561

	// Version is the payload layout version this build understands.
	Version uint8 = 2

	// DefaultPort is the well-known UDP port shared by both utilities.
	DefaultPort uint16 = 22999

	InterfaceNameLen = 16
	HostnameLen      = 64

	// PayloadSize is the exact on-wire size of every version-2 payload.
	PayloadSize = 136
)

// Field offsets within the encoded payload. All numeric fields are
// big-endian; string fields are zero-padded to their fixed width.
const (
	offMagic   = 0
	offVersion = 4
	offTTL     = 5
	offPort    = 6
	offGroup   = 8
	offPad     = 12
	offWallDep = 16
	offMonoDep = 24
	offKey     = 32
	offSeqNum  = 40
	offSeqLen  = 48
	offIface   = 56
	offHost    = 72
)

// Payload is the decoded form of one probe datagram.
type Payload struct {
	Magic         uint32
	Version       uint8
	SourceTTL     uint8
	Port          uint16
	Group         [4]byte
	WallDeparture uint64 // nanoseconds since the Unix epoch
	MonoDeparture uint64 // nanoseconds since an arbitrary reference
	Key           uint64
	SeqNum        uint64
	SeqLen        uint64
	Interface     [InterfaceNameLen]byte
	Hostname      [HostnameLen]byte
}

// New builds a payload for one datagram of a publisher run. Both departure
// clocks are sampled here, wall clock first.
func New(group netip.Addr, port uint16, ttl uint8, key, seqNum, seqLen uint64, iface string) Payload {
	p := Payload{
		Magic:     Magic,
		Version:   Version,
		SourceTTL: ttl,
		Port:      port,
		Group:     group.As4(),
		Key:       key,
		SeqNum:    seqNum,
		SeqLen:    seqLen,
	}
	copy(p.Interface[:], iface)
	copy(p.Hostname[:], util.Hostname())
	p.WallDeparture = uint64(time.Now().UnixNano())
	p.MonoDeparture = util.MonoNanos()
	return p
}

// Encode writes the payload into b, which must hold at least PayloadSize
// bytes, and returns the number of bytes written.
func (p *Payload) Encode(b []byte) int {
	_ = b[:PayloadSize]
	binary.BigEndian.PutUint32(b[offMagic:], p.Magic)
	b[offVersion] = p.Version
	b[offTTL] = p.SourceTTL
	binary.BigEndian.PutUint16(b[offPort:], p.Port)
	copy(b[offGroup:], p.Group[:])
	binary.BigEndian.PutUint32(b[offPad:], 0)
	binary.BigEndian.PutUint64(b[offWallDep:], p.WallDeparture)
	binary.BigEndian.PutUint64(b[offMonoDep:], p.MonoDeparture)
	binary.BigEndian.PutUint64(b[offKey:], p.Key)
	binary.BigEndian.PutUint64(b[offSeqNum:], p.SeqNum)
	binary.BigEndian.PutUint64(b[offSeqLen:], p.SeqLen)
	copy(b[offIface:offIface+InterfaceNameLen], p.Interface[:])
	copy(b[offHost:offHost+HostnameLen], p.Hostname[:])
	return PayloadSize
}

// Validate checks a received buffer before any field is interpreted. The
// checks run in a fixed order so that a truncated buffer is reported as a
// size mismatch and never magic- or version-checked on garbage.
func Validate(b []byte) error {
	if len(b) != PayloadSize {
		return &SizeError{Expected: PayloadSize, Got: len(b)}
	}
	if m := binary.BigEndian.Uint32(b[offMagic:]); m != Magic {
		return &MagicError{Expected: Magic, Got: m}
	}
	if v := b[offVersion]; v != Version {
		return &VersionError{Expected: Version, Got: v}
	}
	return nil
}

// Decode validates b and byte-swaps every numeric field to host order.
// String fields are copied verbatim, padding included.
func Decode(b []byte) (Payload, error) {
	if err := Validate(b); err != nil {
		return Payload{}, err
	}

	var p Payload
	p.Magic = binary.BigEndian.Uint32(b[offMagic:])
	p.Version = b[offVersion]
	p.SourceTTL = b[offTTL]
	p.Port = binary.BigEndian.Uint16(b[offPort:])
	copy(p.Group[:], b[offGroup:])
	p.WallDeparture = binary.BigEndian.Uint64(b[offWallDep:])
	p.MonoDeparture = binary.BigEndian.Uint64(b[offMonoDep:])
	p.Key = binary.BigEndian.Uint64(b[offKey:])
	p.SeqNum = binary.BigEndian.Uint64(b[offSeqNum:])
	p.SeqLen = binary.BigEndian.Uint64(b[offSeqLen:])
	copy(p.Interface[:], b[offIface:])
	copy(p.Hostname[:], b[offHost:])
	return p, nil
}

// GroupAddr returns the multicast group as an address value.
func (p *Payload) GroupAddr() netip.Addr {
	return netip.AddrFrom4(p.Group)
}

// InterfaceName returns the publisher interface name with padding stripped.
func (p *Payload) InterfaceName() string {
	return trimPadding(p.Interface[:])
}

// HostName returns the publisher hostname with padding stripped.
func (p *Payload) HostName() string {
	return trimPadding(p.Hostname[:])
}

func trimPadding(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// SizeError reports a datagram whose length differs from the fixed payload
// size. Such a buffer carries no trustworthy content at all.
type SizeError struct {
	Expected int
	Got      int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("wrong payload size, expected: %d, got: %d", e.Expected, e.Got)
}

// MagicError reports a correctly sized datagram from a different protocol
// family.
type MagicError struct {
	Expected uint32
	Got      uint32
}

func (e *MagicError) Error() string {
	return fmt.Sprintf("payload magic number invalid, expected: %#x, got: %#x", e.Expected, e.Got)
}

// VersionError reports a payload from an incompatible protocol revision.
type VersionError struct {
	Expected uint8
	Got      uint8
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("unsupported payload version, expected: %d, got: %d", e.Expected, e.Got)
}
