package wire

import "encoding/binary"

// RecordSize is the exact size of one raw-output record: the payload
// verbatim plus the subscriber-observed fields.
const RecordSize = PayloadSize + InterfaceNameLen + HostnameLen + 8 + 8 + 1 + 1 + 2

const (
	offRecIface    = PayloadSize
	offRecHost     = offRecIface + InterfaceNameLen
	offRecWallArr  = offRecHost + HostnameLen
	offRecMonoArr  = offRecWallArr + 8
	offRecTTLValid = offRecMonoArr + 8
	offRecTTL      = offRecTTLValid + 1
	offRecPad      = offRecTTL + 1
)

// Record is one entry of the raw binary output stream: the received payload
// plus what the subscriber observed on arrival. TTL retrieval can fail
// silently on some platforms, hence the explicit presence flag.
type Record struct {
	Payload     Payload
	Interface   [InterfaceNameLen]byte
	Hostname    [HostnameLen]byte
	WallArrival uint64
	MonoArrival uint64
	TTLValid    bool
	TTL         uint8
}

// Encode writes the record into b, which must hold at least RecordSize
// bytes, and returns the number of bytes written. The embedded payload is
// re-encoded in network byte order, so raw output is replayable through
// Decode.
func (r *Record) Encode(b []byte) int {
	_ = b[:RecordSize]
	r.Payload.Encode(b)
	copy(b[offRecIface:offRecHost], r.Interface[:])
	copy(b[offRecHost:offRecWallArr], r.Hostname[:])
	binary.BigEndian.PutUint64(b[offRecWallArr:], r.WallArrival)
	binary.BigEndian.PutUint64(b[offRecMonoArr:], r.MonoArrival)
	if r.TTLValid {
		b[offRecTTLValid] = 1
	} else {
		b[offRecTTLValid] = 0
	}
	b[offRecTTL] = r.TTL
	b[offRecPad] = 0
	b[offRecPad+1] = 0
	return RecordSize
}

// DecodeRecord parses a raw-output record, validating the embedded payload.
func DecodeRecord(b []byte) (Record, error) {
	if len(b) != RecordSize {
		return Record{}, &SizeError{Expected: RecordSize, Got: len(b)}
	}

	var r Record
	p, err := Decode(b[:PayloadSize])
	if err != nil {
		return Record{}, err
	}
	r.Payload = p
	copy(r.Interface[:], b[offRecIface:])
	copy(r.Hostname[:], b[offRecHost:])
	r.WallArrival = binary.BigEndian.Uint64(b[offRecWallArr:])
	r.MonoArrival = binary.BigEndian.Uint64(b[offRecMonoArr:])
	r.TTLValid = b[offRecTTLValid] == 1
	r.TTL = b[offRecTTL]
	return r, nil
}

// InterfaceName returns the subscriber interface name with padding stripped.
func (r *Record) InterfaceName() string {
	return trimPadding(r.Interface[:])
}

// HostName returns the subscriber hostname with padding stripped.
func (r *Record) HostName() string {
	return trimPadding(r.Hostname[:])
}
