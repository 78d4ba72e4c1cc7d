//go:build linux

package endpoint

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// Linux reports the received TTL as an IP_TTL control message holding a
// native-endian int.
const recvTTLType = unix.IP_TTL

func ttlFromCmsg(data []byte) uint8 {
	if len(data) >= 4 {
		return uint8(binary.NativeEndian.Uint32(data))
	}
	return data[0]
}
