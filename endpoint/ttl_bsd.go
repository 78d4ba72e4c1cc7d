//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package endpoint

import "golang.org/x/sys/unix"

// The BSDs report the received TTL as an IP_RECVTTL control message holding
// a single byte.
const recvTTLType = unix.IP_RECVTTL

func ttlFromCmsg(data []byte) uint8 {
	return data[0]
}
