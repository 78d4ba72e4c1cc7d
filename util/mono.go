package util

import "golang.org/x/sys/unix"

// MonoNanos returns the current reading of the monotonic clock in
// nanoseconds. The reference point is arbitrary, so readings are only
// comparable between processes on the same host.
func MonoNanos() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Sec)*1_000_000_000 + uint64(ts.Nsec)
}
