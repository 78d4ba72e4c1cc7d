package util

import (
	"os"
	"sync"
)

var (
	hostnameOnce sync.Once
	hostname     string
)

// Hostname returns the local hostname. The name is looked up once and
// cached for the lifetime of the process; lookup failure yields "unknown"
// rather than an error since the name is diagnostic, not functional.
func Hostname() string {
	hostnameOnce.Do(func() {
		h, err := os.Hostname()
		if err != nil || h == "" {
			h = "unknown"
		}
		hostname = h
	})
	return hostname
}
