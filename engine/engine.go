// Package engine multiplexes endpoint sockets and termination signals
// through one event queue. Three backends implement the same contract:
// epoll on Linux, kqueue on the BSDs and a portable poll(2) fallback that
// can be forced with the mbeat_poll build tag. Exactly one backend is
// compiled into a build.
package engine

import (
	"os"
	"time"
)

// Cause classifies a wake-up.
type Cause int

const (
	// CauseReadable reports at least one socket with queued datagrams.
	CauseReadable Cause = iota
	// CauseInterrupt reports an interactive interrupt or hangup.
	CauseInterrupt
	// CauseTimeout reports expiry of the armed run deadline.
	CauseTimeout
)

func (c Cause) String() string {
	switch c {
	case CauseReadable:
		return "readable"
	case CauseInterrupt:
		return "interrupt"
	case CauseTimeout:
		return "timeout"
	}
	return "unknown"
}

// Wake is the result of one Wait call: either a non-empty set of readable
// socket descriptors or a termination notice.
type Wake struct {
	Cause  Cause
	Ready  []int     // readable sockets, only for CauseReadable
	Signal os.Signal // delivered signal, only for CauseInterrupt
}

// Terminated reports whether the wake-up ends the run.
func (w Wake) Terminated() bool {
	return w.Cause != CauseReadable
}

// Engine is the event-notification contract shared by all backends.
//
// Wait blocks indefinitely: the run deadline, if any, is armed with
// ArmTimeout and delivered as a termination wake through the same queue as
// socket readiness and signals. Once a Wait call observes a termination
// notice it reports no socket readiness from that call.
type Engine interface {
	// Name identifies the backend for diagnostics.
	Name() string

	// AddSocket registers a socket descriptor for readiness notification.
	AddSocket(fd int) error

	// AddSignals registers termination signals, at minimum the interactive
	// interrupt and hangup pair.
	AddSignals(sigs ...os.Signal) error

	// ArmTimeout schedules a one-shot termination wake after d.
	ArmTimeout(d time.Duration) error

	// Wait blocks until sockets become readable or the run terminates.
	Wait() (Wake, error)

	// Close releases the queue and every resource registered with it.
	Close() error
}

// New creates the backend selected for this platform at build time.
func New() (Engine, error) {
	return newPlatformEngine()
}
