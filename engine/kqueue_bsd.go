//go:build (darwin || dragonfly || freebsd || netbsd || openbsd) && !mbeat_poll

package engine

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Idents are namespaced per filter, so the timer can use a fixed one.
const kqueueTimerIdent = 0

// kqueueEngine registers sockets, signals and the deadline timer as
// first-class filtered events on one kernel queue.
type kqueueEngine struct {
	kq      int
	events  []unix.Kevent_t
	sigSink chan os.Signal
}

func newPlatformEngine() (Engine, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "unable to create event queue")
	}
	return &kqueueEngine{
		kq:     kq,
		events: make([]unix.Kevent_t, 64),
		// Claimed signals land here so the runtime default handling does
		// not terminate the process; the queue sees them via EVFILT_SIGNAL.
		sigSink: make(chan os.Signal, 8),
	}, nil
}

func (e *kqueueEngine) Name() string { return "kqueue" }

func (e *kqueueEngine) change(ev unix.Kevent_t) error {
	_, err := unix.Kevent(e.kq, []unix.Kevent_t{ev}, nil, nil)
	return err
}

func (e *kqueueEngine) AddSocket(fd int) error {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, fd, unix.EVFILT_READ, unix.EV_ADD)
	if err := e.change(ev); err != nil {
		return errors.Wrap(err, "unable to add a socket to the event queue")
	}
	return nil
}

func (e *kqueueEngine) AddSignals(sigs ...os.Signal) error {
	signal.Notify(e.sigSink, sigs...)
	for _, sig := range sigs {
		signo, ok := sig.(syscall.Signal)
		if !ok {
			return errors.Errorf("signal %v has no number", sig)
		}
		var ev unix.Kevent_t
		unix.SetKevent(&ev, int(signo), unix.EVFILT_SIGNAL, unix.EV_ADD)
		if err := e.change(ev); err != nil {
			return errors.Wrapf(err, "unable to add signal %v to the event queue", sig)
		}
	}
	return nil
}

func (e *kqueueEngine) ArmTimeout(d time.Duration) error {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, kqueueTimerIdent, unix.EVFILT_TIMER, unix.EV_ADD|unix.EV_ONESHOT)
	ev.Data = d.Milliseconds()
	if err := e.change(ev); err != nil {
		return errors.Wrap(err, "unable to arm the deadline timer")
	}
	return nil
}

func (e *kqueueEngine) Wait() (Wake, error) {
	for {
		n, err := unix.Kevent(e.kq, nil, e.events, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return Wake{}, errors.Wrap(err, "event queue reading failed")
		}

		var (
			ready []int
			term  *Wake
		)
		for i := 0; i < n; i++ {
			ev := &e.events[i]
			switch ev.Filter {
			case unix.EVFILT_SIGNAL:
				term = &Wake{Cause: CauseInterrupt, Signal: syscall.Signal(ev.Ident)}
			case unix.EVFILT_TIMER:
				if term == nil {
					term = &Wake{Cause: CauseTimeout}
				}
			case unix.EVFILT_READ:
				ready = append(ready, int(ev.Ident))
			}
		}

		// A termination notice suppresses socket dispatch for this call.
		if term != nil {
			return *term, nil
		}
		if len(ready) > 0 {
			return Wake{Cause: CauseReadable, Ready: ready}, nil
		}
	}
}

func (e *kqueueEngine) Close() error {
	signal.Stop(e.sigSink)
	return unix.Close(e.kq)
}
