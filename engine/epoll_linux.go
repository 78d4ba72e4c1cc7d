//go:build linux && !mbeat_poll

package engine

import (
	"encoding/binary"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// epollEngine registers sockets, a signal-driven eventfd waker and an
// optional one-shot timerfd on a single epoll queue.
type epollEngine struct {
	epfd    int
	waker   *eventFd
	timerFd int
	events  []unix.EpollEvent

	sigCh chan os.Signal
	sig   atomic.Value // last delivered os.Signal
	done  chan struct{}
}

func newPlatformEngine() (Engine, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "unable to create event queue")
	}

	waker, err := newEventFd()
	if err != nil {
		unix.Close(epfd)
		return nil, errors.Wrap(err, "unable to create signal wake source")
	}

	e := &epollEngine{
		epfd:    epfd,
		waker:   waker,
		timerFd: -1,
		events:  make([]unix.EpollEvent, 64),
		sigCh:   make(chan os.Signal, 8),
		done:    make(chan struct{}),
	}

	if err := e.add(waker.fd); err != nil {
		e.Close()
		return nil, errors.Wrap(err, "unable to register the signal wake source")
	}

	return e, nil
}

func (e *epollEngine) Name() string { return "epoll" }

func (e *epollEngine) add(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	return unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (e *epollEngine) AddSocket(fd int) error {
	if err := e.add(fd); err != nil {
		return errors.Wrap(err, "unable to add a socket to the event queue")
	}
	return nil
}

func (e *epollEngine) AddSignals(sigs ...os.Signal) error {
	signal.Notify(e.sigCh, sigs...)
	go func() {
		for {
			select {
			case sig := <-e.sigCh:
				e.sig.Store(sig)
				e.waker.wake()
			case <-e.done:
				return
			}
		}
	}()
	return nil
}

func (e *epollEngine) ArmTimeout(d time.Duration) error {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return errors.Wrap(err, "unable to create the deadline timer")
	}

	// One-shot: the interval stays zero.
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(d.Nanoseconds())}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return errors.Wrap(err, "unable to arm the deadline timer")
	}

	if err := e.add(fd); err != nil {
		unix.Close(fd)
		return errors.Wrap(err, "unable to add the deadline timer to the event queue")
	}

	e.timerFd = fd
	return nil
}

func (e *epollEngine) Wait() (Wake, error) {
	for {
		n, err := unix.EpollWait(e.epfd, e.events, -1)
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
			switch fd := int(e.events[i].Fd); fd {
			case e.waker.fd:
				e.waker.drain()
				sig, _ := e.sig.Load().(os.Signal)
				term = &Wake{Cause: CauseInterrupt, Signal: sig}
			case e.timerFd:
				var buf [8]byte
				unix.Read(e.timerFd, buf[:])
				if term == nil {
					term = &Wake{Cause: CauseTimeout}
				}
			default:
				ready = append(ready, fd)
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

func (e *epollEngine) Close() error {
	signal.Stop(e.sigCh)
	close(e.done)
	if e.timerFd >= 0 {
		unix.Close(e.timerFd)
		e.timerFd = -1
	}
	e.waker.close()
	return unix.Close(e.epfd)
}

// eventFd is the pollable wake source the signal forwarder writes to.
type eventFd struct {
	fd int
}

func newEventFd() (*eventFd, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &eventFd{fd: fd}, nil
}

func (e *eventFd) wake() {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	unix.Write(e.fd, b[:])
}

func (e *eventFd) drain() {
	var b [8]byte
	for {
		if _, err := unix.Read(e.fd, b[:]); err != nil {
			return
		}
	}
}

func (e *eventFd) close() error {
	return unix.Close(e.fd)
}
