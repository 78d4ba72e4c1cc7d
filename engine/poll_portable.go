//go:build mbeat_poll || (!linux && !darwin && !dragonfly && !freebsd && !netbsd && !openbsd)

package engine

import (
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// pollEngine is the fully portable backend. poll(2) cannot multiplex
// signals directly, so terminations are funneled through a self-pipe: the
// signal forwarder and the deadline timer set a flag and write one byte to
// the pipe, which poll observes as ordinary readiness. The flags are
// checked only right after the pipe fires, never elsewhere.
type pollEngine struct {
	fds  []unix.PollFd // index 0 is the read end of the wake pipe
	pipe wakePipe

	sigCh    chan os.Signal
	sig      atomic.Value // last delivered os.Signal
	timedOut atomic.Bool
	done     chan struct{}
}

func newPlatformEngine() (Engine, error) {
	var p wakePipe
	if err := p.open(); err != nil {
		return nil, errors.Wrap(err, "unable to create the wake pipe")
	}

	e := &pollEngine{
		pipe:  p,
		sigCh: make(chan os.Signal, 8),
		done:  make(chan struct{}),
	}
	e.fds = append(e.fds, unix.PollFd{Fd: int32(p.r), Events: unix.POLLIN})
	return e, nil
}

func (e *pollEngine) Name() string { return "poll" }

func (e *pollEngine) AddSocket(fd int) error {
	e.fds = append(e.fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	return nil
}

func (e *pollEngine) AddSignals(sigs ...os.Signal) error {
	signal.Notify(e.sigCh, sigs...)
	go func() {
		for {
			select {
			case sig := <-e.sigCh:
				e.sig.Store(sig)
				e.pipe.wake()
			case <-e.done:
				return
			}
		}
	}()
	return nil
}

func (e *pollEngine) ArmTimeout(d time.Duration) error {
	time.AfterFunc(d, func() {
		e.timedOut.Store(true)
		e.pipe.wake()
	})
	return nil
}

func (e *pollEngine) Wait() (Wake, error) {
	for {
		n, err := unix.Poll(e.fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return Wake{}, errors.Wrap(err, "event queue reading failed")
		}
		if n == 0 {
			continue
		}

		// The wake pipe outranks socket readiness: a termination notice
		// suppresses socket dispatch for this call.
		if e.fds[0].Revents&unix.POLLIN != 0 {
			e.pipe.drain()
			if e.timedOut.Load() {
				return Wake{Cause: CauseTimeout}, nil
			}
			sig, _ := e.sig.Load().(os.Signal)
			return Wake{Cause: CauseInterrupt, Signal: sig}, nil
		}

		var ready []int
		for _, pfd := range e.fds[1:] {
			if pfd.Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP) != 0 {
				ready = append(ready, int(pfd.Fd))
			}
		}
		if len(ready) > 0 {
			return Wake{Cause: CauseReadable, Ready: ready}, nil
		}
	}
}

func (e *pollEngine) Close() error {
	signal.Stop(e.sigCh)
	close(e.done)
	return e.pipe.close()
}

// wakePipe is a non-blocking self-pipe.
type wakePipe struct {
	r, w int
}

func (p *wakePipe) open() error {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return err
	}
	p.r, p.w = fds[0], fds[1]
	for _, fd := range fds {
		unix.SetNonblock(fd, true)
		unix.CloseOnExec(fd)
	}
	return nil
}

func (p *wakePipe) wake() {
	unix.Write(p.w, []byte{1})
}

func (p *wakePipe) drain() {
	var b [16]byte
	for {
		if _, err := unix.Read(p.r, b[:]); err != nil {
			return
		}
	}
}

func (p *wakePipe) close() error {
	unix.Close(p.w)
	return unix.Close(p.r)
}
