// Package subscribe joins multicast groups, validates and decodes arriving
// probe datagrams and reports per-hop latency and packet identity.
package subscribe

import (
	"bufio"
	"io"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/twosigma/mbeat-core/endpoint"
	"github.com/twosigma/mbeat-core/engine"
	"github.com/twosigma/mbeat-core/util"
	"github.com/twosigma/mbeat-core/wire"
)

// Config is immutable for the lifetime of one run.
type Config struct {
	BufferSize  int           // SO_RCVBUF override, 0 leaves the OS default
	Key         uint64        // accept only this key, 0 accepts every key
	SeqFloor    uint64        // drop sequence numbers below this, renumber the rest
	Raw         bool          // raw binary records instead of CSV
	Unbuffered  bool          // flush the output stream per datagram
	ExitOnError bool          // abort the run on a receive failure
	Timeout     time.Duration // run deadline, 0 runs until interrupted
	Stats       bool          // print a latency summary on shutdown
}

// Subscriber owns the endpoint sockets and the event engine of one run.
type Subscriber struct {
	cfg  Config
	eps  []*endpoint.Endpoint
	byFd map[int]*endpoint.Endpoint
	log  *logrus.Logger

	out io.Writer
	bw  *bufio.Writer // nil when unbuffered

	stats    *latencyStats
	accepted uint64

	buf [2 * wire.PayloadSize]byte // oversized datagrams must be detectable
	oob [128]byte
	rec [wire.RecordSize]byte
}

func New(cfg Config, eps []*endpoint.Endpoint, out io.Writer, log *logrus.Logger) *Subscriber {
	s := &Subscriber{
		cfg:  cfg,
		eps:  eps,
		byFd: make(map[int]*endpoint.Endpoint, len(eps)),
		log:  log,
		out:  out,
	}
	if !cfg.Unbuffered {
		s.bw = bufio.NewWriterSize(out, 64*1024)
		s.out = s.bw
	}
	if cfg.Stats {
		s.stats = newLatencyStats()
	}
	return s
}

// Setup opens and configures one socket per endpoint. Any failure is fatal
// to the whole run.
func (s *Subscriber) Setup() error {
	opts := endpoint.SubscriberOptions{BufferSize: s.cfg.BufferSize}
	for _, ep := range s.eps {
		if err := ep.OpenSubscriber(s.log, opts); err != nil {
			return err
		}
	}
	return nil
}

// Accepted reports how many datagrams passed validation and filtering.
func (s *Subscriber) Accepted() uint64 {
	return s.accepted
}

// Close releases every endpoint socket.
func (s *Subscriber) Close() {
	endpoint.Close(s.eps)
}

// Run receives datagrams until an interrupt, hangup or the configured
// deadline terminates the run. Termination is orderly shutdown, not an
// error.
func (s *Subscriber) Run() error {
	eng, err := engine.New()
	if err != nil {
		return err
	}
	defer eng.Close()

	s.log.Debugf("using the %s event queue", eng.Name())

	for _, ep := range s.eps {
		if err := eng.AddSocket(ep.Sock); err != nil {
			return errors.Wrapf(err, "unable to register %s", ep)
		}
		s.byFd[ep.Sock] = ep
	}

	if err := eng.AddSignals(syscall.SIGINT, syscall.SIGHUP); err != nil {
		return err
	}
	if s.cfg.Timeout > 0 {
		if err := eng.ArmTimeout(s.cfg.Timeout); err != nil {
			return err
		}
	}

	defer s.flush()

	if !s.cfg.Raw {
		if _, err := io.WriteString(s.out, csvHeader); err != nil {
			return errors.Wrap(err, "unable to write the output header")
		}
	}

	for {
		wake, err := eng.Wait()
		if err != nil {
			return err
		}

		if wake.Terminated() {
			if wake.Cause == engine.CauseInterrupt {
				s.log.Infof("received the %v signal", wake.Signal)
			} else {
				s.log.Info("run deadline reached")
			}
			if s.stats != nil {
				s.stats.report(s.log)
			}
			return nil
		}

		for _, fd := range wake.Ready {
			ep, ok := s.byFd[fd]
			if !ok {
				s.log.Warnf("unable to find endpoint with socket %d", fd)
				continue
			}
			if err := s.drain(ep); err != nil {
				return err
			}
		}
	}
}

// drain reads every currently queued datagram of one endpoint, so a burst
// on one group cannot starve readiness detection on another.
func (s *Subscriber) drain(ep *endpoint.Endpoint) error {
	for {
		n, oobn, err := ep.Recv(s.buf[:], s.oob[:])
		if err == endpoint.ErrWouldBlock {
			return nil
		}
		if err != nil {
			if s.cfg.ExitOnError {
				return errors.Wrapf(err, "unable to receive datagram on %s", ep)
			}
			// Leave the rest of the queue for the next wake-up rather than
			// spinning on a persistent fault.
			s.log.WithField("endpoint", ep.String()).
				Warnf("unable to receive datagram: %v", err)
			return nil
		}

		// On-wire corruption is expected background noise, never fatal.
		b := s.buf[:n]
		if err := wire.Validate(b); err != nil {
			s.log.WithField("endpoint", ep.String()).Warn(err.Error())
			continue
		}
		pl, err := wire.Decode(b)
		if err != nil {
			s.log.WithField("endpoint", ep.String()).Warn(err.Error())
			continue
		}

		ttl, ttlOK := endpoint.RecvTTL(s.oob[:oobn])

		if s.cfg.Key != 0 && pl.Key != s.cfg.Key {
			continue
		}
		if pl.SeqNum < s.cfg.SeqFloor {
			continue
		}
		// Observer-visible numbering restarts at zero.
		pl.SeqNum -= s.cfg.SeqFloor

		wallArr := uint64(time.Now().UnixNano())
		monoArr := util.MonoNanos()

		if s.stats != nil {
			s.stats.record(wallArr, pl.WallDeparture)
		}
		s.accepted++

		if s.cfg.Raw {
			err = s.renderRaw(&pl, ep, ttl, ttlOK, wallArr, monoArr)
		} else {
			err = s.renderCSV(&pl, ep, ttl, ttlOK, wallArr, monoArr)
		}
		if err != nil {
			return errors.Wrap(err, "unable to write the output record")
		}
	}
}

func (s *Subscriber) flush() {
	if s.bw != nil {
		s.bw.Flush()
	}
}
