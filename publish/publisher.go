// Package publish emits timestamped, sequenced probe datagrams to every
// configured endpoint on a fixed cadence.
package publish

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/twosigma/mbeat-core/endpoint"
	"github.com/twosigma/mbeat-core/wire"
)

// Config is immutable for the lifetime of one run.
type Config struct {
	BufferSize  int           // SO_SNDBUF override, 0 leaves the OS default
	Rounds      uint64        // total datagrams per endpoint
	Interval    time.Duration // sleep between rounds
	TTL         uint8
	SeqOffset   uint64 // first sequence number
	Loop        bool   // deliver copies to the local host
	Key         uint64 // run key, disambiguates concurrent publishers
	ExitOnError bool   // abort the run on a send failure
}

// Publisher owns the endpoint sockets of one run.
type Publisher struct {
	cfg     Config
	eps     []*endpoint.Endpoint
	log     *logrus.Logger
	skipped uint64
}

func New(cfg Config, eps []*endpoint.Endpoint, log *logrus.Logger) *Publisher {
	return &Publisher{cfg: cfg, eps: eps, log: log}
}

// Setup opens and configures one socket per endpoint. Any failure is fatal
// to the whole run.
func (p *Publisher) Setup() error {
	opts := endpoint.PublisherOptions{
		BufferSize: p.cfg.BufferSize,
		TTL:        p.cfg.TTL,
		Loop:       p.cfg.Loop,
	}
	for _, ep := range p.eps {
		if err := ep.OpenPublisher(opts); err != nil {
			return err
		}
	}
	return nil
}

// Run publishes Rounds datagrams to every endpoint in registration order.
// Sequence numbers start at SeqOffset and the transmitted sequence length
// equals Rounds, letting subscribers compute completion.
func (p *Publisher) Run() error {
	buf := make([]byte, wire.PayloadSize)

	for i := uint64(0); i < p.cfg.Rounds; i++ {
		seq := p.cfg.SeqOffset + i

		for _, ep := range p.eps {
			pl := wire.New(ep.Group, ep.Port, p.cfg.TTL, p.cfg.Key, seq, p.cfg.Rounds, ep.Iface)
			pl.Encode(buf)

			if err := ep.Send(buf); err != nil {
				if p.cfg.ExitOnError {
					return errors.Wrapf(err, "unable to send datagram on %s", ep)
				}
				p.skipped++
				p.log.WithFields(logrus.Fields{
					"endpoint": ep.String(),
					"seq":      seq,
				}).Warnf("unable to send datagram: %v", err)
			}
		}

		// No sleep after the final round.
		if p.cfg.Interval > 0 && i != p.cfg.Rounds-1 {
			time.Sleep(p.cfg.Interval)
		}
	}

	if p.skipped > 0 {
		p.log.Warnf("skipped %d datagrams due to send failures", p.skipped)
	}
	return nil
}

// Skipped reports how many datagrams were dropped under the
// warn-and-continue policy.
func (p *Publisher) Skipped() uint64 {
	return p.skipped
}

// Close releases every endpoint socket.
func (p *Publisher) Close() {
	endpoint.Close(p.eps)
}
