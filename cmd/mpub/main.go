// mpub publishes timestamped, sequenced datagrams to multicast endpoints.
package main

import (
	"crypto/rand"
	"encoding/binary"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twosigma/mbeat-core/endpoint"
	"github.com/twosigma/mbeat-core/publish"
	"github.com/twosigma/mbeat-core/wire"
)

type options struct {
	bufferSize  string
	count       uint64
	interval    time.Duration
	ttl         uint8
	offset      uint64
	loop        bool
	port        uint16
	key         uint64
	exitOnError bool
	logLevel    string
}

func newCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "mpub [flags] iface=maddr [iface=maddr ...]",
		Short:         "multicast heartbeat publisher",
		Long:          "Send timestamped, sequenced datagrams to the selected multicast endpoints.",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.bufferSize, "buffer-size", "b", "0", "socket send buffer size, accepts unit suffixes (0 keeps the OS default)")
	flags.Uint64VarP(&opts.count, "count", "c", 5, "number of rounds to publish")
	flags.DurationVarP(&opts.interval, "interval", "i", time.Second, "wait time between rounds")
	flags.Uint8VarP(&opts.ttl, "ttl", "t", 1, "Time-To-Live of published datagrams")
	flags.Uint64VarP(&opts.offset, "offset", "o", 0, "first sequence number of the run")
	flags.BoolVarP(&opts.loop, "loop", "l", false, "deliver datagram copies to the local host")
	flags.Uint16VarP(&opts.port, "port", "p", wire.DefaultPort, "UDP port for all endpoints")
	flags.Uint64VarP(&opts.key, "key", "k", 0, "key of the run (0 generates a random key)")
	flags.BoolVarP(&opts.exitOnError, "exit-on-error", "e", false, "stop the run on a send failure")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log verbosity (trace, debug, info, warn, error)")

	return cmd
}

func run(opts *options, args []string) error {
	log, err := newLogger(opts.logLevel)
	if err != nil {
		return err
	}

	bufferSize, err := units.RAMInBytes(opts.bufferSize)
	if err != nil {
		return errors.Wrapf(err, "unable to parse the buffer size %q", opts.bufferSize)
	}

	key := opts.key
	if key == 0 {
		if key, err = randomKey(); err != nil {
			return errors.Wrap(err, "unable to generate a run key")
		}
	}

	eps, err := endpoint.Parse(args, opts.port)
	if err != nil {
		return err
	}
	defer endpoint.Close(eps)

	pub := publish.New(publish.Config{
		BufferSize:  int(bufferSize),
		Rounds:      opts.count,
		Interval:    opts.interval,
		TTL:         opts.ttl,
		SeqOffset:   opts.offset,
		Loop:        opts.loop,
		Key:         key,
		ExitOnError: opts.exitOnError,
	}, eps, log)

	if err := pub.Setup(); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"key":       key,
		"endpoints": len(eps),
		"rounds":    opts.count,
	}).Debug("starting the publisher run")

	return pub.Run()
}

func newLogger(level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse the log level %q", level)
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(lvl)
	return log, nil
}

// randomKey draws a non-zero 64-bit key. Zero is reserved on the subscriber
// side to mean "accept every key".
func randomKey() (uint64, error) {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, err
		}
		if k := binary.BigEndian.Uint64(b[:]); k != 0 {
			return k, nil
		}
	}
}

func main() {
	if err := newCommand().Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
