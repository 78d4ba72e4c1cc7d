// msub joins multicast groups and reports the timing and identity of
// arriving probe datagrams.
package main

import (
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/twosigma/mbeat-core/endpoint"
	"github.com/twosigma/mbeat-core/subscribe"
	"github.com/twosigma/mbeat-core/wire"
)

type options struct {
	bufferSize  string
	key         uint64
	floor       uint64
	port        uint16
	raw         bool
	unbuffered  bool
	exitOnError bool
	timeout     time.Duration
	stats       bool
	logLevel    string
}

func newCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "msub [flags] iface=maddr [iface=maddr ...]",
		Short:         "multicast heartbeat subscriber",
		Long:          "Receive datagrams from the selected multicast endpoints and report per-hop latency and packet identity.",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.bufferSize, "buffer-size", "b", "0", "socket receive buffer size, accepts unit suffixes (0 keeps the OS default)")
	flags.Uint64VarP(&opts.key, "key", "s", 0, "only report datagrams with this key (0 accepts all)")
	flags.Uint64VarP(&opts.floor, "offset", "o", 0, "ignore datagrams with a lesser sequence number and renumber the rest from zero")
	flags.Uint16VarP(&opts.port, "port", "p", wire.DefaultPort, "UDP port for all endpoints")
	flags.BoolVarP(&opts.raw, "raw", "r", false, "output raw binary records instead of CSV")
	flags.BoolVarP(&opts.unbuffered, "unbuffered", "u", false, "disable output buffering")
	flags.BoolVarP(&opts.exitOnError, "exit-on-error", "e", false, "stop the run on a receive failure")
	flags.DurationVarP(&opts.timeout, "timeout", "t", 0, "terminate the run after this duration (0 runs until interrupted)")
	flags.BoolVarP(&opts.stats, "stats", "S", false, "print a one-way latency summary on shutdown")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log verbosity (trace, debug, info, warn, error)")

	return cmd
}

func run(opts *options, args []string) error {
	lvl, err := logrus.ParseLevel(opts.logLevel)
	if err != nil {
		return errors.Wrapf(err, "unable to parse the log level %q", opts.logLevel)
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(lvl)

	bufferSize, err := units.RAMInBytes(opts.bufferSize)
	if err != nil {
		return errors.Wrapf(err, "unable to parse the buffer size %q", opts.bufferSize)
	}

	eps, err := endpoint.Parse(args, opts.port)
	if err != nil {
		return err
	}
	defer endpoint.Close(eps)

	sub := subscribe.New(subscribe.Config{
		BufferSize:  int(bufferSize),
		Key:         opts.key,
		SeqFloor:    opts.floor,
		Raw:         opts.raw,
		Unbuffered:  opts.unbuffered,
		ExitOnError: opts.exitOnError,
		Timeout:     opts.timeout,
		Stats:       opts.stats,
	}, eps, os.Stdout, log)

	if err := sub.Setup(); err != nil {
		return err
	}

	if err := sub.Run(); err != nil {
		return err
	}

	log.WithField("accepted", sub.Accepted()).Debug("run complete")
	return nil
}

func main() {
	if err := newCommand().Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
