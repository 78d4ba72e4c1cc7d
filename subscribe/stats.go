package subscribe

import (
	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/sirupsen/logrus"
)

// latencyStats accumulates one-way wall-clock latency. The clocks of the
// two hosts are not assumed to be synchronized; negative readings clamp to
// the histogram floor instead of being dropped.
type latencyStats struct {
	hist *hdrhistogram.Histogram
}

func newLatencyStats() *latencyStats {
	// 1ns to 10s, 3 significant figures.
	return &latencyStats{hist: hdrhistogram.New(1, 10_000_000_000, 3)}
}

func (ls *latencyStats) record(arrival, departure uint64) {
	d := int64(arrival) - int64(departure)
	if d < 1 {
		d = 1
	}
	if err := ls.hist.RecordValue(d); err != nil {
		// Out of histogram range, ignore the sample.
		return
	}
}

func (ls *latencyStats) report(log *logrus.Logger) {
	h := ls.hist
	if h.TotalCount() == 0 {
		log.Info("no latency samples recorded")
		return
	}
	log.Infof(
		"one-way latency ns: samples=%d min/avg/max=%d/%d/%d p50=%d p90=%d p99=%d p99.9=%d",
		h.TotalCount(),
		h.Min(),
		int64(h.Mean()),
		h.Max(),
		h.ValueAtQuantile(50.0),
		h.ValueAtQuantile(90.0),
		h.ValueAtQuantile(99.0),
		h.ValueAtQuantile(99.9),
	)
}
