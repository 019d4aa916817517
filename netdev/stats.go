package netdev

import (
	"github.com/rcrowley/go-metrics"

	"github.com/nxfw/enet/bd"
)

// stats holds the device counters. They are cheap enough to bump on every
// frame and give the poll loop owner visibility into drops and backpressure
// without any logging on the hot path.
type stats struct {
	rxFrames  metrics.Counter
	rxDropped metrics.Counter
	rxStalled metrics.Counter

	rxErrCRC       metrics.Counter
	rxErrOverrun   metrics.Counter
	rxErrTruncated metrics.Counter
	rxErrLength    metrics.Counter
	rxErrAlign     metrics.Counter

	txFrames    metrics.Counter
	txReclaimed metrics.Counter
	txExhausted metrics.Counter
	txAborted   metrics.Counter

	misuse metrics.Counter
}

func newStats(r metrics.Registry) *stats {
	return &stats{
		rxFrames:  metrics.GetOrRegisterCounter("enet.rx.frames", r),
		rxDropped: metrics.GetOrRegisterCounter("enet.rx.dropped", r),
		rxStalled: metrics.GetOrRegisterCounter("enet.rx.stalled", r),

		rxErrCRC:       metrics.GetOrRegisterCounter("enet.rx.errors.crc", r),
		rxErrOverrun:   metrics.GetOrRegisterCounter("enet.rx.errors.overrun", r),
		rxErrTruncated: metrics.GetOrRegisterCounter("enet.rx.errors.truncated", r),
		rxErrLength:    metrics.GetOrRegisterCounter("enet.rx.errors.length", r),
		rxErrAlign:     metrics.GetOrRegisterCounter("enet.rx.errors.align", r),

		txFrames:    metrics.GetOrRegisterCounter("enet.tx.frames", r),
		txReclaimed: metrics.GetOrRegisterCounter("enet.tx.reclaimed", r),
		txExhausted: metrics.GetOrRegisterCounter("enet.tx.exhausted", r),
		txAborted:   metrics.GetOrRegisterCounter("enet.tx.aborted", r),

		misuse: metrics.GetOrRegisterCounter("enet.api.misuse", r),
	}
}

// countRxError attributes a dropped frame to the error bits hardware set.
// A frame can carry more than one error bit; each one is counted.
func (s *stats) countRxError(flags bd.RxFlags) {
	s.rxDropped.Inc(1)
	if flags&bd.RxErrCRC != 0 {
		s.rxErrCRC.Inc(1)
	}
	if flags&bd.RxErrOverrun != 0 {
		s.rxErrOverrun.Inc(1)
	}
	if flags&bd.RxErrTruncated != 0 {
		s.rxErrTruncated.Inc(1)
	}
	if flags&bd.RxErrLength != 0 {
		s.rxErrLength.Inc(1)
	}
	if flags&bd.RxErrAlign != 0 {
		s.rxErrAlign.Inc(1)
	}
}
